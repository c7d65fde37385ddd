package disktable

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/edsrzf/mmap-go"
	"github.com/stretchr/testify/require"

	"github.com/gnu-jpt/jpt/keycodec"
)

type kv struct {
	column uint32
	row    string
	value  string
	ts     uint64
}

func buildEntries(t *testing.T, items []kv) []Entry {
	t.Helper()
	sort.Slice(items, func(i, j int) bool {
		ki, err := keycodec.Encode(items[i].column, []byte(items[i].row))
		require.NoError(t, err)
		kj, err := keycodec.Encode(items[j].column, []byte(items[j].row))
		require.NoError(t, err)
		return bytes.Compare(ki, kj) < 0
	})

	entries := make([]Entry, len(items))
	for i, it := range items {
		k, err := keycodec.Encode(it.column, []byte(it.row))
		require.NoError(t, err)
		entries[i] = Entry{Key: k, Value: []byte(it.value), Timestamp: it.ts}
	}
	return entries
}

func openFresh(t *testing.T, entries []Entry) (*Table, *os.File, mmap.MMap) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	eof, err := Write(f, 0, entries, false)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(eof))

	mm, err := mmap.MapRegion(f, int(eof), mmap.RDWR, 0, 0)
	require.NoError(t, err)

	table, next, err := Open(mm, 0, f, false)
	require.NoError(t, err)
	require.Equal(t, eof, next)

	return table, f, mm
}

func TestWriteOpenLookup(t *testing.T) {
	items := []kv{
		{100, "row1", "value1", 10},
		{100, "row2", "value2", 11},
		{101, "rowA", "valueA", 12},
	}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	for _, it := range items {
		key, err := keycodec.Encode(it.column, []byte(it.row))
		require.NoError(t, err)
		val, ts, pos, found := table.Lookup(key)
		require.True(t, found, "row %s", it.row)
		require.Equal(t, it.value, string(val))
		require.Equal(t, it.ts, ts)
		require.GreaterOrEqual(t, pos, 0)
	}

	missing, err := keycodec.Encode(100, []byte("nope"))
	require.NoError(t, err)
	_, _, _, found := table.Lookup(missing)
	require.False(t, found)
}

func TestSetRemovedHidesRecord(t *testing.T) {
	items := []kv{{100, "row1", "value1", 1}}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	key, _ := keycodec.Encode(100, []byte("row1"))
	_, _, pos, found := table.Lookup(key)
	require.True(t, found)

	require.NoError(t, table.SetRemoved(pos))

	_, _, _, found = table.Lookup(key)
	require.False(t, found)
}

func TestShrinkValueOverwritesInPlace(t *testing.T) {
	items := []kv{{100, "row1", "1234567890", 1}}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	key, _ := keycodec.Encode(100, []byte("row1"))
	_, _, pos, found := table.Lookup(key)
	require.True(t, found)

	consumed, err := table.ShrinkValue(pos, len(key), []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, consumed)

	val, _, _, found := table.Lookup(key)
	require.True(t, found)
	require.Equal(t, "abc", string(val))
}

func TestShrinkValueClampsToAvailableSpace(t *testing.T) {
	items := []kv{{100, "row1", "ab", 1}}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	key, _ := keycodec.Encode(100, []byte("row1"))
	_, _, pos, found := table.Lookup(key)
	require.True(t, found)

	consumed, err := table.ShrinkValue(pos, len(key), []byte("abcdef"))
	require.NoError(t, err)
	require.Equal(t, 2, consumed)

	val, _, _, found := table.Lookup(key)
	require.True(t, found)
	require.Equal(t, "ab", string(val))
}

func TestCursorIteratesInOrderSkippingTombstones(t *testing.T) {
	items := []kv{
		{100, "c", "3", 1},
		{100, "a", "1", 1},
		{100, "b", "2", 1},
		{101, "z", "z", 1},
	}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	keyB, _ := keycodec.Encode(100, []byte("b"))
	_, _, posB, found := table.Lookup(keyB)
	require.True(t, found)
	require.NoError(t, table.SetRemoved(posB))

	cur := table.NewCursor()
	var rows []string
	for cur.Advance(nil) {
		rows = append(rows, string(cur.Row()))
	}
	require.Equal(t, []string{"a", "c", "z"}, rows)
}

func TestCursorColumnFilterStopsEarly(t *testing.T) {
	items := []kv{
		{100, "a", "1", 1},
		{100, "b", "2", 1},
		{101, "x", "1", 1},
	}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	col := uint32(100)
	cur := table.NewCursor()
	var rows []string
	for cur.Advance(&col) {
		rows = append(rows, string(cur.Row()))
	}
	require.Equal(t, []string{"a", "b"}, rows)
}

func TestCursorSeekPrefix(t *testing.T) {
	items := []kv{
		{100, "a", "1", 1},
		{101, "x", "1", 1},
		{101, "y", "1", 1},
		{102, "z", "1", 1},
	}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	prefix, err := keycodec.EncodePrefix(101)
	require.NoError(t, err)

	cur := table.NewCursor()
	cur.SeekPrefix(prefix)

	col := uint32(101)
	var rows []string
	for cur.Advance(&col) {
		rows = append(rows, string(cur.Row()))
	}
	require.Equal(t, []string{"x", "y"}, rows)
}

func TestNewColumnFlagOnFirstKeyOfColumn(t *testing.T) {
	items := []kv{
		{100, "a", "1", 1},
		{100, "b", "2", 1},
		{101, "x", "1", 1},
	}
	entries := buildEntries(t, items)
	table, f, mm := openFresh(t, entries)
	defer f.Close()
	defer mm.Unmap()

	cur := table.NewCursor()
	var newCol []bool
	for cur.Advance(nil) {
		newCol = append(newCol, cur.NewColumn())
	}
	require.Equal(t, []bool{true, false, true}, newCol)
}
