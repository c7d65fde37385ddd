package memtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertReplaceGet(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("row1"), 100, []byte("1234567890"), 1, ModeReplace))
	v, ts, ok := m.Get([]byte("row1"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("1234567890"), v)
	require.Equal(t, uint64(1), ts)

	require.NoError(t, m.Insert([]byte("row1"), 100, []byte("abcdefghijklmnopqrst"), 2, ModeReplace))
	v, _, ok = m.Get([]byte("row1"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("abcdefghijklmnopqrst"), v)
}

func TestInsertAppendChains(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("r"), 100, []byte("a"), 1, ModeAppend))
	require.NoError(t, m.Insert([]byte("r"), 100, []byte("b"), 2, ModeAppend))
	v, _, ok := m.Get([]byte("r"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("ab"), v)
}

func TestFailIfExists(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("r"), 100, []byte("a"), 1, ModeAppend))
	err := m.Insert([]byte("r"), 100, []byte("x"), 2, ModeFail)
	require.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, m.Insert([]byte("other"), 100, []byte("y"), 2, ModeFail))
	v, _, ok := m.Get([]byte("other"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("y"), v)
}

func TestRemoveThenReinsert(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("row1"), 100, []byte("a"), 1, ModeAppend))
	require.NoError(t, m.Insert([]byte("row1"), 100, []byte("b"), 2, ModeAppend))

	v, _, ok := m.Get([]byte("row1"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("ab"), v)

	require.NoError(t, m.Remove([]byte("row1"), 100))
	_, _, ok = m.Get([]byte("row1"), 100)
	require.False(t, ok)
	require.False(t, m.HasKey([]byte("row1"), 100))

	err := m.Remove([]byte("row1"), 100)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Insert([]byte("row1"), 100, []byte("c"), 3, ModeAppend))
	require.NoError(t, m.Insert([]byte("row1"), 100, []byte("d"), 4, ModeAppend))
	v, _, ok = m.Get([]byte("row1"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("cd"), v)
}

func TestHasKeyMatchesGet(t *testing.T) {
	m := New()
	require.False(t, m.HasKey([]byte("r"), 100))
	require.NoError(t, m.Insert([]byte("r"), 100, []byte{}, 1, ModeReplace))
	require.True(t, m.HasKey([]byte("r"), 100))
	v, _, ok := m.Get([]byte("r"), 100)
	require.True(t, ok)
	require.Equal(t, []byte{}, v)
}

func TestGetIntoTruncates(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("r"), 100, []byte("0123456789"), 1, ModeReplace))

	dst := make([]byte, 4)
	n, fullLen, _, ok := m.GetInto([]byte("r"), 100, dst)
	require.True(t, ok)
	require.Equal(t, 4, n)
	require.Equal(t, 10, fullLen)
	require.Equal(t, []byte("0123"), dst)
}

func TestListAllOrderAndFiltering(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("b"), 101, []byte("1"), 1, ModeReplace))
	require.NoError(t, m.Insert([]byte("a"), 101, []byte("2"), 1, ModeReplace))
	require.NoError(t, m.Insert([]byte("z"), 3, []byte("counter"), 1, ModeReplace)) // internal column id
	require.NoError(t, m.Insert([]byte("a"), 100, []byte("3"), 1, ModeReplace))

	var rows []string
	m.ListAll(100, func(c Cell) bool {
		rows = append(rows, fmt.Sprintf("%d:%s", c.Column, c.Row))
		return true
	})
	require.Equal(t, []string{"100:a", "101:a", "101:b"}, rows)
}

func TestListColumnStrictlyIncreasing(t *testing.T) {
	m := New()
	rows := []string{"d", "b", "a", "c"}
	for _, r := range rows {
		require.NoError(t, m.Insert([]byte(r), 100, []byte(r), 1, ModeReplace))
	}
	require.NoError(t, m.Insert([]byte("x"), 101, []byte("x"), 1, ModeReplace))

	var got []string
	m.ListColumn(100, func(c Cell) bool {
		got = append(got, string(c.Row))
		return true
	})
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestListSkipsTombstones(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert([]byte("a"), 100, []byte("1"), 1, ModeReplace))
	require.NoError(t, m.Insert([]byte("b"), 100, []byte("2"), 1, ModeReplace))
	require.NoError(t, m.Remove([]byte("a"), 100))

	var got []string
	m.ListColumn(100, func(c Cell) bool {
		got = append(got, string(c.Row))
		return true
	})
	require.Equal(t, []string{"b"}, got)
}

func TestSizeAccounting(t *testing.T) {
	m := New()
	require.Equal(t, 0, m.Size())
	require.NoError(t, m.Insert([]byte("row"), 100, []byte("value"), 1, ModeReplace))
	require.Equal(t, 1, m.KeyCount())
	require.Equal(t, 3, m.KeySize())
	require.Equal(t, 5, m.ValueSize())
	require.Greater(t, m.Size(), 0)

	require.NoError(t, m.Remove([]byte("row"), 100))
	require.Equal(t, 0, m.KeyCount())
	require.Equal(t, 0, m.KeySize())
	require.Equal(t, 0, m.ValueSize())
}
