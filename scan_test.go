package jpt

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnScanOrderingAcrossMajorCompaction(t *testing.T) {
	if testing.Short() {
		t.Skip("inserts 32768 rows")
	}
	e, _ := openTestStore(t, 0)

	const total = 0x8000
	for i := 0; i < total; i++ {
		row := fmt.Sprintf("%08d", i^0x5AAA)
		require.NoError(t, e.Insert([]byte(row), "c", []byte(row), 0))
	}

	count := 0
	var lastRow []byte
	err := e.ColumnScan("c", func(c Cell) error {
		if lastRow != nil {
			require.Greater(t, string(c.Row), string(lastRow), "rows must arrive in strictly increasing order")
		}
		require.Equal(t, c.Row, c.Value)
		lastRow = append(lastRow[:0], c.Row...)
		count++
		if count == 1000 {
			require.NoError(t, e.MajorCompact())
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, total, count)
}

func TestColumnScanStrictRowOrder(t *testing.T) {
	e, _ := openTestStore(t, 0)

	// Rows spread across the memtable and two disktables, inserted out of
	// order.
	for i := 50; i < 100; i++ {
		require.NoError(t, e.Insert([]byte(fmt.Sprintf("%03d", i)), "c", []byte("x"), 0))
	}
	require.NoError(t, e.Compact())
	for i := 0; i < 50; i += 2 {
		require.NoError(t, e.Insert([]byte(fmt.Sprintf("%03d", i)), "c", []byte("x"), 0))
	}
	require.NoError(t, e.Compact())
	for i := 1; i < 50; i += 2 {
		require.NoError(t, e.Insert([]byte(fmt.Sprintf("%03d", i)), "c", []byte("x"), 0))
	}

	var rows []string
	require.NoError(t, e.ColumnScan("c", func(c Cell) error {
		rows = append(rows, string(c.Row))
		return nil
	}))

	require.Len(t, rows, 100)
	for i := 1; i < len(rows); i++ {
		require.Less(t, rows[i-1], rows[i])
	}
}

func TestScanVisitsAllUserColumnsInOrder(t *testing.T) {
	e, _ := openTestStore(t, 0)

	require.NoError(t, e.Insert([]byte("r1"), "beta", []byte("b1"), 0))
	require.NoError(t, e.Insert([]byte("r2"), "beta", []byte("b2"), 0))
	require.NoError(t, e.Compact())
	require.NoError(t, e.Insert([]byte("r1"), "alpha", []byte("a1"), 0))
	_, err := e.GetCounter("bookkeeping")
	require.NoError(t, err)

	var cells []Cell
	require.NoError(t, e.Scan(func(c Cell) error {
		cells = append(cells, c)
		return nil
	}))

	// Column order follows creation order (column ids), not name order;
	// internal bookkeeping cells (catalog, counters) never surface.
	require.Len(t, cells, 3)
	require.Equal(t, "beta", cells[0].Column)
	require.Equal(t, []byte("r1"), cells[0].Row)
	require.Equal(t, "beta", cells[1].Column)
	require.Equal(t, []byte("r2"), cells[1].Row)
	require.Equal(t, "alpha", cells[2].Column)
	require.Equal(t, []byte("r1"), cells[2].Row)
}

func TestScanConcatenatesAcrossSources(t *testing.T) {
	e, _ := openTestStore(t, 0)

	require.NoError(t, e.Insert([]byte("r"), "c", []byte("one"), Append))
	require.NoError(t, e.Compact())
	require.NoError(t, e.Insert([]byte("r"), "c", []byte("two"), Append))
	require.NoError(t, e.Compact())
	require.NoError(t, e.Insert([]byte("r"), "c", []byte("three"), Append))

	var got []byte
	require.NoError(t, e.ColumnScan("c", func(c Cell) error {
		got = append([]byte(nil), c.Value...)
		return nil
	}))
	require.Equal(t, []byte("onetwothree"), got)
}

func TestColumnScanMissingColumn(t *testing.T) {
	e, _ := openTestStore(t, 0)

	err := e.ColumnScan("absent", func(Cell) error { return nil })
	require.True(t, Is(err, KindNotFound))
}

func TestScanStopAndAbort(t *testing.T) {
	e, _ := openTestStore(t, 0)

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Insert([]byte(fmt.Sprintf("r%d", i)), "c", []byte("v"), 0))
	}

	count := 0
	require.NoError(t, e.Scan(func(Cell) error {
		count++
		if count == 3 {
			return ErrStop
		}
		return nil
	}))
	require.Equal(t, 3, count)

	boom := fmt.Errorf("boom")
	err := e.Scan(func(Cell) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestScanCallbackMayReadBack(t *testing.T) {
	e, _ := openTestStore(t, 0)

	require.NoError(t, e.Insert([]byte("r1"), "c", []byte("v1"), 0))
	require.NoError(t, e.Insert([]byte("r2"), "c", []byte("v2"), 0))

	require.NoError(t, e.ColumnScan("c", func(c Cell) error {
		// The reader lock is released around the callback, so reads may
		// re-enter the engine.
		got, _, err := e.Get(c.Row, "c")
		require.NoError(t, err)
		require.True(t, bytes.Equal(got, c.Value))
		return nil
	}))
}

func TestColumnScanRestartSkipsNothingOnMinorCompaction(t *testing.T) {
	e, _ := openTestStore(t, 0)

	for i := 0; i < 100; i++ {
		require.NoError(t, e.Insert([]byte(fmt.Sprintf("%03d", i)), "c", []byte("v"), 0))
	}

	count := 0
	require.NoError(t, e.ColumnScan("c", func(c Cell) error {
		count++
		if count == 10 {
			require.NoError(t, e.Compact())
		}
		return nil
	}))
	require.Equal(t, 100, count)
}
