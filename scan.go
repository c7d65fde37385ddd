package jpt

import (
	"bytes"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/gnu-jpt/jpt/disktable"
	"github.com/gnu-jpt/jpt/keycodec"
	"github.com/gnu-jpt/jpt/memtable"
)

// Cell is one user-visible cell yielded to scan callbacks. The slices are
// owned by the callback; the engine never reuses them.
type Cell struct {
	Row       []byte
	Column    string
	Value     []byte
	Timestamp uint64
}

// ErrStop stops a scan early from inside its callback without surfacing an
// error from Scan/ColumnScan.
var ErrStop = errors.New("jpt: stop scan")

// ScanFunc is invoked once per cell. Returning nil continues the scan,
// ErrStop ends it cleanly, and any other error aborts the scan and is
// returned to the caller.
type ScanFunc func(cell Cell) error

// Scan visits every live cell of every user column in (column, row) order.
// The reader lock is released around each callback invocation, so the
// callback may read back into the engine and writers may progress; if a
// compaction changes the store's structure mid-scan, the scan restarts
// its cursors just past the last emitted cell.
func (e *Engine) Scan(fn ScanFunc) error {
	return e.scan(nil, "", fn)
}

// ColumnScan visits every live cell of one column in strictly increasing
// row order, with the same locking and restart behavior as Scan.
func (e *Engine) ColumnScan(column string, fn ScanFunc) error {
	e.lock.RLock()
	if e.closed {
		e.lock.RUnlock()
		return e.errClosed()
	}
	id, err := e.resolveColumn(column, false, false)
	e.lock.RUnlock()
	if err != nil {
		return err
	}
	return e.scan(&id, column, fn)
}

func (e *Engine) scan(filter *uint32, filterName string, fn ScanFunc) error {
	names := map[uint32]string{}
	if filter != nil {
		names[*filter] = filterName
	}
	var resume []byte // encoded key of the last emitted cell

	for {
		restart, err := e.scanPass(filter, names, &resume, fn)
		if err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
		if !restart {
			return nil
		}
	}
}

// cmpPos orders (column, row) pairs the way encoded keys order.
func cmpPos(col uint32, row []byte, otherCol uint32, otherRow []byte) int {
	if col != otherCol {
		if col < otherCol {
			return -1
		}
		return 1
	}
	return bytes.Compare(row, otherRow)
}

// scanPass runs the merge until done, abort, or a structure change. It
// returns restart=true when the disktable chain changed underneath it and
// the caller should rebuild past *resume.
func (e *Engine) scanPass(filter *uint32, names map[uint32]string, resume *[]byte, fn ScanFunc) (restart bool, err error) {
	e.lock.RLock()
	if e.closed {
		e.lock.RUnlock()
		return false, e.errClosed()
	}

	tableCount := len(e.disktables)
	majorCount := atomic.LoadUint64(&e.majorCompactCount)

	var resumeCol uint32
	var resumeRow []byte
	if *resume != nil {
		resumeCol, resumeRow, err = keycodec.Decode(*resume)
		if err != nil {
			e.lock.RUnlock()
			return false, wrapErr(KindCorrupt, err, "decode scan resume key")
		}
	}
	past := func(col uint32, row []byte) bool {
		if *resume == nil {
			return true
		}
		return cmpPos(col, row, resumeCol, resumeRow) > 0
	}

	// Snapshot the memtable's contribution: values are copied, so the
	// snapshot stays valid while the lock is released around callbacks.
	var memCells []memtable.Cell
	collect := func(c memtable.Cell) bool {
		if past(c.Column, c.Row) {
			memCells = append(memCells, c)
		}
		return true
	}
	if filter != nil {
		e.memtable.ListColumn(*filter, collect)
	} else {
		e.memtable.ListAll(FirstUserColumn, collect)
	}
	memIdx := 0

	type source struct {
		cur *disktable.Cursor
		ok  bool
	}
	advance := func(s *source) {
		s.ok = s.cur.Advance(filter)
	}
	sources := make([]*source, 0, tableCount)
	for _, t := range e.disktables {
		s := &source{cur: t.NewCursor()}
		if *resume != nil {
			s.cur.SeekPrefix(*resume)
		} else if filter != nil {
			prefix, perr := keycodec.EncodePrefix(*filter)
			if perr != nil {
				e.lock.RUnlock()
				return false, wrapErr(KindInvalid, perr, "encode column prefix")
			}
			s.cur.SeekPrefix(prefix)
		}
		advance(s)
		for s.ok && !past(s.cur.Column(), s.cur.Row()) {
			advance(s)
		}
		sources = append(sources, s)
	}

	for {
		// Pick the smallest (column, row) across every source.
		var minCol uint32
		var minRow []byte
		have := false
		for _, s := range sources {
			if !s.ok {
				continue
			}
			if !have || cmpPos(s.cur.Column(), s.cur.Row(), minCol, minRow) < 0 {
				minCol, minRow = s.cur.Column(), s.cur.Row()
				have = true
			}
		}
		if memIdx < len(memCells) {
			c := memCells[memIdx]
			if !have || cmpPos(c.Column, c.Row, minCol, minRow) < 0 {
				minCol, minRow = c.Column, c.Row
				have = true
			}
		}
		if !have {
			e.lock.RUnlock()
			return false, nil
		}

		if filter == nil && minCol < FirstUserColumn {
			// Internal bookkeeping cells never surface in a table scan.
			for _, s := range sources {
				if s.ok && cmpPos(s.cur.Column(), s.cur.Row(), minCol, minRow) == 0 {
					advance(s)
				}
			}
			continue
		}

		row := append([]byte(nil), minRow...)
		var value []byte
		var ts uint64
		for _, s := range sources {
			if s.ok && cmpPos(s.cur.Column(), s.cur.Row(), minCol, row) == 0 {
				value = append(value, s.cur.Value()...)
				ts = s.cur.Timestamp()
				advance(s)
			}
		}
		if memIdx < len(memCells) && cmpPos(memCells[memIdx].Column, memCells[memIdx].Row, minCol, row) == 0 {
			value = append(value, memCells[memIdx].Value...)
			ts = memCells[memIdx].Timestamp
			memIdx++
		}
		if value == nil {
			value = []byte{}
		}

		name, known := names[minCol]
		if !known {
			var found bool
			name, found, err = e.nameForColumn(minCol)
			if err != nil {
				e.lock.RUnlock()
				return false, err
			}
			if !found {
				// A column whose catalog entry is gone but whose cells
				// survive has been half-removed; skip its cells.
				continue
			}
			names[minCol] = name
		}

		key, kerr := keycodec.Encode(minCol, row)
		if kerr != nil {
			e.lock.RUnlock()
			return false, wrapErr(KindInvalid, kerr, "encode scan key")
		}
		*resume = key

		e.lock.RUnlock()
		cerr := fn(Cell{Row: row, Column: name, Value: value, Timestamp: ts})
		if cerr != nil {
			return false, cerr
		}
		e.lock.RLock()
		if e.closed {
			e.lock.RUnlock()
			return false, e.errClosed()
		}
		if len(e.disktables) != tableCount || atomic.LoadUint64(&e.majorCompactCount) != majorCount {
			e.lock.RUnlock()
			return true, nil
		}
	}
}
