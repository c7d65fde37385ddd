// Package jpt implements a persistent, sorted sparse-table store addressed
// by (row, column, value) triples with monotonic timestamps.
//
// The store is an LSM-shaped single-file engine: recent writes live in an
// in-memory memtable and an append-only write-ahead log; minor compaction
// serializes the memtable into an immutable sorted run ("disktable")
// appended to the data file, and major compaction merges every disktable
// into one. Reads concatenate the contributions of every disktable that
// may hold the key, oldest first, then the memtable, so appended values
// read back in insertion order.
package jpt

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/gnu-jpt/jpt/disktable"
	"github.com/gnu-jpt/jpt/keycodec"
	"github.com/gnu-jpt/jpt/memtable"
	"github.com/gnu-jpt/jpt/patricia"
	"github.com/gnu-jpt/jpt/wal"
)

// columnCacheSize is the slot count of the in-process column name cache.
// Must be even, since the cache probes slot pairs.
const columnCacheSize = 1024

// Engine is one open store. A single Engine may be shared by any number of
// goroutines; it enforces a single-writer, multiple-reader discipline with
// writer preference internally.
type Engine struct {
	path    string
	logPath string
	syncIO  bool

	f   *os.File
	mm  mmap.MMap
	eof int64 // committed end of the data file

	dataLock *flock.Flock
	logLock  *flock.Flock

	lock *rwlock
	log  *logrus.Entry
	wal  *wal.Writer

	memtable  *memtable.Memtable
	memBudget int

	disktables []*disktable.Table

	colCache    *columnCache
	columnCount uint32

	majorCompactCount uint64

	metrics *metrics

	// replaying suppresses re-logging and forced compaction while the
	// write-ahead log is being applied during Open.
	replaying bool
	closed    bool
}

// Open opens (creating if necessary) the store at path. memBudget is the
// byte budget of the in-memory memtable; once a write would exceed it, a
// minor compaction is forced first. The write-ahead log lives at
// path+".log" and is replayed before Open returns.
func Open(path string, memBudget int, flags OpenFlags) (*Engine, error) {
	syncIO := flags&OpenSync != 0
	recoverMode := flags&OpenRecover != 0
	logPath := path + ".log"
	logger := logrus.WithField("store", path)

	dataLock := flock.New(path)
	ok, err := dataLock.TryLock()
	if err != nil {
		return nil, wrapErr(KindIO, err, "lock data file")
	}
	if !ok {
		return nil, newErrf(KindBusy, "store %s is locked by another process", path)
	}
	logLock := flock.New(logPath)
	ok, err = logLock.TryLock()
	if err != nil || !ok {
		_ = dataLock.Unlock()
		if err != nil {
			return nil, wrapErr(KindIO, err, "lock log file")
		}
		return nil, newErrf(KindBusy, "log %s is locked by another process", logPath)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = dataLock.Unlock()
		_ = logLock.Unlock()
		return nil, wrapErr(KindIO, err, "open data file")
	}

	e := &Engine{
		path:      path,
		logPath:   logPath,
		syncIO:    syncIO,
		f:         f,
		dataLock:  dataLock,
		logLock:   logLock,
		lock:      newRWLock(),
		log:       logger,
		memtable:  memtable.New(),
		memBudget: memBudget,
		colCache:  newColumnCache(columnCacheSize),
	}

	records, err := e.recoverFiles(recoverMode)
	if err != nil {
		e.teardown()
		return nil, err
	}

	walw, werr := wal.Open(logPath, syncIO, e.logIsEmpty())
	if werr != nil {
		e.teardown()
		return nil, wrapErr(KindIO, werr, "open log")
	}
	e.wal = walw

	e.replaying = true
	for _, rec := range records {
		if aerr := e.applyLogRecord(rec); aerr != nil {
			if !recoverMode {
				e.replaying = false
				e.teardown()
				return nil, aerr
			}
			e.log.WithError(aerr).Warn("skipped unreplayable log record")
		}
	}
	e.replaying = false

	e.columnCount = e.countColumnsLocked()
	e.metrics = newMetrics(e)

	e.log.WithFields(logrus.Fields{
		"disktables": len(e.disktables),
		"replayed":   len(records),
		"columns":    e.columnCount,
	}).Info("store opened")
	return e, nil
}

// recoverFiles brings the data and log files to a mutually consistent
// state: it rolls the data file back to the log's snapshot, truncates any
// partially written disktable tail, drops any torn log tail, and maps the
// surviving disktables. It returns the log records to replay.
func (e *Engine) recoverFiles(recoverMode bool) ([]*wal.Record, error) {
	st, err := e.f.Stat()
	if err != nil {
		return nil, wrapErr(KindIO, err, "stat data file")
	}
	size := st.Size()

	logSize := int64(0)
	if lst, lerr := os.Stat(e.logPath); lerr == nil {
		logSize = lst.Size()
	}

	snapshot, records, validLen, rerr := wal.Replay(e.logPath)
	if rerr != nil {
		return nil, wrapErr(KindIO, rerr, "read log")
	}

	dataDirty := false
	logDirty := false

	switch {
	case logSize > 0 && logSize < 8:
		// The size snapshot itself never finished; nothing was logged.
		if terr := wal.Truncate(e.logPath, 0); terr != nil {
			return nil, wrapErr(KindIO, terr, "truncate short log")
		}
		logDirty = true
	case logSize >= 8 && int64(snapshot) > size:
		if !recoverMode {
			return nil, newErrf(KindCorrupt,
				"log snapshot (%d bytes) exceeds data file (%d bytes); reopen with recovery to discard the log", snapshot, size)
		}
		e.log.WithFields(logrus.Fields{"snapshot": snapshot, "size": size}).
			Warn("log snapshot exceeds data file, discarding log")
		if terr := wal.Truncate(e.logPath, 0); terr != nil {
			return nil, wrapErr(KindIO, terr, "truncate inconsistent log")
		}
		records = nil
		validLen = 0
		logDirty = true
	case logSize >= 8:
		if int64(snapshot) < size {
			// Roll back any disktable written after the log began but
			// never committed; its mutations are all still in the log.
			if terr := e.f.Truncate(int64(snapshot)); terr != nil {
				return nil, wrapErr(KindIO, terr, "roll back data file to log snapshot")
			}
			e.log.WithFields(logrus.Fields{"from": size, "to": snapshot}).
				Warn("rolled back data file to log snapshot")
			size = int64(snapshot)
			dataDirty = true
		}
		if validLen < logSize {
			if terr := wal.Truncate(e.logPath, validLen); terr != nil {
				return nil, wrapErr(KindIO, terr, "truncate torn log tail")
			}
			e.log.WithFields(logrus.Fields{"from": logSize, "to": validLen}).
				Warn("dropped torn log tail")
			logDirty = true
		}
	}

	if size > 0 {
		mm, merr := mmap.Map(e.f, mmap.RDWR, 0)
		if merr != nil {
			return nil, wrapErr(KindIO, merr, "map data file")
		}
		e.mm = mm

		offset := int64(0)
		for offset < size {
			t, next, oerr := disktable.Open(e.mm, offset, e.f, e.syncIO)
			if oerr != nil {
				if errors.Cause(oerr) == disktable.ErrVersion {
					return nil, wrapErr(KindVersion, oerr, "open disktable")
				}
				if !recoverMode {
					if errors.Cause(oerr) == disktable.ErrPending {
						return nil, newErrf(KindCorrupt,
							"partially written disktable at offset %d; reopen with recovery to truncate it", offset)
					}
					return nil, wrapErr(KindCorrupt, oerr, "open disktable")
				}
				e.log.WithError(oerr).WithField("offset", offset).
					Warn("truncating damaged disktable tail")
				if uerr := e.mm.Unmap(); uerr != nil {
					return nil, wrapErr(KindIO, uerr, "unmap data file")
				}
				e.mm = nil
				if terr := e.f.Truncate(offset); terr != nil {
					return nil, wrapErr(KindIO, terr, "truncate damaged tail")
				}
				size = offset
				dataDirty = true
				if size > 0 {
					mm, merr = mmap.Map(e.f, mmap.RDWR, 0)
					if merr != nil {
						return nil, wrapErr(KindIO, merr, "remap data file")
					}
					e.mm = mm
					for _, kept := range e.disktables {
						kept.Rebase(mm)
					}
				}
				break
			}
			e.disktables = append(e.disktables, t)
			offset = next
		}
	}
	e.eof = size

	if e.syncIO && (dataDirty || logDirty) {
		var g errgroup.Group
		if dataDirty {
			g.Go(func() error { return unix.Fdatasync(int(e.f.Fd())) })
		}
		if logDirty {
			g.Go(func() error {
				lf, lerr := os.OpenFile(e.logPath, os.O_RDWR, 0o644)
				if lerr != nil {
					return lerr
				}
				defer lf.Close()
				return unix.Fdatasync(int(lf.Fd()))
			})
		}
		if serr := g.Wait(); serr != nil {
			return nil, wrapErr(KindIO, serr, "sync recovered files")
		}
	}

	return records, nil
}

// logIsEmpty reports whether the log holds no size-snapshot header after
// recovery, i.e. the next append must write one.
func (e *Engine) logIsEmpty() bool {
	st, err := os.Stat(e.logPath)
	if err != nil {
		return true
	}
	return st.Size() < 8
}

func (e *Engine) teardown() {
	if e.wal != nil {
		_ = e.wal.Close()
	}
	if e.mm != nil {
		_ = e.mm.Unmap()
	}
	_ = e.f.Close()
	_ = e.dataLock.Unlock()
	_ = e.logLock.Unlock()
}

// Close flushes in-place disktable edits, closes the files, and releases
// the advisory locks. Buffered memtable state is not compacted: the log
// holds every mutation since the last compaction and is replayed by the
// next Open.
func (e *Engine) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	keep := func(err error, msg string) {
		if err != nil && firstErr == nil {
			firstErr = wrapErr(KindIO, err, msg)
		}
	}
	if e.mm != nil {
		keep(e.mm.Flush(), "flush data map")
		keep(e.mm.Unmap(), "unmap data file")
		e.mm = nil
	}
	if e.wal != nil {
		keep(e.wal.Close(), "close log")
	}
	keep(e.f.Close(), "close data file")
	keep(e.dataLock.Unlock(), "unlock data file")
	keep(e.logLock.Unlock(), "unlock log file")

	e.log.Info("store closed")
	return firstErr
}

func (e *Engine) now() uint64 { return uint64(time.Now().UnixMicro()) }

func (e *Engine) errClosed() error {
	return newErr(KindIO, "store is closed")
}

// appendLog records one mutation in the write-ahead log. During replay the
// mutation is already in the log, so this is a no-op.
func (e *Engine) appendLog(rec *wal.Record) error {
	if e.replaying {
		return nil
	}
	if err := e.wal.Append(rec, uint64(e.eof)); err != nil {
		return wrapErr(KindIO, err, "append log record")
	}
	return nil
}

// ensureMemtableCapacity forces a minor compaction when adding n more
// bytes would push the memtable past its budget. During replay the whole
// log is applied first and capacity is reconciled by the next write.
func (e *Engine) ensureMemtableCapacity(n int) error {
	if e.replaying {
		return nil
	}
	if e.memtable.Size()+n <= e.memBudget {
		return nil
	}
	if e.memtable.NodeCount() == 0 {
		// A single write larger than the whole budget still has to land
		// somewhere; an empty memtable gains nothing from compacting.
		return nil
	}
	return e.compactMinorLocked()
}

// getCellLocked reads the concatenated value of (row, column id) across
// every disktable that may hold it, oldest first, then the memtable. The
// caller must hold the reader or writer lock.
func (e *Engine) getCellLocked(row []byte, column uint32) (value []byte, ts uint64, found bool, err error) {
	enc := encodingColumnFor(column)
	key, kerr := keycodec.Encode(enc, row)
	if kerr != nil {
		return nil, 0, false, wrapErr(KindInvalid, kerr, "encode key")
	}
	var out []byte
	for _, t := range e.disktables {
		if !t.MayContain(key) {
			continue
		}
		v, vts, _, ok := t.Lookup(key)
		if !ok {
			continue
		}
		out = append(out, v...)
		ts = vts
		found = true
	}
	if v, vts, ok := e.memtable.Get(row, enc); ok {
		out = append(out, v...)
		ts = vts
		found = true
	}
	if !found {
		return nil, 0, false, nil
	}
	if out == nil {
		out = []byte{}
	}
	return out, ts, true, nil
}

// removeCellLocked tombstones (row, column id) wherever it lives. Missing
// cells are not an error; the caller decides whether absence matters.
func (e *Engine) removeCellLocked(row []byte, column uint32) (found bool, err error) {
	enc := encodingColumnFor(column)
	key, kerr := keycodec.Encode(enc, row)
	if kerr != nil {
		return false, wrapErr(KindInvalid, kerr, "encode key")
	}
	for _, t := range e.disktables {
		if !t.MayContain(key) {
			continue
		}
		_, _, pos, ok := t.Lookup(key)
		if ok {
			if serr := t.SetRemoved(pos); serr != nil {
				return false, wrapErr(KindIO, serr, "tombstone disktable record")
			}
			found = true
		}
	}
	if merr := e.memtable.Remove(row, enc); merr == nil {
		found = true
	}
	return found, nil
}

// insertLocked is the write path shared by Insert, InsertWithTimestamp,
// and log replay. The caller must hold the writer lock.
func (e *Engine) insertLocked(row []byte, column string, value []byte, ts uint64, flags InsertFlags) error {
	if len(row) == 0 || len(column) == 0 {
		return newErr(KindInvalid, "row and column must be non-empty")
	}
	if keycodec.PrefixSize+len(row)+1 > patricia.MaxKeyLength {
		return newErrf(KindInvalid, "row of %d bytes exceeds the maximum key length", len(row))
	}

	id, err := e.resolveColumn(column, true, !e.replaying)
	if err != nil {
		return err
	}
	key, kerr := keycodec.Encode(id, row)
	if kerr != nil {
		return wrapErr(KindInvalid, kerr, "encode key")
	}

	// Reserve memtable space up front: a compaction forced later, after
	// the in-place disktable pass below, would flush this cell's old
	// memtable state into a disktable that pass never saw.
	if err := e.ensureMemtableCapacity(len(row) + len(value)); err != nil {
		return err
	}

	switch {
	case flags&Replace != 0:
		remaining := value
		written := false
		for _, t := range e.disktables {
			if !t.MayContain(key) {
				continue
			}
			_, _, pos, live := t.Lookup(key)
			if pos < 0 {
				continue
			}
			if len(remaining) > 0 {
				consumed, serr := t.ShrinkValue(pos, len(key), remaining)
				if serr != nil {
					return wrapErr(KindIO, serr, "overwrite disktable value")
				}
				remaining = remaining[consumed:]
				written = true
			} else if live {
				if serr := t.SetRemoved(pos); serr != nil {
					return wrapErr(KindIO, serr, "tombstone stale disktable record")
				}
			}
		}
		if len(remaining) > 0 || !written {
			if merr := e.memtable.Insert(row, id, remaining, ts, memtable.ModeReplace); merr != nil {
				return wrapErr(KindIO, merr, "memtable insert")
			}
		} else if e.memtable.HasKey(row, id) {
			// The value landed entirely in frozen runs; an older memtable
			// value would otherwise still concatenate after it.
			if merr := e.memtable.Insert(row, id, nil, ts, memtable.ModeReplace); merr != nil {
				return wrapErr(KindIO, merr, "memtable insert")
			}
		}

	case flags&Append != 0:
		if merr := e.memtable.Insert(row, id, value, ts, memtable.ModeAppend); merr != nil {
			return wrapErr(KindIO, merr, "memtable insert")
		}

	default: // fail-if-exists
		for _, t := range e.disktables {
			if !t.MayContain(key) {
				continue
			}
			if _, _, _, ok := t.Lookup(key); ok {
				return newErrf(KindAlreadyExists, "cell (%q, %q) already exists", row, column)
			}
		}
		if merr := e.memtable.Insert(row, id, value, ts, memtable.ModeFail); merr != nil {
			if merr == memtable.ErrAlreadyExists {
				return newErrf(KindAlreadyExists, "cell (%q, %q) already exists", row, column)
			}
			return wrapErr(KindIO, merr, "memtable insert")
		}
	}

	return e.appendLog(&wal.Record{
		Op:        wal.OpInsert,
		Flags:     uint32(flags),
		Row:       row,
		Column:    []byte(column),
		Value:     value,
		Timestamp: ts,
	})
}

// Insert writes value into the cell at (row, column), stamping it with the
// current time. The column is created if it does not exist yet. flags
// select the merge mode; the zero value fails if the cell already exists.
func (e *Engine) Insert(row []byte, column string, value []byte, flags InsertFlags) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return e.errClosed()
	}
	return e.insertLocked(row, column, value, e.now(), flags)
}

// InsertWithTimestamp is Insert with a caller-supplied timestamp, in
// microseconds since the epoch. Restore uses it to preserve backed-up
// timestamps.
func (e *Engine) InsertWithTimestamp(row []byte, column string, value []byte, ts uint64, flags InsertFlags) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return e.errClosed()
	}
	return e.insertLocked(row, column, value, ts, flags)
}

func (e *Engine) removeLocked(row []byte, column string) error {
	id, err := e.resolveColumn(column, false, false)
	if err != nil {
		return err
	}
	found, rerr := e.removeCellLocked(row, id)
	if rerr != nil {
		return rerr
	}
	if !found {
		return newErrf(KindNotFound, "cell (%q, %q) not found", row, column)
	}
	return e.appendLog(&wal.Record{Op: wal.OpRemove, Row: row, Column: []byte(column)})
}

// Remove deletes the cell at (row, column). The deletion is a tombstone
// until the next major compaction reclaims the space.
func (e *Engine) Remove(row []byte, column string) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return e.errClosed()
	}
	return e.removeLocked(row, column)
}

// Get returns the cell's value and timestamp. A cell written with Append
// several times reads back as the concatenation of every appended value.
func (e *Engine) Get(row []byte, column string) ([]byte, uint64, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	if e.closed {
		return nil, 0, e.errClosed()
	}
	id, err := e.resolveColumn(column, false, false)
	if err != nil {
		return nil, 0, err
	}
	value, ts, found, gerr := e.getCellLocked(row, id)
	if gerr != nil {
		return nil, 0, gerr
	}
	if !found {
		return nil, 0, newErrf(KindNotFound, "cell (%q, %q) not found", row, column)
	}
	return value, ts, nil
}

// GetInto copies the cell's value into dst. It returns the number of bytes
// copied and the cell's timestamp. When the value is larger than dst, the
// first len(dst) bytes are copied, the returned count is the value's full
// length, and the error carries KindTooBig so the caller can retry with a
// big enough buffer.
func (e *Engine) GetInto(row []byte, column string, dst []byte) (int, uint64, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	if e.closed {
		return 0, 0, e.errClosed()
	}
	id, err := e.resolveColumn(column, false, false)
	if err != nil {
		return 0, 0, err
	}
	value, ts, found, gerr := e.getCellLocked(row, id)
	if gerr != nil {
		return 0, 0, gerr
	}
	if !found {
		return 0, 0, newErrf(KindNotFound, "cell (%q, %q) not found", row, column)
	}
	n := copy(dst, value)
	if len(value) > len(dst) {
		return len(value), ts, newErrf(KindTooBig, "cell is %d bytes, buffer holds %d", len(value), len(dst))
	}
	return n, ts, nil
}

// HasKey reports whether the cell at (row, column) holds a live value.
func (e *Engine) HasKey(row []byte, column string) (bool, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	if e.closed {
		return false, e.errClosed()
	}
	id, err := e.resolveColumn(column, false, false)
	if err != nil {
		if Is(err, KindNotFound) {
			return false, nil
		}
		return false, err
	}
	key, kerr := keycodec.Encode(id, row)
	if kerr != nil {
		return false, wrapErr(KindInvalid, kerr, "encode key")
	}
	for _, t := range e.disktables {
		if !t.MayContain(key) {
			continue
		}
		if _, _, _, ok := t.Lookup(key); ok {
			return true, nil
		}
	}
	return e.memtable.HasKey(row, id), nil
}

// HasColumn reports whether a user column named column exists.
func (e *Engine) HasColumn(column string) bool {
	e.lock.RLock()
	defer e.lock.RUnlock()
	if e.closed {
		return false
	}
	_, err := e.resolveColumn(column, false, false)
	return err == nil
}

// GetCounter returns the current value of the named monotonic counter and
// advances it by one, atomically with respect to every other writer. The
// first call on a fresh counter returns 0.
func (e *Engine) GetCounter(name string) (uint64, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return 0, e.errClosed()
	}
	return e.getCounterLocked(name)
}

func (e *Engine) getCounterLocked(name string) (uint64, error) {
	value, _, found, err := e.getCellLocked([]byte(name), ColumnCounters)
	if err != nil {
		return 0, err
	}
	var current uint64
	if found {
		if len(value) != 8 {
			return 0, newErrf(KindCorrupt, "counter %q cell has %d bytes, want 8", name, len(value))
		}
		current = binary.BigEndian.Uint64(value)
	}

	var next [8]byte
	binary.BigEndian.PutUint64(next[:], current+1)
	if err := e.putInternalCell([]byte(name), ColumnCounters, next[:]); err != nil {
		return 0, err
	}

	idBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBytes, ColumnCounters)
	if err := e.appendLog(&wal.Record{
		Op:        wal.OpInsert,
		Flags:     uint32(Replace) | logFlagInternal,
		Row:       []byte(name),
		Column:    idBytes,
		Value:     next[:],
		Timestamp: e.now(),
	}); err != nil {
		return 0, err
	}
	return current, nil
}

// RemoveColumn deletes a column: every cell in it, plus its catalog
// entries. Removing a column that does not exist is not an error. With
// RemoveColumnEmptyOnly, a column that still holds live cells is left
// untouched and KindNotEmpty is returned.
func (e *Engine) RemoveColumn(column string, flags RemoveColumnFlags) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return e.errClosed()
	}
	return e.removeColumnLocked(column, flags)
}

func (e *Engine) removeColumnLocked(column string, flags RemoveColumnFlags) error {
	id, err := e.resolveColumn(column, false, false)
	if err != nil {
		if Is(err, KindNotFound) {
			return nil
		}
		return err
	}
	prefix, perr := keycodec.EncodePrefix(id)
	if perr != nil {
		return wrapErr(KindInvalid, perr, "encode column prefix")
	}

	if flags&RemoveColumnEmptyOnly != 0 {
		empty := true
		e.memtable.ListColumn(id, func(memtable.Cell) bool {
			empty = false
			return false
		})
		if empty {
			for _, t := range e.disktables {
				cur := t.NewCursor()
				cur.SeekPrefix(prefix)
				if cur.Advance(&id) {
					empty = false
					break
				}
			}
		}
		if !empty {
			return newErrf(KindNotEmpty, "column %q is not empty", column)
		}
	} else {
		e.memtable.RemoveColumn(id)
		for _, t := range e.disktables {
			cur := t.NewCursor()
			cur.SeekPrefix(prefix)
			for cur.Advance(&id) {
				if serr := t.SetRemoved(cur.Pos()); serr != nil {
					return wrapErr(KindIO, serr, "tombstone column record")
				}
			}
		}
	}

	if _, rerr := e.removeCellLocked([]byte(column), ColumnColumns); rerr != nil {
		return rerr
	}
	if _, rerr := e.removeCellLocked(prefix, ColumnRevColumns); rerr != nil {
		return rerr
	}
	e.colCache.Evict(column)
	if atomic.LoadUint32(&e.columnCount) > 0 {
		atomic.AddUint32(&e.columnCount, ^uint32(0))
	}

	return e.appendLog(&wal.Record{Op: wal.OpRemoveColumn, Flags: uint32(flags), Column: []byte(column)})
}

// applyLogRecord re-applies one replayed mutation through the same paths
// normal writes take; e.replaying suppresses re-logging.
func (e *Engine) applyLogRecord(rec *wal.Record) error {
	switch rec.Op {
	case wal.OpInsert:
		if rec.Flags&logFlagInternal != 0 {
			if len(rec.Column) != 4 {
				return newErr(KindCorrupt, "internal-column log record carries no column id")
			}
			id := binary.LittleEndian.Uint32(rec.Column)
			return e.putInternalCell(rec.Row, id, rec.Value)
		}
		return e.insertLocked(rec.Row, string(rec.Column), rec.Value, rec.Timestamp, InsertFlags(rec.Flags))
	case wal.OpRemove:
		err := e.removeLocked(rec.Row, string(rec.Column))
		if Is(err, KindNotFound) {
			return nil
		}
		return err
	case wal.OpCreateColumn:
		return e.ensureColumnLocked(string(rec.Column))
	case wal.OpRemoveColumn:
		return e.removeColumnLocked(string(rec.Column), RemoveColumnFlags(rec.Flags))
	default:
		return newErrf(KindInvalid, "unknown log op %d", rec.Op)
	}
}

// countColumnsLocked counts the live catalog entries, i.e. the user
// columns currently registered.
func (e *Engine) countColumnsLocked() uint32 {
	var count uint32
	id := ColumnColumns
	prefix, err := keycodec.EncodePrefix(id)
	if err != nil {
		return 0
	}
	for _, t := range e.disktables {
		cur := t.NewCursor()
		cur.SeekPrefix(prefix)
		for cur.Advance(&id) {
			count++
		}
	}
	e.memtable.ListColumn(id, func(memtable.Cell) bool {
		count++
		return true
	})
	return count
}
