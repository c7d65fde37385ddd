package jpt

import (
	"bytes"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/gnu-jpt/jpt/disktable"
	"github.com/gnu-jpt/jpt/keycodec"
	"github.com/gnu-jpt/jpt/memtable"
)

// Compact runs a minor compaction: the memtable is serialized into a new
// disktable appended to the data file, the log is reset, and the memtable
// is cleared. With an empty memtable only the log reset happens.
func (e *Engine) Compact() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return e.errClosed()
	}
	return e.compactMinorLocked()
}

func (e *Engine) compactMinorLocked() error {
	if e.memtable.NodeCount() == 0 {
		if err := e.wal.Reset(); err != nil {
			return wrapErr(KindIO, err, "reset log")
		}
		return nil
	}

	var entries []disktable.Entry
	var badKey error
	e.memtable.ListNodes(func(n memtable.Node) bool {
		key, kerr := keycodec.Encode(n.Column, n.Row)
		if kerr != nil {
			badKey = kerr
			return false
		}
		entries = append(entries, disktable.Entry{
			Key:       key,
			Value:     n.Value,
			Timestamp: n.Timestamp,
			Removed:   n.Tombstone,
		})
		return true
	})
	if badKey != nil {
		return wrapErr(KindInvalid, badKey, "encode memtable key")
	}

	oldEOF := e.eof
	// Roll the file back to its pre-write size on any failure; the log
	// still holds every buffered mutation, so recovery stays possible. A
	// committed record the engine failed to adopt must not stay in the
	// file either, or the next compaction would duplicate its contents.
	rollback := func() {
		e.eof = oldEOF
		if terr := e.f.Truncate(oldEOF); terr != nil {
			e.log.WithError(terr).Error("restore data file size after failed compaction")
			return
		}
		if rerr := e.remapLocked(); rerr != nil {
			e.log.WithError(rerr).Error("remap data file after failed compaction")
		}
	}

	newEOF, werr := disktable.Write(e.f, oldEOF, entries, e.syncIO)
	if werr != nil {
		rollback()
		return wrapErr(KindIO, werr, "write disktable")
	}

	e.eof = newEOF
	if err := e.remapLocked(); err != nil {
		rollback()
		return err
	}
	t, _, oerr := disktable.Open(e.mm, oldEOF, e.f, e.syncIO)
	if oerr != nil {
		rollback()
		return wrapErr(KindCorrupt, oerr, "reopen freshly written disktable")
	}
	e.disktables = append(e.disktables, t)

	if err := e.wal.Reset(); err != nil {
		return wrapErr(KindIO, err, "reset log")
	}
	e.memtable = memtable.New()

	e.log.WithFields(logrus.Fields{
		"records":    len(entries),
		"bytes":      newEOF - oldEOF,
		"disktables": len(e.disktables),
	}).Info("minor compaction complete")
	return nil
}

// remapLocked re-maps the data file after it grew or was replaced, and
// points every open disktable at the new view.
func (e *Engine) remapLocked() error {
	if e.mm != nil {
		if err := e.mm.Unmap(); err != nil {
			e.mm = nil
			return wrapErr(KindIO, err, "unmap data file")
		}
		e.mm = nil
	}
	if e.eof == 0 {
		return nil
	}
	mm, err := mmap.Map(e.f, mmap.RDWR, 0)
	if err != nil {
		return wrapErr(KindIO, err, "map data file")
	}
	e.mm = mm
	for _, t := range e.disktables {
		t.Rebase(mm)
	}
	return nil
}

// MajorCompact merges every disktable (and, via the leading minor
// compaction, the memtable) into a single new disktable, written to a
// sibling temporary file and renamed over the store atomically. Tombstones
// are dropped in the process; this is the only operation that reclaims
// their space.
func (e *Engine) MajorCompact() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return e.errClosed()
	}
	return e.majorCompactLocked()
}

func (e *Engine) majorCompactLocked() error {
	if err := e.compactMinorLocked(); err != nil {
		return err
	}
	if len(e.disktables) == 0 {
		return nil
	}

	entries := e.mergedEntriesLocked()

	tmpPath := e.path + ".compact"
	tmpF, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return wrapErr(KindIO, err, "create compaction file")
	}

	newEOF, werr := disktable.Write(tmpF, 0, entries, e.syncIO)
	if werr != nil {
		_ = tmpF.Close()
		_ = os.Remove(tmpPath)
		return wrapErr(KindIO, werr, "write merged disktable")
	}

	// Lock the replacement before it takes the store's name, so the
	// advisory lock follows the file through the rename.
	newLock := flock.New(tmpPath)
	locked, lerr := newLock.TryLock()
	if lerr != nil || !locked {
		_ = tmpF.Close()
		_ = os.Remove(tmpPath)
		if lerr != nil {
			return wrapErr(KindIO, lerr, "lock compaction file")
		}
		return newErrf(KindBusy, "compaction file %s is locked", tmpPath)
	}

	if rerr := os.Rename(tmpPath, e.path); rerr != nil {
		_ = newLock.Unlock()
		_ = tmpF.Close()
		_ = os.Remove(tmpPath)
		return wrapErr(KindIO, rerr, "rename compacted store")
	}

	oldCount := len(e.disktables)
	if e.mm != nil {
		_ = e.mm.Unmap()
		e.mm = nil
	}
	_ = e.f.Close()
	_ = e.dataLock.Unlock()
	e.dataLock = newLock
	e.f = tmpF
	e.eof = newEOF
	e.disktables = nil

	if err := e.remapLocked(); err != nil {
		return err
	}
	t, _, oerr := disktable.Open(e.mm, 0, e.f, e.syncIO)
	if oerr != nil {
		return wrapErr(KindCorrupt, oerr, "reopen merged disktable")
	}
	e.disktables = []*disktable.Table{t}
	atomic.AddUint64(&e.majorCompactCount, 1)

	e.log.WithFields(logrus.Fields{
		"merged":  oldCount,
		"records": len(entries),
		"bytes":   newEOF,
	}).Info("major compaction complete")
	return nil
}

// mergedEntriesLocked k-way-merges every disktable's live records in
// encoded-key order. When several disktables hold the same key, their
// values are concatenated oldest first, matching the order reads present.
func (e *Engine) mergedEntriesLocked() []disktable.Entry {
	type source struct {
		cur *disktable.Cursor
		ok  bool
	}
	sources := make([]*source, 0, len(e.disktables))
	for _, t := range e.disktables {
		c := t.NewCursor()
		sources = append(sources, &source{cur: c, ok: c.Advance(nil)})
	}

	var entries []disktable.Entry
	for {
		var minKey []byte
		for _, s := range sources {
			if s.ok && (minKey == nil || bytes.Compare(s.cur.Key(), minKey) < 0) {
				minKey = s.cur.Key()
			}
		}
		if minKey == nil {
			return entries
		}

		key := append([]byte(nil), minKey...)
		var value []byte
		var ts uint64
		for _, s := range sources {
			if !s.ok || !bytes.Equal(s.cur.Key(), key) {
				continue
			}
			value = append(value, s.cur.Value()...)
			ts = s.cur.Timestamp()
			s.ok = s.cur.Advance(nil)
		}
		entries = append(entries, disktable.Entry{Key: key, Value: value, Timestamp: ts})
	}
}
