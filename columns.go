package jpt

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gnu-jpt/jpt/keycodec"
	"github.com/gnu-jpt/jpt/memtable"
	"github.com/gnu-jpt/jpt/wal"
)

// The four internal columns, plus where user columns begin.
const (
	ColumnMeta       uint32 = 0
	ColumnColumns    uint32 = 1
	ColumnRevColumns uint32 = 2
	ColumnCounters   uint32 = 3

	// FirstUserColumn is the first id handed out by column creation.
	FirstUserColumn uint32 = 100
)

// metaEncodingColumn substitutes for ColumnMeta when building an encoded
// key: column id 0 has no representation under keycodec's encoding
// (keycodec.Encode rejects it), so META cells are keyed under this
// id instead. It stays below FirstUserColumn, so table scans (which skip
// every column id < FirstUserColumn) never surface it, and it is never
// handed out by column creation.
const metaEncodingColumn uint32 = 4

// nextColumnRow is the row under which the next-column counter is stored,
// as cell (nextColumnRow, ColumnMeta).
const nextColumnRow = "next-column"

func encodingColumnFor(col uint32) uint32 {
	if col == ColumnMeta {
		return metaEncodingColumn
	}
	return col
}

// columnCache is the in-process name -> id cache: a fixed-size
// open-addressed table where a miss probes slot h, then slot h^1,
// inserting into (or evicting) whichever of those two is free or
// occupied by something else.
type columnCache struct {
	mu    sync.Mutex
	size  uint32
	names []string
	ids   []uint32
	occ   []bool
}

func newColumnCache(size uint32) *columnCache {
	return &columnCache{
		size:  size,
		names: make([]string, size),
		ids:   make([]uint32, size),
		occ:   make([]bool, size),
	}
}

func (c *columnCache) hash(name string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(name); i++ {
		h = (h ^ uint32(name[i])) * 16777619
	}
	return h % c.size
}

func (c *columnCache) Get(name string) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(name)
	for _, slot := range [2]uint32{h, h ^ 1} {
		if c.occ[slot] && c.names[slot] == name {
			return c.ids[slot], true
		}
	}
	return 0, false
}

func (c *columnCache) Put(name string, id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(name)
	slot := h
	if c.occ[h] && c.names[h] != name {
		slot = h ^ 1
	}
	c.names[slot] = name
	c.ids[slot] = id
	c.occ[slot] = true
}

func (c *columnCache) Evict(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hash(name)
	for _, slot := range [2]uint32{h, h ^ 1} {
		if c.occ[slot] && c.names[slot] == name {
			c.occ[slot] = false
		}
	}
}

// resolveColumn returns the id bound to name, creating and persisting a
// new one if create is true and no binding exists yet. shouldLog controls
// whether a new binding is recorded as a CREATE_COLUMN log entry (false
// during replay, which re-derives the same id from state the log already
// established).
func (e *Engine) resolveColumn(name string, create bool, shouldLog bool) (uint32, error) {
	if id, ok := e.colCache.Get(name); ok {
		return id, nil
	}

	val, _, found, err := e.getCellLocked([]byte(name), ColumnColumns)
	if err != nil {
		return 0, err
	}
	if found {
		if len(val) != 4 {
			return 0, newErr(KindCorrupt, "column id cell has wrong length")
		}
		id := binary.LittleEndian.Uint32(val)
		e.colCache.Put(name, id)
		return id, nil
	}
	if !create {
		return 0, newErrf(KindNotFound, "unknown column %q", name)
	}
	return e.createColumn(name, shouldLog)
}

func (e *Engine) createColumn(name string, shouldLog bool) (uint32, error) {
	// Reserve room for the three catalog cells' row and value bytes at once.
	// Per-node overhead is not reserved, so under a tight budget a compaction
	// can still fire between the writes; replay of CREATE_COLUMN rewrites
	// all three cells either way.
	if err := e.ensureMemtableCapacity(2*len(name) + len(nextColumnRow) + keycodec.PrefixSize + 16); err != nil {
		return 0, err
	}

	nextVal, _, found, err := e.getCellLocked([]byte(nextColumnRow), ColumnMeta)
	if err != nil {
		return 0, err
	}
	id := FirstUserColumn
	if found {
		if len(nextVal) != 4 {
			return 0, newErr(KindCorrupt, "next-column cell has wrong length")
		}
		id = binary.LittleEndian.Uint32(nextVal)
	}
	if id < FirstUserColumn || uint64(id) > uint64(keycodec.MaxColumn) {
		return 0, newErr(KindNoSpace, "column id space exhausted")
	}

	idBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBytes, id)
	if err := e.putInternalCell([]byte(name), ColumnColumns, idBytes); err != nil {
		return 0, err
	}

	prefix, err := keycodec.EncodePrefix(id)
	if err != nil {
		return 0, wrapErr(KindIO, err, "encode column prefix")
	}
	if err := e.putInternalCell(prefix, ColumnRevColumns, []byte(name)); err != nil {
		return 0, err
	}

	next := make([]byte, 4)
	binary.LittleEndian.PutUint32(next, id+1)
	if err := e.putInternalCell([]byte(nextColumnRow), ColumnMeta, next); err != nil {
		return 0, err
	}

	e.colCache.Put(name, id)
	atomic.AddUint32(&e.columnCount, 1)

	if shouldLog {
		if err := e.appendLog(&wal.Record{Op: wal.OpCreateColumn, Column: []byte(name)}); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ensureColumnLocked re-establishes the catalog cells for name during log
// replay. A crash can land between a column's three catalog writes and the
// next compaction, leaving some of them durable and others not, so replay
// rewrites all three instead of trusting a partial binding.
func (e *Engine) ensureColumnLocked(name string) error {
	var id uint32
	isNew := false

	storedNext := FirstUserColumn
	nextVal, _, nextFound, nerr := e.getCellLocked([]byte(nextColumnRow), ColumnMeta)
	if nerr != nil {
		return nerr
	}
	if nextFound && len(nextVal) == 4 {
		storedNext = binary.LittleEndian.Uint32(nextVal)
	} else {
		// Rewriting next-column tombstones its committed copy in place, so a
		// lost memtable loses the cell; rebuild it from the ids still bound.
		bump := func(v []byte) {
			if len(v) == 4 && binary.LittleEndian.Uint32(v) >= storedNext {
				storedNext = binary.LittleEndian.Uint32(v) + 1
			}
		}
		colID := ColumnColumns
		colPrefix, _ := keycodec.EncodePrefix(colID)
		for _, t := range e.disktables {
			cur := t.NewCursor()
			for cur.SeekPrefix(colPrefix); cur.Advance(&colID); {
				bump(cur.Value())
			}
		}
		e.memtable.ListColumn(colID, func(c memtable.Cell) bool { bump(c.Value); return true })
	}

	idVal, _, found, err := e.getCellLocked([]byte(name), ColumnColumns)
	if err != nil {
		return err
	}
	if found && len(idVal) == 4 {
		id = binary.LittleEndian.Uint32(idVal)
	} else {
		id = storedNext
		isNew = true
	}
	if id < FirstUserColumn || uint64(id) > uint64(keycodec.MaxColumn) {
		return newErr(KindNoSpace, "column id space exhausted")
	}

	idBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBytes, id)
	if err := e.putInternalCell([]byte(name), ColumnColumns, idBytes); err != nil {
		return err
	}
	prefix, perr := keycodec.EncodePrefix(id)
	if perr != nil {
		return wrapErr(KindIO, perr, "encode column prefix")
	}
	if err := e.putInternalCell(prefix, ColumnRevColumns, []byte(name)); err != nil {
		return err
	}
	newNext := storedNext
	if id+1 > newNext {
		newNext = id + 1
	}
	next := make([]byte, 4)
	binary.LittleEndian.PutUint32(next, newNext)
	if err := e.putInternalCell([]byte(nextColumnRow), ColumnMeta, next); err != nil {
		return err
	}

	e.colCache.Put(name, id)
	if isNew {
		atomic.AddUint32(&e.columnCount, 1)
	}
	return nil
}

// nameForColumn resolves a column id back to its registered name via the
// reverse-mapping cell. The four fixed internal ids have no name cell of
// their own; callers that need to address them by id already know which
// one they mean.
func (e *Engine) nameForColumn(id uint32) (string, bool, error) {
	prefix, err := keycodec.EncodePrefix(id)
	if err != nil {
		return "", false, wrapErr(KindIO, err, "encode column prefix")
	}
	val, _, found, err := e.getCellLocked(prefix, ColumnRevColumns)
	if err != nil || !found {
		return "", found, err
	}
	return string(val), true, nil
}

// putInternalCell writes a bookkeeping cell (column catalog, counters)
// directly, bypassing the public insert path's column resolution since
// the caller already has a numeric internal column id. It always behaves
// like REPLACE: any prior disktable contribution is tombstoned and the
// memtable cell is overwritten outright.
func (e *Engine) putInternalCell(row []byte, column uint32, value []byte) error {
	key, err := keycodec.Encode(encodingColumnFor(column), row)
	if err != nil {
		return wrapErr(KindIO, err, "encode internal key")
	}
	// Reserve space before touching the disktables: a compaction forced
	// after the tombstone pass would flush the stale memtable copy into a
	// disktable this pass never visited.
	if err := e.ensureMemtableCapacity(len(row) + len(value)); err != nil {
		return err
	}
	for _, t := range e.disktables {
		if !t.MayContain(key) {
			continue
		}
		if _, _, pos, found := t.Lookup(key); found {
			if err := t.SetRemoved(pos); err != nil {
				return wrapErr(KindIO, err, "tombstone stale internal cell")
			}
		}
	}
	if err := e.memtable.Insert(row, encodingColumnFor(column), value, e.now(), memtable.ModeReplace); err != nil {
		return wrapErr(KindIO, err, "memtable insert internal cell")
	}
	return nil
}
