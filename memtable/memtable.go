// Package memtable implements the engine's in-memory, ordered table of
// recently written cells.
//
// A comparison-based container (balanced BST, skip list, or B-tree) is all
// that's required to keep cells ordered, so this package keeps a
// skip-list as the ordering structure, built around composite (column id,
// row) keys, a singly linked chain of value segments per node (so APPEND
// never copies prior bytes), a tombstone flag instead of key removal, and
// the node/key/value byte accounting the engine needs to decide when to
// force a minor compaction.
package memtable

import "github.com/pkg/errors"

// Mode selects how Insert resolves a write against an existing live cell.
type Mode int

const (
	// ModeAppend adds value as a new segment after any existing ones.
	ModeAppend Mode = iota
	// ModeReplace discards any existing segments and stores only value.
	ModeReplace
	// ModeFail reports ErrAlreadyExists if a live cell is already present.
	ModeFail
)

// ErrAlreadyExists is returned by Insert in ModeFail when the cell already
// holds a live (non-tombstoned) value.
var ErrAlreadyExists = errors.New("memtable: cell already exists")

// ErrNotFound is returned by Remove when the cell is absent or already a
// tombstone.
var ErrNotFound = errors.New("memtable: cell not found")

// Memtable is an ordered, in-memory map of (column id, row) -> value,
// ordered first by column id, then by row, matching encoded-key order
// (keycodec.Encode sorts the same way).
type Memtable struct {
	head   *node
	levels int

	nodeCount int
	keyCount  int // live (non-tombstoned) cells
	keySize   int // sum of row lengths over live cells
	valueSize int // sum of value bytes over live cells
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{head: newNode(cellKey{}, 0), levels: -1}
}

// NodeCount returns the total number of nodes, live or tombstoned, still
// resident (tombstones are only reclaimed by a minor compaction).
func (m *Memtable) NodeCount() int { return m.nodeCount }

// KeyCount returns the number of live cells.
func (m *Memtable) KeyCount() int { return m.keyCount }

// KeySize returns the sum of row lengths over live cells.
func (m *Memtable) KeySize() int { return m.keySize }

// ValueSize returns the sum of value bytes over live cells.
func (m *Memtable) ValueSize() int { return m.valueSize }

// Size is the engine's memtable capacity accounting unit: keySize +
// valueSize plus a small fixed per-node overhead, approximating what a
// bump arena would have charged for row bytes, the segment chain, and
// node bookkeeping.
func (m *Memtable) Size() int {
	const overhead = 48
	return m.keySize + m.valueSize + m.nodeCount*overhead
}

// Insert applies a write with the given merge mode. column is a resolved
// column id (never 0); row and value are copied, so the caller's slices may
// be reused afterward.
func (m *Memtable) Insert(row []byte, column uint32, value []byte, ts uint64, mode Mode) error {
	key := cellKey{column: column, row: string(row)}

	n, found := m.find(key)
	if found && !n.tombstone {
		switch mode {
		case ModeFail:
			return ErrAlreadyExists
		case ModeReplace:
			m.valueSize -= n.size
			n.replace(value)
			m.valueSize += n.size
		case ModeAppend:
			n.append(value)
			m.valueSize += len(value)
		}
		n.timestamp = ts
		return nil
	}

	if found && n.tombstone {
		// Resurrect: tombstones keep their slot for iteration order but
		// carry no value bytes, so any mode is equivalent to a fresh write.
		n.tombstone = false
		n.replace(value)
		n.timestamp = ts
		m.keyCount++
		m.keySize += len(key.row)
		m.valueSize += n.size
		return nil
	}

	n = m.insertNode(key)
	n.replace(value)
	n.timestamp = ts
	m.keyCount++
	m.keySize += len(key.row)
	m.valueSize += n.size
	return nil
}

// Remove tombstones the cell at (row, column). The node itself is kept so
// iteration order over the rest of the table is undisturbed; only a minor
// compaction reclaims it.
func (m *Memtable) Remove(row []byte, column uint32) error {
	key := cellKey{column: column, row: string(row)}
	n, found := m.find(key)
	if !found || n.tombstone {
		return ErrNotFound
	}
	n.tombstone = true
	m.keyCount--
	m.keySize -= len(key.row)
	m.valueSize -= n.size
	n.free()
	return nil
}

// HasKey reports whether (row, column) holds a live value.
func (m *Memtable) HasKey(row []byte, column uint32) bool {
	n, found := m.find(cellKey{column: column, row: string(row)})
	return found && !n.tombstone
}

// Get concatenates every value segment for (row, column) into a freshly
// allocated slice. found is false if the cell is absent or tombstoned.
func (m *Memtable) Get(row []byte, column uint32) (value []byte, ts uint64, found bool) {
	n, ok := m.find(cellKey{column: column, row: string(row)})
	if !ok || n.tombstone {
		return nil, 0, false
	}
	return n.value(), n.timestamp, true
}

// GetInto concatenates the value for (row, column) into dst, copying at
// most len(dst) bytes. It returns the number of bytes copied, the cell's
// full length (so the caller can detect truncation and report it as
// too-big), the timestamp, and whether the cell was found.
func (m *Memtable) GetInto(row []byte, column uint32, dst []byte) (n int, fullLen int, ts uint64, found bool) {
	node, ok := m.find(cellKey{column: column, row: string(row)})
	if !ok || node.tombstone {
		return 0, 0, 0, false
	}
	written := node.copyInto(dst)
	return written, node.size, node.timestamp, true
}

// Cell is one live row yielded by ListAll/ListColumn.
type Cell struct {
	Row       []byte
	Column    uint32
	Value     []byte
	Timestamp uint64
}

// ListAll walks every live cell in (column, row) order, skipping internal
// column ids (< firstUserColumn), and invokes yield for each. Iteration
// stops early if yield returns false.
func (m *Memtable) ListAll(firstUserColumn uint32, yield func(Cell) bool) {
	for n := m.first(); n != nil; n = n.forward[0] {
		if n.tombstone || n.key.column < firstUserColumn {
			continue
		}
		if !yield(Cell{Row: []byte(n.key.row), Column: n.key.column, Value: n.value(), Timestamp: n.timestamp}) {
			return
		}
	}
}

// ListColumn walks every live cell in column in row order, starting from
// the first node whose column is >= column, and invokes yield for each.
func (m *Memtable) ListColumn(column uint32, yield func(Cell) bool) {
	n := m.seek(cellKey{column: column})
	for ; n != nil && n.key.column == column; n = n.forward[0] {
		if n.tombstone {
			continue
		}
		if !yield(Cell{Row: []byte(n.key.row), Column: n.key.column, Value: n.value(), Timestamp: n.timestamp}) {
			return
		}
	}
}

// Node is one resident node yielded by ListNodes, tombstones included.
type Node struct {
	Row       []byte
	Column    uint32
	Value     []byte
	Timestamp uint64
	Tombstone bool
}

// ListNodes walks every resident node in (column, row) order, tombstones
// and internal columns included. Minor compaction uses this to serialize
// the whole table, carrying deletions into the new disktable as REMOVED
// records so older disktables cannot resurrect them.
func (m *Memtable) ListNodes(yield func(Node) bool) {
	for n := m.first(); n != nil; n = n.forward[0] {
		out := Node{
			Row:       []byte(n.key.row),
			Column:    n.key.column,
			Timestamp: n.timestamp,
			Tombstone: n.tombstone,
		}
		if !n.tombstone {
			out.Value = n.value()
		}
		if !yield(out) {
			return
		}
	}
}

// RemoveColumn tombstones every live cell in column and returns how many
// were removed.
func (m *Memtable) RemoveColumn(column uint32) int {
	removed := 0
	for n := m.seek(cellKey{column: column}); n != nil && n.key.column == column; n = n.forward[0] {
		if n.tombstone {
			continue
		}
		n.tombstone = true
		m.keyCount--
		m.keySize -= len(n.key.row)
		m.valueSize -= n.size
		n.free()
		removed++
	}
	return removed
}

func (m *Memtable) first() *node {
	return m.head.forward[0]
}
