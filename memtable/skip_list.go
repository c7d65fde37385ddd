package memtable

import "math/rand"

const maxLevel = 32

// cellKey orders nodes first by column id, then by row, matching the
// order keycodec.Encode produces on the wire.
type cellKey struct {
	column uint32
	row    string
}

func less(a, b cellKey) bool {
	if a.column != b.column {
		return a.column < b.column
	}
	return a.row < b.row
}

// segment is one value fragment of an APPEND chain: a singly linked chain
// of value segments with a head and tail pointer.
type segment struct {
	data []byte
	next *segment
}

type node struct {
	key       cellKey
	timestamp uint64
	head      *segment
	tail      *segment
	size      int // sum of segment lengths
	tombstone bool
	forward   []*node
}

func newNode(key cellKey, level int) *node {
	return &node{key: key, forward: make([]*node, level+1)}
}

// append adds a new segment to the chain without copying existing data.
func (n *node) append(value []byte) {
	seg := &segment{data: append([]byte(nil), value...)}
	if n.tail == nil {
		n.head, n.tail = seg, seg
	} else {
		n.tail.next = seg
		n.tail = seg
	}
	n.size += len(value)
}

// replace discards the existing chain and stores value as the sole
// segment.
func (n *node) replace(value []byte) {
	seg := &segment{data: append([]byte(nil), value...)}
	n.head, n.tail = seg, seg
	n.size = len(value)
}

// free drops the value chain of a tombstoned node; the node struct itself
// stays resident for iteration order.
func (n *node) free() {
	n.head, n.tail = nil, nil
	n.size = 0
}

// value concatenates the node's segment chain into one freshly allocated
// slice.
func (n *node) value() []byte {
	out := make([]byte, 0, n.size)
	for s := n.head; s != nil; s = s.next {
		out = append(out, s.data...)
	}
	return out
}

// copyInto concatenates the segment chain into dst, copying at most
// len(dst) bytes, and returns the number of bytes written.
func (n *node) copyInto(dst []byte) int {
	written := 0
	for s := n.head; s != nil && written < len(dst); s = s.next {
		c := copy(dst[written:], s.data)
		written += c
	}
	return written
}

func randomLevel() int {
	level := 0
	for rand.Int31()&1 == 0 && level < maxLevel {
		level++
	}
	return level
}

func (m *Memtable) adjustLevels(level int) {
	old := m.head.forward
	m.head = newNode(cellKey{}, level)
	m.levels = level
	copy(m.head.forward, old)
}

// find returns the node exactly matching key, if any.
func (m *Memtable) find(key cellKey) (*node, bool) {
	x := m.head
	for level := m.levels; level >= 0; level-- {
		for x.forward[level] != nil && less(x.forward[level].key, key) {
			x = x.forward[level]
		}
	}
	x = x.forward[0]
	if x != nil && x.key == key {
		return x, true
	}
	return nil, false
}

// seek returns the first node whose key is >= key (nil if none).
func (m *Memtable) seek(key cellKey) *node {
	x := m.head
	for level := m.levels; level >= 0; level-- {
		for x.forward[level] != nil && less(x.forward[level].key, key) {
			x = x.forward[level]
		}
	}
	return x.forward[0]
}

// insertNode creates and links a new node for key, which must not already
// be present, and returns it.
func (m *Memtable) insertNode(key cellKey) *node {
	level := randomLevel()
	if level > m.levels {
		m.adjustLevels(level)
	}

	updates := make([]*node, m.levels+1)
	x := m.head
	for l := m.levels; l >= 0; l-- {
		for x.forward[l] != nil && less(x.forward[l].key, key) {
			x = x.forward[l]
		}
		updates[l] = x
	}

	n := newNode(key, level)
	for l := 0; l <= level; l++ {
		n.forward[l] = updates[l].forward[l]
		updates[l].forward[l] = n
	}
	m.nodeCount++
	return n
}
