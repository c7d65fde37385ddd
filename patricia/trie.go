// Package patricia implements a binary PATRICIA trie that indexes byte-string
// keys to dense, 0-based positions.
//
// The trie is an index, not a set: Lookup and LookupPrefix return a
// *candidate* position whose key the caller must independently verify
// (typically by reading the stored key at that position back from the
// disktable and comparing it). Nodes are packed into a single flat array
// of plain 32-bit fields, so the whole structure persists and reloads as
// one contiguous region; the format is self-contained.
package patricia

import (
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/pkg/errors"
)

// MaxEntries is the largest number of keys a single trie can hold.
const MaxEntries = 1<<24 - 1

// MaxKeyLength is the longest key (in bytes) a trie can index.
const MaxKeyLength = (1<<16)/8 - 1

// ErrKeyTooLong is returned by Define when key exceeds MaxKeyLength.
var ErrKeyTooLong = errors.New("patricia: key exceeds maximum length")

// ErrFull is returned by Define when the trie already holds MaxEntries keys.
var ErrFull = errors.New("patricia: trie is full")

// NotFound is the sentinel position returned by Lookup/LookupPrefix when the
// trie holds no keys at all, or when the descent ends back at the root
// sentinel instead of at a defined key.
const NotFound = ^uint32(0)

// node is one entry of the packed node array. bitidx is the 1-based bit
// position (within the key, byte by byte, least significant bit of each
// byte first) this node branches on; left/right are indices into the trie's node
// array, where index 0 is always the root sentinel.
type node struct {
	left, right uint32
	bitidx      uint32
}

const nodeSize = 12 // 3 x uint32, little-endian

// KeyFunc returns the key previously Define'd at position idx (0-based). The
// trie itself never stores key bytes, only the branching structure, so
// callers must supply a way to retrieve a previously defined key.
type KeyFunc func(idx uint32) []byte

// Trie is a PATRICIA trie over byte-string keys.
type Trie struct {
	nodes  []node
	getKey KeyFunc
}

// New creates an empty trie. getKey is consulted by Define to compare a
// candidate key against the key already stored at a given position.
func New(getKey KeyFunc) *Trie {
	return &Trie{nodes: []node{{}}, getKey: getKey}
}

// Count returns the number of keys defined in the trie.
func (t *Trie) Count() uint32 {
	if len(t.nodes) == 0 {
		return 0
	}
	return uint32(len(t.nodes)) - 1
}

func byteAt(b []byte, i int) byte {
	if i < 0 || i >= len(b) {
		return 0
	}
	return b[i]
}

func getBit(key []byte, bitidx uint32) bool {
	if bitidx == 0 {
		return false
	}
	i := bitidx - 1
	return byteAt(key, int(i>>3))&(1<<(i&7)) != 0
}

// Define inserts key into the trie and returns its dense position. Positions
// are assigned consecutively starting at 0 on the first call. Defining the
// same key twice returns the same position both times.
func (t *Trie) Define(key []byte) (uint32, error) {
	if len(key) == 0 {
		return 0, errors.New("patricia: key must be non-empty")
	}
	if len(key) > MaxKeyLength {
		return 0, ErrKeyTooLong
	}
	if t.Count() >= MaxEntries {
		return 0, ErrFull
	}

	maxbit := uint32(len(key)) * 8

	nodeIdx := uint32(0)
	nextIdx := t.nodes[0].right
	for t.nodes[nodeIdx].bitidx < t.nodes[nextIdx].bitidx {
		nodeIdx = nextIdx
		if t.nodes[nextIdx].bitidx < maxbit && getBit(key, t.nodes[nextIdx].bitidx) {
			nextIdx = t.nodes[nextIdx].right
		} else {
			nextIdx = t.nodes[nextIdx].left
		}
	}

	var existing []byte
	if nextIdx != 0 {
		existing = t.getKey(nextIdx - 1)
	}

	idx := 0
	for byteAt(key, idx) == byteAt(existing, idx) {
		if idx >= len(key) && idx >= len(existing) {
			// Identical keys.
			return nextIdx - 1, nil
		}
		idx++
	}

	diff := byteAt(key, idx) ^ byteAt(existing, idx)
	bitidx := uint32(idx*8) + uint32(bits.TrailingZeros8(diff)) + 1
	if bitidx >= maxbit && bitidx >= uint32(len(existing)+1)*8 {
		return 0, errors.New("patricia: key comparison out of range")
	}

	searchNodeIdx := uint32(0)
	searchNextIdx := t.nodes[0].right
	for t.nodes[searchNodeIdx].bitidx < t.nodes[searchNextIdx].bitidx && t.nodes[searchNextIdx].bitidx < bitidx {
		searchNodeIdx = searchNextIdx
		if getBit(key, t.nodes[searchNextIdx].bitidx) {
			searchNextIdx = t.nodes[searchNextIdx].right
		} else {
			searchNextIdx = t.nodes[searchNextIdx].left
		}
	}

	newIdx := uint32(len(t.nodes))
	var n node
	n.bitidx = bitidx
	if getBit(key, bitidx) {
		n.left = searchNextIdx
		n.right = newIdx
	} else {
		n.left = newIdx
		n.right = searchNextIdx
	}
	t.nodes = append(t.nodes, n)

	if t.nodes[searchNodeIdx].bitidx == 0 || getBit(key, t.nodes[searchNodeIdx].bitidx) {
		t.nodes[searchNodeIdx].right = newIdx
	} else {
		t.nodes[searchNodeIdx].left = newIdx
	}

	return newIdx - 1, nil
}

// Lookup returns the position most likely to hold key. The caller MUST
// verify the key at that position before trusting the result: a trie with
// no exact match for key will usually still return some position. NotFound
// means the trie is empty or the descent ended at the root sentinel.
func (t *Trie) Lookup(key []byte) uint32 {
	if len(t.nodes) <= 1 {
		return NotFound
	}

	maxbit := uint32(len(key)) * 8

	nodeIdx := uint32(0)
	nextIdx := t.nodes[0].right
	for t.nodes[nodeIdx].bitidx < t.nodes[nextIdx].bitidx {
		nodeIdx = nextIdx
		if t.nodes[nodeIdx].bitidx < maxbit && getBit(key, t.nodes[nodeIdx].bitidx) {
			nextIdx = t.nodes[nodeIdx].right
		} else {
			nextIdx = t.nodes[nodeIdx].left
		}
	}

	if nextIdx == 0 {
		return NotFound
	}
	return nextIdx - 1
}

// LookupPrefix returns the first candidate position whose key may begin
// with prefix, by descending the trie bounded to only the bits prefix
// supplies (any bit position beyond the prefix defaults to the
// lexicographically smaller branch). Like Lookup, the result is a candidate
// that the caller must verify; it returns NotFound for an empty trie or when
// the descent ends at the root sentinel.
func (t *Trie) LookupPrefix(prefix []byte) uint32 {
	if len(t.nodes) <= 1 {
		return NotFound
	}

	maxbit := uint32(len(prefix)) * 8

	nodeIdx := uint32(0)
	nextIdx := t.nodes[0].right
	for t.nodes[nodeIdx].bitidx < t.nodes[nextIdx].bitidx {
		nodeIdx = nextIdx
		if t.nodes[nodeIdx].bitidx < maxbit && getBit(prefix, t.nodes[nodeIdx].bitidx) {
			nextIdx = t.nodes[nodeIdx].right
		} else {
			nextIdx = t.nodes[nodeIdx].left
		}
	}

	if nextIdx == 0 {
		return NotFound
	}
	return nextIdx - 1
}

// WriteTo persists the trie as (count uint32 LE, nodes...). Each node is
// three little-endian uint32 fields: left, right, bitidx.
func (t *Trie) WriteTo(w io.Writer) (int64, error) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(t.nodes)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, errors.Wrap(err, "patricia: write count")
	}

	buf := make([]byte, nodeSize*len(t.nodes))
	for i, n := range t.nodes {
		o := i * nodeSize
		binary.LittleEndian.PutUint32(buf[o:], n.left)
		binary.LittleEndian.PutUint32(buf[o+4:], n.right)
		binary.LittleEndian.PutUint32(buf[o+8:], n.bitidx)
	}
	if _, err := w.Write(buf); err != nil {
		return 0, errors.Wrap(err, "patricia: write nodes")
	}

	return int64(4 + len(buf)), nil
}

// Size reports the number of bytes WriteTo would emit.
func (t *Trie) Size() int64 {
	return 4 + int64(len(t.nodes))*nodeSize
}

// Remap reconstructs a trie from bytes previously produced by WriteTo,
// without requiring a getKey callback (a remapped trie is read-only: Lookup
// and LookupPrefix work, Define does not). The node array is decoded into
// an owned slice rather than aliased over the source region, trading one
// bounded copy at open for not reinterpreting raw bytes.
func Remap(data []byte) (*Trie, int, error) {
	if len(data) < 4 {
		return nil, 0, errors.New("patricia: truncated trie header")
	}
	count := binary.LittleEndian.Uint32(data)
	need := 4 + int(count)*nodeSize
	if len(data) < need {
		return nil, 0, errors.New("patricia: truncated trie body")
	}

	nodes := make([]node, count)
	for i := range nodes {
		o := 4 + i*nodeSize
		nodes[i] = node{
			left:   binary.LittleEndian.Uint32(data[o:]),
			right:  binary.LittleEndian.Uint32(data[o+4:]),
			bitidx: binary.LittleEndian.Uint32(data[o+8:]),
		}
	}

	return &Trie{nodes: nodes}, need, nil
}
