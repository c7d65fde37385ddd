package disktable

import (
	"bytes"

	"github.com/gnu-jpt/jpt/keycodec"
)

// Cursor is a forward iterator over one disktable's records in trie (i.e.
// encoded-key) order. It skips tombstones automatically
// and can early-terminate once it walks past a requested column, since
// records are grouped by column id first.
//
// Row boundaries within a stored record are found by scanning for the
// trailing NUL keycodec.Encode appends; rows must therefore never contain
// an embedded NUL byte.
type Cursor struct {
	t   *Table
	pos int // current record index, -1 before the first Advance

	recStart int64
	keyLen   int
	ki       keyInfo
}

// NewCursor returns a cursor positioned before the first record.
func (t *Table) NewCursor() *Cursor { return &Cursor{t: t, pos: -1} }

// Advance moves to the next live (non-tombstoned) record. If colFilter is
// non-nil, Advance stops and returns false as soon as the next live
// record's column would exceed *colFilter. It returns false when the
// table is exhausted.
func (c *Cursor) Advance(colFilter *uint32) bool {
	for {
		c.pos++
		if c.pos >= c.t.rowCount {
			return false
		}
		start, ki := c.t.recordBounds(c.pos)
		if ki.flags&FlagRemoved != 0 {
			continue
		}
		col := keycodec.Column(c.t.mm[start : start+keycodec.PrefixSize])
		if colFilter != nil && col > *colFilter {
			c.pos = c.t.rowCount
			return false
		}
		c.recStart = start
		c.ki = ki
		c.keyLen = findKeyLen(c.t, start)
		return true
	}
}

// SeekPrefix positions the cursor so the next Advance lands on the first
// live record whose encoded key is >= prefix (by binary search over the
// sorted key_info array), letting column_scan seek directly to a column's
// first row instead of walking from the start.
func (c *Cursor) SeekPrefix(prefix []byte) {
	lo, hi := 0, c.t.rowCount
	for lo < hi {
		mid := (lo + hi) / 2
		start, _ := c.t.recordBounds(mid)
		n := len(prefix)
		end := start + int64(n)
		if end > c.t.end {
			end = c.t.end
		}
		if bytes.Compare(c.t.mm[start:end], prefix) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	c.pos = lo - 1
}

// Valid reports whether the cursor currently sits on a record (i.e. the
// last Advance returned true).
func (c *Cursor) Valid() bool { return c.pos >= 0 && c.pos < c.t.rowCount }

// Pos returns the key_info position of the current record, for callers
// that need to hand it back to Table.SetRemoved or Table.ShrinkValue.
func (c *Cursor) Pos() int { return c.pos }

// Key returns the full encoded key of the current record.
func (c *Cursor) Key() []byte {
	return c.t.mm[c.recStart : c.recStart+int64(c.keyLen)]
}

// Column returns the column id of the current record.
func (c *Cursor) Column() uint32 {
	return keycodec.Column(c.t.mm[c.recStart : c.recStart+keycodec.PrefixSize])
}

// Row returns the row of the current record (excluding the NUL
// terminator).
func (c *Cursor) Row() []byte {
	return c.t.mm[c.recStart+keycodec.PrefixSize : c.recStart+int64(c.keyLen)-1]
}

// Value returns the value bytes of the current record.
func (c *Cursor) Value() []byte {
	valStart := c.recStart + int64(c.keyLen)
	valEnd := c.recStart + int64(c.ki.size)
	return c.t.mm[valStart:valEnd]
}

// Timestamp returns the current record's timestamp.
func (c *Cursor) Timestamp() uint64 { return c.ki.timestamp }

// NewColumn reports whether this is the first record of its column
// (NEW_COLUMN flag).
func (c *Cursor) NewColumn() bool { return c.ki.flags&FlagNewColumn != 0 }

// findKeyLen scans forward from the start of a record's encoded key for
// the NUL terminator keycodec.Encode appends, returning the encoded key's
// total length (prefix + row + terminator).
func findKeyLen(t *Table, start int64) int {
	i := start + keycodec.PrefixSize
	for t.mm[i] != 0 {
		i++
	}
	return int(i-start) + 1
}
