// Package keycodec encodes (column id, row) pairs into a single
// lexicographically sortable byte string.
//
// The encoding packs the column id into a fixed-width, order-preserving
// prefix with no zero bytes, followed by the row and a trailing NUL. Sorting
// encoded keys byte-for-byte therefore sorts primarily by column id and
// secondarily by row, and the trailing NUL preserves C-string semantics for
// implementations (and on-disk readers) that still expect one.
package keycodec

import "github.com/pkg/errors"

// PrefixSize is the number of bytes used to encode a column id.
const PrefixSize = 4

// MaxColumn is the largest column id representable by this scheme: each of
// the four prefix bytes carries one base-255 digit, so ids at or above
// 255^4 would wrap and break the order-preserving property. Column id 0 is
// also reserved and never encoded this way; Encode rejects it.
const MaxColumn = 255*255*255*255 - 1

// ErrZeroColumn is returned by Encode when asked to encode the reserved
// column id 0.
var ErrZeroColumn = errors.New("keycodec: column id 0 is unrepresentable")

// ErrEmptyRow is returned by Encode when row is empty; rows must be
// non-empty byte strings.
var ErrEmptyRow = errors.New("keycodec: row must be non-empty")

// ErrColumnRange is returned by Encode when column exceeds MaxColumn.
var ErrColumnRange = errors.New("keycodec: column id exceeds encodable range")

// Encode packs column and row into an order-preserving key of length
// PrefixSize + len(row) + 1. The returned slice is always freshly allocated.
func Encode(column uint32, row []byte) ([]byte, error) {
	if column == 0 {
		return nil, ErrZeroColumn
	}
	if column > MaxColumn {
		return nil, ErrColumnRange
	}
	if len(row) == 0 {
		return nil, ErrEmptyRow
	}

	key := make([]byte, PrefixSize+len(row)+1)
	putPrefix(key, column)
	copy(key[PrefixSize:], row)
	key[len(key)-1] = 0

	return key, nil
}

// AppendEncode behaves like Encode but appends into dst, returning the
// grown slice. Useful for callers that want to reuse a scratch buffer.
func AppendEncode(dst []byte, column uint32, row []byte) ([]byte, error) {
	if column == 0 {
		return nil, ErrZeroColumn
	}
	if column > MaxColumn {
		return nil, ErrColumnRange
	}
	if len(row) == 0 {
		return nil, ErrEmptyRow
	}

	start := len(dst)
	dst = append(dst, make([]byte, PrefixSize+len(row)+1)...)
	putPrefix(dst[start:], column)
	copy(dst[start+PrefixSize:], row)
	dst[len(dst)-1] = 0

	return dst, nil
}

func putPrefix(dst []byte, column uint32) {
	c := uint64(column)
	dst[0] = byte(c/16581375%255) + 1
	dst[1] = byte(c/65025%255) + 1
	dst[2] = byte(c/255%255) + 1
	dst[3] = byte(c%255) + 1
}

// EncodePrefix returns only the PrefixSize-byte column prefix, used by
// range-scan seeks (disktable.Cursor.SeekPrefix) that only know the column.
func EncodePrefix(column uint32) ([]byte, error) {
	if column == 0 {
		return nil, ErrZeroColumn
	}
	if column > MaxColumn {
		return nil, ErrColumnRange
	}
	prefix := make([]byte, PrefixSize)
	putPrefix(prefix, column)
	return prefix, nil
}

// Decode reverses Encode, splitting an encoded key back into its column id
// and row. It does not validate the trailing NUL terminator's position
// beyond requiring the key be at least PrefixSize+1 bytes.
func Decode(key []byte) (column uint32, row []byte, err error) {
	if len(key) < PrefixSize+1 {
		return 0, nil, errors.Errorf("keycodec: key too short (%d bytes)", len(key))
	}

	p0, p1, p2, p3 := key[0], key[1], key[2], key[3]
	if p0 == 0 || p1 == 0 || p2 == 0 || p3 == 0 {
		return 0, nil, errors.New("keycodec: zero prefix byte")
	}

	c := uint32(p0-1)*255 + uint32(p1-1)
	c = c*255 + uint32(p2-1)
	c = c*255 + uint32(p3-1)

	// Row excludes the trailing NUL terminator.
	row = key[PrefixSize : len(key)-1]

	return c, row, nil
}

// Column extracts just the column id from an encoded key's prefix, without
// decoding the row. Used by cursors that only need to compare/filter by
// column while walking a disktable.
func Column(key []byte) uint32 {
	if len(key) < PrefixSize {
		return 0
	}
	p0, p1, p2, p3 := key[0], key[1], key[2], key[3]
	c := uint32(p0-1)*255 + uint32(p1-1)
	c = c*255 + uint32(p2-1)
	c = c*255 + uint32(p3-1)
	return c
}
