// Package bloom implements the four-way fixed-size bloom filter used by each
// disktable for fast negative membership tests.
//
// The filter is four independent 65536-bit arrays (4 x 8 KiB, matching the
// on-disk layout). Two independent 32-bit hashes of the
// encoded key are each split into a high and low 16-bit half, yielding four
// indices, one per array; a present key sets all four bits, and a query
// missing any one of them is definitely absent.
package bloom

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// NumArrays is the number of independent bit-arrays the filter maintains.
const NumArrays = 4

// BitsPerArray is the width of each bit-array (2^16 bits = 8 KiB).
const BitsPerArray = 1 << 16

// BytesPerArray is the on-disk size of one serialized bit-array.
const BytesPerArray = BitsPerArray / 8

// Size is the total on-disk size of a Filter.
const Size = NumArrays * BytesPerArray

// Filter is a four-way fixed-size bloom filter over encoded keys.
type Filter struct {
	bits [NumArrays]*bitset.BitSet
}

// New returns an empty filter.
func New() *Filter {
	f := &Filter{}
	for i := range f.bits {
		f.bits[i] = bitset.New(BitsPerArray)
	}
	return f
}

// indices computes the four bit positions (one per array) for key, using
// the low 32 bits of xxhash's 64-bit digest and crc32-IEEE as the filter's
// two independent 32-bit hashes, each split into its low and high 16 bits.
func indices(key []byte) [NumArrays]uint {
	h1 := uint32(xxhash.Sum64(key))
	h1Lo := h1 & 0xFFFF
	h1Hi := (h1 >> 16) & 0xFFFF

	h2 := crc32.ChecksumIEEE(key)
	h2Lo := h2 & 0xFFFF
	h2Hi := (h2 >> 16) & 0xFFFF

	return [NumArrays]uint{
		uint(h1Lo),
		uint(h1Hi),
		uint(h2Lo),
		uint(h2Hi),
	}
}

// Add marks key as present.
func (f *Filter) Add(key []byte) {
	idx := indices(key)
	for i, bit := range idx {
		f.bits[i].Set(bit)
	}
}

// MayContain reports whether key could be present. false is a definite
// answer; true may be a false positive.
func (f *Filter) MayContain(key []byte) bool {
	idx := indices(key)
	for i, bit := range idx {
		if !f.bits[i].Test(bit) {
			return false
		}
	}
	return true
}

// WriteTo serializes the filter as four fixed BytesPerArray-sized arrays.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	var total int64
	buf := make([]byte, BytesPerArray)
	for _, b := range f.bits {
		words := b.Bytes()
		for i := range buf {
			buf[i] = 0
		}
		for wi, word := range words {
			if wi*8 >= len(buf) {
				break
			}
			binary.LittleEndian.PutUint64(buf[wi*8:], word)
		}
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, errors.Wrap(err, "bloom: write array")
		}
	}
	return total, nil
}

// ReadFilter deserializes a filter previously produced by WriteTo /
// persisted inline in a disktable header.
func ReadFilter(data []byte) (*Filter, error) {
	if len(data) < Size {
		return nil, errors.Errorf("bloom: truncated filter (%d bytes, want %d)", len(data), Size)
	}

	f := New()
	for i := 0; i < NumArrays; i++ {
		chunk := data[i*BytesPerArray : (i+1)*BytesPerArray]
		words := make([]uint64, BitsPerArray/64)
		for wi := range words {
			words[wi] = binary.LittleEndian.Uint64(chunk[wi*8:])
		}
		f.bits[i] = bitset.From(words)
	}
	return f, nil
}
