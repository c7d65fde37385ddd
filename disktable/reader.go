package disktable

import (
	"bytes"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/gnu-jpt/jpt/bloom"
	"github.com/gnu-jpt/jpt/patricia"
)

// ErrPending is returned by Open when the record's magic is the
// in-progress marker ("LBA_"): a file with any LBA_ magic is a
// partially-written tail and must be truncated on open.
var ErrPending = errors.New("disktable: record is a partial, uncommitted write")

// ErrCorrupt is returned by Open for any other malformed record.
var ErrCorrupt = errors.New("disktable: corrupt record")

// ErrVersion is returned by Open when the record's format version is not
// one this package can read.
var ErrVersion = errors.New("disktable: unsupported version")

// Table is a read handle onto one immutable disktable record, backed by
// the engine's shared memory map of the data file. Lookups index directly
// into the map; the two narrow in-place mutations this format permits
// (flipping REMOVED, shrinking a value) write through it too.
type Table struct {
	mm   mmap.MMap
	f    *os.File
	sync bool

	offset int64 // absolute start of this record
	end    int64 // absolute end of this record (next record starts here)

	rowCount int
	bloom    *bloom.Filter
	trie     *patricia.Trie

	keyInfoOff int64 // absolute offset of key_info[0]
	dataOff    int64 // absolute offset of data[0]
}

// Open parses the disktable record starting at offset within mm. It
// returns the table and the offset one past the end of the record (where
// the next disktable record, if any, begins). ErrPending signals the
// record's commit magic was never written.
func Open(mm mmap.MMap, offset int64, f *os.File, sync bool) (*Table, int64, error) {
	if offset+headerSize > int64(len(mm)) {
		return nil, 0, errors.Wrap(ErrCorrupt, "truncated header")
	}
	hdr := mm[offset : offset+headerSize]

	switch {
	case bytes.Equal(hdr[0:4], MagicPending[:]):
		return nil, 0, ErrPending
	case !bytes.Equal(hdr[0:4], MagicCommitted[:]):
		return nil, 0, errors.Wrap(ErrCorrupt, "bad magic")
	}

	version := leU32(hdr[4:8])
	if version != Version {
		return nil, 0, errors.Wrapf(ErrVersion, "version %d", version)
	}
	rowCount := leU32(hdr[8:12])
	dataSize := leU32(hdr[12:16])

	bloomStart := offset + headerSize
	bloomEnd := bloomStart + bloom.Size
	if bloomEnd > int64(len(mm)) {
		return nil, 0, errors.Wrap(ErrCorrupt, "truncated bloom filter")
	}
	filter, err := bloom.ReadFilter(mm[bloomStart:bloomEnd])
	if err != nil {
		return nil, 0, errors.Wrap(err, "disktable: read bloom")
	}

	trie, consumed, err := patricia.Remap(mm[bloomEnd:])
	if err != nil {
		return nil, 0, errors.Wrap(err, "disktable: remap trie")
	}

	keyInfoStart := bloomEnd + int64(consumed)
	keyInfoEnd := keyInfoStart + int64(rowCount)*keyInfoSize
	dataStart := keyInfoEnd
	dataEnd := dataStart + int64(dataSize)
	if dataEnd > int64(len(mm)) {
		return nil, 0, errors.Wrap(ErrCorrupt, "truncated data region")
	}

	t := &Table{
		mm:         mm,
		f:          f,
		sync:       sync,
		offset:     offset,
		end:        dataEnd,
		rowCount:   int(rowCount),
		bloom:      filter,
		trie:       trie,
		keyInfoOff: keyInfoStart,
		dataOff:    dataStart,
	}
	return t, dataEnd, nil
}

// Rebase points the table at a freshly remapped view of the data file
// after the engine has grown it; the bytes at this table's offsets are
// unchanged, so no re-parsing is needed.
func (t *Table) Rebase(mm mmap.MMap) { t.mm = mm }

// Offset is this record's absolute starting offset in the data file.
func (t *Table) Offset() int64 { return t.offset }

// End is this record's absolute ending offset in the data file.
func (t *Table) End() int64 { return t.end }

// RowCount is the number of key_info entries (including tombstones).
func (t *Table) RowCount() int { return t.rowCount }

func (t *Table) keyInfoAt(pos int) keyInfo {
	o := t.keyInfoOff + int64(pos)*keyInfoSize
	return decodeKeyInfo(t.mm[o : o+keyInfoSize])
}

func (t *Table) putKeyInfo(pos int, ki keyInfo) {
	o := t.keyInfoOff + int64(pos)*keyInfoSize
	encodeKeyInfo(t.mm[o:o+keyInfoSize], ki)
}

// recordBounds returns the absolute [start, start+size) byte range of the
// record at key_info position pos.
func (t *Table) recordBounds(pos int) (start int64, ki keyInfo) {
	ki = t.keyInfoAt(pos)
	return t.dataOff + int64(ki.offset), ki
}

// MayContain is a cheap pre-check via the bloom filter, letting callers
// skip a table entirely before doing any Lookup work.
func (t *Table) MayContain(key []byte) bool { return t.bloom.MayContain(key) }

// Lookup resolves an already-encoded key against this table. found is
// false for a bloom-admitted miss, a removed (tombstoned) record, or a trie
// candidate whose stored key doesn't actually match (the trie only ever
// returns a candidate position; callers must verify it). pos is the
// key_info position whenever the stored key matches, including a
// tombstoned record, so callers can act on that slot; it is -1 otherwise.
func (t *Table) Lookup(key []byte) (value []byte, ts uint64, pos int, found bool) {
	if !t.bloom.MayContain(key) {
		return nil, 0, -1, false
	}
	p := t.trie.Lookup(key)
	if p == patricia.NotFound || int(p) >= t.rowCount {
		return nil, 0, -1, false
	}
	start, ki := t.recordBounds(int(p))
	if start+int64(len(key)) > t.end {
		return nil, 0, -1, false
	}
	stored := t.mm[start : start+int64(len(key))]
	if !bytes.Equal(stored, key) {
		return nil, 0, -1, false
	}
	if ki.flags&FlagRemoved != 0 {
		return nil, 0, int(p), false
	}
	valStart := start + int64(len(key))
	valEnd := start + int64(ki.size)
	val := append([]byte(nil), t.mm[valStart:valEnd]...)
	return val, ki.timestamp, int(p), true
}

// SetRemoved flips the REMOVED flag on the key_info entry at pos -- one of
// the two narrow in-place mutations permitted on an otherwise immutable
// disktable.
func (t *Table) SetRemoved(pos int) error {
	ki := t.keyInfoAt(pos)
	ki.flags |= FlagRemoved
	t.putKeyInfo(pos, ki)
	return t.syncRegion()
}

// ShrinkValue overwrites up to min(size-keyLen, len(newValue)) bytes of the
// stored value at pos with newValue, clears REMOVED, and shrinks the
// record's recorded size to keyLen+consumed, discarding any stale bytes
// beyond what was written. It returns how many bytes of newValue were
// consumed. This is the other narrow in-place mutation allowed, used to
// implement an in-place shrinking REPLACE without a full minor compaction.
func (t *Table) ShrinkValue(pos int, keyLen int, newValue []byte) (consumed int, err error) {
	ki := t.keyInfoAt(pos)
	avail := int(ki.size) - keyLen
	if avail < 0 {
		return 0, errors.New("disktable: key_info size smaller than key length")
	}
	n := len(newValue)
	if n > avail {
		n = avail
	}
	start, _ := t.recordBounds(pos)
	valStart := start + int64(keyLen)
	copy(t.mm[valStart:valStart+int64(n)], newValue[:n])

	ki.size = uint32(keyLen + n)
	ki.flags &^= FlagRemoved
	t.putKeyInfo(pos, ki)

	if err := t.syncRegion(); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Table) syncRegion() error {
	if !t.sync {
		return nil
	}
	if err := t.mm.Flush(); err != nil {
		return errors.Wrap(err, "disktable: flush mmap after in-place edit")
	}
	return nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
