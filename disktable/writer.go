package disktable

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/gnu-jpt/jpt/bloom"
	"github.com/gnu-jpt/jpt/keycodec"
	"github.com/gnu-jpt/jpt/patricia"
)

// Entry is one (key, value) pair to be written into a new disktable. Key is
// the full encoded key (keycodec.Encode output); entries MUST already be
// supplied in ascending encoded-key order with no duplicates -- the caller
// (minor or major compaction) is responsible for producing that order.
type Entry struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
	Removed   bool
}

// Write serializes entries as one disktable record into f, starting at
// offset, and returns the offset one past the end of the record (the new
// end-of-file). It writes the pending magic first, then
// version/row_count/data_size/bloom/trie/key_info/data, fsyncs if sync is
// set, then patches the leading magic to commit.
//
// On any error the caller is expected to truncate f back to offset; Write
// itself does not attempt that -- restoring the file to its prior size on
// a failed write is the compaction routine's job, not this primitive's.
func Write(f *os.File, offset int64, entries []Entry, sync bool) (newEOF int64, err error) {
	filter := bloom.New()
	var keys [][]byte
	trie := patricia.New(func(idx uint32) []byte { return keys[idx] })

	dataSize := 0
	kis := make([]keyInfo, len(entries))
	lastColumn := uint32(0)
	haveColumn := false

	for i, e := range entries {
		col, _, derr := keycodec.Decode(e.Key)
		if derr != nil {
			return 0, errors.Wrap(derr, "disktable: decode entry key")
		}

		pos, derr := trie.Define(e.Key)
		if derr != nil {
			return 0, errors.Wrap(derr, "disktable: trie define")
		}
		keys = append(keys, e.Key)
		if int(pos) != i {
			return 0, errors.Errorf("disktable: entries not in sorted unique order at %d", i)
		}
		filter.Add(e.Key)

		flags := uint32(0)
		if e.Removed {
			flags |= FlagRemoved
		}
		if !haveColumn || col != lastColumn {
			flags |= FlagNewColumn
			lastColumn = col
			haveColumn = true
		}

		size := len(e.Key) + len(e.Value)
		kis[i] = keyInfo{
			timestamp: e.Timestamp,
			offset:    uint64(dataSize),
			size:      uint32(size),
			flags:     flags,
		}
		dataSize += size
	}

	var meta bytes.Buffer
	meta.Write(MagicPending[:])
	writeU32(&meta, Version)
	writeU32(&meta, uint32(len(entries)))
	writeU32(&meta, uint32(dataSize))

	if _, err := filter.WriteTo(&meta); err != nil {
		return 0, errors.Wrap(err, "disktable: write bloom")
	}
	if _, err := trie.WriteTo(&meta); err != nil {
		return 0, errors.Wrap(err, "disktable: write trie")
	}
	kiBuf := make([]byte, keyInfoSize*len(kis))
	for i, ki := range kis {
		encodeKeyInfo(kiBuf[i*keyInfoSize:], ki)
	}
	meta.Write(kiBuf)

	if _, err := f.WriteAt(meta.Bytes(), offset); err != nil {
		return 0, errors.Wrap(err, "disktable: write metadata")
	}

	dataOffset := offset + int64(meta.Len())
	data := make([]byte, 0, dataSize)
	for _, e := range entries {
		data = append(data, e.Key...)
		data = append(data, e.Value...)
	}
	if _, err := f.WriteAt(data, dataOffset); err != nil {
		return 0, errors.Wrap(err, "disktable: write data")
	}

	newEOF = dataOffset + int64(len(data))

	if sync {
		if err := unix.Fdatasync(int(f.Fd())); err != nil {
			return 0, errors.Wrap(err, "disktable: fdatasync")
		}
	}

	if _, err := f.WriteAt(MagicCommitted[:], offset); err != nil {
		return 0, errors.Wrap(err, "disktable: commit magic")
	}
	if sync {
		if err := unix.Fdatasync(int(f.Fd())); err != nil {
			return 0, errors.Wrap(err, "disktable: fdatasync commit")
		}
	}

	return newEOF, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	buf.Write(b[:])
}
