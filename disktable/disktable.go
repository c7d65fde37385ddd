// Package disktable implements the immutable, sorted on-disk runs
// ("disktables") the engine compacts the memtable into and merges during
// major compaction.
//
// Layout of one disktable record, back to back in the shared data file:
//
//	magic[4]            "LBAT" committed / "LBA_" in-progress
//	version      u32
//	row_count    u32
//	data_size    u32
//	bloom        bloom.Size bytes (four 65536-bit filters)
//	trie         patricia-persisted index
//	key_info[row_count]  {timestamp u64 BE, offset u64 LE, size u32 LE, flags u32 LE}
//	data[data_size]      concatenated (encoded_key, value) records
//
// The writer lays the whole record down under a pending magic and flips
// the leading magic last, so a record is either fully committed or
// detectably torn.
package disktable

import "encoding/binary"

// Magic values. MagicPending marks a disktable record whose payload write
// may not have completed; MagicCommitted is the only value a reader may
// trust.
var (
	MagicCommitted = [4]byte{'L', 'B', 'A', 'T'}
	MagicPending   = [4]byte{'L', 'B', 'A', '_'}
)

// Version is the on-disk format version this package reads and writes.
const Version = 9

// Flag bits on a key_info entry.
const (
	FlagRemoved   uint32 = 1 << 0
	FlagNewColumn uint32 = 1 << 1
)

// keyInfoSize is the packed size in bytes of one key_info record:
// timestamp(8) + offset(8) + size(4) + flags(4).
const keyInfoSize = 24

// headerSize is magic(4) + version(4) + row_count(4) + data_size(4).
const headerSize = 16

// keyInfo is one decoded key_info record.
type keyInfo struct {
	timestamp uint64
	offset    uint64
	size      uint32
	flags     uint32
}

func decodeKeyInfo(b []byte) keyInfo {
	return keyInfo{
		timestamp: binary.BigEndian.Uint64(b[0:8]),
		offset:    binary.LittleEndian.Uint64(b[8:16]),
		size:      binary.LittleEndian.Uint32(b[16:20]),
		flags:     binary.LittleEndian.Uint32(b[20:24]),
	}
}

func encodeKeyInfo(b []byte, ki keyInfo) {
	binary.BigEndian.PutUint64(b[0:8], ki.timestamp)
	binary.LittleEndian.PutUint64(b[8:16], ki.offset)
	binary.LittleEndian.PutUint32(b[16:20], ki.size)
	binary.LittleEndian.PutUint32(b[20:24], ki.flags)
}
