package jpt

// OpenFlags adjust how Open treats durability and damaged files.
type OpenFlags uint32

const (
	// OpenSync makes every log append and every compaction fdatasync
	// before returning, so a successful write is durable.
	OpenSync OpenFlags = 1 << iota
	// OpenRecover converts corruption found at open (a partially written
	// disktable tail, a log snapshot pointing past the data file) into
	// silent truncation to the last good point instead of a fatal error.
	OpenRecover
)

// InsertFlags select how Insert merges a write into an existing live cell.
// The zero value fails with KindAlreadyExists when the cell is already
// present.
type InsertFlags uint32

const (
	// Append adds the value after any existing value bytes.
	Append InsertFlags = 1 << iota
	// Replace discards any existing value and stores only the new bytes.
	Replace
)

// RemoveColumnFlags adjust RemoveColumn's behavior.
type RemoveColumnFlags uint32

const (
	// RemoveColumnEmptyOnly fails with KindNotEmpty unless the column
	// holds no live cells.
	RemoveColumnEmptyOnly RemoveColumnFlags = 1 << iota
)

// logFlagInternal marks an OpInsert log record that targets an internal
// column (counters and the like): the record's Column field then holds the
// 4-byte little-endian column id instead of a column name. The bit sits
// well above the InsertFlags mode bits so the two never collide.
const logFlagInternal uint32 = 1 << 8
