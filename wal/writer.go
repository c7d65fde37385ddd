package wal

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Writer appends Records to a log file, writing the 8-byte big-endian
// main-file-size header the first time the log becomes non-empty after
// creation or Reset.
//
// Each Append is a single os.File.Write of a fully-built buffer, rather
// than a channel-fed background-goroutine writer. A background writer
// would let the engine's single-writer discipline race with the log's own
// goroutine; since at most one writer thread is ever inside the engine's
// writer-critical section at a time, there is nothing for a channel to
// buffer here, so Append simply writes and (optionally) fdatasyncs
// inline.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	empty bool
	sync  bool
}

// Open opens (creating if necessary) the log file at path. empty reports
// whether the log currently holds no header/records (true for a brand new
// file, or one truncated to 0 by a prior Reset).
func Open(path string, sync bool, empty bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open")
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "wal: seek to end")
	}
	return &Writer{f: f, empty: empty, sync: sync}, nil
}

// Append serializes rec and writes it to the log, prefixing the 8-byte
// big-endian mainFileSize header first if the log is currently empty. In
// synchronous mode the write is followed by fdatasync.
func (w *Writer) Append(rec *Record, mainFileSize uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf []byte
	if w.empty {
		buf = appendTimestamp(buf, mainFileSize)
	}
	buf = Encode(buf, rec)

	if _, err := w.f.Write(buf); err != nil {
		return errors.Wrap(err, "wal: write record")
	}
	w.empty = false

	if w.sync {
		if err := unix.Fdatasync(int(w.f.Fd())); err != nil {
			return errors.Wrap(err, "wal: fdatasync")
		}
	}
	return nil
}

// Reset truncates the log to empty after a successful minor compaction.
func (w *Writer) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Truncate(0); err != nil {
		return errors.Wrap(err, "wal: truncate")
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "wal: seek to start")
	}
	w.empty = true
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
