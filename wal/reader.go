package wal

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// Replay reads every record out of the log file at path. It returns the
// main-file-size snapshot taken when the log became non-empty (0 if the log
// is, or should be treated as, empty), the decoded records in log order,
// and validLen, the byte offset in the log file just past the last
// successfully decoded record -- the point any necessary truncation should
// occur at to drop a partial or corrupt tail record.
func Replay(path string) (mainFileSize uint64, records []*Record, validLen int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, 0, nil
		}
		return 0, nil, 0, errors.Wrap(err, "wal: read log")
	}

	if len(data) < 8 {
		return 0, nil, 0, nil
	}

	mainFileSize = binary.BigEndian.Uint64(data[:8])

	dec := newDecoder(data[8:])
	for {
		rec, derr := dec.Next()
		if derr != nil {
			// A clean io.EOF (no more records at all) and a torn/corrupt
			// record (io.ErrUnexpectedEOF or ErrCorrupt) both stop replay
			// here; dec.Consumed() already reflects only the records
			// successfully decoded before derr, so in either case this is
			// exactly the truncation point.
			break
		}
		records = append(records, rec)
	}

	validLen = 8 + int64(dec.Consumed())
	return mainFileSize, records, validLen, nil
}

// Truncate shrinks the log file at path to n bytes, used by the engine to
// drop a partially-written tail record found by Replay.
func Truncate(path string, n int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "wal: open for truncate")
	}
	defer f.Close()
	if err := f.Truncate(n); err != nil {
		return errors.Wrap(err, "wal: truncate")
	}
	return nil
}
