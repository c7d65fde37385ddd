// Package backup serializes a store's user cells to a framed stream and
// restores such streams through the engine's public insert path. It is a
// consumer of the engine's scan operations, not part of the engine core.
//
// The stream begins with an 11-byte magic; each record after it is
//
//	rowlen  uvarint
//	collen  uvarint
//	vallen  uvarint
//	ts      u64 big-endian
//	row, col, val raw bytes
//
// A legacy stream carries no magic and no timestamps. Rows are never
// empty, so a leading row length of zero can only be the magic's first
// byte; that is how the two formats are told apart on restore.
package backup

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gnu-jpt/jpt"
)

// Magic is the header identifying a timestamped backup stream.
var Magic = []byte{0, 0, 0, 'J', 'P', 'T', 'B', '0', '0', '0', '0'}

// Options adjust what Backup writes.
type Options struct {
	// Column restricts the backup to one column; empty backs up every
	// user column.
	Column string
	// MinTimestamp skips cells older than this (microseconds since the
	// epoch) when non-zero.
	MinTimestamp uint64
}

// Backup writes the selected cells of e to w. The scan and the framing run
// concurrently: one goroutine walks the store while the other drains cells
// to the writer, so a slow destination doesn't hold the engine's reader
// lock longer than one cell at a time.
func Backup(e *jpt.Engine, w io.Writer, opts Options) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Magic); err != nil {
		return errors.Wrap(err, "backup: write magic")
	}

	cells := make(chan jpt.Cell, 64)
	var g errgroup.Group

	g.Go(func() error {
		defer close(cells)
		visit := func(cell jpt.Cell) error {
			if opts.MinTimestamp > 0 && cell.Timestamp < opts.MinTimestamp {
				return nil
			}
			cells <- cell
			return nil
		}
		if opts.Column != "" {
			return e.ColumnScan(opts.Column, visit)
		}
		return e.Scan(visit)
	})

	g.Go(func() error {
		for cell := range cells {
			if err := writeRecord(bw, cell); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Wrap(bw.Flush(), "backup: flush")
}

// BackupFile is Backup writing to a freshly created file at path.
func BackupFile(e *jpt.Engine, path string, opts Options) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "backup: create file")
	}
	if berr := Backup(e, f, opts); berr != nil {
		_ = f.Close()
		return berr
	}
	return errors.Wrap(f.Close(), "backup: close file")
}

func writeRecord(w *bufio.Writer, cell jpt.Cell) error {
	var hdr [3*binary.MaxVarintLen64 + 8]byte
	n := binary.PutUvarint(hdr[:], uint64(len(cell.Row)))
	n += binary.PutUvarint(hdr[n:], uint64(len(cell.Column)))
	n += binary.PutUvarint(hdr[n:], uint64(len(cell.Value)))
	binary.BigEndian.PutUint64(hdr[n:], cell.Timestamp)
	n += 8

	if _, err := w.Write(hdr[:n]); err != nil {
		return errors.Wrap(err, "backup: write record header")
	}
	if _, err := w.Write(cell.Row); err != nil {
		return errors.Wrap(err, "backup: write row")
	}
	if _, err := w.WriteString(cell.Column); err != nil {
		return errors.Wrap(err, "backup: write column")
	}
	if _, err := w.Write(cell.Value); err != nil {
		return errors.Wrap(err, "backup: write value")
	}
	return nil
}

// Restore reads a backup stream from r and inserts every record into e
// with the given merge flags. Timestamped streams restore their original
// timestamps; legacy streams get write-time stamps.
func Restore(e *jpt.Engine, r io.Reader, flags jpt.InsertFlags) error {
	br := bufio.NewReader(r)

	timestamped, err := detectMagic(br)
	if err != nil {
		return err
	}

	for {
		rowLen, rerr := binary.ReadUvarint(br)
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return errors.Wrap(rerr, "backup: read row length")
		}
		colLen, rerr := binary.ReadUvarint(br)
		if rerr != nil {
			return errors.Wrap(rerr, "backup: read column length")
		}
		valLen, rerr := binary.ReadUvarint(br)
		if rerr != nil {
			return errors.Wrap(rerr, "backup: read value length")
		}

		var ts uint64
		if timestamped {
			var tsBuf [8]byte
			if _, rerr := io.ReadFull(br, tsBuf[:]); rerr != nil {
				return errors.Wrap(rerr, "backup: read timestamp")
			}
			ts = binary.BigEndian.Uint64(tsBuf[:])
		}

		row := make([]byte, rowLen)
		if _, rerr := io.ReadFull(br, row); rerr != nil {
			return errors.Wrap(rerr, "backup: read row")
		}
		col := make([]byte, colLen)
		if _, rerr := io.ReadFull(br, col); rerr != nil {
			return errors.Wrap(rerr, "backup: read column")
		}
		val := make([]byte, valLen)
		if _, rerr := io.ReadFull(br, val); rerr != nil {
			return errors.Wrap(rerr, "backup: read value")
		}

		if timestamped {
			err = e.InsertWithTimestamp(row, string(col), val, ts, flags)
		} else {
			err = e.Insert(row, string(col), val, flags)
		}
		if err != nil {
			return err
		}
	}
}

// RestoreFile is Restore reading from the file at path.
func RestoreFile(e *jpt.Engine, path string, flags jpt.InsertFlags) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "backup: open file")
	}
	defer f.Close()
	return Restore(e, f, flags)
}

// detectMagic consumes the magic header if present and reports whether the
// stream carries timestamps. A stream whose first byte is non-zero cannot
// start with the magic and is read as a legacy backup.
func detectMagic(br *bufio.Reader) (bool, error) {
	head, err := br.Peek(len(Magic))
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "backup: read header")
	}
	if len(head) >= len(Magic) && string(head) == string(Magic) {
		if _, derr := br.Discard(len(Magic)); derr != nil {
			return false, errors.Wrap(derr, "backup: skip magic")
		}
		return true, nil
	}
	return false, nil
}
