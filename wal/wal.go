// Package wal implements the write-ahead log: an append-only, CRC-guarded
// record of every Set/Delete, replayed on open to rebuild the MemTable a
// crash lost.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cairnkv/cairn/memtable"
)

// ErrCorrupt signals a CRC mismatch on replay: the entry's stored checksum
// does not match the checksum of its value bytes. Unlike a trailing partial
// record (which Replay treats as a clean stop — the expected shape of a
// crash mid-append), a CRC mismatch means the log holds bytes it never
// wrote, and replay cannot safely proceed past it.
var ErrCorrupt = errors.New("wal: corrupt")

const (
	crcWidth       = 4
	keySizeWidth   = 8
	valSizeWidth   = 8
	timestampWidth = 16
	headerWidth    = crcWidth + keySizeWidth + valSizeWidth + timestampWidth
)

// WAL is an append-only log file open for writing. At most one WAL is
// active per DB at a time.
type WAL struct {
	path        string
	f           *os.File
	w           *bufio.Writer
	syncOnWrite bool
}

// FileName returns the canonical WAL file name for the given write time:
// <microseconds-since-epoch>.wal.
func FileName(t time.Time) string {
	return fmt.Sprintf("%d.wal", t.UnixMicro())
}

// Open creates a new WAL file in dir, named from the current time, and
// opens it for append.
func Open(dir string, syncOnWrite bool) (*WAL, error) {
	path := filepath.Join(dir, FileName(time.Now()))
	return openPath(path, syncOnWrite)
}

// OpenExisting reopens an existing WAL file at path for append, for use
// after restoring it via Replay.
func OpenExisting(path string, syncOnWrite bool) (*WAL, error) {
	return openPath(path, syncOnWrite)
}

func openPath(path string, syncOnWrite bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{
		path:        path,
		f:           f,
		w:           bufio.NewWriter(f),
		syncOnWrite: syncOnWrite,
	}, nil
}

// Path returns the WAL's file path.
func (w *WAL) Path() string { return w.path }

// Close flushes the write buffer and closes the underlying file.
func (w *WAL) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// Set appends a Value entry for key/value and flushes the write buffer.
func (w *WAL) Set(key, value []byte) error {
	return w.append(key, value, false)
}

// Delete appends a deletion entry (value_size=0) for key and flushes the
// write buffer.
func (w *WAL) Delete(key []byte) error {
	return w.append(key, nil, true)
}

func (w *WAL) append(key, value []byte, isDelete bool) error {
	if w == nil || w.f == nil {
		return errors.New("wal: closed")
	}
	if isDelete {
		value = nil
	}
	ts := uint64(time.Now().UnixNano())
	crc := crc32.ChecksumIEEE(value)

	buf := make([]byte, 0, headerWidth+len(key)+len(value))
	var hdr [headerWidth]byte
	binary.LittleEndian.PutUint32(hdr[0:4], crc)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(len(key)))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(len(value)))
	binary.LittleEndian.PutUint64(hdr[20:28], ts)
	binary.LittleEndian.PutUint64(hdr[28:36], 0) // high word of u128 timestamp
	buf = append(buf, hdr[:]...)
	buf = append(buf, key...)
	buf = append(buf, value...)

	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.syncOnWrite {
		return w.f.Sync()
	}
	return nil
}

// Entry is one decoded WAL record.
type Entry struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
	IsDelete  bool
}

// Replay reads entries from the WAL file at path in order, invoking fn for
// each. It stops cleanly at EOF or at a short (trailing partial) read — the
// expected shape of a crash mid-append. A CRC mismatch is corruption and is
// fatal: Replay returns ErrCorrupt immediately, without invoking fn for the
// bad entry or anything after it. A missing file is not an error: Replay
// simply invokes fn zero times.
func Replay(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		var hdr [headerWidth]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		crc := binary.LittleEndian.Uint32(hdr[0:4])
		keySize := binary.LittleEndian.Uint64(hdr[4:12])
		valSize := binary.LittleEndian.Uint64(hdr[12:20])
		ts := binary.LittleEndian.Uint64(hdr[20:28])

		key := make([]byte, keySize)
		if _, err := io.ReadFull(r, key); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		var value []byte
		if valSize > 0 {
			value = make([]byte, valSize)
			if _, err := io.ReadFull(r, value); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return nil
				}
				return err
			}
		}

		if crc32.ChecksumIEEE(value) != crc {
			logrus.WithField("path", path).Error("wal: crc mismatch, refusing to replay past this entry")
			return ErrCorrupt
		}

		if err := fn(Entry{Key: key, Value: value, Timestamp: ts, IsDelete: valSize == 0}); err != nil {
			return err
		}
	}
}

// ReplayInto builds a fresh MemTable by applying every entry of the WAL
// file at path in order. A zero-length-value entry applies as a Delete;
// later entries for the same key overwrite earlier ones, since MemTable.Set
// and MemTable.Delete always replace the prior Record.
func ReplayInto(path string) (*memtable.MemTable, error) {
	m := memtable.New()
	err := Replay(path, func(e Entry) error {
		if e.IsDelete {
			m.Delete(e.Key)
		} else {
			m.Set(e.Key, e.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
