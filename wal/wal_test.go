package wal

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestSetDeleteReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Set([]byte("a"), []byte("b")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := w.Set([]byte("a"), []byte("c")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := w.Delete([]byte("z")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var entries []Entry
	if err := Replay(w.Path(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[2].IsDelete != true || !bytes.Equal(entries[2].Key, []byte("z")) {
		t.Fatalf("third entry = %+v, want delete of z", entries[2])
	}
}

func TestReplayIntoAppliesLastWriterWins(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = w.Set([]byte("a"), []byte("1"))
	_ = w.Set([]byte("a"), []byte("2"))
	_ = w.Close()

	m, err := ReplayInto(w.Path())
	if err != nil {
		t.Fatalf("ReplayInto: %v", err)
	}
	v, ok := m.Get([]byte("a"))
	if !ok || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("Get = %q, %v, want \"2\", true", v, ok)
	}
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	err := Replay(filepath.Join(dir, "missing.wal"), func(Entry) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay on missing file: %v", err)
	}
	if calls != 0 {
		t.Fatalf("fn invoked %d times on missing file", calls)
	}
}

func TestReplayStopsAtTrailingPartialRecord(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = w.Set([]byte("a"), []byte("b"))
	_ = w.Close()

	// Append a truncated second entry: a full header claiming a key that
	// never arrives.
	f, err := os.OpenFile(w.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	var hdr [headerWidth]byte
	binary.LittleEndian.PutUint64(hdr[4:12], 100) // key_size claims 100 bytes that never follow
	if _, err := f.Write(hdr[:]); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	_ = f.Close()

	var entries []Entry
	if err := Replay(w.Path(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (trailing partial record ignored)", len(entries))
	}
}

func TestReplayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = w.Set([]byte("a"), []byte("b"))
	_ = w.Close()

	// Flip a byte in the value to break the CRC.
	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(w.Path(), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err = Replay(w.Path(), func(Entry) error { return nil })
	if err != ErrCorrupt {
		t.Fatalf("Replay error = %v, want ErrCorrupt", err)
	}
}
