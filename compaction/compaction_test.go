package compaction

import (
	"bytes"
	"testing"

	"github.com/cairnkv/cairn/record"
	"github.com/cairnkv/cairn/sstable"
)

func writeTable(t *testing.T, dir string, micros int64, level int, recs []record.Record) string {
	t.Helper()
	tbl, err := sstable.Build(recs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	path, err := tbl.Write(dir, micros, level)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return path
}

func TestMergeNewerFileWinsOnDuplicateKey(t *testing.T) {
	dir := t.TempDir()
	older := writeTable(t, dir, 1, 0, []record.Record{record.NewValue([]byte("a"), []byte("old"))})
	newer := writeTable(t, dir, 2, 0, []record.Record{record.NewValue([]byte("a"), []byte("new"))})

	m, err := Merge([]string{older, newer})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	v, ok := m.Get([]byte("a"))
	if !ok || !bytes.Equal(v, []byte("new")) {
		t.Fatalf("Get = %q, %v, want \"new\", true", v, ok)
	}
}

func TestMergeTombstoneFromNewerFileMasksOlderValue(t *testing.T) {
	dir := t.TempDir()
	older := writeTable(t, dir, 1, 0, []record.Record{record.NewValue([]byte("a"), []byte("v"))})
	newer := writeTable(t, dir, 2, 0, []record.Record{record.NewTombstone([]byte("a"))})

	m, err := Merge([]string{older, newer})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, ok := m.Get([]byte("a")); ok {
		t.Fatal("Get returned a value for a key masked by a newer tombstone")
	}
	r, found := m.Lookup([]byte("a"))
	if !found || !r.IsTombstone() {
		t.Fatalf("Lookup = %+v, found=%v, want a surviving tombstone", r, found)
	}
}

func TestMergeCollapsesDuplicatesAcrossThreeFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeTable(t, dir, 1, 0, []record.Record{record.NewValue([]byte("k"), []byte("1"))})
	b := writeTable(t, dir, 2, 0, []record.Record{record.NewValue([]byte("k"), []byte("2"))})
	c := writeTable(t, dir, 3, 0, []record.Record{record.NewValue([]byte("k"), []byte("3"))})

	m, err := Merge([]string{a, b, c})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("got %d distinct keys, want 1", m.Len())
	}
	v, ok := m.Get([]byte("k"))
	if !ok || !bytes.Equal(v, []byte("3")) {
		t.Fatalf("Get = %q, %v, want \"3\", true", v, ok)
	}
}

func TestRunWritesOutputAtNextLevel(t *testing.T) {
	dir := t.TempDir()
	a := writeTable(t, dir, 1, 0, []record.Record{record.NewValue([]byte("a"), []byte("1"))})
	b := writeTable(t, dir, 2, 0, []record.Record{record.NewValue([]byte("b"), []byte("2"))})

	path, err := Run(dir, []string{a, b}, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	va, tombA, foundA, err := sstable.GetDisk(path, []byte("a"))
	if err != nil {
		t.Fatalf("GetDisk a: %v", err)
	}
	if !foundA || tombA || !bytes.Equal(va, []byte("1")) {
		t.Fatalf("GetDisk a = %q, tomb=%v, found=%v", va, tombA, foundA)
	}

	vb, tombB, foundB, err := sstable.GetDisk(path, []byte("b"))
	if err != nil {
		t.Fatalf("GetDisk b: %v", err)
	}
	if !foundB || tombB || !bytes.Equal(vb, []byte("2")) {
		t.Fatalf("GetDisk b = %q, tomb=%v, found=%v", vb, tombB, foundB)
	}
}

func TestRunPreservesTombstonesInOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeTable(t, dir, 1, 0, []record.Record{record.NewValue([]byte("a"), []byte("1"))})
	b := writeTable(t, dir, 2, 0, []record.Record{record.NewTombstone([]byte("a"))})

	path, err := Run(dir, []string{a, b}, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, tomb, found, err := sstable.GetDisk(path, []byte("a"))
	if err != nil {
		t.Fatalf("GetDisk: %v", err)
	}
	if !found || !tomb {
		t.Fatalf("GetDisk found=%v tomb=%v, want true, true", found, tomb)
	}
}
