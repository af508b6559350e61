package manifest

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadOnFirstRunIsEmpty(t *testing.T) {
	dir := t.TempDir()
	paths, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("got %v, want empty", paths)
	}
}

func TestAppendThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "1_0.ss")
	b := filepath.Join(dir, "2_0.ss")
	if err := Append(dir, a); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := Append(dir, b); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{a, b}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %v, want %v", got, want)
	}
}

func TestRewriteReplacesContents(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "1_0.ss")
	b := filepath.Join(dir, "2_0.ss")
	c := filepath.Join(dir, "3_1.ss")
	_ = Append(dir, a)
	_ = Append(dir, b)

	if err := Rewrite(dir, []string{c}); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, []string{c}) {
		t.Fatalf("Load after Rewrite = %v, want [%v]", got, c)
	}
}
