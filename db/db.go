// Package db orchestrates the WAL, MemTable, SSTable list and Manifest
// into the single-writer, crash-recoverable key-value store described by
// the storage engine spec.
package db

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cairnkv/cairn/compaction"
	"github.com/cairnkv/cairn/manifest"
	"github.com/cairnkv/cairn/memtable"
	"github.com/cairnkv/cairn/sstable"
	"github.com/cairnkv/cairn/wal"
)

// ErrClosed is returned by every operation once Close has been called.
var ErrClosed = errors.New("db: closed")

// DB is the embedded store: a MemTable backed by a WAL for durability, and
// an ordered list of immutable SSTables on disk. All mutating operations
// are serialized by mu; Get takes the same mutex (the spec only requires
// "shared access" for reads, and a single mutex is a conservative,
// correct implementation of that).
type DB struct {
	mu     sync.Mutex
	closed bool

	opts Options
	root string

	walDir string
	sstDir string

	w   *wal.WAL
	mem *memtable.MemTable

	sstables []string // oldest first, newest last — file-name order is recency order

	sessionID string
	log       *logrus.Logger
}

// Open ensures root/wal/ and root/sstable/ exist, restores any WAL left
// from a prior session into a fresh MemTable, and loads the active
// SSTable list from the Manifest (rebuilding it from a directory scan if
// the Manifest is absent — first run, or a data directory that predates
// the Manifest).
func Open(opts Options) (*DB, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.MemtableSize <= 0 {
		opts.MemtableSize = DefaultOptions().MemtableSize
	}

	walDir := filepath.Join(opts.Dir, "wal")
	sstDir := filepath.Join(opts.Dir, "sstable")
	for _, dir := range []string{opts.Dir, walDir, sstDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	log := logrus.New()
	log.SetLevel(opts.LogLevel)

	d := &DB{
		opts:      opts,
		root:      opts.Dir,
		walDir:    walDir,
		sstDir:    sstDir,
		sessionID: uuid.NewString(),
		log:       log,
	}
	d.logger().Info("db: opening")

	mem, w, err := d.restoreWAL()
	if err != nil {
		return nil, err
	}
	d.mem = mem
	d.w = w

	sstables, err := d.loadSSTables()
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	d.sstables = sstables

	d.logger().WithField("sstables", len(d.sstables)).Info("db: ready")
	return d, nil
}

func (d *DB) logger() *logrus.Entry {
	return d.log.WithField("session", d.sessionID)
}

// restoreWAL looks for a WAL file left from a prior session. If found, it
// replays that file into a fresh MemTable and continues appending to the
// very same file — the spec's "at most one active [WAL]; may exist across
// restarts" invariant means the restored log is the ongoing log, not a
// value to discard and recreate. If none is found, it opens a brand new
// WAL file and returns an empty MemTable.
func (d *DB) restoreWAL() (*memtable.MemTable, *wal.WAL, error) {
	ents, err := os.ReadDir(d.walDir)
	if err != nil {
		return nil, nil, err
	}
	var existing []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		existing = append(existing, filepath.Join(d.walDir, e.Name()))
	}
	if len(existing) == 0 {
		w, err := wal.Open(d.walDir, d.opts.SyncOnWrite)
		if err != nil {
			return nil, nil, err
		}
		return memtable.New(), w, nil
	}

	sort.Strings(existing)
	active := existing[len(existing)-1]
	if len(existing) > 1 {
		d.logger().WithField("count", len(existing)).Warn("db: multiple wal files found at open, using the newest")
	}

	mem, err := wal.ReplayInto(active)
	if err != nil {
		return nil, nil, err
	}
	d.logger().WithFields(logrus.Fields{"wal": active, "keys": mem.Len()}).Info("db: restored wal")

	w, err := wal.OpenExisting(active, d.opts.SyncOnWrite)
	if err != nil {
		return nil, nil, err
	}
	return mem, w, nil
}

// loadSSTables returns the active SSTable list (oldest first) from the
// Manifest, falling back to a lexicographic directory scan — and
// bootstrapping the Manifest from that scan — when no Manifest exists yet.
func (d *DB) loadSSTables() ([]string, error) {
	fromManifest, err := manifest.Load(d.root)
	if err != nil {
		return nil, err
	}
	if len(fromManifest) > 0 {
		return fromManifest, nil
	}

	ents, err := os.ReadDir(d.sstDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ss") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(d.sstDir, n)
	}
	if len(paths) > 0 {
		if err := manifest.Rewrite(d.root, paths); err != nil {
			return nil, err
		}
		d.logger().WithField("sstables", len(paths)).Info("db: bootstrapped manifest from directory scan")
	}
	return paths, nil
}

// Get looks up key: first the MemTable (a Tombstone there short-circuits
// the lookup without consulting any SSTable — otherwise a delete followed
// by a lookup could surface a stale Value from an older file), then every
// SSTable from newest to oldest, returning on the first hit.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false, ErrClosed
	}

	if r, found := d.mem.Lookup(key); found {
		if r.IsTombstone() {
			return nil, false, nil
		}
		return r.Value, true, nil
	}

	for i := len(d.sstables) - 1; i >= 0; i-- {
		path := d.sstables[i]
		value, tombstone, found, err := sstable.GetDisk(path, key)
		if err != nil {
			d.logger().WithFields(logrus.Fields{"sstable": path, "err": err}).Error("db: sstable lookup failed")
			return nil, false, err
		}
		if !found {
			continue
		}
		if tombstone {
			return nil, false, nil
		}
		return value, true, nil
	}
	return nil, false, nil
}

// Set appends a Value entry to the WAL, then applies it to the MemTable.
// If the MemTable reaches opts.MemtableSize entries, it is flushed to a
// new level-0 SSTable.
func (d *DB) Set(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.w.Set(key, value); err != nil {
		return err
	}
	d.mem.Set(key, value)
	return d.maybeFlushLocked()
}

// Delete appends a Tombstone entry to the WAL, then applies it to the
// MemTable, symmetric to Set.
func (d *DB) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.w.Delete(key); err != nil {
		return err
	}
	d.mem.Delete(key)
	return d.maybeFlushLocked()
}

func (d *DB) maybeFlushLocked() error {
	if d.mem.Len() < d.opts.MemtableSize {
		return nil
	}

	tbl, err := sstable.Build(d.mem.Records())
	if err != nil {
		return err
	}
	path, err := tbl.Write(d.sstDir, time.Now().UnixMicro(), 0)
	if err != nil {
		return err
	}
	if err := manifest.Append(d.root, path); err != nil {
		return err
	}
	d.sstables = append(d.sstables, path)
	d.logger().WithFields(logrus.Fields{"sstable": path, "keys": d.mem.Len()}).Info("db: flushed memtable")

	oldWALPath := d.w.Path()
	if err := d.w.Close(); err != nil {
		return err
	}
	newW, err := wal.Open(d.walDir, d.opts.SyncOnWrite)
	if err != nil {
		return err
	}
	d.w = newW
	d.mem = memtable.New()
	if err := os.Remove(oldWALPath); err != nil {
		d.logger().WithFields(logrus.Fields{"wal": oldWALPath, "err": err}).Warn("db: could not remove rotated wal")
	}
	return nil
}

// Compact merges every SSTable whose filename encodes level into a single
// new SSTable at level+1. It rewrites the Manifest to reflect the swap
// before deleting the compacted input files, so a crash between the two
// leaves the Manifest pointing only at files guaranteed to exist.
func (d *DB) Compact(level int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	var inputs []string
	var rest []string
	for _, path := range d.sstables {
		lvl, ok := levelOf(path)
		if ok && lvl == level {
			inputs = append(inputs, path)
		} else {
			rest = append(rest, path)
		}
	}
	if len(inputs) == 0 {
		return nil
	}

	newPath, err := compaction.Run(d.sstDir, inputs, level+1)
	if err != nil {
		return err
	}

	newList := append(append([]string{}, rest...), newPath)
	if err := manifest.Rewrite(d.root, newList); err != nil {
		return err
	}
	for _, in := range inputs {
		if err := os.Remove(in); err != nil {
			d.logger().WithFields(logrus.Fields{"sstable": in, "err": err}).Warn("db: could not remove compacted input")
		}
	}
	d.sstables = newList
	d.logger().WithFields(logrus.Fields{"level": level, "inputs": len(inputs), "output": newPath}).Info("db: compacted")
	return nil
}

// Close flushes and closes the active WAL. The MemTable is not flushed to
// an SSTable: its entries stay in the WAL, and the next Open replays them.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

// levelOf extracts the level encoded in an SSTable's filename
// (<microseconds>_<level>.ss).
func levelOf(path string) (int, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".ss")
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return 0, false
	}
	lvl, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, false
	}
	return lvl, true
}
