// Package compaction merges all SSTables at one level into a single
// SSTable at the next level, collapsing duplicate keys and propagating
// tombstones.
package compaction

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cairnkv/cairn/memtable"
	"github.com/cairnkv/cairn/sstable"
)

// Merge reads every record out of inputs — which callers must supply
// ordered oldest-file first, newest-file last — and applies them in that
// order to a fresh MemTable via Set/Delete. Because MemTable insertion
// always replaces the prior Record for a key, applying oldest-to-newest
// makes the newest file's Record for any given key the one that survives:
// this realizes the "newest wins" rule using nothing more than the
// MemTable's ordinary overwrite semantics — no Record here carries a
// sequence number distinct from its file's recency.
func Merge(inputs []string) (*memtable.MemTable, error) {
	m := memtable.New()
	for _, path := range inputs {
		recs, err := sstable.Records(path)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.IsTombstone() {
				m.Delete(r.Key)
			} else {
				m.Set(r.Key, r.Value)
			}
		}
	}
	return m, nil
}

// Run merges inputs (oldest first) into a single new SSTable at outLevel,
// written under sstDir, and returns its path. Tombstones remain in the
// output so they continue to shadow Values at still-older levels; Run
// never drops tombstones, whatever outLevel is.
func Run(sstDir string, inputs []string, outLevel int) (string, error) {
	logrus.WithFields(logrus.Fields{"inputs": len(inputs), "outLevel": outLevel}).Info("compaction: merging sstables")
	m, err := Merge(inputs)
	if err != nil {
		return "", err
	}
	tbl, err := sstable.Build(m.Records())
	if err != nil {
		return "", err
	}
	path, err := tbl.Write(sstDir, time.Now().UnixMicro(), outLevel)
	if err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"path": path, "keys": m.Len()}).Info("compaction: wrote merged sstable")
	return path, nil
}
