// Package memtable implements the in-memory, key-ordered write buffer that
// sits in front of the on-disk SSTables.
package memtable

import (
	"bytes"
	"sort"

	"github.com/cairnkv/cairn/record"
)

// MemTable is an ordered mapping from key to its latest Record. Insertion of
// either a Value or a Tombstone for an existing key replaces the prior
// Record: at most one Record is ever held per key.
type MemTable struct {
	byKey map[string]record.Record
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{byKey: make(map[string]record.Record)}
}

// Set inserts a Value record for key, replacing any prior Record for key.
func (m *MemTable) Set(key, value []byte) {
	m.byKey[string(key)] = record.NewValue(key, value)
}

// Delete inserts a Tombstone record for key, replacing any prior Record for
// key.
func (m *MemTable) Delete(key []byte) {
	m.byKey[string(key)] = record.NewTombstone(key)
}

// Get returns the value mapped to key. ok is false both when key is absent
// and when the mapping is a Tombstone — callers that need to distinguish
// "absent" from "deleted" should use Lookup.
func (m *MemTable) Get(key []byte) (value []byte, ok bool) {
	r, found := m.byKey[string(key)]
	if !found || r.IsTombstone() {
		return nil, false
	}
	return r.Value, true
}

// Lookup returns the raw Record for key, if any is held. It is the caller's
// responsibility to check IsTombstone — this is how DB.Get short-circuits a
// miss caused by a tombstone without falling through to the SSTables.
func (m *MemTable) Lookup(key []byte) (record.Record, bool) {
	r, found := m.byKey[string(key)]
	return r, found
}

// Len returns the number of keys currently held.
func (m *MemTable) Len() int {
	return len(m.byKey)
}

// Records returns the held Records in ascending key order, suitable for
// flushing to an SSTable.
func (m *MemTable) Records() []record.Record {
	out := make([]record.Record, 0, len(m.byKey))
	for _, r := range m.byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

// Apply inserts r as given, replacing any prior Record for r.Key, so a later
// Apply always wins. Unlike Set and Delete it keeps r's own Timestamp. WAL
// replay and compaction's merge do not use it: they go through Set and
// Delete.
func (m *MemTable) Apply(r record.Record) {
	m.byKey[string(r.Key)] = r
}
