package db

import "github.com/sirupsen/logrus"

// Options configures an open DB.
type Options struct {
	// Dir is the root directory. wal/ and sstable/ are created beneath it.
	Dir string
	// SyncOnWrite fsyncs the WAL after every Set/Delete. Spec Open Question
	// (a): left as a caller-tunable knob rather than resolved one way,
	// default true (favor durability, matching the teacher).
	SyncOnWrite bool
	// MemtableSize is the number of entries the MemTable may hold before a
	// flush is triggered, per spec §6's MemtableSize constant.
	MemtableSize int
	// LogLevel controls verbosity of the structured log DB emits. Replaces
	// the teacher's Options.Verbose boolean now that logging goes through
	// logrus instead of raw fmt.Fprintf debug prints.
	LogLevel logrus.Level
}

// DefaultOptions returns the spec's documented defaults: MemtableSize of
// 128,000 entries, fsync on every write, and info-level logging.
func DefaultOptions() Options {
	return Options{
		Dir:          "",
		SyncOnWrite:  true,
		MemtableSize: 128_000,
		LogLevel:     logrus.InfoLevel,
	}
}
