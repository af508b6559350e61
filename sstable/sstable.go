// Package sstable implements the on-disk sorted-string table: fixed-size
// padded data blocks, a per-file index block, and a fixed footer.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cairnkv/cairn/record"
)

// BlockSize is the fixed size, in bytes, of every data block. A key_size of
// 0 encountered while decoding a block marks the end of real records — the
// rest of the block is zero padding.
const BlockSize = 32000

const usizeWidth = 8 // fixed word width for on-disk offsets/sizes, per spec §6

// ErrCorrupt signals a structurally invalid SSTable: a short read, a bad
// footer, or a block/record that failed to decode.
var ErrCorrupt = errors.New("sstable: corrupt")

// FileName returns the canonical SSTable file name for the given creation
// time (microseconds since epoch) and level.
func FileName(microseconds int64, level int) string {
	return fmt.Sprintf("%d_%d.ss", microseconds, level)
}

// indexEntry maps one data block's minimum key to its byte offset.
type indexEntry struct {
	minKey     []byte
	offset     uint64
	blockIndex uint64
}

// Table is an in-memory SSTable built from a key-sorted sequence of
// Records via Build, ready to be serialized with Write.
type Table struct {
	blocks [][]byte // each exactly BlockSize bytes, zero-padded
	index  []indexEntry
}

// Build packs a key-sorted sequence of Records into fixed-size data blocks
// plus an index.
//
// Packing rule: for each next record of encoded size s, if the current
// block's running offset + s would exceed BlockSize, the current block is
// closed (its min key and byte offset recorded in the index) and a new
// block is started; otherwise the record is appended to the current block.
// records must already be in ascending key order — MemTable.Records and
// the compaction merge both guarantee this.
func Build(records []record.Record) (*Table, error) {
	t := &Table{}
	var block bytes.Buffer
	var blockMinKey []byte
	offset := 0
	blockIndex := uint64(0)

	closeBlock := func() {
		padded := make([]byte, BlockSize)
		copy(padded, block.Bytes())
		t.blocks = append(t.blocks, padded)
		t.index = append(t.index, indexEntry{
			minKey:     blockMinKey,
			offset:     blockIndex * BlockSize,
			blockIndex: blockIndex,
		})
		blockIndex++
		block.Reset()
		blockMinKey = nil
		offset = 0
	}

	for _, r := range records {
		s := r.Size()
		if s > BlockSize {
			return nil, fmt.Errorf("sstable: record for key %q (%d bytes) exceeds block size %d", r.Key, s, BlockSize)
		}
		if offset+s > BlockSize {
			closeBlock()
		}
		if blockMinKey == nil {
			blockMinKey = append([]byte(nil), r.Key...)
		}
		block.Write(r.Encode(nil))
		offset += s
	}
	if offset > 0 {
		closeBlock()
	}
	return t, nil
}

// Bytes serializes t to the on-disk layout: data blocks, then the index
// block, then the fixed footer.
func (t *Table) Bytes() []byte {
	var out bytes.Buffer
	for _, b := range t.blocks {
		out.Write(b)
	}
	indexOffset := uint64(len(t.blocks)) * BlockSize

	var index bytes.Buffer
	for _, e := range t.index {
		var klen [usizeWidth]byte
		binary.LittleEndian.PutUint64(klen[:], uint64(len(e.minKey)))
		index.Write(klen[:])
		index.Write(e.minKey)
		var off [usizeWidth]byte
		binary.LittleEndian.PutUint64(off[:], e.offset)
		index.Write(off[:])
		var bidx [usizeWidth]byte
		binary.LittleEndian.PutUint64(bidx[:], e.blockIndex)
		index.Write(bidx[:])
	}
	out.Write(index.Bytes())

	var footer [2 * usizeWidth]byte
	binary.LittleEndian.PutUint64(footer[0:usizeWidth], indexOffset)
	binary.LittleEndian.PutUint64(footer[usizeWidth:], uint64(index.Len()))
	out.Write(footer[:])

	return out.Bytes()
}

// Write serializes t to dir/<microseconds>_<level>.ss through a buffered
// writer and returns the final path.
func (t *Table) Write(dir string, microseconds int64, level int) (string, error) {
	path := filepath.Join(dir, FileName(microseconds, level))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.Write(t.Bytes()); err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", err
	}
	return path, f.Sync()
}

// footer is the fixed-size trailer of an SSTable file.
type footer struct {
	indexOffset uint64
	indexSize   uint64
}

func readFooter(f *os.File) (footer, error) {
	st, err := f.Stat()
	if err != nil {
		return footer{}, err
	}
	const footerSize = 2 * usizeWidth
	if st.Size() < footerSize {
		return footer{}, ErrCorrupt
	}
	buf := make([]byte, footerSize)
	if _, err := f.ReadAt(buf, st.Size()-footerSize); err != nil {
		return footer{}, err
	}
	ft := footer{
		indexOffset: binary.LittleEndian.Uint64(buf[0:usizeWidth]),
		indexSize:   binary.LittleEndian.Uint64(buf[usizeWidth:]),
	}
	if ft.indexOffset > uint64(st.Size()) {
		return footer{}, ErrCorrupt
	}
	return ft, nil
}

func readIndex(f *os.File, ft footer) ([]indexEntry, error) {
	buf := make([]byte, ft.indexSize)
	if _, err := f.ReadAt(buf, int64(ft.indexOffset)); err != nil {
		return nil, err
	}
	var entries []indexEntry
	off := 0
	for off < len(buf) {
		if off+usizeWidth > len(buf) {
			return nil, ErrCorrupt
		}
		klen := binary.LittleEndian.Uint64(buf[off : off+usizeWidth])
		off += usizeWidth
		if uint64(len(buf)-off) < klen {
			return nil, ErrCorrupt
		}
		key := make([]byte, klen)
		copy(key, buf[off:off+int(klen)])
		off += int(klen)
		if off+2*usizeWidth > len(buf) {
			return nil, ErrCorrupt
		}
		blockOffset := binary.LittleEndian.Uint64(buf[off : off+usizeWidth])
		off += usizeWidth
		blockIndex := binary.LittleEndian.Uint64(buf[off : off+usizeWidth])
		off += usizeWidth
		entries = append(entries, indexEntry{minKey: key, offset: blockOffset, blockIndex: blockIndex})
	}
	return entries, nil
}

// findBlock returns the index of the entry with the greatest min_key <= key.
// If key is smaller than every min_key, it clamps to the first block (index
// 0) rather than underflowing — the lookup will miss there, but must not
// panic.
func findBlock(entries []indexEntry, key []byte) int {
	if len(entries) == 0 {
		return -1
	}
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].minKey, key) > 0
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

func decodeBlock(buf []byte) ([]record.Record, error) {
	var recs []record.Record
	offset := 0
	for offset+9 <= len(buf) {
		keySize := binary.LittleEndian.Uint64(buf[offset+1 : offset+9])
		if keySize == 0 {
			break // zero padding: end of real records in this block
		}
		rec, n, ok := record.Decode(buf[offset:])
		if !ok {
			return nil, ErrCorrupt
		}
		recs = append(recs, rec)
		offset += n
	}
	return recs, nil
}

func findInBlock(recs []record.Record, key []byte) (record.Record, bool) {
	i := sort.Search(len(recs), func(i int) bool {
		return bytes.Compare(recs[i].Key, key) >= 0
	})
	if i < len(recs) && bytes.Equal(recs[i].Key, key) {
		return recs[i], true
	}
	return record.Record{}, false
}

// GetDisk performs a point lookup for key in the SSTable file at path: one
// seek+read for the footer, one seek+read for the index, a binary search to
// find the containing block, one seek+read for that block, and a binary
// search within it.
//
// found reports whether key is present in this file at all (as either a
// Value or a Tombstone); tombstone reports whether the hit was a deletion
// marker. Callers that scan multiple SSTables newest-first stop at the
// first found=true, returning the value unless tombstone is set.
func GetDisk(path string, key []byte) (value []byte, tombstone bool, found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, false, err
	}
	defer func() { _ = f.Close() }()

	ft, err := readFooter(f)
	if err != nil {
		return nil, false, false, err
	}
	index, err := readIndex(f, ft)
	if err != nil {
		return nil, false, false, err
	}
	bi := findBlock(index, key)
	if bi < 0 {
		return nil, false, false, nil
	}
	blockBuf := make([]byte, BlockSize)
	if _, err := f.ReadAt(blockBuf, int64(index[bi].offset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, false, err
	}
	recs, err := decodeBlock(blockBuf)
	if err != nil {
		return nil, false, false, err
	}
	rec, ok := findInBlock(recs, key)
	if !ok {
		return nil, false, false, nil
	}
	if rec.IsTombstone() {
		return nil, true, true, nil
	}
	return rec.Value, false, true, nil
}

// Records returns every Record held in the SSTable file at path, in
// ascending key order, by scanning its data blocks sequentially. Used by
// compaction's merge; it is a lazy, forward-only, non-restartable sequence
// conceptually, implemented here as a single decode pass since a whole
// SSTable already fits comfortably in memory for this engine's scale.
func Records(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	ft, err := readFooter(f)
	if err != nil {
		return nil, err
	}
	numBlocks := ft.indexOffset / BlockSize
	var all []record.Record
	blockBuf := make([]byte, BlockSize)
	for i := uint64(0); i < numBlocks; i++ {
		if _, err := f.ReadAt(blockBuf, int64(i*BlockSize)); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		recs, err := decodeBlock(blockBuf)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}
