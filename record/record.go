// Package record implements the self-delimiting on-disk encoding shared by
// the WAL and SSTable formats: a tagged Value/Tombstone entry.
package record

import (
	"encoding/binary"
	"errors"
	"time"
)

// Tag distinguishes a live Value from a deletion marker.
type Tag uint8

const (
	TagValue     Tag = 0
	TagTombstone Tag = 1
)

const (
	tagSize       = 1
	keySizeWidth  = 8
	timestampSize = 16
	valSizeWidth  = 8
)

// ErrCorrupt names the failure of a byte stream to decode to a well-formed
// Record: a short read at any field, or a tag byte outside {TagValue,
// TagTombstone}. Decode itself does not return it; it reports that failure
// with ok=false.
var ErrCorrupt = errors.New("record: corrupt")

// Record is a tagged entry: either a Value carrying a key and a value, or a
// Tombstone carrying only a key. Timestamp is nanoseconds since the Unix
// epoch, captured at construction time. It is persisted for future use and
// validation but never consulted to break ties between records for the same
// key — position and file recency decide that.
//
// On the wire the timestamp occupies 16 bytes (a u128, per the reference
// format) but nanosecond Unix time fits comfortably in 64 bits until the
// year 2554, so Record only keeps the low word; Encode always writes zero
// for the high 8 bytes.
type Record struct {
	Tag       Tag
	Timestamp uint64
	Key       []byte
	Value     []byte
}

// NewValue builds a Value record stamped with the current time.
func NewValue(key, value []byte) Record {
	return Record{Tag: TagValue, Timestamp: uint64(time.Now().UnixNano()), Key: key, Value: value}
}

// NewTombstone builds a Tombstone record stamped with the current time.
func NewTombstone(key []byte) Record {
	return Record{Tag: TagTombstone, Timestamp: uint64(time.Now().UnixNano()), Key: key}
}

// IsTombstone reports whether r is a deletion marker.
func (r Record) IsTombstone() bool { return r.Tag == TagTombstone }

// Size returns the exact number of bytes Encode will produce.
func (r Record) Size() int {
	n := tagSize + keySizeWidth + timestampSize + len(r.Key)
	if r.Tag == TagValue {
		n += valSizeWidth + len(r.Value)
	}
	return n
}

// Encode appends the little-endian byte encoding of r to dst and returns the
// result.
//
//	tag(1) | key_size(8) | timestamp(16) | key | [value_size(8) | value]
func (r Record) Encode(dst []byte) []byte {
	var hdr [1 + keySizeWidth + timestampSize]byte
	hdr[0] = byte(r.Tag)
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(len(r.Key)))
	binary.LittleEndian.PutUint64(hdr[9:17], r.Timestamp)
	binary.LittleEndian.PutUint64(hdr[17:25], 0) // high word of the u128 timestamp
	dst = append(dst, hdr[:]...)
	dst = append(dst, r.Key...)
	if r.Tag == TagValue {
		var vlen [valSizeWidth]byte
		binary.LittleEndian.PutUint64(vlen[:], uint64(len(r.Value)))
		dst = append(dst, vlen[:]...)
		dst = append(dst, r.Value...)
	}
	return dst
}

// Decode reads one Record from the front of b and returns it along with the
// number of bytes consumed. It fails (ok=false) on a short read at any
// field or an unrecognized tag byte; partial reads are never retried by the
// caller.
func Decode(b []byte) (rec Record, n int, ok bool) {
	const hdrSize = tagSize + keySizeWidth + timestampSize
	if len(b) < hdrSize {
		return Record{}, 0, false
	}
	tag := Tag(b[0])
	if tag != TagValue && tag != TagTombstone {
		return Record{}, 0, false
	}
	keySize := binary.LittleEndian.Uint64(b[1:9])
	ts := binary.LittleEndian.Uint64(b[9:17])
	// b[17:25] is the u128 timestamp's high word; always zero on write, ignored on read.
	off := hdrSize
	if uint64(len(b)-off) < keySize {
		return Record{}, 0, false
	}
	key := make([]byte, keySize)
	copy(key, b[off:off+int(keySize)])
	off += int(keySize)

	if tag == TagTombstone {
		return Record{Tag: tag, Timestamp: ts, Key: key}, off, true
	}

	if len(b)-off < valSizeWidth {
		return Record{}, 0, false
	}
	valSize := binary.LittleEndian.Uint64(b[off : off+valSizeWidth])
	off += valSizeWidth
	if uint64(len(b)-off) < valSize {
		return Record{}, 0, false
	}
	val := make([]byte, valSize)
	copy(val, b[off:off+int(valSize)])
	off += int(valSize)

	return Record{Tag: tag, Timestamp: ts, Key: key, Value: val}, off, true
}
