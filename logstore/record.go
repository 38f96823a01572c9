package logstore

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
)

const (
	kindValue = iota
	kindTombstone
	kindCommit
)

const (
	MaxKeyLen = math.MaxUint32
	MaxValLen = math.MaxUint32
)

// ErrInsufficientData is returned when the given data is not enough to be
// parsed into a Record
var ErrInsufficientData = errors.New("insufficient bytes to parse a record")

// ErrCorruptData is returned when the crc checksum is not matching the provided serialized data
var ErrCorruptData = errors.New("crc checksum doesnt match the provided record data")

// NewRecord returns a record storing value under key.
func NewRecord(key string, value []byte) *Record {
	return &Record{
		kind:  kindValue,
		key:   key,
		value: value,
	}
}

// NewTombstone returns a record deleting key.
func NewTombstone(key string) *Record {
	return &Record{
		kind:  kindTombstone,
		key:   key,
		value: NoValue,
	}
}

// newCommit returns the marker that closes a batch. Records after the last marker
// are ignored when the log is read.
func newCommit() *Record {
	return &Record{
		kind:  kindCommit,
		value: NoValue,
	}
}

// Record represents a database record
//
// A Record will be serialized to a sequence of bytes in the following format
//
//	[checksum]: 4 bytes
//	[type]:     1 byte
//	[keyLen]:   4 bytes
//	[valLen]:   4 bytes
//	[key]:      keyLen bytes
//	[value]:    valLen bytes
type Record struct {
	kind  byte
	key   string
	value []byte
}

const (
	checksumSize = 4
	kindSize     = 1
	keyLenSize   = 4
	valLenSize   = 4
	headerLength = checksumSize + kindSize + keyLenSize + valLenSize

	kindOffset = checksumSize
)

var NoValue = noValue{}

type noValue = []byte

func (r *Record) Key() string {
	return r.key
}

func (r *Record) Value() []byte {
	return r.value
}

func (r *Record) IsTombstone() bool {
	return r.kind == kindTombstone
}

func (r *Record) isCommit() bool {
	return r.kind == kindCommit
}

// Size returns the serialized length of r.
func (r *Record) Size() int {
	return headerLength + len(r.key) + len(r.value)
}

// Serialize serializes a record into the specified binary format
func (r *Record) Serialize() []byte {
	buf := make([]byte, checksumSize, r.Size())
	buf = append(buf, r.kind)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.key)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.value)))
	buf = append(buf, r.key...)
	buf = append(buf, r.value...)

	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(buf[kindOffset:]))
	return buf
}

// Deserialize parses the record at the start of data.
func Deserialize(data []byte) (*Record, error) {
	if len(data) < headerLength {
		return nil, ErrInsufficientData
	}

	checksum := binary.BigEndian.Uint32(data)
	kind := data[kindOffset]
	keyLength := uint64(binary.BigEndian.Uint32(data[kindOffset+kindSize:]))
	valLength := uint64(binary.BigEndian.Uint32(data[kindOffset+kindSize+keyLenSize:]))

	end := uint64(headerLength) + keyLength + valLength
	if uint64(len(data)) < end {
		return nil, ErrInsufficientData
	}

	if crc32.ChecksumIEEE(data[kindOffset:end]) != checksum {
		return nil, ErrCorruptData
	}

	key := data[headerLength : headerLength+keyLength]
	val := make([]byte, valLength)
	copy(val, data[headerLength+keyLength:end])

	return &Record{
		kind:  kind,
		key:   string(key),
		value: val,
	}, nil
}

func (r *Record) Write(w io.Writer) (int, error) {
	return w.Write(r.Serialize())
}
