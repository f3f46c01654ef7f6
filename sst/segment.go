package sst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// A segment file is laid out as:
//
//	data block 0 .. data block N (each compressed with the segment's codec)
//	meta block: compression | entries | deletions | first key | last key | block stats | bloom filter
//	footer: meta offset | meta length | meta hash | version | footer hash | magic
//
// Every data block, the meta block and the footer carry their own xxhash, so a single changed byte anywhere
// in the file is detected by VerifyChecksums.

const (
	SegmentVersion = 1

	segmentMagic uint32 = 0x53534b31 // "SSK1"
	footerLength        = 8 + 8 + 8 + 1 + 8 + 4
	// bytes of the footer covered by the footer hash
	footerHashedLength = 8 + 8 + 8 + 1

	MaxKeyLength = 1<<16 - 1

	// a row is at least its kind byte and a one byte key length
	minRowLength = 2
)

const (
	RowKindDelete byte = 0
	RowKindSet    byte = 1
)

// KVPair is one row of a segment. Deleted rows are tombstones and carry no value.
type KVPair struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Compare orders keys. It must be a strict weak ordering consistent for the lifetime of a file.
type Compare func(a, b []byte) int

// DefaultCompare is lexicographic byte order.
var DefaultCompare Compare = bytes.Compare

var (
	ErrCorrupted = errors.New("corrupted segment")

	ErrUnknownSegmentVersion   = fmt.Errorf("%w: unknown segment version", ErrCorrupted)
	ErrBadMagic                = fmt.Errorf("%w: bad magic", ErrCorrupted)
	ErrMismatchedFooterHash    = fmt.Errorf("%w: mismatched footer hash", ErrCorrupted)
	ErrMismatchedMetaBlockHash = fmt.Errorf("%w: mismatched meta block hash", ErrCorrupted)
	ErrMismatchedBlockHash     = fmt.Errorf("%w: mismatched block hash", ErrCorrupted)
	ErrMalformedBlock          = fmt.Errorf("%w: malformed block", ErrCorrupted)

	ErrUnexpectedBytesWritten = errors.New("unexpected number of bytes")
	ErrInvalidKey             = errors.New("invalid key")
	ErrOutOfOrder             = errors.New("keys must be added in strictly increasing order")
)

type footer struct {
	metaOffset uint64
	metaLength uint64
	metaHash   uint64
	version    uint8
}

func appendRow(buf []byte, kind byte, key, val []byte) []byte {
	buf = append(buf, kind)
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	if kind == RowKindSet {
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		buf = append(buf, val...)
	}
	return buf
}

// parseRows decodes a decompressed data block. Keys and values alias the block.
func parseRows(block []byte, expected uint64) ([]KVPair, error) {
	rows := make([]KVPair, 0, min(expected, uint64(len(block))/minRowLength))
	for len(block) > 0 {
		kind := block[0]
		block = block[1:]
		if kind != RowKindSet && kind != RowKindDelete {
			return nil, fmt.Errorf("%w: unknown row kind %d", ErrMalformedBlock, kind)
		}
		key, rest, err := readUvarintBytes(block)
		if err != nil {
			return nil, err
		}
		block = rest
		pair := KVPair{Key: key, Deleted: kind == RowKindDelete}
		if kind == RowKindSet {
			pair.Value, block, err = readUvarintBytes(block)
			if err != nil {
				return nil, err
			}
		}
		rows = append(rows, pair)
	}
	if uint64(len(rows)) != expected {
		return nil, fmt.Errorf("%w: expected=%d rows got=%d", ErrMalformedBlock, expected, len(rows))
	}
	return rows, nil
}

func readUvarintBytes(b []byte) ([]byte, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || uint64(len(b)-n) < l {
		return nil, nil, fmt.Errorf("%w: bad length prefix", ErrMalformedBlock)
	}
	b = b[n:]
	return b[:l:l], b[l:], nil
}

func readBytes(reader io.Reader, bytes int) ([]byte, error) {
	buf := make([]byte, bytes)
	n, err := io.ReadFull(reader, buf)
	if err != nil {
		return nil, fmt.Errorf("error in reader.Read: %w", err)
	}
	if n != bytes {
		return nil, fmt.Errorf("%w: expected=%d read=%d", ErrUnexpectedBytesWritten, bytes, n)
	}

	return buf, nil
}

func readUint16(r io.Reader) (uint16, error) {
	b, err := readBytes(r, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func readUint64(r io.Reader) (uint64, error) {
	b, err := readBytes(r, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
