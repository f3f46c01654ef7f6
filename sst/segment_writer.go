package sst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom"
	"github.com/cespare/xxhash/v2"
)

type SegmentWriter struct {
	w          io.Writer
	compressor *blockCompressor
	compare    Compare

	currentBlockStartKey []byte
	currentBlockRows     uint64
	rawBlockBuffer       []byte
	// bytes handed to w so far
	offset     uint64
	blockIndex []BlockStat

	firstKey  []byte
	lastKey   []byte
	entries   uint64
	deletions uint64
	keyHashes []uint64

	// options
	dataBlockThresholdBytes int
	bloomFalsePositiveRate  float64

	closed bool
}

// NewSegmentWriter creates a new segment writer that appends the segment to w.
//
// A segment writer can never be reused.
func NewSegmentWriter(w io.Writer, opts SegmentWriterOptions) (*SegmentWriter, error) {
	compressor, err := newBlockCompressor(opts.Compression, opts.ZSTDCompressionLevel)
	if err != nil {
		return nil, err
	}
	sw := &SegmentWriter{
		w:                       w,
		compressor:              compressor,
		compare:                 opts.Compare,
		dataBlockThresholdBytes: opts.DataBlockThresholdBytes,
		bloomFalsePositiveRate:  opts.BloomFalsePositiveRate,
	}
	if sw.compare == nil {
		sw.compare = DefaultCompare
	}
	if sw.dataBlockThresholdBytes <= 0 {
		sw.dataBlockThresholdBytes = DefaultSegmentWriterOptions().DataBlockThresholdBytes
	}

	return sw, nil
}

var ErrWriterClosed = errors.New("segment writer already closed")

// WriteRow writes a given row to the segment. Cannot write after the writer is closed.
//
// Keys must be strictly increasing, ErrOutOfOrder is returned otherwise.
func (s *SegmentWriter) WriteRow(key, val []byte) error {
	return s.add(RowKindSet, key, val)
}

// DeleteRow writes a tombstone for key, with the same ordering rules as WriteRow.
func (s *SegmentWriter) DeleteRow(key []byte) error {
	return s.add(RowKindDelete, key, nil)
}

func (s *SegmentWriter) add(kind byte, key, val []byte) error {
	if s.closed {
		return ErrWriterClosed
	}
	if len(key) == 0 || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	if s.lastKey != nil && s.compare(key, s.lastKey) <= 0 {
		return fmt.Errorf("%w: %q is not after %q", ErrOutOfOrder, key, s.lastKey)
	}

	if s.currentBlockRows == 0 {
		s.currentBlockStartKey = bytes.Clone(key)
	}
	if s.firstKey == nil {
		s.firstKey = bytes.Clone(key)
	}
	s.lastKey = append(s.lastKey[:0], key...)

	s.rawBlockBuffer = appendRow(s.rawBlockBuffer, kind, key, val)
	s.currentBlockRows++
	s.entries++
	if kind == RowKindDelete {
		s.deletions++
	}
	if s.bloomFalsePositiveRate > 0 {
		s.keyHashes = append(s.keyHashes, xxhash.Sum64(key))
	}

	if len(s.rawBlockBuffer) < s.dataBlockThresholdBytes {
		return nil
	}
	return s.flushBlock()
}

func (s *SegmentWriter) flushBlock() error {
	if s.currentBlockRows == 0 {
		return nil
	}
	blockBytes := s.compressor.compress(s.rawBlockBuffer)
	if err := s.write(blockBytes); err != nil {
		return fmt.Errorf("error writing data block: %w", err)
	}
	s.blockIndex = append(s.blockIndex, BlockStat{
		FirstKey:     s.currentBlockStartKey,
		Offset:       s.offset,
		BlockSize:    uint64(len(blockBytes)),
		OriginalSize: uint64(len(s.rawBlockBuffer)),
		Rows:         s.currentBlockRows,
		Hash:         xxhash.Sum64(blockBytes),
	})
	s.offset += uint64(len(blockBytes))

	s.rawBlockBuffer = s.rawBlockBuffer[:0]
	s.currentBlockRows = 0
	s.currentBlockStartKey = nil
	return nil
}

func (s *SegmentWriter) write(b []byte) error {
	n, err := s.w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: expected=%d wrote=%d", ErrUnexpectedBytesWritten, len(b), n)
	}
	return nil
}

// Size is the number of bytes written out so far. Rows still buffered in the open data block are not counted.
func (s *SegmentWriter) Size() uint64 {
	return s.offset
}

// NumEntries counts every row written, tombstones included.
func (s *SegmentWriter) NumEntries() uint64 {
	return s.entries
}

func (s *SegmentWriter) FirstKey() []byte {
	return s.firstKey
}

func (s *SegmentWriter) LastKey() []byte {
	return s.lastKey
}

// Close finishes the segment by flushing the open block and writing the meta block and footer.
// It does not close the underlying writer.
//
// Returns the total segment length and the meta block bytes.
func (s *SegmentWriter) Close() (uint64, []byte, error) {
	if s.closed {
		return 0, nil, ErrWriterClosed
	}
	s.closed = true
	defer s.compressor.close()

	if err := s.flushBlock(); err != nil {
		return 0, nil, err
	}

	metaBytes, err := s.metaBytes()
	if err != nil {
		return 0, nil, err
	}
	metaOffset := s.offset
	if err := s.write(metaBytes); err != nil {
		return 0, nil, fmt.Errorf("error writing meta block: %w", err)
	}
	s.offset += uint64(len(metaBytes))

	ft := encodeFooter(footer{
		metaOffset: metaOffset,
		metaLength: uint64(len(metaBytes)),
		metaHash:   xxhash.Sum64(metaBytes),
		version:    SegmentVersion,
	})
	if err := s.write(ft); err != nil {
		return 0, nil, fmt.Errorf("error writing footer: %w", err)
	}
	s.offset += uint64(len(ft))

	return s.offset, metaBytes, nil
}

func (s *SegmentWriter) metaBytes() ([]byte, error) {
	meta := bytes.Buffer{}
	meta.WriteByte(byte(s.compressor.ct))
	meta.Write(binary.LittleEndian.AppendUint64([]byte{}, s.entries))
	meta.Write(binary.LittleEndian.AppendUint64([]byte{}, s.deletions))
	for _, k := range [][]byte{s.firstKey, s.lastKey} {
		meta.Write(binary.LittleEndian.AppendUint16([]byte{}, uint16(len(k))))
		meta.Write(k)
	}

	meta.Write(binary.LittleEndian.AppendUint64([]byte{}, uint64(len(s.blockIndex))))
	for _, stat := range s.blockIndex {
		meta.Write(stat.toBytes())
	}

	if s.bloomFalsePositiveRate <= 0 || len(s.keyHashes) == 0 {
		meta.Write(binary.LittleEndian.AppendUint64([]byte{}, 0))
		return meta.Bytes(), nil
	}
	bf := bloom.NewWithEstimates(uint(len(s.keyHashes)), s.bloomFalsePositiveRate)
	for _, h := range s.keyHashes {
		bf.Add(bloomKey(h))
	}
	bloomBytes := bytes.Buffer{}
	if _, err := bf.WriteTo(&bloomBytes); err != nil {
		return nil, fmt.Errorf("error in bloom WriteTo: %w", err)
	}
	meta.Write(binary.LittleEndian.AppendUint64([]byte{}, uint64(bloomBytes.Len())))
	meta.Write(bloomBytes.Bytes())
	return meta.Bytes(), nil
}

func bloomKey(keyHash uint64) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), keyHash)
}

func encodeFooter(f footer) []byte {
	b := make([]byte, 0, footerLength)
	b = binary.LittleEndian.AppendUint64(b, f.metaOffset)
	b = binary.LittleEndian.AppendUint64(b, f.metaLength)
	b = binary.LittleEndian.AppendUint64(b, f.metaHash)
	b = append(b, f.version)
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	return binary.LittleEndian.AppendUint32(b, segmentMagic)
}
