package sst

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/bits-and-blooms/bloom"
	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
)

type (
	SegmentReader struct {
		metadata *SegmentMetadata

		reader    io.ReaderAt
		fileBytes int64

		compare Compare
		options SegmentReaderOptions
		closed  bool
	}

	SegmentMetadata struct {
		Compression  CompressionType
		NumEntries   uint64
		NumDeletions uint64

		FirstKey []byte
		LastKey  []byte

		// data blocks ordered by first key
		BlockIndex  *btree.BTreeG[BlockStat]
		BloomFilter *bloom.BloomFilter

		// end of the data blocks
		MetaOffset uint64
	}
)

func NewSegmentReader(reader io.ReaderAt, fileBytes int64, opts SegmentReaderOptions) *SegmentReader {
	sr := &SegmentReader{
		options:   opts,
		reader:    reader,
		fileBytes: fileBytes,
		compare:   opts.Compare,
	}
	if sr.compare == nil {
		sr.compare = DefaultCompare
	}

	return sr
}

// LoadCachedMetadata loads in cached metadata
func (s *SegmentReader) LoadCachedMetadata(metadata *SegmentMetadata) {
	s.metadata = metadata
}

var (
	ErrNoRows          = errors.New("no rows")
	ErrReaderClosed    = errors.New("segment reader closed")
	ErrSegmentTooSmall = fmt.Errorf("%w: segment smaller than footer", ErrCorrupted)
)

func (s *SegmentReader) readAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.reader.ReadAt(buf, offset)
	if n == length {
		// ReadAt may report io.EOF alongside a full read of the final bytes
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: expected=%d read=%d", ErrUnexpectedBytesWritten, length, n)
	}
	return nil, err
}

func (s *SegmentReader) readFooter() (footer, error) {
	var f footer
	if s.fileBytes < footerLength {
		return f, fmt.Errorf("%w: size=%d", ErrSegmentTooSmall, s.fileBytes)
	}
	b, err := s.readAt(s.fileBytes-footerLength, footerLength)
	if err != nil {
		return f, fmt.Errorf("error reading footer: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(b[footerLength-4:]); magic != segmentMagic {
		return f, fmt.Errorf("%w: got=%x", ErrBadMagic, magic)
	}
	expectedHash := binary.LittleEndian.Uint64(b[footerHashedLength : footerHashedLength+8])
	if calculatedHash := xxhash.Sum64(b[:footerHashedLength]); calculatedHash != expectedHash {
		return f, fmt.Errorf("%w: expected=%d got=%d", ErrMismatchedFooterHash, expectedHash, calculatedHash)
	}

	f.metaOffset = binary.LittleEndian.Uint64(b[0:8])
	f.metaLength = binary.LittleEndian.Uint64(b[8:16])
	f.metaHash = binary.LittleEndian.Uint64(b[16:24])
	f.version = b[24]
	if f.version != SegmentVersion {
		return f, fmt.Errorf("%w: expected=%d got=%d", ErrUnknownSegmentVersion, SegmentVersion, f.version)
	}
	dataEnd := uint64(s.fileBytes) - footerLength
	if f.metaOffset > dataEnd || f.metaLength != dataEnd-f.metaOffset {
		return f, fmt.Errorf("%w: meta block [%d, +%d) does not end at the footer", ErrCorrupted, f.metaOffset, f.metaLength)
	}
	return f, nil
}

func (s *SegmentReader) readMetaBlock() ([]byte, footer, error) {
	f, err := s.readFooter()
	if err != nil {
		return nil, f, err
	}
	metaBlockBytes, err := s.readAt(int64(f.metaOffset), int(f.metaLength))
	if err != nil {
		return nil, f, fmt.Errorf("error reading meta block: %w", err)
	}
	if calculatedHash := xxhash.Sum64(metaBlockBytes); calculatedHash != f.metaHash {
		return nil, f, fmt.Errorf("%w: expected=%d got=%d", ErrMismatchedMetaBlockHash, f.metaHash, calculatedHash)
	}
	return metaBlockBytes, f, nil
}

// FetchAndLoadMetadata will load the metadata from the file if not already held in the reader, then returns it
// (for caching).
func (s *SegmentReader) FetchAndLoadMetadata() (*SegmentMetadata, error) {
	if s.metadata != nil {
		return s.metadata, nil
	}
	metaBlockBytes, f, err := s.readMetaBlock()
	if err != nil {
		return nil, err
	}
	return s.BytesToMetadata(metaBlockBytes, f.metaOffset)
}

// BytesToMetadata parses a meta block that starts at metaOffset and loads it into the reader.
func (s *SegmentReader) BytesToMetadata(metaBlockBytes []byte, metaOffset uint64) (*SegmentMetadata, error) {
	metaReader := bytes.NewReader(metaBlockBytes)
	metadata := &SegmentMetadata{
		BlockIndex: btree.NewG[BlockStat](32, func(a, b BlockStat) bool {
			return s.compare(a.FirstKey, b.FirstKey) < 0
		}),
		MetaOffset: metaOffset,
	}

	ct, err := metaReader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("error reading compression type: %w", err)
	}
	metadata.Compression = CompressionType(ct)
	if metadata.NumEntries, err = readUint64(metaReader); err != nil {
		return nil, fmt.Errorf("error reading entry count: %w", err)
	}
	if metadata.NumDeletions, err = readUint64(metaReader); err != nil {
		return nil, fmt.Errorf("error reading deletion count: %w", err)
	}
	for _, k := range []*[]byte{&metadata.FirstKey, &metadata.LastKey} {
		keyLen, err := readUint16(metaReader)
		if err != nil {
			return nil, fmt.Errorf("error reading key length: %w", err)
		}
		if *k, err = readMetaBytes(metaReader, uint64(keyLen)); err != nil {
			return nil, fmt.Errorf("error reading key: %w", err)
		}
	}

	if err = s.loadBlockIndex(metaReader, metadata); err != nil {
		return nil, fmt.Errorf("error in loadBlockIndex: %w", err)
	}

	bloomLen, err := readUint64(metaReader)
	if err != nil {
		return nil, fmt.Errorf("error reading bloom filter length: %w", err)
	}
	if bloomLen > 0 {
		bloomBytes, err := readMetaBytes(metaReader, bloomLen)
		if err != nil {
			return nil, fmt.Errorf("error reading bloom filter: %w", err)
		}
		metadata.BloomFilter = &bloom.BloomFilter{}
		if _, err := metadata.BloomFilter.ReadFrom(bytes.NewReader(bloomBytes)); err != nil {
			return nil, fmt.Errorf("error in bloom ReadFrom: %w", err)
		}
	}
	if metaReader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing meta block bytes", ErrCorrupted, metaReader.Len())
	}

	s.metadata = metadata
	return metadata, nil
}

// loadBlockIndex loads the block index into metadata using the provided metaReader
func (s *SegmentReader) loadBlockIndex(metaReader *bytes.Reader, metadata *SegmentMetadata) error {
	blocks, err := readUint64(metaReader)
	if err != nil {
		return fmt.Errorf("error reading block count: %w", err)
	}
	if blocks > uint64(metaReader.Len())/minBlockStatLength {
		return fmt.Errorf("%w: %d block stats cannot fit in %d meta block bytes", ErrCorrupted, blocks, metaReader.Len())
	}
	for i := uint64(0); i < blocks; i++ {
		stat, err := blockStatFromReader(metaReader)
		if err != nil {
			return err
		}
		if err := checkBlockStat(stat, metadata.Compression, metadata.MetaOffset); err != nil {
			return err
		}
		metadata.BlockIndex.ReplaceOrInsert(stat)
	}
	if uint64(metadata.BlockIndex.Len()) != blocks {
		return fmt.Errorf("%w: duplicate block first keys", ErrCorrupted)
	}
	return nil
}

// checkBlockStat rejects stats that point outside the data region or claim more than the block can hold.
func checkBlockStat(stat BlockStat, ct CompressionType, metaOffset uint64) error {
	if stat.Offset > metaOffset || stat.BlockSize > metaOffset-stat.Offset {
		return fmt.Errorf("%w: block [%d, +%d) overlaps the meta block at %d", ErrCorrupted, stat.Offset, stat.BlockSize, metaOffset)
	}
	if ct == CompressionNone && stat.OriginalSize != stat.BlockSize {
		return fmt.Errorf("%w: uncompressed block of %d bytes claims %d", ErrCorrupted, stat.BlockSize, stat.OriginalSize)
	}
	if stat.Rows > stat.OriginalSize/minRowLength {
		return fmt.Errorf("%w: %d rows cannot fit in %d bytes", ErrCorrupted, stat.Rows, stat.OriginalSize)
	}
	return nil
}

// readMetaBytes reads n bytes, failing when the meta block has fewer left.
func readMetaBytes(r *bytes.Reader, n uint64) ([]byte, error) {
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d exceeds the %d remaining meta block bytes", ErrCorrupted, n, r.Len())
	}
	return readBytes(r, int(n))
}

// VerifyChecksums re-reads the footer, the meta block and every data block, checking their hashes.
// Cached metadata is not trusted.
func (s *SegmentReader) VerifyChecksums() error {
	if s.closed {
		return ErrReaderClosed
	}
	metaBlockBytes, f, err := s.readMetaBlock()
	if err != nil {
		return err
	}
	fresh := NewSegmentReader(s.reader, s.fileBytes, s.options)
	metadata, err := fresh.BytesToMetadata(metaBlockBytes, f.metaOffset)
	if err != nil {
		return err
	}

	var (
		expectedOffset uint64
		verifyErr      error
	)
	metadata.BlockIndex.Ascend(func(stat BlockStat) bool {
		if stat.Offset != expectedOffset {
			verifyErr = fmt.Errorf("%w: block at offset %d, expected %d", ErrCorrupted, stat.Offset, expectedOffset)
			return false
		}
		if _, verifyErr = s.readBlock(stat, metadata.Compression, true); verifyErr != nil {
			return false
		}
		expectedOffset += stat.BlockSize
		return true
	})
	if verifyErr != nil {
		return verifyErr
	}
	if expectedOffset != f.metaOffset {
		return fmt.Errorf("%w: data blocks end at %d, meta block starts at %d", ErrCorrupted, expectedOffset, f.metaOffset)
	}
	return nil
}

// ReadBlockWithStat will read a data block, decompress and deserialize it.
//
// Fetches the metadata if not already loaded.
func (s *SegmentReader) ReadBlockWithStat(stat BlockStat) ([]KVPair, error) {
	if s.closed {
		return nil, ErrReaderClosed
	}
	metadata, err := s.FetchAndLoadMetadata()
	if err != nil {
		return nil, fmt.Errorf("error in FetchAndLoadMetadata: %w", err)
	}
	return s.readBlock(stat, metadata.Compression, s.options.VerifyBlocksOnRead)
}

func (s *SegmentReader) readBlock(stat BlockStat, ct CompressionType, verify bool) ([]KVPair, error) {
	blockBytes, err := s.readAt(int64(stat.Offset), int(stat.BlockSize))
	if err != nil {
		return nil, fmt.Errorf("error reading block at offset %d: %w", stat.Offset, err)
	}
	if verify {
		if calculatedHash := xxhash.Sum64(blockBytes); calculatedHash != stat.Hash {
			return nil, fmt.Errorf("%w: offset=%d expected=%d got=%d", ErrMismatchedBlockHash, stat.Offset, stat.Hash, calculatedHash)
		}
	}
	raw, err := decompressBlock(ct, blockBytes, stat.OriginalSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlock, err)
	}
	return parseRows(raw, stat.Rows)
}

// probeBloomFilter probes a bloom filter for whether they key might exist within a block in the file.
//
// Instantly returns true if no bloom filter exists.
//
// Fetches the metadata if not already loaded.
func (s *SegmentReader) probeBloomFilter(key []byte) (bool, error) {
	metadata, err := s.FetchAndLoadMetadata()
	if err != nil {
		return false, fmt.Errorf("error in FetchAndLoadMetadata: %w", err)
	}
	if metadata.BloomFilter == nil {
		return true, nil
	}
	return metadata.BloomFilter.Test(bloomKey(xxhash.Sum64(key))), nil
}

// blockForKey returns the only block that may hold key.
func (s *SegmentReader) blockForKey(metadata *SegmentMetadata, key []byte) (BlockStat, bool) {
	var (
		found BlockStat
		ok    bool
	)
	metadata.BlockIndex.DescendLessOrEqual(BlockStat{FirstKey: key}, func(item BlockStat) bool {
		found, ok = item, true
		return false
	})
	return found, ok
}

// RowIter creates a new row iterator over the whole segment.
//
// Fetches the metadata if not already loaded.
func (s *SegmentReader) RowIter(direction int) (*RowIter, error) {
	if s.closed {
		return nil, ErrReaderClosed
	}
	if _, err := s.FetchAndLoadMetadata(); err != nil {
		return nil, fmt.Errorf("error in FetchAndLoadMetadata: %w", err)
	}
	return &RowIter{
		s:         s,
		direction: direction,
	}, nil
}

// RowIterFrom creates a row iterator positioned at key: the first row >= key ascending, or the first row <= key
// descending. Only the block that may hold key is read to position it.
func (s *SegmentReader) RowIterFrom(direction int, key []byte) (*RowIter, error) {
	iter, err := s.RowIter(direction)
	if err != nil {
		return nil, err
	}
	stat, ok := s.blockForKey(s.metadata, key)
	if !ok {
		if direction == DirectionDescending {
			// every block starts after key
			iter.noMore = true
		}
		return iter, nil
	}
	rows, err := s.ReadBlockWithStat(stat)
	if err != nil {
		return nil, fmt.Errorf("error in ReadBlockWithStat: %w", err)
	}
	iter.statLastKey = stat.FirstKey
	iter.blockRows = rows
	if direction == DirectionDescending {
		atOrBefore := sort.Search(len(rows), func(i int) bool {
			return s.compare(rows[i].Key, key) > 0
		})
		iter.blockRowIdx = len(rows) - atOrBefore
	} else {
		iter.blockRowIdx = sort.Search(len(rows), func(i int) bool {
			return s.compare(rows[i].Key, key) >= 0
		})
	}
	return iter, nil
}

// GetRow will fetch a single row, returning ErrNoRows if not found. A tombstone is returned as a row with
// Deleted set.
func (s *SegmentReader) GetRow(key []byte) (KVPair, error) {
	if s.closed {
		return KVPair{}, ErrReaderClosed
	}
	mightExist, err := s.probeBloomFilter(key)
	if err != nil {
		return KVPair{}, err
	}
	if !mightExist {
		return KVPair{}, ErrNoRows
	}

	stat, ok := s.blockForKey(s.metadata, key)
	if !ok {
		return KVPair{}, ErrNoRows
	}
	rows, err := s.ReadBlockWithStat(stat)
	if err != nil {
		return KVPair{}, fmt.Errorf("error in ReadBlockWithStat: %w", err)
	}
	idx := sort.Search(len(rows), func(i int) bool {
		return s.compare(rows[i].Key, key) >= 0
	})
	if idx == len(rows) || s.compare(rows[idx].Key, key) != 0 {
		return KVPair{}, ErrNoRows
	}

	return rows[idx], nil
}

// Close marks the reader closed. The underlying reader is owned by the caller.
func (s *SegmentReader) Close() error {
	s.closed = true
	return nil
}
