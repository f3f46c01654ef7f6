package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/danthegoodman1/sstkit/sst"
)

var ErrReaderNotOpen = errors.New("sst file reader is not open")

// TableProperties summarizes a finished file.
type TableProperties struct {
	NumEntries    uint64
	NumDeletions  uint64
	NumDataBlocks uint64
	DataSize      uint64
	FileSize      uint64
	Compression   sst.CompressionType
	SmallestKey   []byte
	LargestKey    []byte
}

// SstFileReader reads a single finished file.
type SstFileReader struct {
	options ColumnFamilyOptions

	path    string
	size    int64
	file    vfs.File
	segment *sst.SegmentReader
}

func NewSstFileReader(options ColumnFamilyOptions) *SstFileReader {
	return &SstFileReader{options: options.Clone()}
}

// Open opens path in the options' Env and loads the file's footer, meta block and block index.
func (r *SstFileReader) Open(path string) error {
	f, size, err := r.options.env().NewRandomAccessFile(path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", path, err)
	}
	segment := sst.NewSegmentReader(f, size, sst.SegmentReaderOptions{
		Compare:            r.options.compare(),
		VerifyBlocksOnRead: true,
	})
	if _, err := segment.FetchAndLoadMetadata(); err != nil {
		f.Close()
		return fmt.Errorf("error loading metadata of %s: %w", path, err)
	}

	r.path, r.size, r.file, r.segment = path, size, f, segment
	return nil
}

// VerifyChecksum checks the hashes of the footer, the meta block and every data block.
func (r *SstFileReader) VerifyChecksum() error {
	if r.segment == nil {
		return ErrReaderNotOpen
	}
	return r.segment.VerifyChecksums()
}

// NewIterator returns an unpositioned forward iterator over every record, tombstones included.
func (r *SstFileReader) NewIterator() *Iterator {
	return &Iterator{reader: r}
}

// Get returns the record for key. A tombstone is returned with Deleted set. sst.ErrNoRows if absent.
func (r *SstFileReader) Get(key []byte) (sst.KVPair, error) {
	if r.segment == nil {
		return sst.KVPair{}, ErrReaderNotOpen
	}
	return r.segment.GetRow(key)
}

func (r *SstFileReader) Properties() (TableProperties, error) {
	if r.segment == nil {
		return TableProperties{}, ErrReaderNotOpen
	}
	metadata, err := r.segment.FetchAndLoadMetadata()
	if err != nil {
		return TableProperties{}, err
	}
	return TableProperties{
		NumEntries:    metadata.NumEntries,
		NumDeletions:  metadata.NumDeletions,
		NumDataBlocks: uint64(metadata.BlockIndex.Len()),
		DataSize:      metadata.MetaOffset,
		FileSize:      uint64(r.size),
		Compression:   metadata.Compression,
		SmallestKey:   metadata.FirstKey,
		LargestKey:    metadata.LastKey,
	}, nil
}

func (r *SstFileReader) Path() string {
	return r.path
}

func (r *SstFileReader) Close() error {
	if r.segment == nil {
		return nil
	}
	r.segment.Close()
	r.segment = nil
	return r.file.Close()
}

// Iterator walks a file forward:
//
//	for it.First(); it.Valid(); it.Next() {
//		use(it.Key(), it.Value())
//	}
//	err := it.Error()
//
// Calling First again restarts from the smallest key.
type Iterator struct {
	reader *SstFileReader
	rows   *sst.RowIter
	cur    sst.KVPair
	valid  bool
	err    error
}

func (it *Iterator) First() bool {
	it.valid, it.err = false, nil
	if it.reader.segment == nil {
		it.err = ErrReaderNotOpen
		return false
	}
	rows, err := it.reader.segment.RowIter(sst.DirectionAscending)
	if err != nil {
		it.err = err
		return false
	}
	it.rows = rows
	return it.advance()
}

func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	return it.advance()
}

func (it *Iterator) advance() bool {
	pair, err := it.rows.Next()
	switch {
	case errors.Is(err, io.EOF):
		it.valid = false
	case err != nil:
		it.valid, it.err = false, err
	default:
		it.cur, it.valid = pair, true
	}
	return it.valid
}

func (it *Iterator) Valid() bool {
	return it.valid
}

// Key is only valid until the iterator moves.
func (it *Iterator) Key() []byte {
	return it.cur.Key
}

// Value is nil for tombstones.
func (it *Iterator) Value() []byte {
	return it.cur.Value
}

func (it *Iterator) IsDeletion() bool {
	return it.cur.Deleted
}

func (it *Iterator) Error() error {
	return it.err
}

func (it *Iterator) Close() error {
	it.valid, it.rows = false, nil
	return it.err
}
