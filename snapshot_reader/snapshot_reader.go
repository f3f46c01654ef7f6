package snapshot_reader

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danthegoodman1/sstkit/sst"
	"github.com/google/btree"
)

type (
	// Reader is a merged view over several segment files, for example a batch of external files before they are
	// ingested. Newer segments shadow older ones and tombstones hide the keys they delete.
	Reader struct {
		segmentIDTree *btree.BTreeG[SegmentRecord]
		indexMu       *sync.RWMutex
		readerFactory SegmentReaderFactoryFunc
		compare       sst.Compare
	}

	// SegmentReaderFactoryFunc is used to create the readers for segment files. May be used to read data or metadata.
	// The closer releases whatever backs the reader and may be nil.
	SegmentReaderFactoryFunc func(record SegmentRecord) (*sst.SegmentReader, io.Closer, error)
)

const (
	DirectionForward = sst.DirectionAscending
	DirectionReverse = sst.DirectionDescending
)

func NewReader(f SegmentReaderFactoryFunc) *Reader {
	sr := &Reader{
		segmentIDTree: btree.NewG[SegmentRecord](2, func(a, b SegmentRecord) bool {
			return a.ID < b.ID
		}),
		indexMu:       &sync.RWMutex{},
		readerFactory: f,
		compare:       sst.DefaultCompare,
	}

	return sr
}

// LoadRecord opens the segment once to read its metadata.
func (r *Reader) LoadRecord(id string, level int) (SegmentRecord, error) {
	record := SegmentRecord{ID: id, Level: level}
	reader, closer, err := r.readerFactory(record)
	if err != nil {
		return SegmentRecord{}, fmt.Errorf("error in readerFactory: %w", err)
	}
	defer closeSegment(reader, closer)

	metadata, err := reader.FetchAndLoadMetadata()
	if err != nil {
		return SegmentRecord{}, fmt.Errorf("error in FetchAndLoadMetadata: %w", err)
	}
	record.Metadata = metadata
	return record, nil
}

// UpdateSegments will obtain a write lock over segment indexes, and perform all the modifications at once.
// This allows you to atomically drop and add segment files.
//
// Drop runs before add.
func (r *Reader) UpdateSegments(add []SegmentRecord, drop []SegmentRecord) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	for _, record := range drop {
		r.segmentIDTree.Delete(record)
	}
	for _, record := range add {
		r.segmentIDTree.ReplaceOrInsert(record)
	}
}

// snapshot returns the current segments, newest first.
func (r *Reader) snapshot() []SegmentRecord {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	records := make([]SegmentRecord, 0, r.segmentIDTree.Len())
	r.segmentIDTree.Ascend(func(item SegmentRecord) bool {
		i := len(records)
		records = append(records, item)
		for ; i > 0 && item.newerThan(records[i-1]); i-- {
			records[i] = records[i-1]
		}
		records[i] = item
		return true
	})
	return records
}

func (r *Reader) mayContain(record SegmentRecord, key []byte) bool {
	return r.compare(key, record.Metadata.FirstKey) >= 0 && r.compare(key, record.Metadata.LastKey) <= 0
}

// GetRow will fetch a single row, returning sst.ErrNoRows if not found or deleted.
//
// Runs on a snapshot of segments when invoked, can run concurrently with segment updates.
func (r *Reader) GetRow(key []byte) ([]byte, error) {
	for _, record := range r.snapshot() {
		if !r.mayContain(record, key) {
			continue
		}
		row, err := r.getSegmentRow(record, key)
		if errors.Is(err, sst.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error reading segment %s: %w", record.ID, err)
		}
		if row.Deleted {
			return nil, sst.ErrNoRows
		}
		return row.Value, nil
	}
	return nil, sst.ErrNoRows
}

func (r *Reader) getSegmentRow(record SegmentRecord, key []byte) (sst.KVPair, error) {
	reader, closer, err := r.openSegment(record)
	if err != nil {
		return sst.KVPair{}, err
	}
	defer closeSegment(reader, closer)
	return reader.GetRow(key)
}

func (r *Reader) openSegment(record SegmentRecord) (*sst.SegmentReader, io.Closer, error) {
	reader, closer, err := r.readerFactory(record)
	if err != nil {
		return nil, nil, fmt.Errorf("error in readerFactory: %w", err)
	}
	if record.Metadata != nil {
		reader.LoadCachedMetadata(record.Metadata)
	}
	return reader, closer, nil
}

func closeSegment(reader *sst.SegmentReader, closer io.Closer) {
	reader.Close()
	if closer != nil {
		closer.Close()
	}
}

// GetRange will fetch a range of rows up to a limit, starting from some direction. The bound the scan starts
// from is inclusive and the other is exclusive: [start, end) ascending, (start, end] descending. A nil bound
// is unbounded and a limit <= 0 is unlimited.
//
// Runs on a snapshot of segments when invoked, can run concurrently with segment updates.
func (r *Reader) GetRange(start []byte, end []byte, limit, direction int) ([]sst.KVPair, error) {
	seek := start
	if direction == DirectionReverse {
		seek = end
	}
	iter, err := r.rowIter(direction, seek)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows []sst.KVPair
	for limit <= 0 || len(rows) < limit {
		row, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		var beforeRange, afterRange bool
		if direction == DirectionReverse {
			beforeRange = end != nil && r.compare(row.Key, end) > 0
			afterRange = start != nil && r.compare(row.Key, start) <= 0
		} else {
			beforeRange = start != nil && r.compare(row.Key, start) < 0
			afterRange = end != nil && r.compare(row.Key, end) >= 0
		}
		if afterRange {
			break
		}
		if !beforeRange {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// RowIter creates a merged iterator over every live row of the current segments. The iterator must be closed.
func (r *Reader) RowIter(direction int) (*Iter, error) {
	return r.rowIter(direction, nil)
}

// rowIter positions every segment at seek when it is not nil.
func (r *Reader) rowIter(direction int, seek []byte) (*Iter, error) {
	iter := &Iter{
		direction: direction,
		compare:   r.compare,
	}
	for _, record := range r.snapshot() {
		reader, closer, err := r.openSegment(record)
		if err != nil {
			iter.Close()
			return nil, err
		}
		head := &segmentHead{reader: reader, closer: closer}
		iter.heads = append(iter.heads, head)

		if seek == nil {
			head.rows, err = reader.RowIter(direction)
		} else {
			head.rows, err = reader.RowIterFrom(direction, seek)
		}
		if err != nil {
			iter.Close()
			return nil, fmt.Errorf("error in RowIter for segment %s: %w", record.ID, err)
		}
		if err := head.advance(); err != nil {
			iter.Close()
			return nil, fmt.Errorf("error reading segment %s: %w", record.ID, err)
		}
	}
	return iter, nil
}
