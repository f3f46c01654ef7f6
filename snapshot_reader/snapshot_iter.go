package snapshot_reader

import (
	"errors"
	"io"

	"github.com/danthegoodman1/sstkit/sst"
)

type (
	Iter struct {
		direction int
		compare   sst.Compare
		// newest segment first
		heads  []*segmentHead
		peeked *sst.KVPair
		err    error
	}

	segmentHead struct {
		reader *sst.SegmentReader
		closer io.Closer
		rows   *sst.RowIter
		cur    sst.KVPair
		done   bool
	}
)

func (h *segmentHead) advance() error {
	pair, err := h.rows.Next()
	if errors.Is(err, io.EOF) {
		h.done = true
		return nil
	}
	if err != nil {
		return err
	}
	h.cur = pair
	return nil
}

// Next provides the next value, progressing the interator. Returns io.EOF when every segment is exhausted.
func (i *Iter) Next() (sst.KVPair, error) {
	if i.peeked != nil {
		pair := *i.peeked
		i.peeked = nil
		return pair, nil
	}
	return i.next()
}

// Peek provides the next value without progressing the iterator
func (i *Iter) Peek() (sst.KVPair, error) {
	if i.peeked == nil {
		pair, err := i.next()
		if err != nil {
			return sst.KVPair{}, err
		}
		i.peeked = &pair
	}
	return *i.peeked, nil
}

func (i *Iter) next() (sst.KVPair, error) {
	for i.err == nil {
		var (
			live  []*segmentHead
			items []sst.KVPair
		)
		for _, head := range i.heads {
			if !head.done {
				live = append(live, head)
				items = append(items, head.cur)
			}
		}
		if len(live) == 0 {
			i.err = io.EOF
			break
		}

		// the first index is the newest segment holding the key
		indexes := findMaxIndexes(items, i.order)
		pair := items[indexes[0]]
		for _, idx := range indexes {
			if err := live[idx].advance(); err != nil {
				i.err = err
				return sst.KVPair{}, err
			}
		}
		if !pair.Deleted {
			return pair, nil
		}
	}
	return sst.KVPair{}, i.err
}

// order ranks the row that comes next in the iteration direction highest.
func (i *Iter) order(a, b sst.KVPair) int {
	if i.direction == DirectionReverse {
		return i.compare(a.Key, b.Key)
	}
	return i.compare(b.Key, a.Key)
}

func (i *Iter) Close() error {
	for _, head := range i.heads {
		closeSegment(head.reader, head.closer)
	}
	i.heads = nil
	if i.err == nil {
		i.err = sst.ErrClosed
	}
	return nil
}

// findMaxIndexes returns the indexes of every item that compares equal to the greatest item, in slice order.
func findMaxIndexes(items []sst.KVPair, compare func(a, b sst.KVPair) int) []int {
	var indexes []int
	for idx, item := range items {
		if len(indexes) == 0 {
			indexes = append(indexes, idx)
			continue
		}
		switch c := compare(item, items[indexes[0]]); {
		case c > 0:
			indexes = append(indexes[:0], idx)
		case c == 0:
			indexes = append(indexes, idx)
		}
	}
	return indexes
}
