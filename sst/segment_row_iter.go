package sst

import (
	"errors"
	"fmt"
	"io"
)

type (
	RowIter struct {
		// first key of the block currently loaded, nil before the first block
		statLastKey []byte
		blockRows   []KVPair
		blockRowIdx int
		s           *SegmentReader
		noMore      bool
		direction   int
	}
)

const (
	DirectionAscending = iota
	DirectionDescending
)

var ErrClosed = errors.New("closed")

// Next returns io.EOF when there are no more rows. Can safely call Next after an io.EOF error, as that will be
// cached in the RowIter instance, so there is zero cost to blindly calling it.
// Will return ErrClosed if the respective SegmentReader is closed.
func (r *RowIter) Next() (KVPair, error) {
	if r.noMore {
		return KVPair{}, io.EOF
	}

	if r.s.closed {
		return KVPair{}, ErrClosed
	}

	if r.blockRows != nil && r.blockRowIdx < len(r.blockRows) {
		// return the row if we have them, and have not reached the end
		pair := r.rowAt(r.blockRowIdx)
		r.blockRowIdx++
		return pair, nil
	}

	// otherwise we need to load the next block's rows
	stat := r.nextStat()
	if stat == nil {
		// there are no more blocks
		r.noMore = true
		return KVPair{}, io.EOF
	}

	rows, err := r.s.ReadBlockWithStat(*stat)
	if err != nil {
		return KVPair{}, fmt.Errorf("error in SegmentReader.ReadBlockWithStat: %w", err)
	}

	r.statLastKey = stat.FirstKey
	r.blockRows = rows
	r.blockRowIdx = 1
	return r.rowAt(0), nil
}

func (r *RowIter) rowAt(i int) KVPair {
	if r.direction == DirectionDescending {
		return r.blockRows[len(r.blockRows)-1-i]
	}
	return r.blockRows[i]
}

func (r *RowIter) nextStat() *BlockStat {
	var stat *BlockStat
	visit := func(item BlockStat) bool {
		if r.statLastKey != nil && r.s.compare(item.FirstKey, r.statLastKey) == 0 {
			// keep going, this is the block we just read
			return true
		}
		stat = &item
		return false
	}

	index := r.s.metadata.BlockIndex
	switch {
	case r.direction == DirectionDescending && r.statLastKey == nil:
		index.Descend(visit)
	case r.direction == DirectionDescending:
		index.DescendLessOrEqual(BlockStat{FirstKey: r.statLastKey}, visit)
	case r.statLastKey == nil:
		index.Ascend(visit)
	default:
		index.AscendGreaterOrEqual(BlockStat{FirstKey: r.statLastKey}, visit)
	}
	return stat
}
