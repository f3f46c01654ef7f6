package sst

type SegmentReaderOptions struct {
	// must match the comparator the segment was written with, nil means DefaultCompare
	Compare Compare
	// whether data blocks are hash checked every time they are read, not only by VerifyChecksums
	VerifyBlocksOnRead bool
}

func DefaultSegmentReaderOptions() SegmentReaderOptions {
	return SegmentReaderOptions{
		Compare:            DefaultCompare,
		VerifyBlocksOnRead: true,
	}
}
