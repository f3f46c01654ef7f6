package sst

type SegmentWriterOptions struct {
	Compression CompressionType
	// only used with CompressionZstd, 1 if not set
	ZSTDCompressionLevel int
	// a data block is flushed once its raw rows reach this size
	DataBlockThresholdBytes int
	// false positive rate of the bloom filter, 0 disables the filter
	BloomFalsePositiveRate float64
	// nil means DefaultCompare
	Compare Compare
}

func DefaultSegmentWriterOptions() SegmentWriterOptions {
	return SegmentWriterOptions{
		Compression:             CompressionZstd,
		ZSTDCompressionLevel:    1,
		DataBlockThresholdBytes: 4096,
		BloomFalsePositiveRate:  0.01,
		Compare:                 DefaultCompare,
	}
}
