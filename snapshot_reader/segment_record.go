package snapshot_reader

import "github.com/danthegoodman1/sstkit/sst"

type SegmentRecord struct {
	// ID of the segment, should typically be the final file name
	ID string
	// Lower levels are newer and shadow higher ones. Within a level the greater ID wins.
	Level    int
	Metadata *sst.SegmentMetadata
}

// newerThan orders records by read priority: ascending level, then descending ID.
func (r SegmentRecord) newerThan(other SegmentRecord) bool {
	if r.Level != other.Level {
		return r.Level < other.Level
	}
	return r.ID > other.ID
}
