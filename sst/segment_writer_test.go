package sst

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func writeTestSegment(t *testing.T, opts SegmentWriterOptions, rows int) *bytes.Buffer {
	t.Helper()
	b := &bytes.Buffer{}
	w, err := NewSegmentWriter(b, opts)
	if err != nil {
		t.Fatal(err)
	}

	totalBytes := 0
	s := time.Now()
	for i := 0; i < rows; i++ {
		key := []byte(fmt.Sprintf("key%04d", i))
		if i%5 == 0 {
			if err := w.DeleteRow(key); err != nil {
				t.Fatal(err)
			}
			totalBytes += len(key)
			continue
		}
		val := []byte(fmt.Sprintf("value%04d", i))
		if err := w.WriteRow(key, val); err != nil {
			t.Fatal(err)
		}
		totalBytes += len(key) + len(val)
	}
	segmentLen, _, err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	delta := time.Since(s)
	t.Log("Wrote", totalBytes, "in", delta, fmt.Sprintf("%.2fMB/s", float64(totalBytes)/1_000_000/delta.Seconds()))
	t.Log("Got segment length", segmentLen)
	if int(segmentLen) != b.Len() {
		t.Fatal("segment length does not match bytes written", segmentLen, b.Len())
	}
	return b
}

func checkAllRows(t *testing.T, b *bytes.Buffer, rows int) {
	t.Helper()
	r := NewSegmentReader(bytes.NewReader(b.Bytes()), int64(b.Len()), DefaultSegmentReaderOptions())
	iter, err := r.RowIter(DirectionAscending)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < rows; i++ {
		row, err := iter.Next()
		if err != nil {
			t.Fatal(err)
		}
		if string(row.Key) != fmt.Sprintf("key%04d", i) {
			t.Fatal("unexpected key", string(row.Key), i)
		}
		if row.Deleted != (i%5 == 0) {
			t.Fatal("unexpected tombstone marker on", string(row.Key))
		}
		if !row.Deleted && string(row.Value) != fmt.Sprintf("value%04d", i) {
			t.Fatal("unexpected value", string(row.Value))
		}
	}
	if _, err := iter.Next(); err == nil {
		t.Fatal("expected no more rows")
	}
}

func TestSegmentWriterNoCompression(t *testing.T) {
	opts := DefaultSegmentWriterOptions()
	opts.Compression = CompressionNone
	b := writeTestSegment(t, opts, 1000)
	checkAllRows(t, b, 1000)
}

func TestSegmentWriterSnappy(t *testing.T) {
	opts := DefaultSegmentWriterOptions()
	opts.Compression = CompressionSnappy
	b := writeTestSegment(t, opts, 1000)
	checkAllRows(t, b, 1000)
}

func TestSegmentWriterZSTD(t *testing.T) {
	opts := DefaultSegmentWriterOptions()
	opts.Compression = CompressionZstd
	opts.ZSTDCompressionLevel = 3
	b := writeTestSegment(t, opts, 1000)
	checkAllRows(t, b, 1000)

	uncompressed := DefaultSegmentWriterOptions()
	uncompressed.Compression = CompressionNone
	if raw := writeTestSegment(t, uncompressed, 1000); b.Len() >= raw.Len() {
		t.Fatal("zstd segment is not smaller than the raw one", b.Len(), raw.Len())
	}
}

func TestSegmentWriterLZ4Unsupported(t *testing.T) {
	opts := DefaultSegmentWriterOptions()
	opts.Compression = CompressionLZ4
	_, err := NewSegmentWriter(&bytes.Buffer{}, opts)
	if !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatal("did not get unsupported compression error, got:", err)
	}
}

func TestSegmentWriterLargerThanBlock(t *testing.T) {
	b := &bytes.Buffer{}
	w, err := NewSegmentWriter(b, DefaultSegmentWriterOptions())
	if err != nil {
		t.Fatal(err)
	}

	// Write a really large row
	key := []byte(strings.Repeat("a", 511))
	val := []byte(strings.Repeat("b", 10_000))
	if err := w.WriteRow(key, val); err != nil {
		t.Fatal(err)
	}
	if w.Size() == 0 {
		t.Fatal("large row should have flushed a block")
	}

	for i := 0; i < 200; i++ {
		if err := w.WriteRow([]byte(fmt.Sprintf("key%03d", i)), []byte(fmt.Sprintf("value%03d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewSegmentReader(bytes.NewReader(b.Bytes()), int64(b.Len()), DefaultSegmentReaderOptions())
	row, err := r.GetRow(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(row.Value, val) {
		t.Fatal("large value mismatch")
	}
}

func TestEmptyKey(t *testing.T) {
	w, err := NewSegmentWriter(&bytes.Buffer{}, DefaultSegmentWriterOptions())
	if err != nil {
		t.Fatal(err)
	}
	err = w.WriteRow([]byte{}, []byte{})
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatal("did not get invalid key error, got:", err)
	}
}

func TestOutOfOrderKeys(t *testing.T) {
	w, err := NewSegmentWriter(&bytes.Buffer{}, DefaultSegmentWriterOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow([]byte("b"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow([]byte("a"), []byte("2")); !errors.Is(err, ErrOutOfOrder) {
		t.Fatal("did not get out of order error, got:", err)
	}
	if err := w.DeleteRow([]byte("b")); !errors.Is(err, ErrOutOfOrder) {
		t.Fatal("duplicate key should be out of order, got:", err)
	}
	if err := w.WriteRow([]byte("c"), []byte("3")); err != nil {
		t.Fatal(err)
	}
	if w.NumEntries() != 2 {
		t.Fatal("rejected rows were counted", w.NumEntries())
	}
}

func TestCustomCompare(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	opts := DefaultSegmentWriterOptions()
	opts.Compare = reverse
	opts.DataBlockThresholdBytes = 64
	b := &bytes.Buffer{}
	w, err := NewSegmentWriter(b, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 99; i >= 0; i-- {
		if err := w.WriteRow([]byte(fmt.Sprintf("key%02d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := w.Close(); err != nil {
		t.Fatal(err)
	}

	ropts := DefaultSegmentReaderOptions()
	ropts.Compare = reverse
	r := NewSegmentReader(bytes.NewReader(b.Bytes()), int64(b.Len()), ropts)
	if _, err := r.GetRow([]byte("key42")); err != nil {
		t.Fatal(err)
	}
	iter, err := r.RowIter(DirectionAscending)
	if err != nil {
		t.Fatal(err)
	}
	row, err := iter.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(row.Key) != "key99" {
		t.Fatal("expected comparator order, got", string(row.Key))
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := NewSegmentWriter(&bytes.Buffer{}, DefaultSegmentWriterOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRow([]byte("a"), nil); !errors.Is(err, ErrWriterClosed) {
		t.Fatal("did not get writer closed error, got:", err)
	}
	if _, _, err := w.Close(); !errors.Is(err, ErrWriterClosed) {
		t.Fatal("double close should fail, got:", err)
	}
}
