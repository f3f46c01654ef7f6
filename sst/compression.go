package sst

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressionType is the codec applied to every data block of a segment.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionLZ4
	CompressionZstd

	// CompressionDisable is never written to a file. Options use it to mark an override as unset.
	CompressionDisable CompressionType = 0xff
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionDisable:
		return "disable"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompressionType is the inverse of String for the codecs that can appear in a file.
func ParseCompressionType(s string) (CompressionType, error) {
	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionLZ4, CompressionZstd} {
		if ct.String() == s {
			return ct, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

var (
	ErrUnknownCompression     = errors.New("unknown compression type")
	ErrUnsupportedCompression = errors.New("compression type not supported by this build")
)

// SupportedCompression returns the codecs this build can read and write, in enum order.
// There is no lz4 codec linked in.
func SupportedCompression() []CompressionType {
	return []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd}
}

func compressionSupported(ct CompressionType) bool {
	for _, s := range SupportedCompression() {
		if s == ct {
			return true
		}
	}
	return false
}

var (
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
	zstdDecoderOnce sync.Once
)

func getZSTDDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		// DecodeAll is safe for concurrent use, one decoder serves every reader
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDecoder, zstdDecoderErr
}

// blockCompressor compresses finished data blocks for a single writer.
type blockCompressor struct {
	ct  CompressionType
	enc *zstd.Encoder
}

func newBlockCompressor(ct CompressionType, zstdLevel int) (*blockCompressor, error) {
	if !compressionSupported(ct) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, ct)
	}
	bc := &blockCompressor{ct: ct}
	if ct == CompressionZstd {
		if zstdLevel <= 0 {
			zstdLevel = 1
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
		if err != nil {
			return nil, fmt.Errorf("error in zstd.NewWriter: %w", err)
		}
		bc.enc = enc
	}
	return bc, nil
}

func (bc *blockCompressor) compress(raw []byte) []byte {
	switch bc.ct {
	case CompressionSnappy:
		return snappy.Encode(nil, raw)
	case CompressionZstd:
		return bc.enc.EncodeAll(raw, make([]byte, 0, len(raw)))
	default:
		return raw
	}
}

func (bc *blockCompressor) close() error {
	if bc.enc != nil {
		return bc.enc.Close()
	}
	return nil
}

const (
	// a snappy copy element turns at most 3 encoded bytes into 64
	snappyMaxExpansion    = 22
	zstdSizeHintExpansion = 16
)

func decompressBlock(ct CompressionType, data []byte, rawSize uint64) ([]byte, error) {
	var out []byte
	switch ct {
	case CompressionNone:
		out = data
	case CompressionSnappy:
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, fmt.Errorf("error in snappy.DecodedLen: %w", err)
		}
		if uint64(n) != rawSize || uint64(n) > snappyMaxExpansion*uint64(len(data)) {
			return nil, fmt.Errorf("snappy block decodes to %d bytes, expected %d", n, rawSize)
		}
		if out, err = snappy.Decode(make([]byte, n), data); err != nil {
			return nil, fmt.Errorf("error in snappy.Decode: %w", err)
		}
	case CompressionZstd:
		dec, err := getZSTDDecoder()
		if err != nil {
			return nil, fmt.Errorf("error in zstd.NewReader: %w", err)
		}
		// rawSize is only a capacity hint, DecodeAll grows the slice past it
		hint := min(rawSize, zstdSizeHintExpansion*uint64(len(data)))
		if out, err = dec.DecodeAll(data, make([]byte, 0, hint)); err != nil {
			return nil, fmt.Errorf("error in zstd DecodeAll: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, ct)
	}
	if uint64(len(out)) != rawSize {
		return nil, fmt.Errorf("block decodes to %d bytes, expected %d", len(out), rawSize)
	}
	return out, nil
}
