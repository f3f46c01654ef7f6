package sstfile

import (
	"fmt"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/sst"
)

// compressionPreference is fastest first. None is the fallback when nothing else is linked in.
var compressionPreference = []sst.CompressionType{
	sst.CompressionLZ4,
	sst.CompressionSnappy,
	sst.CompressionZstd,
}

// CompressionSelector picks or validates a codec against what the engine can write.
type CompressionSelector struct {
	supported []sst.CompressionType
}

func NewCompressionSelector() CompressionSelector {
	return NewCompressionSelectorFor(engine.SupportedCompression())
}

// NewCompressionSelectorFor uses an explicit capability list instead of asking the engine.
func NewCompressionSelectorFor(supported []sst.CompressionType) CompressionSelector {
	return CompressionSelector{supported: append([]sst.CompressionType{}, supported...)}
}

func (s CompressionSelector) supports(ct sst.CompressionType) bool {
	for _, c := range s.supported {
		if c == ct {
			return true
		}
	}
	return false
}

func (s CompressionSelector) FastestSupported() sst.CompressionType {
	for _, ct := range compressionPreference {
		if s.supports(ct) {
			return ct
		}
	}
	return sst.CompressionNone
}

// Validate returns ct unchanged if the engine supports it.
func (s CompressionSelector) Validate(ct sst.CompressionType) (sst.CompressionType, error) {
	if !s.supports(ct) {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCompression, ct)
	}
	return ct, nil
}
