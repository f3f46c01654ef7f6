package engine

import (
	"bytes"

	"github.com/danthegoodman1/sstkit/sst"
)

// Comparer names a key ordering. The name is what callers compare when checking two column families agree.
type Comparer struct {
	Name    string
	Compare sst.Compare
}

var DefaultComparer = &Comparer{
	Name:    "bytewise",
	Compare: bytes.Compare,
}

// ColumnFamilyOptions configures how files of one column family are written and read.
type ColumnFamilyOptions struct {
	Compression sst.CompressionType
	// per LSM level codecs, the last entry applies to the bottommost level
	CompressionPerLevel []sst.CompressionType
	// sst.CompressionDisable means no bottommost override
	BottommostCompression sst.CompressionType
	ZSTDCompressionLevel  int

	BlockSize              int
	BloomFalsePositiveRate float64
	Comparer               *Comparer

	// nil means DefaultEnv
	Env *Env
}

func NewColumnFamilyOptions() ColumnFamilyOptions {
	return ColumnFamilyOptions{
		Compression:            sst.CompressionSnappy,
		BottommostCompression:  sst.CompressionDisable,
		ZSTDCompressionLevel:   1,
		BlockSize:              4096,
		BloomFalsePositiveRate: 0.01,
		Comparer:               DefaultComparer,
	}
}

// Clone returns a copy that shares nothing mutable with o. The Env and Comparer are references and stay shared.
func (o ColumnFamilyOptions) Clone() ColumnFamilyOptions {
	c := o
	if o.CompressionPerLevel != nil {
		c.CompressionPerLevel = append([]sst.CompressionType{}, o.CompressionPerLevel...)
	}
	return c
}

// SetEnv attaches env to the options.
func (o *ColumnFamilyOptions) SetEnv(env *Env) {
	o.Env = env
}

func (o ColumnFamilyOptions) env() *Env {
	if o.Env == nil {
		return DefaultEnv()
	}
	return o.Env
}

func (o ColumnFamilyOptions) compare() sst.Compare {
	if o.Comparer == nil || o.Comparer.Compare == nil {
		return DefaultComparer.Compare
	}
	return o.Comparer.Compare
}

// ExternalFileCompression is the codec an external file is written with. External files are ingested at the
// bottommost level, so the bottommost override wins, then the last per-level entry, then Compression.
func (o ColumnFamilyOptions) ExternalFileCompression() sst.CompressionType {
	if o.BottommostCompression != sst.CompressionDisable {
		return o.BottommostCompression
	}
	if n := len(o.CompressionPerLevel); n > 0 {
		return o.CompressionPerLevel[n-1]
	}
	return o.Compression
}

// EnvOptions tunes file I/O for writers.
type EnvOptions struct {
	WriteBufferSize int
	// sync the file before closing it on Finish
	UseFsync bool
}

func DefaultEnvOptions() EnvOptions {
	return EnvOptions{
		WriteBufferSize: 64 << 10,
		UseFsync:        true,
	}
}

// SupportedCompression is the set of codecs this engine build can write.
func SupportedCompression() []sst.CompressionType {
	return sst.SupportedCompression()
}
