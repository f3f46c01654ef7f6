package sstfile

import (
	"fmt"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/gologger"
	"github.com/danthegoodman1/sstkit/sst"
)

var logger = gologger.NewLogger()

// Database is the read-only view of a source database a builder inherits options from. *engine.DB
// implements it, and it must be safe for concurrent use by many builders.
type Database interface {
	CFHandle(name string) (*engine.ColumnFamilyHandle, bool)
	OptionsCF(h *engine.ColumnFamilyHandle) engine.ColumnFamilyOptions
	Env() *engine.Env
}

type envKind int

const (
	envNone envKind = iota
	// shared with the source database, never released by the writer
	envBorrowed
	// created for this writer, the only place an in-memory file's bytes exist
	envOwned
)

type envBinding struct {
	kind envKind
	env  *engine.Env
}

func (b envBinding) String() string {
	switch b.kind {
	case envBorrowed:
		return "borrowed"
	case envOwned:
		return "owned"
	default:
		return "none"
	}
}

// SstWriterBuilder gathers the configuration of an SstWriter. Setters return an updated copy and never fail,
// everything is checked in Build.
type SstWriterBuilder struct {
	db          Database
	cf          string
	inMemory    bool
	compression *sst.CompressionType
}

func NewSstWriterBuilder() SstWriterBuilder {
	return SstWriterBuilder{}
}

func (b SstWriterBuilder) SetDB(db Database) SstWriterBuilder {
	b.db = db
	return b
}

// SetCF names the column family whose options are inherited. Only used with SetDB, defaults to
// engine.DefaultColumnFamily.
func (b SstWriterBuilder) SetCF(name string) SstWriterBuilder {
	b.cf = name
	return b
}

// SetInMemory writes the file into a fresh memory environment owned by the writer instead of the filesystem.
func (b SstWriterBuilder) SetInMemory(inMemory bool) SstWriterBuilder {
	b.inMemory = inMemory
	return b
}

// SetCompressionType requests a codec, nil means the fastest one the engine supports.
func (b SstWriterBuilder) SetCompressionType(ct *sst.CompressionType) SstWriterBuilder {
	if ct == nil {
		b.compression = nil
		return b
	}
	c := *ct
	b.compression = &c
	return b
}

// Build resolves options, environment and compression, then opens a writer at path.
func (b SstWriterBuilder) Build(path string) (*SstWriter, error) {
	opts := engine.NewColumnFamilyOptions()
	var candidate *engine.Env
	if b.db != nil {
		name := b.cf
		if name == "" {
			name = engine.DefaultColumnFamily
		}
		h, ok := b.db.CFHandle(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnFamilyNotFound, name)
		}
		opts = b.db.OptionsCF(h)
		candidate = b.db.Env()
	}

	var binding envBinding
	switch {
	case b.inMemory:
		env := engine.NewMemEnv()
		opts.SetEnv(env)
		binding = envBinding{kind: envOwned, env: env}
	case candidate != nil:
		opts.SetEnv(candidate)
		binding = envBinding{kind: envBorrowed, env: candidate}
	}

	selector := NewCompressionSelector()
	ct := selector.FastestSupported()
	if b.compression != nil {
		var err error
		if ct, err = selector.Validate(*b.compression); err != nil {
			return nil, err
		}
	}
	// The engine prefers bottommost and per-level codecs over Compression, so both are always cleared.
	opts.Compression = ct
	opts.CompressionPerLevel = nil
	opts.BottommostCompression = sst.CompressionDisable

	writer := engine.NewSstFileWriter(engine.DefaultEnvOptions(), opts)
	if err := writer.Open(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	logger.Debug().Str("path", path).Str("compression", ct.String()).Str("env", binding.String()).
		Msg("built sst writer")

	return &SstWriter{
		writer:      writer,
		env:         binding,
		compression: ct,
	}, nil
}
