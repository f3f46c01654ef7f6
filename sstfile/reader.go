package sstfile

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/metrics"
	"github.com/danthegoodman1/sstkit/sst"
)

// SstReader reads one finished file with default column family options.
type SstReader struct {
	reader *engine.SstFileReader
}

// OpenReader opens a file on the real filesystem.
func OpenReader(path string) (*SstReader, error) {
	return OpenReaderInEnv(engine.DefaultEnv(), path)
}

// OpenReaderInEnv opens a file that lives in env, for example one written by an in-memory writer.
func OpenReaderInEnv(env *engine.Env, path string) (*SstReader, error) {
	opts := engine.NewColumnFamilyOptions()
	opts.SetEnv(env)
	r := engine.NewSstFileReader(opts)
	if err := r.Open(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return &SstReader{reader: r}, nil
}

// VerifyChecksum checks every hash in the file. Corruption is reported as ErrChecksumMismatch.
func (r *SstReader) VerifyChecksum() error {
	err := r.reader.VerifyChecksum()
	metrics.DefaultRegistry().RecordChecksum(err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sst.ErrCorrupted):
		logger.Warn().Err(err).Str("path", r.reader.Path()).Msg("sst checksum mismatch")
		return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
	default:
		return fmt.Errorf("%w: %w", ErrEngine, err)
	}
}

// Iter returns a new forward iterator over every record, tombstones included with IsDeletion set. Iterators
// are independent of each other and of the reader.
func (r *SstReader) Iter() *engine.Iterator {
	return r.reader.NewIterator()
}

// Get looks up a single key. A tombstone comes back with Deleted set, a missing key is sst.ErrNoRows.
func (r *SstReader) Get(key []byte) (sst.KVPair, error) {
	row, err := r.reader.Get(key)
	if err != nil && !errors.Is(err, sst.ErrNoRows) {
		return sst.KVPair{}, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return row, err
}

func (r *SstReader) Properties() (engine.TableProperties, error) {
	props, err := r.reader.Properties()
	if err != nil {
		return engine.TableProperties{}, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return props, nil
}

func (r *SstReader) Path() string {
	return r.reader.Path()
}

func (r *SstReader) Close() error {
	return r.reader.Close()
}
