package engine

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/danthegoodman1/sstkit/gologger"
	"github.com/danthegoodman1/sstkit/sst"
)

var logger = gologger.NewLogger()

var (
	ErrWriterNotOpen = errors.New("sst file writer is not open")
	ErrNoEntries     = errors.New("cannot create sst file with no entries")
)

// ExternalSstFileInfo describes a finished external file.
type ExternalSstFileInfo struct {
	FilePath    string
	SmallestKey []byte
	LargestKey  []byte
	NumEntries  uint64
	FileSize    uint64
	Compression sst.CompressionType
}

// SstFileWriter writes a single sorted file outside of any database, to be ingested or shipped later.
type SstFileWriter struct {
	envOptions EnvOptions
	options    ColumnFamilyOptions

	env     *Env
	path    string
	file    vfs.File
	buf     *bufio.Writer
	segment *sst.SegmentWriter
}

func NewSstFileWriter(envOptions EnvOptions, options ColumnFamilyOptions) *SstFileWriter {
	return &SstFileWriter{
		envOptions: envOptions,
		options:    options.Clone(),
	}
}

// Open creates the file at path in the options' Env.
func (w *SstFileWriter) Open(path string) error {
	if w.segment != nil {
		return fmt.Errorf("sst file writer already open at %s", w.path)
	}
	env := w.options.env()
	f, err := env.NewWritableFile(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	bufSize := w.envOptions.WriteBufferSize
	if bufSize <= 0 {
		bufSize = DefaultEnvOptions().WriteBufferSize
	}
	buf := bufio.NewWriterSize(f, bufSize)

	segment, err := sst.NewSegmentWriter(buf, sst.SegmentWriterOptions{
		Compression:             w.options.ExternalFileCompression(),
		ZSTDCompressionLevel:    w.options.ZSTDCompressionLevel,
		DataBlockThresholdBytes: w.options.BlockSize,
		BloomFalsePositiveRate:  w.options.BloomFalsePositiveRate,
		Compare:                 w.options.compare(),
	})
	if err != nil {
		f.Close()
		env.DeleteFile(path)
		return fmt.Errorf("error in sst.NewSegmentWriter: %w", err)
	}

	w.env, w.path, w.file, w.buf, w.segment = env, path, f, buf, segment
	logger.Debug().Str("path", path).Bool("inMemory", env.InMemory()).
		Str("compression", w.options.ExternalFileCompression().String()).Msg("opened sst file writer")
	return nil
}

// Put adds a key. REQUIRES: key is after any previously added key according to the comparator.
func (w *SstFileWriter) Put(key, value []byte) error {
	if w.segment == nil {
		return ErrWriterNotOpen
	}
	return w.segment.WriteRow(key, value)
}

// Delete adds a tombstone. REQUIRES: key is after any previously added key according to the comparator.
func (w *SstFileWriter) Delete(key []byte) error {
	if w.segment == nil {
		return ErrWriterNotOpen
	}
	return w.segment.DeleteRow(key)
}

// FileSize is the number of bytes written to the file so far.
func (w *SstFileWriter) FileSize() uint64 {
	if w.segment == nil {
		return 0
	}
	return w.segment.Size()
}

// Finish writes the remaining blocks, the meta block and the footer, and closes the file. A file with no
// entries is removed and ErrNoEntries returned.
func (w *SstFileWriter) Finish() (ExternalSstFileInfo, error) {
	if w.segment == nil {
		return ExternalSstFileInfo{}, ErrWriterNotOpen
	}
	segment := w.segment
	w.segment = nil

	if segment.NumEntries() == 0 {
		w.discard()
		return ExternalSstFileInfo{}, ErrNoEntries
	}

	size, _, err := segment.Close()
	if err != nil {
		w.discard()
		return ExternalSstFileInfo{}, fmt.Errorf("error closing segment: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.discard()
		return ExternalSstFileInfo{}, fmt.Errorf("error flushing %s: %w", w.path, err)
	}
	if w.envOptions.UseFsync {
		if err := w.file.Sync(); err != nil {
			w.discard()
			return ExternalSstFileInfo{}, fmt.Errorf("error syncing %s: %w", w.path, err)
		}
	}
	if err := w.file.Close(); err != nil {
		w.remove()
		return ExternalSstFileInfo{}, fmt.Errorf("error closing %s: %w", w.path, err)
	}

	return ExternalSstFileInfo{
		FilePath:    w.path,
		SmallestKey: segment.FirstKey(),
		LargestKey:  segment.LastKey(),
		NumEntries:  segment.NumEntries(),
		FileSize:    size,
		Compression: w.options.ExternalFileCompression(),
	}, nil
}

// Abandon closes and removes a file that will not be finished.
func (w *SstFileWriter) Abandon() error {
	if w.segment == nil {
		return nil
	}
	w.segment = nil
	return w.discard()
}

func (w *SstFileWriter) discard() error {
	closeErr := w.file.Close()
	if err := w.remove(); err != nil {
		return err
	}
	return closeErr
}

// remove deletes a file whose handle is already closed.
func (w *SstFileWriter) remove() error {
	if err := w.env.DeleteFile(w.path); err != nil {
		logger.Error().Err(err).Str("path", w.path).Msg("error removing unfinished sst file")
		return err
	}
	logger.Warn().Str("path", w.path).Msg("discarded unfinished sst file")
	return nil
}
