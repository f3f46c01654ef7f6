package sstfile

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/metrics"
	"github.com/danthegoodman1/sstkit/sst"
)

// SstFileInfo summarizes a finished file.
type SstFileInfo struct {
	FilePath    string
	NumEntries  uint64
	FileSize    uint64
	SmallestKey []byte
	LargestKey  []byte
	Compression sst.CompressionType
}

// SstWriter appends strictly increasing keys to one file. It is not safe for concurrent use, and is
// finished exactly once with Finish, FinishRead or Abandon.
//
// FileSize grows one data block at a time: it stays 0 until the first block (4 KiB by default) is flushed,
// so a writer holding a few small records reports 0.
type SstWriter struct {
	writer      *engine.SstFileWriter
	env         envBinding
	compression sst.CompressionType
	finished    bool
}

func (w *SstWriter) Put(key, value []byte) error {
	if w.finished {
		return ErrWriterFinished
	}
	if err := w.writer.Put(key, value); err != nil {
		return fmt.Errorf("%w: %w", ErrEngine, err)
	}
	metrics.DefaultRegistry().RecordWrite(false)
	return nil
}

func (w *SstWriter) Delete(key []byte) error {
	if w.finished {
		return ErrWriterFinished
	}
	if err := w.writer.Delete(key); err != nil {
		return fmt.Errorf("%w: %w", ErrEngine, err)
	}
	metrics.DefaultRegistry().RecordWrite(true)
	return nil
}

// FileSize is the number of bytes written so far. Records still buffered in the current data block are not
// counted until the block is flushed.
func (w *SstWriter) FileSize() uint64 {
	if w.finished {
		return 0
	}
	return w.writer.FileSize()
}

// InMemory reports whether the file lives in a memory environment owned by the writer.
func (w *SstWriter) InMemory() bool {
	return w.env.kind == envOwned
}

// Finish writes the rest of the file and closes it. For an in-memory writer the bytes are dropped along with
// the writer, use FinishRead to consume them.
func (w *SstWriter) Finish() (SstFileInfo, error) {
	if w.finished {
		return SstFileInfo{}, ErrWriterFinished
	}
	w.finished = true

	info, err := w.writer.Finish()
	if err != nil {
		return SstFileInfo{}, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	metrics.DefaultRegistry().RecordFinish(w.InMemory(), info.Compression.String(), info.FileSize)
	logger.Debug().Str("path", info.FilePath).Uint64("entries", info.NumEntries).
		Uint64("size", info.FileSize).Bool("inMemory", w.InMemory()).Msg("finished sst file")

	return SstFileInfo{
		FilePath:    info.FilePath,
		NumEntries:  info.NumEntries,
		FileSize:    info.FileSize,
		SmallestKey: info.SmallestKey,
		LargestKey:  info.LargestKey,
		Compression: info.Compression,
	}, nil
}

// FinishRead finishes an in-memory writer and opens the file for one sequential read. The stream keeps the
// memory environment alive until it is closed. A writer that does not own its environment gets
// ErrMissingEnvironment and is left open, so Finish can still be called.
func (w *SstWriter) FinishRead() (SstFileInfo, io.ReadCloser, error) {
	if w.finished {
		return SstFileInfo{}, nil, ErrWriterFinished
	}
	if w.env.kind != envOwned {
		return SstFileInfo{}, nil, fmt.Errorf("%w: environment is %s", ErrMissingEnvironment, w.env)
	}

	info, err := w.Finish()
	if err != nil {
		return SstFileInfo{}, nil, err
	}
	if err := validatePath(info.FilePath); err != nil {
		return SstFileInfo{}, nil, err
	}
	f, err := w.env.env.NewSequentialFile(info.FilePath)
	if err != nil {
		return SstFileInfo{}, nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return info, &memFileStream{SequentialFile: f, env: w.env.env}, nil
}

// Abandon closes and removes an unfinished file.
func (w *SstWriter) Abandon() error {
	if w.finished {
		return ErrWriterFinished
	}
	w.finished = true
	if err := w.writer.Abandon(); err != nil {
		return fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return nil
}

func validatePath(path string) error {
	if !utf8.ValidString(path) {
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidPath)
	}
	if strings.IndexByte(path, 0) >= 0 {
		return fmt.Errorf("%w: contains NUL", ErrInvalidPath)
	}
	return nil
}

type memFileStream struct {
	engine.SequentialFile
	env *engine.Env
}

func (s *memFileStream) Close() error {
	err := s.SequentialFile.Close()
	s.env = nil
	return err
}
