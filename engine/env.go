package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/vfs"
)

// Env decides where file bytes live: the real filesystem or a memory backed one.
type Env struct {
	fs       vfs.FS
	inMemory bool
}

// SequentialFile is a file opened for a single forward read.
type SequentialFile interface {
	io.Reader
	io.Closer
}

var defaultEnv = &Env{fs: vfs.Default}

// DefaultEnv is the shared real filesystem environment.
func DefaultEnv() *Env {
	return defaultEnv
}

// NewMemEnv creates a fresh, empty in-memory environment. Files written to it never reach the disk and are
// gone once the Env is no longer referenced.
func NewMemEnv() *Env {
	return &Env{fs: vfs.NewMem(), inMemory: true}
}

// NewEnv wraps an existing filesystem.
func NewEnv(fs vfs.FS) *Env {
	return &Env{fs: fs}
}

func (e *Env) FS() vfs.FS {
	return e.fs
}

func (e *Env) InMemory() bool {
	return e.inMemory
}

// NewWritableFile creates path, and any missing parent directories, truncating an existing file.
func (e *Env) NewWritableFile(path string) (vfs.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := e.fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error in MkdirAll: %w", err)
		}
	}
	f, err := e.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error in Create: %w", err)
	}
	return f, nil
}

func (e *Env) NewSequentialFile(path string) (SequentialFile, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error in Open: %w", err)
	}
	return f, nil
}

// NewRandomAccessFile opens path for positional reads and returns its size.
func (e *Env) NewRandomAccessFile(path string) (vfs.File, int64, error) {
	info, err := e.fs.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("error in Stat: %w", err)
	}
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("error in Open: %w", err)
	}
	return f, info.Size(), nil
}

func (e *Env) FileExists(path string) bool {
	_, err := e.fs.Stat(path)
	return err == nil
}

// DeleteFile removes path, a missing file is not an error.
func (e *Env) DeleteFile(path string) error {
	if err := e.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error in Remove: %w", err)
	}
	return nil
}
