package sstfile

import "errors"

var (
	// ErrColumnFamilyNotFound means the source database has no column family with the requested name.
	ErrColumnFamilyNotFound = errors.New("column family not found")
	// ErrUnsupportedCompression means the requested codec is not in the engine's supported set.
	ErrUnsupportedCompression = errors.New("compression type not supported by the engine")
	// ErrEngine wraps failures reported by the storage engine: open, append and finish I/O, malformed files.
	ErrEngine = errors.New("engine error")
	// ErrMissingEnvironment means FinishRead was called on a writer that does not own its environment.
	ErrMissingEnvironment = errors.New("writer has no owned environment to read back from")
	// ErrInvalidPath means a finished file path is not usable as an engine path.
	ErrInvalidPath = errors.New("invalid sst file path")
	// ErrChecksumMismatch means a file failed checksum verification.
	ErrChecksumMismatch = errors.New("sst checksum mismatch")
	// ErrWriterFinished is returned by every SstWriter method after Finish or FinishRead.
	ErrWriterFinished = errors.New("sst writer already finished")
)
