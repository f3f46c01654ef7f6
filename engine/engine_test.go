package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/danthegoodman1/sstkit/sst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, opts ColumnFamilyOptions, path string, rows int) ExternalSstFileInfo {
	t.Helper()
	w := NewSstFileWriter(DefaultEnvOptions(), opts)
	require.NoError(t, w.Open(path))
	for i := 0; i < rows; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		if i%10 == 9 {
			require.NoError(t, w.Delete(key))
			continue
		}
		require.NoError(t, w.Put(key, []byte(fmt.Sprintf("v%d", i))))
	}
	info, err := w.Finish()
	require.NoError(t, err)
	return info
}

func TestExternalFileCompression(t *testing.T) {
	opts := NewColumnFamilyOptions()
	opts.Compression = sst.CompressionNone
	assert.Equal(t, sst.CompressionNone, opts.ExternalFileCompression())

	opts.CompressionPerLevel = []sst.CompressionType{sst.CompressionNone, sst.CompressionSnappy, sst.CompressionZstd}
	assert.Equal(t, sst.CompressionZstd, opts.ExternalFileCompression())

	opts.BottommostCompression = sst.CompressionSnappy
	assert.Equal(t, sst.CompressionSnappy, opts.ExternalFileCompression())
}

func TestOptionsClone(t *testing.T) {
	opts := NewColumnFamilyOptions()
	opts.CompressionPerLevel = []sst.CompressionType{sst.CompressionZstd}
	c := opts.Clone()
	c.CompressionPerLevel[0] = sst.CompressionNone
	assert.Equal(t, sst.CompressionZstd, opts.CompressionPerLevel[0])
}

func TestMemEnvDoesNotTouchDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.sst")
	opts := NewColumnFamilyOptions()
	opts.SetEnv(NewMemEnv())

	info := writeFile(t, opts, path, 100)
	assert.EqualValues(t, 100, info.NumEntries)
	assert.True(t, opts.Env.FileExists(path))
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	f, err := opts.Env.NewSequentialFile(path)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.EqualValues(t, info.FileSize, len(b))
}

func TestWriterReaderRoundTrip(t *testing.T) {
	for _, ct := range SupportedCompression() {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.sst")
			opts := NewColumnFamilyOptions()
			opts.Compression = ct
			opts.BlockSize = 512

			info := writeFile(t, opts, path, 1000)
			assert.Equal(t, path, info.FilePath)
			assert.Equal(t, ct, info.Compression)
			assert.Equal(t, "k00000", string(info.SmallestKey))
			assert.Equal(t, "k00999", string(info.LargestKey))
			stat, err := os.Stat(path)
			require.NoError(t, err)
			assert.EqualValues(t, info.FileSize, stat.Size())

			r := NewSstFileReader(NewColumnFamilyOptions())
			require.NoError(t, r.Open(path))
			defer r.Close()
			require.NoError(t, r.VerifyChecksum())

			props, err := r.Properties()
			require.NoError(t, err)
			assert.EqualValues(t, 1000, props.NumEntries)
			assert.EqualValues(t, 100, props.NumDeletions)
			assert.Equal(t, ct, props.Compression)
			assert.Greater(t, props.NumDataBlocks, uint64(1))

			it := r.NewIterator()
			i := 0
			for it.First(); it.Valid(); it.Next() {
				assert.Equal(t, fmt.Sprintf("k%05d", i), string(it.Key()))
				if i%10 == 9 {
					assert.True(t, it.IsDeletion())
				} else {
					assert.Equal(t, fmt.Sprintf("v%d", i), string(it.Value()))
				}
				i++
			}
			require.NoError(t, it.Error())
			assert.Equal(t, 1000, i)

			// restartable
			require.True(t, it.First())
			assert.Equal(t, "k00000", string(it.Key()))

			row, err := r.Get([]byte("k00500"))
			require.NoError(t, err)
			assert.Equal(t, "v500", string(row.Value))
			_, err = r.Get([]byte("nope"))
			assert.ErrorIs(t, err, sst.ErrNoRows)
		})
	}
}

func TestWriterErrors(t *testing.T) {
	dir := t.TempDir()
	w := NewSstFileWriter(DefaultEnvOptions(), NewColumnFamilyOptions())
	assert.ErrorIs(t, w.Put([]byte("a"), nil), ErrWriterNotOpen)

	path := filepath.Join(dir, "empty.sst")
	require.NoError(t, w.Open(path))
	_, err := w.Finish()
	assert.ErrorIs(t, err, ErrNoEntries)
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path = filepath.Join(dir, "order.sst")
	w = NewSstFileWriter(DefaultEnvOptions(), NewColumnFamilyOptions())
	require.NoError(t, w.Open(path))
	require.NoError(t, w.Put([]byte("b"), []byte("1")))
	assert.ErrorIs(t, w.Put([]byte("a"), []byte("2")), sst.ErrOutOfOrder)
	require.NoError(t, w.Abandon())
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	opts := NewColumnFamilyOptions()
	opts.Compression = sst.CompressionLZ4
	w = NewSstFileWriter(DefaultEnvOptions(), opts)
	assert.ErrorIs(t, w.Open(filepath.Join(dir, "lz4.sst")), sst.ErrUnsupportedCompression)
	_, err = os.Stat(filepath.Join(dir, "lz4.sst"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

var errCloseFailed = errors.New("close failed")

// failingCloseFS hands out files whose Close reports an error after closing.
type failingCloseFS struct {
	vfs.FS
}

func (fs failingCloseFS) Create(name string) (vfs.File, error) {
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return failingCloseFile{f}, nil
}

type failingCloseFile struct {
	vfs.File
}

func (f failingCloseFile) Close() error {
	if err := f.File.Close(); err != nil {
		return err
	}
	return errCloseFailed
}

func TestFinishRemovesFileWhenCloseFails(t *testing.T) {
	env := NewEnv(failingCloseFS{FS: vfs.NewMem()})
	opts := NewColumnFamilyOptions()
	opts.SetEnv(env)

	w := NewSstFileWriter(DefaultEnvOptions(), opts)
	require.NoError(t, w.Open("/out/a.sst"))
	require.NoError(t, w.Put([]byte("a"), []byte("1")))
	_, err := w.Finish()
	assert.ErrorIs(t, err, errCloseFailed)
	assert.False(t, env.FileExists("/out/a.sst"))
}

func TestReaderMissingFile(t *testing.T) {
	r := NewSstFileReader(NewColumnFamilyOptions())
	assert.Error(t, r.Open(filepath.Join(t.TempDir(), "missing.sst")))
	assert.ErrorIs(t, r.VerifyChecksum(), ErrReaderNotOpen)
}

func openMemDB(t *testing.T, cfs map[string]ColumnFamilyOptions) *DB {
	t.Helper()
	db, err := Open("/db", DBOptions{Env: NewMemEnv(), ColumnFamilies: cfs})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBColumnFamilies(t *testing.T) {
	writeOpts := NewColumnFamilyOptions()
	writeOpts.Compression = sst.CompressionZstd
	db := openMemDB(t, map[string]ColumnFamilyOptions{"write": writeOpts})

	def, ok := db.CFHandle(DefaultColumnFamily)
	require.True(t, ok)
	write, ok := db.CFHandle("write")
	require.True(t, ok)
	_, ok = db.CFHandle("lock")
	assert.False(t, ok)

	assert.Equal(t, sst.CompressionZstd, db.OptionsCF(write).Compression)
	assert.Same(t, db.Env(), db.OptionsCF(write).Env)

	require.NoError(t, db.Put(def, []byte("k"), []byte("default")))
	require.NoError(t, db.Put(write, []byte("k"), []byte("write")))
	v, err := db.Get(def, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "default", string(v))
	v, err = db.Get(write, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "write", string(v))

	require.NoError(t, db.Delete(write, []byte("k")))
	_, err = db.Get(write, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.CreateColumnFamily("write", NewColumnFamilyOptions())
	assert.ErrorIs(t, err, ErrColumnFamilyExists)
	lock, err := db.CreateColumnFamily("lock", NewColumnFamilyOptions())
	require.NoError(t, err)
	found, ok := db.CFHandle("lock")
	require.True(t, ok)
	assert.Same(t, lock, found)

	assert.ErrorIs(t, db.Put(&ColumnFamilyHandle{name: "lock"}, []byte("k"), nil), ErrInvalidColumnFamily)
}

func TestDBIngestExternalFile(t *testing.T) {
	db := openMemDB(t, nil)
	def, _ := db.CFHandle(DefaultColumnFamily)
	require.NoError(t, db.Put(def, []byte("k00009"), []byte("old")))

	opts := db.OptionsCF(def)
	info := writeFile(t, opts, "/ingest/one.sst", 20)
	require.NoError(t, db.IngestExternalFile(def, []string{info.FilePath}))

	v, err := db.Get(def, []byte("k00003"))
	require.NoError(t, err)
	assert.Equal(t, "v3", string(v))
	_, err = db.Get(def, []byte("k00009"))
	assert.ErrorIs(t, err, ErrNotFound, "tombstone should delete the existing key")

	assert.Error(t, db.IngestExternalFile(def, []string{"/ingest/missing.sst"}))
}
