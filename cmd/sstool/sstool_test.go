package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes one command. Flags keep their values between runs, so callers pass every flag they rely on.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(out)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeArgs(out string, extra ...string) []string {
	return append([]string{"write", "--out=" + out, "--db=", "--cf=default", "--compression=", "--in-memory=false", "--sink="}, extra...)
}

func dumpArgs(files ...string) []string {
	return append([]string{"dump", "--key=", "--reverse=false"}, files...)
}

func TestWriteVerifyDump(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "older.sst")
	newer := filepath.Join(dir, "newer.sst")

	out, err := runCLI(t, "a\t1\nb\t2\nc\t3\n", writeArgs(older, "--compression=zstd")...)
	require.NoError(t, err)
	assert.Contains(t, out, "entries=3")
	assert.Contains(t, out, "compression=zstd")

	out, err = runCLI(t, "b\ttwo\nc\n", writeArgs(newer)...)
	require.NoError(t, err)
	assert.Contains(t, out, "compression=snappy")

	out, err = runCLI(t, "", "verify", older, newer)
	require.NoError(t, err)
	assert.Contains(t, out, "entries=2 deletions=1")

	out, err = runCLI(t, "", dumpArgs(newer)...)
	require.NoError(t, err)
	assert.Equal(t, "\"b\"\t\"two\"\n\"c\" DELETE\n", out)

	out, err = runCLI(t, "", dumpArgs(older, newer)...)
	require.NoError(t, err)
	assert.Equal(t, "\"a\"\t\"1\"\n\"b\"\t\"two\"\n", out)

	_, err = runCLI(t, "b\t1\na\t2\n", writeArgs(filepath.Join(dir, "unsorted.sst"))...)
	assert.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "unsorted.sst"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteInMemoryToSink(t *testing.T) {
	dir := t.TempDir()
	sinkDir := filepath.Join(dir, "sink")

	out, err := runCLI(t, "k\tv\n", writeArgs("/mem.sst", "--in-memory", "--sink="+sinkDir)...)
	require.NoError(t, err)
	assert.Contains(t, out, "entries=1")
	_, err = os.Stat("/mem.sst")
	assert.ErrorIs(t, err, os.ErrNotExist)

	out, err = runCLI(t, "", "verify", filepath.Join(sinkDir, "mem.sst"))
	require.NoError(t, err)
	assert.Contains(t, out, "ok entries=1")

	_, err = runCLI(t, "k\tv\n", writeArgs(filepath.Join(dir, "x.sst"), "--sink="+sinkDir)...)
	assert.Error(t, err)
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "load.sst")
	dbDir := filepath.Join(dir, "db")

	_, err := runCLI(t, "a\t1\nb\t2\n", writeArgs(file)...)
	require.NoError(t, err)
	_, err = runCLI(t, "", "ingest", "--db="+dbDir, "--cf=default", "--create-cf=false", file)
	require.NoError(t, err)

	db, err := engine.Open(dbDir, engine.DBOptions{})
	require.NoError(t, err)
	defer db.Close()
	h, _ := db.CFHandle(engine.DefaultColumnFamily)
	v, err := db.Get(h, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
}

func TestWriteMetrics(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "a\t1\n", writeArgs(filepath.Join(dir, "m.sst"), "--metrics")...)
	require.NoError(t, err)
	assert.Contains(t, out, "# TYPE sstkit_records_written_total counter")
	assert.Contains(t, out, "# TYPE sstkit_file_size_bytes histogram")
	assert.Contains(t, out, "sstkit_file_size_bytes_count")

	out, err = runCLI(t, "", "verify", "--metrics=false", filepath.Join(dir, "m.sst"))
	require.NoError(t, err)
	assert.NotContains(t, out, "# TYPE")
}
