package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/danthegoodman1/sstkit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSink(t *testing.T) {
	env := engine.NewMemEnv()
	s := NewLocalSink(env, "/out")
	data := bytes.Repeat([]byte("sst"), 1000)

	require.NoError(t, s.Put(context.Background(), "a.sst", bytes.NewReader(data), int64(len(data))))
	f, err := env.NewSequentialFile("/out/a.sst")
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	err = s.Put(context.Background(), "short.sst", bytes.NewReader(data[:10]), int64(len(data)))
	assert.ErrorIs(t, err, ErrShortCopy)
	assert.False(t, env.FileExists("/out/short.sst"))
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{}
	s := NewS3SinkWithClient(client, "bucket", "ingest/2026")
	data := []byte("finished file")

	require.NoError(t, s.Put(context.Background(), "a.sst", bytes.NewReader(data), int64(len(data))))
	assert.Equal(t, "bucket", aws.ToString(client.input.Bucket))
	assert.Equal(t, "ingest/2026/a.sst", aws.ToString(client.input.Key))
	assert.EqualValues(t, len(data), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, data, client.body)

	client.err = errors.New("access denied")
	err := s.Put(context.Background(), "b.sst", bytes.NewReader(data), int64(len(data)))
	assert.ErrorContains(t, err, "s3://bucket/ingest/2026/b.sst")

	assert.Equal(t, "b.sst", NewS3SinkWithClient(client, "bucket", "").key("b.sst"))
}

func TestOpenLocal(t *testing.T) {
	dir := t.TempDir()
	for _, location := range []string{dir, "file://" + dir} {
		s, err := Open(context.Background(), location)
		require.NoError(t, err)
		require.IsType(t, &LocalSink{}, s)
		require.NoError(t, s.Put(context.Background(), "x.sst", bytes.NewReader([]byte("x")), 1))
		_, err = os.Stat(filepath.Join(dir, "x.sst"))
		require.NoError(t, err)
	}

	_, err := Open(context.Background(), "ftp://host/dir")
	assert.ErrorIs(t, err, ErrUnsupportedSink)
}
