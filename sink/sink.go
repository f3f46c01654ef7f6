package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/gologger"
)

var logger = gologger.NewLogger()

var (
	ErrShortCopy       = errors.New("stream ended before the declared size")
	ErrUnsupportedSink = errors.New("unsupported sink")
)

// Sink is a destination for a finished file that is only available as a stream, such as the one returned by
// sstfile.SstWriter.FinishRead.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// Open parses a sink location: s3://bucket/prefix, file:///dir or a plain directory path.
func Open(ctx context.Context, location string) (Sink, error) {
	if !strings.Contains(location, "://") {
		return NewLocalSink(engine.DefaultEnv(), location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("error in url.Parse: %w", err)
	}
	switch u.Scheme {
	case "file":
		return NewLocalSink(engine.DefaultEnv(), u.Path), nil
	case "s3":
		return NewS3Sink(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSink, u.Scheme)
	}
}

// LocalSink copies streams into a directory of an engine environment.
type LocalSink struct {
	env *engine.Env
	dir string
}

func NewLocalSink(env *engine.Env, dir string) *LocalSink {
	return &LocalSink{env: env, dir: dir}
}

func (s *LocalSink) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	p := filepath.Join(s.dir, name)
	f, err := s.env.NewWritableFile(p)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if err == nil && n != size {
		err = fmt.Errorf("%w: copied %d of %d bytes", ErrShortCopy, n, size)
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.env.DeleteFile(p)
		return fmt.Errorf("error copying to %s: %w", p, err)
	}
	logger.Debug().Str("path", p).Int64("size", size).Msg("stored sst file")
	return nil
}

// PutObjectAPI is the part of *s3.Client an S3Sink uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads streams as objects under a key prefix.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Sink uses the default AWS credential chain and region resolution.
func NewS3Sink(ctx context.Context, bucket, prefix string) (*S3Sink, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("error in config.LoadDefaultConfig: %w", err)
	}
	return NewS3SinkWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func NewS3SinkWithClient(client PutObjectAPI, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Sink) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("error in PutObject s3://%s/%s: %w", s.bucket, key, err)
	}
	logger.Debug().Str("bucket", s.bucket).Str("key", key).Int64("size", size).Msg("uploaded sst file")
	return nil
}
