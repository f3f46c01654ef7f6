package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/sink"
	"github.com/danthegoodman1/sstkit/sst"
	"github.com/danthegoodman1/sstkit/sstfile"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var writeFlags struct {
	out         string
	db          string
	cf          string
	compression string
	inMemory    bool
	sink        string
}

func init() {
	f := writeCmd.Flags()
	f.StringVar(&writeFlags.out, "out", "", "path of the sst file, a random name when writing in memory")
	f.StringVar(&writeFlags.db, "db", "", "database directory to inherit column family options from")
	f.StringVar(&writeFlags.cf, "cf", engine.DefaultColumnFamily, "column family to inherit options from")
	f.StringVar(&writeFlags.compression, "compression", "", "none, snappy, lz4 or zstd, the fastest supported if empty")
	f.BoolVar(&writeFlags.inMemory, "in-memory", false, "build the file in memory and stream it to --sink")
	f.StringVar(&writeFlags.sink, "sink", "", "destination for an in-memory file: a directory, file://dir or s3://bucket/prefix")
	rootCmd.AddCommand(writeCmd)
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "build an sst file from sorted records on stdin",
	Long: "Reads one record per line from stdin. A line of key<TAB>value is a put, a line with no tab deletes " +
		"the key. Keys must be in strictly increasing byte order.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return traced(cmd, func(ctx context.Context, span trace.Span) error {
			if writeFlags.sink != "" && !writeFlags.inMemory {
				return errors.New("--sink requires --in-memory")
			}
			if writeFlags.out == "" && !writeFlags.inMemory {
				return errors.New("--out is required unless writing in memory")
			}
			out := writeFlags.out
			if out == "" {
				out = "/" + uuid.NewString() + ".sst"
			}
			span.SetAttributes(attribute.String("path", out), attribute.Bool("in_memory", writeFlags.inMemory))

			builder := sstfile.NewSstWriterBuilder().SetInMemory(writeFlags.inMemory)
			if writeFlags.compression != "" {
				ct, err := sst.ParseCompressionType(writeFlags.compression)
				if err != nil {
					return err
				}
				builder = builder.SetCompressionType(&ct)
			}
			if writeFlags.db != "" {
				db, err := engine.Open(writeFlags.db, engine.DBOptions{})
				if err != nil {
					return err
				}
				defer db.Close()
				builder = builder.SetDB(db).SetCF(writeFlags.cf)
			}

			w, err := builder.Build(out)
			if err != nil {
				return err
			}
			if err := writeRecords(w, cmd.InOrStdin()); err != nil {
				w.Abandon()
				return err
			}

			info, err := finishWriter(ctx, w)
			if err != nil {
				return err
			}
			span.SetAttributes(attribute.Int64("entries", int64(info.NumEntries)), attribute.Int64("size", int64(info.FileSize)))
			fmt.Fprintf(cmd.OutOrStdout(), "%s entries=%d size=%d compression=%s\n",
				info.FilePath, info.NumEntries, info.FileSize, info.Compression)
			return nil
		})
	},
}

func writeRecords(w *sstfile.SstWriter, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	line := 0
	for scanner.Scan() {
		line++
		key, value, isPut := strings.Cut(scanner.Text(), "\t")
		var err error
		if isPut {
			err = w.Put([]byte(key), []byte(value))
		} else {
			err = w.Delete([]byte(key))
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func finishWriter(ctx context.Context, w *sstfile.SstWriter) (sstfile.SstFileInfo, error) {
	if writeFlags.sink == "" {
		if w.InMemory() {
			logger.Warn().Msg("in-memory sst file without --sink is discarded")
		}
		return w.Finish()
	}
	dst, err := sink.Open(ctx, writeFlags.sink)
	if err != nil {
		w.Abandon()
		return sstfile.SstFileInfo{}, err
	}
	info, stream, err := w.FinishRead()
	if err != nil {
		return sstfile.SstFileInfo{}, err
	}
	defer stream.Close()
	if err := dst.Put(ctx, path.Base(info.FilePath), stream, int64(info.FileSize)); err != nil {
		return sstfile.SstFileInfo{}, err
	}
	logger.Info().Str("sink", writeFlags.sink).Str("path", info.FilePath).Msg("streamed in-memory sst file")
	return info, nil
}
