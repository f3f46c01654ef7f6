package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/danthegoodman1/sstkit/snapshot_reader"
	"github.com/danthegoodman1/sstkit/sst"
	"github.com/danthegoodman1/sstkit/sstfile"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var dumpFlags struct {
	key     string
	reverse bool
}

func init() {
	dumpCmd.Flags().StringVar(&dumpFlags.key, "key", "", "only look up this key")
	dumpCmd.Flags().BoolVar(&dumpFlags.reverse, "reverse", false, "print in descending key order, merged view only")
	rootCmd.AddCommand(dumpCmd)
}

var dumpCmd = &cobra.Command{
	Use:   "dump FILE...",
	Short: "print the records of sst files",
	Long: "With one file every record is printed, tombstones included. With several files they are merged, later " +
		"files shadowing earlier ones, and only live records are printed.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return traced(cmd, func(ctx context.Context, span trace.Span) error {
			span.SetAttributes(attribute.StringSlice("files", args))
			if len(args) == 1 && !dumpFlags.reverse {
				return dumpFile(cmd.OutOrStdout(), args[0])
			}
			return dumpMerged(cmd.OutOrStdout(), args)
		})
	},
}

func printRow(w io.Writer, key, value []byte, deleted bool) {
	if deleted {
		fmt.Fprintf(w, "%q DELETE\n", key)
		return
	}
	fmt.Fprintf(w, "%q\t%q\n", key, value)
}

func dumpFile(w io.Writer, path string) error {
	r, err := sstfile.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if dumpFlags.key != "" {
		row, err := r.Get([]byte(dumpFlags.key))
		if err != nil {
			return err
		}
		printRow(w, row.Key, row.Value, row.Deleted)
		return nil
	}

	it := r.Iter()
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		printRow(w, it.Key(), it.Value(), it.IsDeletion())
	}
	return it.Error()
}

// newFileSnapshot reads files as one merged view, the last file being the newest.
func newFileSnapshot(paths []string) (*snapshot_reader.Reader, error) {
	env := engine.DefaultEnv()
	reader := snapshot_reader.NewReader(func(record snapshot_reader.SegmentRecord) (*sst.SegmentReader, io.Closer, error) {
		f, size, err := env.NewRandomAccessFile(record.ID)
		if err != nil {
			return nil, nil, err
		}
		return sst.NewSegmentReader(f, size, sst.DefaultSegmentReaderOptions()), f, nil
	})

	var records []snapshot_reader.SegmentRecord
	for i, path := range paths {
		record, err := reader.LoadRecord(path, len(paths)-1-i)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", path, err)
		}
		records = append(records, record)
	}
	reader.UpdateSegments(records, nil)
	return reader, nil
}

func dumpMerged(w io.Writer, paths []string) error {
	reader, err := newFileSnapshot(paths)
	if err != nil {
		return err
	}

	if dumpFlags.key != "" {
		value, err := reader.GetRow([]byte(dumpFlags.key))
		if err != nil {
			return err
		}
		printRow(w, []byte(dumpFlags.key), value, false)
		return nil
	}

	direction := snapshot_reader.DirectionForward
	if dumpFlags.reverse {
		direction = snapshot_reader.DirectionReverse
	}
	iter, err := reader.RowIter(direction)
	if err != nil {
		return err
	}
	defer iter.Close()
	for {
		row, err := iter.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		printRow(w, row.Key, row.Value, false)
	}
}
