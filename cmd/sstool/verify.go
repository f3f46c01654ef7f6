package main

import (
	"context"
	"fmt"

	"github.com/danthegoodman1/sstkit/sstfile"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "check the checksums of sst files and print their properties",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return traced(cmd, func(ctx context.Context, span trace.Span) error {
			failed := 0
			for _, path := range args {
				if err := verifyFile(cmd, path); err != nil {
					logger.Error().Err(err).Str("path", path).Msg("verification failed")
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed verification", failed, len(args))
			}
			return nil
		})
	},
}

func verifyFile(cmd *cobra.Command, path string) error {
	r, err := sstfile.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.VerifyChecksum(); err != nil {
		return err
	}
	props, err := r.Properties()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ok entries=%d deletions=%d blocks=%d size=%d compression=%s range=[%q, %q]\n",
		path, props.NumEntries, props.NumDeletions, props.NumDataBlocks, props.FileSize, props.Compression,
		props.SmallestKey, props.LargestKey)
	return nil
}
