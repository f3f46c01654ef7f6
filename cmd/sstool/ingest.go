package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/sstkit/engine"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ingestFlags struct {
	db       string
	cf       string
	createCF bool
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.db, "db", "", "database directory")
	f.StringVar(&ingestFlags.cf, "cf", engine.DefaultColumnFamily, "column family to load into")
	f.BoolVar(&ingestFlags.createCF, "create-cf", false, "create the column family if it does not exist")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "bulk load sst files into a database column family",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return traced(cmd, func(ctx context.Context, span trace.Span) error {
			if ingestFlags.db == "" {
				return errors.New("--db is required")
			}
			span.SetAttributes(attribute.String("db", ingestFlags.db), attribute.String("cf", ingestFlags.cf))

			db, err := engine.Open(ingestFlags.db, engine.DBOptions{})
			if err != nil {
				return err
			}
			defer db.Close()

			h, ok := db.CFHandle(ingestFlags.cf)
			if !ok && !ingestFlags.createCF {
				return fmt.Errorf("column family %q not found", ingestFlags.cf)
			}
			if !ok {
				if h, err = db.CreateColumnFamily(ingestFlags.cf, engine.NewColumnFamilyOptions()); err != nil {
					return err
				}
			}
			if err := db.IngestExternalFile(h, args); err != nil {
				return err
			}
			logger.Info().Str("cf", ingestFlags.cf).Int("files", len(args)).Msg("ingested sst files")
			return nil
		})
	},
}
