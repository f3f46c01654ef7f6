package main

import (
	"context"
	"fmt"
	"io"

	"github.com/danthegoodman1/sstkit/metrics"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	shutdownTracer func(context.Context) error
	printMetrics   bool
)

var rootCmd = &cobra.Command{
	Use:           "sstool",
	Short:         "build, inspect and ingest sst files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		shutdown, err := initTracer(cmd.Context())
		if err != nil {
			return err
		}
		shutdownTracer = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if printMetrics {
			if err := writeMetrics(cmd.OutOrStdout(), metrics.DefaultRegistry()); err != nil {
				return err
			}
		}
		if shutdownTracer != nil {
			return shutdownTracer(cmd.Context())
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printMetrics, "metrics", false, "print collected metrics after the command")
}

// traced runs fn inside a span named after the command.
func traced(cmd *cobra.Command, fn func(ctx context.Context, span trace.Span) error) error {
	ctx, span := tracer.Start(cmd.Context(), cmd.Name())
	defer span.End()
	if err := fn(ctx, span); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// writeMetrics renders the registry in the prometheus text exposition format.
func writeMetrics(w io.Writer, r *metrics.Registry) error {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return fmt.Errorf("error in Gather: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("error in MetricFamilyToText: %w", err)
		}
	}
	return nil
}
