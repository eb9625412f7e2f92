// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/lazytable"
)

var metadataFormat string

var metadataCmd = &cobra.Command{
	Use:     "metadata SOURCE...",
	Short:   "Print session and subject metadata, one row per file",
	Example: `  lakenwb metadata --format jsonl ./*.nwb s3://bucket/sessions/c.nwb.zarr`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runMetadata,
}

func init() {
	f := metadataCmd.Flags()
	f.StringVar(&scanArgs.onMissing, "on-missing", "", "raise or suppress failing sources")
	f.IntVar(&scanArgs.workers, "workers", 0, "concurrent sources (0 means GOMAXPROCS)")
	f.BoolVar(&scanArgs.sequential, "sequential", false, "read one source at a time")
	f.StringVar(&metadataFormat, "format", formatTable, "output format: table or jsonl")
	rootCmd.AddCommand(metadataCmd)
}

func runMetadata(cmd *cobra.Command, sources []string) error {
	if err := checkFormat(metadataFormat); err != nil {
		return err
	}
	ctx, done := handleSignals(cmd.Context())
	defer done()
	ctx, span := tracer.Start(ctx, "lakenwb.metadata", trace.WithAttributes(attribute.Int("sources", len(sources))))
	defer span.End()
	ctx = logctx.WithLogger(ctx, slog.Default().With(slog.String("command", "metadata")))

	cache, err := newCache()
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close file cache", slog.Any("error", err))
		}
	}()

	opts, err := collectOptions(cmd)
	if err != nil {
		return err
	}
	rec, errs, err := lazytable.Metadata(ctx, cache, sources, opts)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer rec.Release()
	for _, se := range errs {
		fmt.Fprintf(os.Stderr, "skipped %s\n", se)
	}
	return writeRecord(cmd.OutOrStdout(), rec, metadataFormat)
}
