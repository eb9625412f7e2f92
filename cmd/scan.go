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
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/lazytable"
	"github.com/cardinalhq/lakenwb/nwberr"
	"github.com/cardinalhq/lakenwb/predicate"
)

type scanFlags struct {
	table      string
	filter     string
	columns    []string
	limit      int64
	onMissing  string
	workers    int
	sequential bool
	arrays     bool
	strict     bool
	resolve    []string
	schemaFile string
	format     string
}

var scanArgs scanFlags

var scanCmd = &cobra.Command{
	Use:   "scan SOURCE...",
	Short: "Filter and read one table across many files",
	Example: `  lakenwb scan --table units --filter 'location == "CA1" and amp > 2' a.nwb s3://bucket/b.nwb.zarr
  lakenwb scan --table units --select id,spike_times --arrays --format jsonl ./*.nwb`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&scanArgs.table, "table", "t", "", "table path or name, e.g. /units or units")
	f.StringVarP(&scanArgs.filter, "filter", "f", "", "row predicate, e.g. 'amp > 2 and location == \"CA1\"'")
	f.StringSliceVarP(&scanArgs.columns, "select", "s", nil, "columns to read, comma separated")
	f.Int64VarP(&scanArgs.limit, "limit", "n", -1, "stop after this many rows")
	f.StringVar(&scanArgs.onMissing, "on-missing", "", "raise or suppress failing sources")
	f.IntVar(&scanArgs.workers, "workers", 0, "concurrent sources (0 means GOMAXPROCS)")
	f.BoolVar(&scanArgs.sequential, "sequential", false, "read one source at a time")
	f.BoolVar(&scanArgs.arrays, "arrays", false, "include ragged and fixed array columns by default")
	f.BoolVar(&scanArgs.strict, "strict", false, "fail sources that lack a filtered column")
	f.StringSliceVar(&scanArgs.resolve, "resolve", nil, "reference columns to resolve to their target rows")
	f.StringVar(&scanArgs.schemaFile, "schema-file", "", "YAML file of column type overrides")
	f.StringVar(&scanArgs.format, "format", formatTable, "output format: table or jsonl")
	_ = scanCmd.MarkFlagRequired("table")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, sources []string) error {
	if err := checkFormat(scanArgs.format); err != nil {
		return err
	}
	ctx, done := handleSignals(cmd.Context())
	defer done()

	ctx, span := tracer.Start(ctx, "lakenwb.scan", trace.WithAttributes(
		attribute.String("table", scanArgs.table),
		attribute.Int("sources", len(sources)),
	))
	defer span.End()
	ctx = logctx.WithLogger(ctx, slog.Default().With(slog.String("command", "scan")))

	cache, err := newCache()
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close file cache", slog.Any("error", err))
		}
	}()

	lt, err := buildScan(ctx, cmd, cache, sources)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return err
	}

	opts, err := collectOptions(cmd)
	if err != nil {
		return err
	}

	start := time.Now()
	rec, errs, err := lt.Collect(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collect failed")
		return err
	}
	defer rec.Release()

	for _, se := range errs {
		fmt.Fprintf(os.Stderr, "skipped %s\n", se)
	}
	if err := writeRecord(cmd.OutOrStdout(), rec, scanArgs.format); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d rows from %d sources (%d skipped) in %s\n",
		rec.NumRows(), len(sources), len(errs), time.Since(start).Round(time.Millisecond))
	return nil
}

func buildScan(ctx context.Context, cmd *cobra.Command, cache *lazytable.Cache, sources []string) (*lazytable.LazyTable, error) {
	strict := cfg.Query.Strict
	if cmd.Flags().Changed("strict") {
		strict = scanArgs.strict
	}
	opts := []lazytable.ScanOption{
		lazytable.WithStrict(strict),
		lazytable.WithInferWorkers(workersFlag(cmd)),
	}
	if scanArgs.schemaFile != "" {
		ov, err := lazytable.LoadSchemaOverrides(scanArgs.schemaFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lazytable.WithOverrides(ov))
	}

	lt, err := lazytable.Scan(ctx, cache, sources, scanArgs.table, opts...)
	if err != nil {
		return nil, err
	}
	if scanArgs.filter != "" {
		p, err := predicate.Parse(scanArgs.filter)
		if err != nil {
			return nil, fmt.Errorf("--filter: %w", err)
		}
		lt = lt.Filter(p)
	}
	if len(scanArgs.columns) > 0 {
		lt = lt.Select(scanArgs.columns...)
	}
	if scanArgs.limit >= 0 {
		lt = lt.Limit(scanArgs.limit)
	}
	return lt, nil
}

// collectOptions starts from the configured defaults and applies the
// flags that were set explicitly.
func collectOptions(cmd *cobra.Command) (lazytable.CollectOptions, error) {
	opts := cfg.CollectOptions()
	flags := cmd.Flags()
	if flags.Changed("on-missing") {
		m, err := nwberr.ParseOnMissing(scanArgs.onMissing)
		if err != nil {
			return opts, err
		}
		opts.OnMissing = m
	}
	opts.MaxWorkers = workersFlag(cmd)
	if flags.Changed("sequential") {
		opts.Sequential = scanArgs.sequential
	}
	if flags.Changed("arrays") {
		opts.IncludeArrayColumns = scanArgs.arrays
	}
	opts.Resolve = scanArgs.resolve
	return opts, nil
}

func workersFlag(cmd *cobra.Command) int {
	if cmd.Flags().Changed("workers") {
		return scanArgs.workers
	}
	return cfg.Query.Workers
}
