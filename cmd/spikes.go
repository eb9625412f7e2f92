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
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/lazytable"
	"github.com/cardinalhq/lakenwb/predicate"
)

type spikeFlags struct {
	filter         string
	intervals      string
	intervalFilter string
	windows        []string
	observed       bool
	counts         bool
	format         string
}

var spikeArgs spikeFlags

var spikesCmd = &cobra.Command{
	Use:   "spikes SOURCE...",
	Short: "Spike times of selected units within the rows of an intervals table",
	Example: `  lakenwb spikes --filter 'location == "CA1"' --observed ./*.nwb
  lakenwb spikes --counts --window response=stim_time-0.1:stim_time+0.5 a.nwb`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSpikes,
}

func init() {
	f := spikesCmd.Flags()
	f.StringVarP(&spikeArgs.filter, "filter", "f", "", "units predicate")
	f.StringVar(&spikeArgs.intervals, "intervals", lazytable.DefaultIntervalsTable, "intervals table path or name")
	f.StringVar(&spikeArgs.intervalFilter, "interval-filter", "", "intervals predicate")
	f.StringArrayVar(&spikeArgs.windows, "window", nil, "NAME=START[+-OFFSET]:STOP[+-OFFSET], repeatable")
	f.BoolVar(&spikeArgs.observed, "observed", false, "null windows outside each unit's obs_intervals")
	f.BoolVar(&spikeArgs.counts, "counts", false, "report spike counts instead of times")
	f.StringVar(&scanArgs.onMissing, "on-missing", "", "raise or suppress failing sources")
	f.IntVar(&scanArgs.workers, "workers", 0, "concurrent sources (0 means GOMAXPROCS)")
	f.BoolVar(&scanArgs.sequential, "sequential", false, "read one source at a time")
	f.StringVar(&spikeArgs.format, "format", formatTable, "output format: table or jsonl")
	rootCmd.AddCommand(spikesCmd)
}

// parseWindow reads NAME=START[+-OFFSET]:STOP[+-OFFSET].
func parseWindow(s string) (lazytable.SpikeWindow, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok {
		return lazytable.SpikeWindow{}, fmt.Errorf("window %q: want NAME=START:STOP", s)
	}
	from, to, ok := strings.Cut(rest, ":")
	if !ok {
		return lazytable.SpikeWindow{}, fmt.Errorf("window %q: want NAME=START:STOP", s)
	}
	w := lazytable.SpikeWindow{Name: name}
	var err error
	if w.Start, w.StartOffset, err = parseBound(from); err != nil {
		return w, fmt.Errorf("window %q: %w", s, err)
	}
	if w.Stop, w.StopOffset, err = parseBound(to); err != nil {
		return w, fmt.Errorf("window %q: %w", s, err)
	}
	return w, nil
}

func parseBound(s string) (string, float64, error) {
	i := strings.LastIndexAny(s, "+-")
	if i <= 0 {
		return s, 0, nil
	}
	off, err := strconv.ParseFloat(s[i:], 64)
	if err != nil {
		return "", 0, fmt.Errorf("offset %q: %w", s[i:], err)
	}
	return s[:i], off, nil
}

func runSpikes(cmd *cobra.Command, sources []string) error {
	if err := checkFormat(spikeArgs.format); err != nil {
		return err
	}
	opts := lazytable.SpikeOptions{
		Intervals:     spikeArgs.intervals,
		ApplyObserved: spikeArgs.observed,
		Counts:        spikeArgs.counts,
	}
	for _, s := range spikeArgs.windows {
		w, err := parseWindow(s)
		if err != nil {
			return err
		}
		opts.Windows = append(opts.Windows, w)
	}
	if spikeArgs.intervalFilter != "" {
		p, err := predicate.Parse(spikeArgs.intervalFilter)
		if err != nil {
			return fmt.Errorf("--interval-filter: %w", err)
		}
		opts.IntervalFilter = p
	}

	ctx, done := handleSignals(cmd.Context())
	defer done()
	ctx, span := tracer.Start(ctx, "lakenwb.spikes", trace.WithAttributes(attribute.Int("sources", len(sources))))
	defer span.End()
	ctx = logctx.WithLogger(ctx, slog.Default().With(slog.String("command", "spikes")))

	cache, err := newCache()
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close file cache", slog.Any("error", err))
		}
	}()

	units, err := lazytable.Scan(ctx, cache, sources, "units", lazytable.WithInferWorkers(workersFlag(cmd)))
	if err != nil {
		return err
	}
	if spikeArgs.filter != "" {
		p, err := predicate.Parse(spikeArgs.filter)
		if err != nil {
			return fmt.Errorf("--filter: %w", err)
		}
		units = units.Filter(p)
	}
	if opts.Collect, err = collectOptions(cmd); err != nil {
		return err
	}
	rec, errs, err := lazytable.SpikeTimesInIntervals(ctx, units, opts)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer rec.Release()
	for _, se := range errs {
		fmt.Fprintf(os.Stderr, "skipped %s\n", se)
	}
	return writeRecord(cmd.OutOrStdout(), rec, spikeArgs.format)
}
