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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakenwb/timeseries"
)

type timeseriesFlags struct {
	path         string
	align        []float64
	pre, post    float64
	observedOnly bool
	rows         int64
	format       string
}

var tsArgs timeseriesFlags

var timeseriesCmd = &cobra.Command{
	Use:   "timeseries SOURCE",
	Short: "List time series, or read one and align it to events",
	Long: `Without --path, lists the time series in SOURCE. With --path, prints the
series metadata and its first samples, or with --align the samples around
each event time. --align without --pre or --post picks the nearest sample.`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeseries,
}

func init() {
	f := timeseriesCmd.Flags()
	f.StringVarP(&tsArgs.path, "path", "p", "", "series path or unique name fragment")
	f.Float64SliceVar(&tsArgs.align, "align", nil, "event times in seconds, comma separated")
	f.Float64Var(&tsArgs.pre, "pre", 0, "seconds before each event")
	f.Float64Var(&tsArgs.post, "post", 0, "seconds after each event")
	f.BoolVar(&tsArgs.observedOnly, "observed-only", false, "keep only samples inside observed intervals")
	f.Int64VarP(&tsArgs.rows, "rows", "n", 20, "samples to print when not aligning")
	f.StringVar(&tsArgs.format, "format", formatTable, "output format: table or jsonl")

	rootCmd.AddCommand(timeseriesCmd)
}

func runTimeseries(cmd *cobra.Command, args []string) error {
	if err := checkFormat(tsArgs.format); err != nil {
		return err
	}
	ctx, done := handleSignals(cmd.Context())
	defer done()

	cache, err := newCache()
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close file cache", slog.Any("error", err))
		}
	}()

	out := cmd.OutOrStdout()
	source := args[0]
	if tsArgs.path == "" {
		paths, err := timeseries.List(ctx, cache, source)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	path, err := timeseries.Find(ctx, cache, source, tsArgs.path)
	if err != nil {
		return err
	}
	var opts []timeseries.Option
	if tsArgs.observedOnly {
		opts = append(opts, timeseries.WithObservedOnly())
	}
	if len(tsArgs.align) > 0 {
		sel := timeseries.Nearest
		if tsArgs.pre > 0 || tsArgs.post > 0 {
			sel = timeseries.Span(tsArgs.pre, tsArgs.post)
		}
		opts = append(opts, timeseries.WithAlignTo(tsArgs.align, sel))
	}
	ts, err := timeseries.Get(ctx, cache, source, path, opts...)
	if err != nil {
		return err
	}
	defer ts.Close()

	writeTable(out, []string{"field", "value"}, seriesMetadata(ts))
	fmt.Fprintln(out)

	if len(tsArgs.align) > 0 {
		rows := make([][]string, 0, len(ts.Windows))
		for _, w := range ts.Windows {
			first, last := "", ""
			if n := len(w.Times); n > 0 {
				first = strconv.FormatFloat(w.Times[0], 'g', -1, 64)
				last = strconv.FormatFloat(w.Times[n-1], 'g', -1, 64)
			}
			rows = append(rows, []string{
				strconv.FormatFloat(w.Event, 'g', -1, 64),
				strconv.Itoa(len(w.Indices)), first, last,
			})
		}
		writeTable(out, []string{"event", "samples", "first", "last"}, rows)
		return nil
	}

	rec, err := ts.Record(ctx, nil, 0, tsArgs.rows)
	if err != nil {
		return err
	}
	defer rec.Release()
	return writeRecord(out, rec, tsArgs.format)
}

func seriesMetadata(ts *timeseries.TimeSeries) [][]string {
	g := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	rows := [][]string{
		{"source", ts.Source},
		{"path", ts.Path},
		{"description", ts.Description},
		{"unit", ts.Unit},
		{"conversion", g(ts.Conversion)},
		{"offset", g(ts.Offset)},
		{"resolution", g(ts.Resolution)},
		{"samples", strconv.FormatInt(ts.Len(), 10)},
	}
	if ts.HasData() {
		rows = append(rows, []string{"data shape", fmt.Sprint(ts.Data.Shape)})
	}
	if ts.Generated() {
		rows = append(rows,
			[]string{"rate", g(ts.Rate)},
			[]string{"starting_time", g(ts.StartingTime)})
	}
	for _, iv := range ts.ObservedIntervals() {
		rows = append(rows, []string{"observed", fmt.Sprintf("[%g, %g]", iv.Start, iv.End)})
	}
	return rows
}
