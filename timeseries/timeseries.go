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

// Package timeseries reads NWB TimeSeries groups: a data array bound to a
// time axis that is either stored or generated from a sampling rate.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

const (
	dataName       = "data"
	timestampsName = "timestamps"
	startingName   = "starting_time"
)

var intervalNames = []string{"obs_intervals", "observed_intervals"}

// Interval is a closed span of time, in seconds.
type Interval struct {
	Start float64
	End   float64
}

// Contains reports whether t lies within the interval.
func (iv Interval) Contains(t float64) bool { return t >= iv.Start && t <= iv.End }

// Covers reports whether [start, stop] lies wholly inside one of intervals.
func Covers(intervals []Interval, start, stop float64) bool {
	for _, iv := range intervals {
		if iv.Start <= start && iv.End >= stop {
			return true
		}
	}
	return false
}

// TimeSeries is one series in one file. Arrays are read on demand through
// the handle it holds; Close returns the handle.
type TimeSeries struct {
	Source string
	Path   string

	Description    string
	Comments       string
	Unit           string
	Conversion     float64
	Offset         float64
	Resolution     float64
	TimestampsUnit string

	// Rate and StartingTime are set when the time axis is generated.
	Rate         float64
	StartingTime float64

	Data *Data
	// Windows holds the result of WithAlignTo.
	Windows []Window

	handle       *accessor.Handle
	hasStamps    bool
	length       int64
	intervals    []Interval
	observedOnly bool

	// axisMu guards axis, which is kept only once loaded successfully.
	axisMu sync.Mutex
	axis   axis
}

// Data is the lazily read data array of a series.
type Data struct {
	store backend.Store
	path  string
	// Shape is the stored shape; nil for a series without data.
	Shape []int64
	DType string
}

// Len is the number of samples along the first axis.
func (d *Data) Len() int64 {
	if len(d.Shape) == 0 {
		return 0
	}
	return d.Shape[0]
}

// Stride is the number of values per sample.
func (d *Data) Stride() int {
	n := 1
	for _, s := range d.Shape[min(1, len(d.Shape)):] {
		n *= int(s)
	}
	return n
}

// ReadRange reads samples [start, end) as row-major float64 values.
func (d *Data) ReadRange(ctx context.Context, start, end int64) ([]float64, error) {
	if d.Shape == nil {
		return nil, nil
	}
	start = max(start, 0)
	end = min(end, d.Len())
	if end <= start {
		return nil, nil
	}
	blk, err := d.store.ReadRange(ctx, d.path, start, end-start)
	if err != nil {
		return nil, err
	}
	return blk.Float64s()
}

// ReadAll reads every sample.
func (d *Data) ReadAll(ctx context.Context) ([]float64, error) {
	return d.ReadRange(ctx, 0, d.Len())
}

type config struct {
	events       []float64
	selector     Selector
	align        bool
	observedOnly bool
	intervals    []Interval
}

// Option configures Get.
type Option func(*config)

// WithAlignTo selects samples around each event time into TimeSeries.Windows.
func WithAlignTo(events []float64, sel Selector) Option {
	return func(c *config) {
		c.events = events
		c.selector = sel
		c.align = true
	}
}

// WithObservedOnly drops samples outside the series' observed intervals
// from alignment and from ObservedIndices.
func WithObservedOnly() Option {
	return func(c *config) { c.observedOnly = true }
}

// WithObservedIntervals supplies observed intervals in place of any stored
// with the series. It implies WithObservedOnly.
func WithObservedIntervals(iv []Interval) Option {
	return func(c *config) {
		c.intervals = iv
		c.observedOnly = true
	}
}

// Get opens the series at path in source. A trailing /data or /timestamps
// is accepted and dropped.
func Get(ctx context.Context, cache *accessor.Cache, source, path string, opts ...Option) (*TimeSeries, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	src, err := accessor.ParseSource(source)
	if err != nil {
		return nil, nwberr.Unavailable(source, err)
	}
	h, err := cache.Open(ctx, src)
	if err != nil {
		return nil, err
	}

	path = seriesPath(path)
	ts, err := load(ctx, h.Store(), src.Key(), path)
	if err != nil {
		h.Release()
		return nil, nwberr.Wrap(src.Key(), path, err)
	}
	ts.handle = h
	ts.observedOnly = cfg.observedOnly
	if cfg.intervals != nil {
		ts.intervals = cfg.intervals
	}

	if cfg.align {
		ts.Windows, err = ts.Align(ctx, cfg.events, cfg.selector)
		if err != nil {
			ts.Close()
			return nil, nwberr.Wrap(src.Key(), path, err)
		}
	}
	return ts, nil
}

func seriesPath(p string) string {
	p = backend.Clean(p)
	for _, suffix := range []string{"/" + dataName, "/" + timestampsName} {
		if trimmed, ok := strings.CutSuffix(p, suffix); ok {
			return backend.Clean(trimmed)
		}
	}
	return p
}

func load(ctx context.Context, store backend.Store, source, path string) (*TimeSeries, error) {
	ok, err := backend.Exists(ctx, store, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("series %s: %w", path, nwberr.ErrNotFound)
	}
	attrs, err := store.Attrs(ctx, path)
	if err != nil {
		return nil, err
	}

	ts := &TimeSeries{
		Source:     source,
		Path:       path,
		Conversion: 1,
		Resolution: -1,
	}
	ts.Description, _ = backend.AttrString(attrs, "description")
	ts.Comments, _ = backend.AttrString(attrs, "comments")
	ts.TimestampsUnit, _ = backend.AttrString(attrs, "timestamps_unit")

	ts.Data = &Data{store: store, path: backend.Join(path, dataName)}
	info, err := store.Info(ctx, ts.Data.path)
	switch {
	case err == nil:
		ts.Data.Shape, ts.Data.DType = info.Shape, info.DType
		dattrs, err := store.Attrs(ctx, ts.Data.path)
		if err != nil {
			return nil, err
		}
		if v, ok := backend.AttrFloat(dattrs, "conversion"); ok {
			ts.Conversion = v
		}
		if v, ok := backend.AttrFloat(dattrs, "offset"); ok {
			ts.Offset = v
		}
		if v, ok := backend.AttrFloat(dattrs, "resolution"); ok {
			ts.Resolution = v
		}
		ts.Unit, _ = backend.AttrString(dattrs, "unit")
	case errors.Is(err, nwberr.ErrNotFound):
		slog.Debug("Series has no data array", slog.String("source", source), slog.String("path", path))
	default:
		return nil, err
	}
	ts.length = ts.Data.Len()

	stamps, err := store.Info(ctx, backend.Join(path, timestampsName))
	switch {
	case err == nil:
		ts.hasStamps = true
		if ts.Data.Shape == nil {
			ts.length = stamps.Rows()
		} else if stamps.Rows() != ts.length {
			return nil, fmt.Errorf("series %s has %d timestamps for %d samples: %w",
				path, stamps.Rows(), ts.length, nwberr.ErrShapeMismatch)
		}
		sattrs, err := store.Attrs(ctx, backend.Join(path, timestampsName))
		if err != nil {
			return nil, err
		}
		if ts.TimestampsUnit == "" {
			ts.TimestampsUnit, _ = backend.AttrString(sattrs, "unit")
		}
	case errors.Is(err, nwberr.ErrNotFound):
		if err := loadRate(ctx, store, ts); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	for _, name := range intervalNames {
		iv, ok, err := readIntervals(ctx, store, backend.Join(path, name))
		if err != nil {
			return nil, err
		}
		if ok {
			ts.intervals = iv
			break
		}
	}
	return ts, nil
}

func loadRate(ctx context.Context, store backend.Store, ts *TimeSeries) error {
	p := backend.Join(ts.Path, startingName)
	blk, err := backend.ReadAll(ctx, store, p)
	if errors.Is(err, nwberr.ErrNotFound) {
		return fmt.Errorf("series %s has neither timestamps nor starting_time: %w", ts.Path, nwberr.ErrNotFound)
	}
	if err != nil {
		return err
	}
	vals, err := blk.Float64s()
	if err != nil || len(vals) == 0 {
		return fmt.Errorf("%s: unreadable starting time: %w", p, nwberr.ErrUnsupported)
	}
	attrs, err := store.Attrs(ctx, p)
	if err != nil {
		return err
	}
	rate, ok := backend.AttrFloat(attrs, "rate")
	if !ok || rate <= 0 {
		return fmt.Errorf("%s: missing or non-positive rate: %w", p, nwberr.ErrUnsupported)
	}
	ts.StartingTime, ts.Rate = vals[0], rate
	if u, ok := backend.AttrString(attrs, "unit"); ok && ts.TimestampsUnit == "" {
		ts.TimestampsUnit = u
	}
	return nil
}

func readIntervals(ctx context.Context, store backend.Store, p string) ([]Interval, bool, error) {
	info, err := store.Info(ctx, p)
	if errors.Is(err, nwberr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(info.Shape) != 2 || info.Shape[1] != 2 {
		return nil, false, fmt.Errorf("%s has shape %v, want (n, 2): %w", p, info.Shape, nwberr.ErrShapeMismatch)
	}
	blk, err := store.ReadRange(ctx, p, 0, info.Rows())
	if err != nil {
		return nil, false, err
	}
	vals, err := blk.Float64s()
	if err != nil {
		return nil, false, err
	}
	out := make([]Interval, 0, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		out = append(out, Interval{Start: vals[i], End: vals[i+1]})
	}
	return out, true, nil
}

// Close releases the file handle. The series is unusable afterwards.
func (ts *TimeSeries) Close() {
	if ts.handle != nil {
		ts.handle.Release()
	}
}

// Len is the number of samples, or of events for a series without data.
func (ts *TimeSeries) Len() int64 { return ts.length }

// HasData reports whether the series stores a data array.
func (ts *TimeSeries) HasData() bool { return ts.Data.Shape != nil }

// Generated reports whether timestamps come from the sampling rate.
func (ts *TimeSeries) Generated() bool { return !ts.hasStamps }

// ObservedIntervals are the valid-time intervals, stored or supplied.
func (ts *TimeSeries) ObservedIntervals() []Interval { return ts.intervals }

// Timestamps returns the stored timestamps unchanged, or start + i/rate
// for each sample.
func (ts *TimeSeries) Timestamps(ctx context.Context) ([]float64, error) {
	ax, err := ts.timeAxis(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]float64, ax.Len())
	for i := range out {
		out[i] = ax.At(int64(i))
	}
	return out, nil
}

// Scale applies the stored conversion and offset to raw data values.
func (ts *TimeSeries) Scale(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = v*ts.Conversion + ts.Offset
	}
	return out
}

func (ts *TimeSeries) timeAxis(ctx context.Context) (axis, error) {
	ts.axisMu.Lock()
	defer ts.axisMu.Unlock()
	if ts.axis != nil {
		return ts.axis, nil
	}
	if !ts.hasStamps {
		ts.axis = rateAxis{start: ts.StartingTime, rate: ts.Rate, n: ts.length}
		return ts.axis, nil
	}
	p := backend.Join(ts.Path, timestampsName)
	blk, err := backend.ReadAll(ctx, ts.Data.store, p)
	if err != nil {
		return nil, err
	}
	vals, err := blk.Float64s()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	ts.axis = stampAxis(vals)
	return ts.axis, nil
}
