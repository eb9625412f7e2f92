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

package lazytable

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
	"github.com/cardinalhq/lakenwb/predicate"
	"github.com/cardinalhq/lakenwb/timeseries"
)

// Columns of SpikeTimesInIntervals and InsertIsObserved results.
const (
	ColUnitIndex     = "_table_index_units"
	ColIntervalIndex = "_table_index_intervals"
	ColIsObserved    = "is_observed"

	colSpikeTimes   = "spike_times"
	colObsIntervals = "obs_intervals"
	colStartTime    = "start_time"
	colStopTime     = "stop_time"
)

// DefaultIntervalsTable is the table SpikeTimesInIntervals reads windows
// from when none is named.
const DefaultIntervalsTable = "/intervals/trials"

// SpikeWindow is one window per interval row: from the value of column
// Start plus StartOffset to the value of column Stop plus StopOffset.
// Spikes at the window's end are excluded.
type SpikeWindow struct {
	Name        string
	Start       string
	Stop        string
	StartOffset float64
	StopOffset  float64
}

// SpikeOptions controls SpikeTimesInIntervals.
type SpikeOptions struct {
	// Intervals is the intervals table name or path in each file.
	Intervals string
	// IntervalFilter restricts the interval rows used.
	IntervalFilter predicate.Expr
	// Windows default to one "spike_times" window over start_time and
	// stop_time.
	Windows []SpikeWindow
	// ApplyObserved nulls the windows of intervals not wholly inside one
	// of the unit's obs_intervals.
	ApplyObserved bool
	// Counts returns spike counts rather than spike times.
	Counts bool
	// Collect applies to both the units and the intervals reads.
	Collect CollectOptions
}

func (o SpikeOptions) windows() []SpikeWindow {
	if len(o.Windows) > 0 {
		return o.Windows
	}
	return []SpikeWindow{{Name: colSpikeTimes, Start: colStartTime, Stop: colStopTime}}
}

func (o SpikeOptions) validate() error {
	seen := map[string]bool{}
	for _, w := range o.windows() {
		switch {
		case w.Name == "" || w.Start == "" || w.Stop == "":
			return fmt.Errorf("window %+v: name, start and stop are required", w)
		case schema.IsIdentity(w.Name) || w.Name == ColUnitIndex || w.Name == ColIntervalIndex || w.Name == ColIsObserved:
			return fmt.Errorf("window name %q is reserved", w.Name)
		case seen[w.Name]:
			return fmt.Errorf("duplicate window %q", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// SpikeTimesInIntervals pairs every selected unit with every row of its
// file's intervals table and returns the unit's spike times, or counts,
// within each window. Rows are ordered by unit, then interval. Source
// failures from either read are returned together.
func SpikeTimesInIntervals(ctx context.Context, units *LazyTable, opts SpikeOptions) (arrow.Record, nwberr.Errors, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	ctx, ll := logctx.With(ctx, slog.String("op", "spikeTimesInIntervals"))
	mem := opts.Collect.Mem
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	copts := opts.Collect
	copts.Resolve = nil
	copts.Mem = mem

	unitCols := []string{colSpikeTimes}
	if opts.ApplyObserved {
		unitCols = append(unitCols, colObsIntervals)
	}
	for _, c := range unitCols {
		if _, ok := units.Schema().Lookup(c); !ok {
			return nil, nil, fmt.Errorf("table %s has no %q column: %w", units.Table(), c, nwberr.ErrColumnMissing)
		}
	}
	unitRec, errs, err := units.Select(unitCols...).Collect(ctx, copts)
	if err != nil {
		return nil, nil, err
	}
	defer unitRec.Release()

	table := opts.Intervals
	if table == "" {
		table = DefaultIntervalsTable
	}
	ivCols := []string{colStartTime, colStopTime}
	for _, w := range opts.windows() {
		ivCols = append(ivCols, w.Start, w.Stop)
	}

	var ivRec arrow.Record
	if paths := distinctStrings(unitRec, schema.ColNWBPath); len(paths) > 0 {
		iv, err := Scan(ctx, units.cache, paths, table)
		if err != nil {
			return nil, nil, err
		}
		if opts.IntervalFilter != nil {
			iv = iv.Filter(opts.IntervalFilter)
		}
		for _, c := range ivCols {
			if _, ok := iv.Schema().Lookup(c); !ok {
				return nil, nil, fmt.Errorf("table %s has no %q column: %w", table, c, nwberr.ErrColumnMissing)
			}
		}
		var ivErrs nwberr.Errors
		ivRec, ivErrs, err = iv.Select(ivCols...).Collect(ctx, copts)
		if err != nil {
			return nil, nil, err
		}
		defer ivRec.Release()
		errs = append(errs, ivErrs...)
	}

	out, err := buildSpikeWindows(mem, unitRec, ivRec, opts)
	if err != nil {
		return nil, nil, err
	}
	ll.Info("Computed spike windows",
		slog.Int64("units", unitRec.NumRows()),
		slog.Int64("rows", out.NumRows()),
		slog.Int("failedSources", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return out, errs, nil
}

func spikeSchema(opts SpikeOptions) *arrow.Schema {
	fields := []arrow.Field{
		{Name: schema.ColNWBPath, Type: arrow.BinaryTypes.String},
		{Name: ColUnitIndex, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColIntervalIndex, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColIsObserved, Type: arrow.FixedWidthTypes.Boolean},
	}
	var typ arrow.DataType = arrow.ListOf(arrow.PrimitiveTypes.Float64)
	if opts.Counts {
		typ = arrow.PrimitiveTypes.Int64
	}
	for _, w := range opts.windows() {
		fields = append(fields, arrow.Field{Name: w.Name, Type: typ, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func buildSpikeWindows(mem memory.Allocator, unitRec, ivRec arrow.Record, opts SpikeOptions) (arrow.Record, error) {
	rb := array.NewRecordBuilder(mem, spikeSchema(opts))
	defer rb.Release()
	if ivRec == nil {
		return rb.NewRecord(), nil
	}

	unitPath, err := stringColumn(unitRec, schema.ColNWBPath)
	if err != nil {
		return nil, err
	}
	unitIndex, err := int64Column(unitRec, schema.ColTableIndex)
	if err != nil {
		return nil, err
	}
	spikes, err := column(unitRec, colSpikeTimes)
	if err != nil {
		return nil, err
	}
	var obs arrow.Array
	if opts.ApplyObserved {
		if obs, err = column(unitRec, colObsIntervals); err != nil {
			return nil, err
		}
	}

	ivPath, err := stringColumn(ivRec, schema.ColNWBPath)
	if err != nil {
		return nil, err
	}
	ivIndex, err := int64Column(ivRec, schema.ColTableIndex)
	if err != nil {
		return nil, err
	}
	ivStart, err := column(ivRec, colStartTime)
	if err != nil {
		return nil, err
	}
	ivStop, err := column(ivRec, colStopTime)
	if err != nil {
		return nil, err
	}
	windows := opts.windows()
	bounds := make([][2]arrow.Array, len(windows))
	for k, w := range windows {
		if bounds[k][0], err = column(ivRec, w.Start); err != nil {
			return nil, err
		}
		if bounds[k][1], err = column(ivRec, w.Stop); err != nil {
			return nil, err
		}
	}

	rowsByPath := map[string][]int{}
	for r := range int(ivRec.NumRows()) {
		p := ivPath.Value(r)
		rowsByPath[p] = append(rowsByPath[p], r)
	}

	pathB := rb.Field(0).(*array.StringBuilder)
	unitB := rb.Field(1).(*array.Int64Builder)
	ivB := rb.Field(2).(*array.Int64Builder)
	obsB := rb.Field(3).(*array.BooleanBuilder)

	for u := range int(unitRec.NumRows()) {
		path := unitPath.Value(u)
		times := floatsAt(spikes, u)
		var observedIn []timeseries.Interval
		if obs != nil {
			observedIn = intervalPairs(floatsAt(obs, u))
		}
		for _, r := range rowsByPath[path] {
			observed := true
			if opts.ApplyObserved {
				s, okS := scalarAt(ivStart, r)
				e, okE := scalarAt(ivStop, r)
				observed = okS && okE && timeseries.Covers(observedIn, s, e)
			}
			pathB.Append(path)
			unitB.Append(unitIndex.Value(u))
			ivB.Append(ivIndex.Value(r))
			obsB.Append(observed)

			for k, w := range windows {
				b := rb.Field(4 + k)
				from, okFrom := scalarAt(bounds[k][0], r)
				to, okTo := scalarAt(bounds[k][1], r)
				if !observed || !okFrom || !okTo {
					b.AppendNull()
					continue
				}
				lo := sort.SearchFloat64s(times, from+w.StartOffset)
				hi := max(sort.SearchFloat64s(times, to+w.StopOffset), lo)
				if opts.Counts {
					b.(*array.Int64Builder).Append(int64(hi - lo))
					continue
				}
				lb := b.(*array.ListBuilder)
				lb.Append(true)
				lb.ValueBuilder().(*array.Float64Builder).AppendValues(times[lo:hi], nil)
			}
		}
	}
	return rb.NewRecord(), nil
}

// InsertIsObserved appends a boolean column named col (is_observed when
// empty) to intervals. A row is observed when its [start_time, stop_time]
// lies wholly inside one of the obs_intervals of the unit it names in
// _table_index_units, matched within the same file against the
// _table_index of units. Rows with a null bound are not observed.
func InsertIsObserved(mem memory.Allocator, intervals, units arrow.Record, col string) (arrow.Record, error) {
	if col == "" {
		col = ColIsObserved
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if len(intervals.Schema().FieldIndices(col)) > 0 {
		return nil, fmt.Errorf("intervals already have a %q column", col)
	}

	type unitKey struct {
		path  string
		index int64
	}
	uPath, err := stringColumn(units, schema.ColNWBPath)
	if err != nil {
		return nil, err
	}
	uIndex, err := int64Column(units, schema.ColTableIndex)
	if err != nil {
		return nil, err
	}
	uObs, err := column(units, colObsIntervals)
	if err != nil {
		return nil, err
	}
	observedIn := make(map[unitKey][]timeseries.Interval, units.NumRows())
	for u := range int(units.NumRows()) {
		observedIn[unitKey{uPath.Value(u), uIndex.Value(u)}] = intervalPairs(floatsAt(uObs, u))
	}

	iPath, err := stringColumn(intervals, schema.ColNWBPath)
	if err != nil {
		return nil, err
	}
	iUnit, err := int64Column(intervals, ColUnitIndex)
	if err != nil {
		return nil, err
	}
	iStart, err := column(intervals, colStartTime)
	if err != nil {
		return nil, err
	}
	iStop, err := column(intervals, colStopTime)
	if err != nil {
		return nil, err
	}

	b := array.NewBooleanBuilder(mem)
	defer b.Release()
	for r := range int(intervals.NumRows()) {
		key := unitKey{iPath.Value(r), iUnit.Value(r)}
		pairs, ok := observedIn[key]
		if !ok {
			return nil, fmt.Errorf("unit %d of %s is not in the units record: %w", key.index, key.path, nwberr.ErrReferenceResolution)
		}
		s, okS := scalarAt(iStart, r)
		e, okE := scalarAt(iStop, r)
		b.Append(okS && okE && timeseries.Covers(pairs, s, e))
	}
	mask := b.NewArray()
	defer mask.Release()

	fields := append(intervals.Schema().Fields(), arrow.Field{Name: col, Type: arrow.FixedWidthTypes.Boolean})
	cols := append(append([]arrow.Array(nil), intervals.Columns()...), mask)
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, intervals.NumRows()), nil
}

func column(rec arrow.Record, name string) (arrow.Array, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("record has no %q column: %w", name, nwberr.ErrColumnMissing)
	}
	return rec.Column(idx[0]), nil
}

func stringColumn(rec arrow.Record, name string) (*array.String, error) {
	a, err := column(rec, name)
	if err != nil {
		return nil, err
	}
	s, ok := a.(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want string: %w", name, a.DataType(), nwberr.ErrSchemaConflict)
	}
	return s, nil
}

func int64Column(rec arrow.Record, name string) (*array.Int64, error) {
	a, err := column(rec, name)
	if err != nil {
		return nil, err
	}
	i, ok := a.(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want int64: %w", name, a.DataType(), nwberr.ErrSchemaConflict)
	}
	return i, nil
}

func distinctStrings(rec arrow.Record, name string) []string {
	s, err := stringColumn(rec, name)
	if err != nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for i := range s.Len() {
		if v := s.Value(i); !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// floatsAt flattens the numeric value at row i, descending through any
// list levels.
func floatsAt(a arrow.Array, i int) []float64 {
	if a.IsNull(i) {
		return nil
	}
	switch t := a.(type) {
	case *array.Float64:
		return []float64{t.Value(i)}
	case *array.Int64:
		return []float64{float64(t.Value(i))}
	case array.ListLike:
		from, to := t.ValueOffsets(i)
		values := t.ListValues()
		var out []float64
		for j := from; j < to; j++ {
			out = append(out, floatsAt(values, int(j))...)
		}
		return out
	}
	return nil
}

func scalarAt(a arrow.Array, i int) (float64, bool) {
	v := floatsAt(a, i)
	if len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// intervalPairs reads flat [start, stop, start, stop, ...] values.
func intervalPairs(flat []float64) []timeseries.Interval {
	out := make([]timeseries.Interval, 0, len(flat)/2)
	for j := 0; j+1 < len(flat); j += 2 {
		out = append(out, timeseries.Interval{Start: flat[j], End: flat[j+1]})
	}
	return out
}
