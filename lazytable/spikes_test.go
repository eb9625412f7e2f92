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
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/nwberr"
	"github.com/cardinalhq/lakenwb/timeseries"
)

// spikeSources writes a with three units and two trials, and b with one
// unit and one trial. Only a stores obs_intervals.
func spikeSources(t *testing.T) (string, string) {
	dir := t.TempDir()
	a := nwbtest.Write(t, dir, "a.nwb.zarr", nwbtest.File{
		Tables: []nwbtest.Table{
			withColumns(nwbtest.Units(0, 3), nwbtest.Column{
				Name:   "obs_intervals",
				Ragged: [][]float64{{0, 10}, {0, 1.05}, {0, 1, 1.5, 3}},
			}),
			nwbtest.Electrodes(),
			trials([]float64{0, 1.05}, []float64{1.05, 2.15}, []float64{0.5, 2}),
		},
	})
	b := nwbtest.Write(t, dir, "b.nwb.zarr", nwbtest.File{
		Tables: []nwbtest.Table{
			nwbtest.Units(10, 1),
			nwbtest.Electrodes(),
			trials([]float64{9.5}, []float64{10.5}, []float64{0}),
		},
	})
	return a, b
}

func withColumns(tbl nwbtest.Table, cols ...nwbtest.Column) nwbtest.Table {
	tbl.Columns = append(tbl.Columns, cols...)
	return tbl
}

func trials(start, stop, goTime []float64) nwbtest.Table {
	ids := make([]int64, len(start))
	for i := range ids {
		ids[i] = int64(i)
	}
	return nwbtest.Table{
		Path: "/intervals/trials",
		Type: "TimeIntervals",
		IDs:  ids,
		Columns: []nwbtest.Column{
			{Name: "start_time", Floats: start},
			{Name: "stop_time", Floats: stop},
			{Name: "go_time", Floats: goTime},
		},
	}
}

func TestSpikeTimesInObservedIntervals(t *testing.T) {
	a, _ := spikeSources(t)
	units := scan(t, newCache(t), []string{a})

	rec, errs, err := SpikeTimesInIntervals(context.Background(), units, SpikeOptions{ApplyObserved: true})
	require.NoError(t, err)
	defer rec.Release()
	assert.Empty(t, errs)

	assert.Equal(t, []int64{0, 0, 1, 1, 2, 2}, col(t, rec, ColUnitIndex).(*array.Int64).Int64Values())
	assert.Equal(t, []int64{0, 1, 0, 1, 0, 1}, col(t, rec, ColIntervalIndex).(*array.Int64).Int64Values())

	observed := col(t, rec, ColIsObserved).(*array.Boolean)
	spikes := col(t, rec, "spike_times")
	tests := []struct {
		observed bool
		want     []float64
	}{
		{true, []float64{0}},
		{true, nil},
		{true, []float64{1}},
		{false, nil},
		{false, nil},
		{false, nil},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.observed, observed.Value(i), "row %d", i)
		assert.Equal(t, !tt.observed, spikes.IsNull(i), "row %d", i)
		assert.Equal(t, tt.want, floatsAt(spikes, i), "row %d", i)
	}
}

func TestSpikeCountsAcrossSources(t *testing.T) {
	a, b := spikeSources(t)
	units := scan(t, newCache(t), []string{a, b})

	rec, errs, err := SpikeTimesInIntervals(context.Background(), units, SpikeOptions{
		Counts: true,
		Windows: []SpikeWindow{
			{Name: "around_go", Start: "go_time", Stop: "go_time", StartOffset: -0.5, StopOffset: 0.15},
			{Name: "trial", Start: "start_time", Stop: "stop_time"},
		},
	})
	require.NoError(t, err)
	defer rec.Release()
	assert.Empty(t, errs)

	assert.Equal(t, []string{a, a, a, a, a, a, b}, strs(col(t, rec, "_nwb_path")))
	assert.Equal(t, []int64{1, 0, 0, 0, 0, 2, 1}, col(t, rec, "around_go").(*array.Int64).Int64Values())
	assert.Equal(t, []int64{1, 0, 1, 1, 0, 2, 0}, col(t, rec, "trial").(*array.Int64).Int64Values())
	assert.Equal(t, 0, col(t, rec, ColIsObserved).NullN())
}

func TestSpikeTimesRejectsBadRequests(t *testing.T) {
	a, b := spikeSources(t)
	cache := newCache(t)
	ctx := context.Background()

	_, _, err := SpikeTimesInIntervals(ctx, scan(t, cache, []string{a, b}), SpikeOptions{
		Windows: []SpikeWindow{{Name: "w", Start: "cue_time", Stop: "stop_time"}},
	})
	assert.ErrorIs(t, err, nwberr.ErrColumnMissing)

	_, _, err = SpikeTimesInIntervals(ctx, scan(t, cache, []string{b}), SpikeOptions{ApplyObserved: true})
	assert.ErrorIs(t, err, nwberr.ErrColumnMissing)

	for _, w := range [][]SpikeWindow{
		{{Name: ColIsObserved, Start: "start_time", Stop: "stop_time"}},
		{{Name: "w", Start: "start_time"}},
		{{Name: "w", Start: "start_time", Stop: "stop_time"}, {Name: "w", Start: "go_time", Stop: "stop_time"}},
	} {
		_, _, err = SpikeTimesInIntervals(ctx, scan(t, cache, []string{a}), SpikeOptions{Windows: w})
		assert.Error(t, err)
	}
}

func TestInsertIsObserved(t *testing.T) {
	a, _ := spikeSources(t)
	units, _ := collect(t, scan(t, newCache(t), []string{a}).Select("obs_intervals"), CollectOptions{})

	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)
	rb := array.NewRecordBuilder(mem, arrow.NewSchema([]arrow.Field{
		{Name: "_nwb_path", Type: arrow.BinaryTypes.String},
		{Name: ColUnitIndex, Type: arrow.PrimitiveTypes.Int64},
		{Name: "start_time", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "stop_time", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil))
	defer rb.Release()
	rb.Field(0).(*array.StringBuilder).AppendValues([]string{a, a, a, a}, nil)
	rb.Field(1).(*array.Int64Builder).AppendValues([]int64{1, 1, 2, 2}, nil)
	rb.Field(2).(*array.Float64Builder).AppendValues([]float64{0.5, 0.5, 1.6, 0}, []bool{true, true, true, false})
	rb.Field(3).(*array.Float64Builder).AppendValues([]float64{1, 1.2, 2.9, 1}, nil)
	intervals := rb.NewRecord()
	defer intervals.Release()

	out, err := InsertIsObserved(mem, intervals, units, "")
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, int64(5), out.NumCols())
	mask := col(t, out, ColIsObserved).(*array.Boolean)
	got := make([]bool, mask.Len())
	for i := range got {
		got[i] = mask.Value(i)
	}
	assert.Equal(t, []bool{true, false, true, false}, got)

	_, err = InsertIsObserved(mem, out, units, "")
	assert.Error(t, err)

	rb.Field(0).(*array.StringBuilder).Append(a)
	rb.Field(1).(*array.Int64Builder).Append(9)
	rb.Field(2).(*array.Float64Builder).Append(0)
	rb.Field(3).(*array.Float64Builder).Append(1)
	unknown := rb.NewRecord()
	defer unknown.Release()
	_, err = InsertIsObserved(mem, unknown, units, "")
	assert.ErrorIs(t, err, nwberr.ErrReferenceResolution)
}

func TestCovers(t *testing.T) {
	obs := []timeseries.Interval{{Start: 0, End: 1}, {Start: 2, End: 3}}
	assert.True(t, timeseries.Covers(obs, 0, 1))
	assert.True(t, timeseries.Covers(obs, 2.5, 3))
	assert.False(t, timeseries.Covers(obs, 0.5, 2.5))
	assert.False(t, timeseries.Covers(nil, 0, 0))
}
