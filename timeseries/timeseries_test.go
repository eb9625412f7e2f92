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

package timeseries

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/nwberr"
)

var stamped = []float64{0.1, 0.3, 0.35, 0.9, 1.4}

func fixture(t *testing.T) (*accessor.Cache, string) {
	t.Helper()
	rate := make([]float64, 16)
	for i := range rate {
		rate[i] = float64(i)
	}
	root := nwbtest.Write(t, t.TempDir(), "ts.nwb.zarr", nwbtest.File{
		Chunk: 4,
		Series: []nwbtest.Series{
			{Path: "/acquisition/lfp", Data: rate, Rate: 4, Start: 0, Unit: "volts", Conversion: 2, Offset: 1},
			{Path: "/acquisition/lfp_observed", Data: rate, Rate: 4, Observed: [][2]float64{{0, 1}, {2, 3}}},
			{Path: "/acquisition/running", Data: []float64{5, 6, 7, 8, 9}, Timestamps: stamped},
			{Path: "/processing/behavior/licks", Timestamps: []float64{0.5, 1.5, 2.5}},
			{Path: "/acquisition/ecephys", Matrix: [][]float64{{1, 2}, {3, 4}, {5, 6}}, Rate: 30000, Start: 10},
		},
	})
	c, err := accessor.New(accessor.Options{SpoolDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, root
}

func get(t *testing.T, c *accessor.Cache, root, path string, opts ...Option) *TimeSeries {
	t.Helper()
	ts, err := Get(context.Background(), c, root, path, opts...)
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func TestRateTimestamps(t *testing.T) {
	c, root := fixture(t)
	tests := []struct {
		path  string
		start float64
		rate  float64
		n     int
	}{
		{"/acquisition/lfp", 0, 4, 16},
		{"/acquisition/ecephys", 10, 30000, 3},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ts := get(t, c, root, tt.path)
			assert.True(t, ts.Generated())
			assert.Equal(t, tt.rate, ts.Rate)
			assert.Equal(t, tt.start, ts.StartingTime)

			stamps, err := ts.Timestamps(context.Background())
			require.NoError(t, err)
			require.Len(t, stamps, tt.n)
			for i, v := range stamps {
				assert.Equal(t, tt.start+float64(i)/tt.rate, v)
			}
		})
	}
}

func TestExplicitTimestampsUnchanged(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/acquisition/running/timestamps")
	assert.Equal(t, "/acquisition/running", ts.Path)
	assert.False(t, ts.Generated())

	stamps, err := ts.Timestamps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stamped, stamps)
	assert.Equal(t, "seconds", ts.TimestampsUnit)
}

func TestMetadataAndData(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/acquisition/lfp/data")

	assert.Equal(t, "volts", ts.Unit)
	assert.Equal(t, 2.0, ts.Conversion)
	assert.Equal(t, 1.0, ts.Offset)
	assert.Equal(t, -1.0, ts.Resolution)
	assert.Equal(t, "test series lfp", ts.Description)
	assert.Equal(t, "no comments", ts.Comments)
	assert.Equal(t, int64(16), ts.Len())

	raw, err := ts.Data.ReadRange(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, raw)
	assert.Equal(t, []float64{5, 7, 9}, ts.Scale(raw))

	all, err := ts.Data.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 16)
}

func TestEventSeries(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/processing/behavior/licks")
	assert.False(t, ts.HasData())
	assert.Equal(t, int64(0), ts.Data.Len())
	assert.Equal(t, int64(3), ts.Len())

	raw, err := ts.Data.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raw)

	w, err := ts.Align(context.Background(), []float64{1.4}, Nearest)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, w[0].Indices)
}

func TestAlign(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/acquisition/running")

	tests := []struct {
		name    string
		sel     Selector
		event   float64
		indices []int64
	}{
		{"nearest exact", Nearest, 0.35, []int64{2}},
		{"nearest between", Nearest, 0.8, []int64{3}},
		{"nearest at start", Nearest, 0.1, []int64{0}},
		{"span", Span(0.1, 0.6), 0.35, []int64{1, 2, 3}},
		{"span at edge", Span(0, 0), 1.4, []int64{4}},
		{"before start", Nearest, 0.05, nil},
		{"after end", Span(10, 10), 1.5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ts.Align(context.Background(), []float64{tt.event}, tt.sel)
			require.NoError(t, err)
			require.Len(t, w, 1)
			assert.Equal(t, tt.event, w[0].Event)
			assert.Equal(t, tt.indices, w[0].Indices)
			assert.Len(t, w[0].Times, len(tt.indices))
		})
	}

	_, err := ts.Align(context.Background(), []float64{1}, Span(-1, 0))
	assert.Error(t, err)
}

func TestAlignOnRateAxis(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/acquisition/lfp", WithAlignTo([]float64{-1, 0.6, 1.1, 100}, Nearest))

	require.Len(t, ts.Windows, 4)
	assert.Empty(t, ts.Windows[0].Indices)
	assert.Equal(t, []int64{2}, ts.Windows[1].Indices)
	assert.Equal(t, []float64{0.5}, ts.Windows[1].Times)
	assert.Equal(t, []int64{4}, ts.Windows[2].Indices)
	assert.Empty(t, ts.Windows[3].Indices)
}

func TestObservedIntervals(t *testing.T) {
	c, root := fixture(t)
	ctx := context.Background()

	plain := get(t, c, root, "/acquisition/lfp_observed")
	assert.Equal(t, []Interval{{0, 1}, {2, 3}}, plain.ObservedIntervals())
	all, err := plain.ObservedIndices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 16)

	obs := get(t, c, root, "/acquisition/lfp_observed", WithObservedOnly())
	idx, err := obs.ObservedIndices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 8, 9, 10, 11, 12}, idx)

	w, err := obs.Align(ctx, []float64{1.5, 2.6, 1.0}, Nearest)
	require.NoError(t, err)
	assert.Empty(t, w[0].Indices)
	assert.Equal(t, []int64{10}, w[1].Indices)
	assert.Equal(t, []int64{4}, w[2].Indices)

	w, err = obs.Align(ctx, []float64{2.6, 1.0}, Span(0.75, 1.1))
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 9, 10, 11, 12}, w[0].Indices)
	assert.Equal(t, []int64{1, 2, 3, 4, 8}, w[1].Indices)

	supplied := get(t, c, root, "/acquisition/lfp", WithObservedIntervals([]Interval{{3, 3.5}}))
	idx, err = supplied.ObservedIndices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 13, 14}, idx)
}

func TestAlignSpanOutsideObservedIntervals(t *testing.T) {
	c, root := fixture(t)
	obs := get(t, c, root, "/acquisition/lfp_observed", WithObservedOnly())

	tests := []struct {
		name  string
		event float64
		sel   Selector
		want  []int64
	}{
		{"span from a gap reaches both intervals", 1.5, Span(0.75, 1.1), []int64{3, 4, 8, 9, 10}},
		{"span inside a gap is empty", 1.5, Span(0.2, 0.2), nil},
		{"nearest from a gap is empty", 1.5, Nearest, nil},
		{"span after the last interval", 3.5, Span(0.6, 0), []int64{12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := obs.Align(context.Background(), []float64{tt.event}, tt.sel)
			require.NoError(t, err)
			require.Len(t, w, 1)
			assert.Equal(t, tt.want, w[0].Indices)
		})
	}
}

// cancellableStore fails reads whose context is already done.
type cancellableStore struct {
	backend.Store
}

func (s cancellableStore) ReadRange(ctx context.Context, p string, start, count int64) (*backend.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.ReadRange(ctx, p, start, count)
}

func TestTimestampsRetryAfterCancelledRead(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/acquisition/running")
	ts.Data.store = cancellableStore{ts.Data.store}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ts.Timestamps(cancelled)
	require.Error(t, err)

	got, err := ts.Timestamps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stamped, got)

	w, err := ts.Align(cancelled, []float64{0.3}, Nearest)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, w[0].Indices)
}

func TestGetMissing(t *testing.T) {
	c, root := fixture(t)
	_, err := Get(context.Background(), c, root, "/acquisition/nothing")
	require.ErrorIs(t, err, nwberr.ErrNotFound)
	var se *nwberr.SourceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "/acquisition/nothing", se.Path)
}

func TestListAndFind(t *testing.T) {
	c, root := fixture(t)
	ctx := context.Background()

	all, err := List(ctx, c, root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/acquisition/ecephys",
		"/acquisition/lfp",
		"/acquisition/lfp_observed",
		"/acquisition/running",
		"/processing/behavior/licks",
	}, all)

	tests := []struct {
		name string
		want string
	}{
		{"/acquisition/lfp", "/acquisition/lfp"},
		{"/acquisition/running/data", "/acquisition/running"},
		{"licks", "/processing/behavior/licks"},
		{"lfp_obs", "/acquisition/lfp_observed"},
		{"acquisition", "/acquisition/ecephys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Find(ctx, c, root, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err = Find(ctx, c, root, "spikes")
	assert.ErrorIs(t, err, nwberr.ErrNotFound)
}

func TestRecord(t *testing.T) {
	c, root := fixture(t)
	ts := get(t, c, root, "/acquisition/ecephys")

	rec, err := ts.Record(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, []float64{10 + 1.0/30000, 10 + 2.0/30000}, rec.Column(0).(*array.Float64).Float64Values())
	data := rec.Column(1).(*array.FixedSizeList)
	assert.Equal(t, []float64{3, 4, 5, 6}, data.ListValues().(*array.Float64).Float64Values())

	events := get(t, c, root, "/processing/behavior/licks")
	rec2, err := events.Record(context.Background(), nil, 0, 10)
	require.NoError(t, err)
	defer rec2.Release()
	assert.Equal(t, int64(1), rec2.NumCols())
	assert.Equal(t, int64(3), rec2.NumRows())
}

func TestRateAxisSearch(t *testing.T) {
	ax := rateAxis{start: 1, rate: 3, n: 10}
	for _, tt := range []struct {
		t           float64
		search      int64
		searchAfter int64
	}{
		{0, 0, 0},
		{1, 0, 1},
		{1 + 1.0/3, 1, 2},
		{1.5, 2, 2},
		{4, 9, 10},
		{50, 10, 10},
	} {
		assert.Equal(t, tt.search, ax.Search(tt.t), "search %v", tt.t)
		assert.Equal(t, tt.searchAfter, ax.SearchAfter(tt.t), "after %v", tt.t)
	}
}
