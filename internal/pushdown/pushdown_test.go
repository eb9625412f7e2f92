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

package pushdown

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/internal/zarrstore"
	"github.com/cardinalhq/lakenwb/nwberr"
	"github.com/cardinalhq/lakenwb/predicate"
)

func unitsTarget(t *testing.T) Target {
	t.Helper()
	root := nwbtest.Write(t, t.TempDir(), "units.nwb.zarr", nwbtest.File{
		Chunk:  2,
		Tables: []nwbtest.Table{nwbtest.Units(0, 6)},
	})
	loc, err := objstore.ParseLocation(root)
	require.NoError(t, err)
	store, err := zarrstore.Open(context.Background(), objstore.NewFileClient(""), loc, nil)
	require.NoError(t, err)
	tbl, err := schema.Infer(context.Background(), store, "/units")
	require.NoError(t, err)
	return Target{Source: "src", Store: store, Table: tbl}
}

func TestEvaluate(t *testing.T) {
	target := unitsTarget(t)
	tests := []struct {
		pred string
		want []int64
	}{
		{"amp > 1", []int64{3, 4, 5}},
		{"location = 'CA1'", []int64{0, 2, 4}},
		{"amp >= 1.5 or location = 'CA3'", []int64{1, 3, 4, 5}},
		{"id in (0, 5) and not location = 'CA3'", []int64{0}},
		{"_table_index in (1, 3)", []int64{1, 3}},
		{"_nwb_path = 'src' and _table_path = '/units'", []int64{0, 1, 2, 3, 4, 5}},
		{"depth > 1", nil},
		{"depth is null", []int64{0, 1, 2, 3, 4, 5}},
		{"depth > 1 or id = 2", []int64{2}},
	}
	for _, batch := range []int64{0, 4, 1} {
		for _, tt := range tests {
			t.Run(tt.pred, func(t *testing.T) {
				idx, err := Evaluate(context.Background(), target, predicate.MustParse(tt.pred), Options{BatchRows: batch})
				require.NoError(t, err)
				assert.False(t, idx.IsAll())
				if len(tt.want) == 0 {
					assert.True(t, idx.Empty())
					return
				}
				assert.Equal(t, tt.want, idx.Positions())
			})
		}
	}
}

func TestEvaluateWithoutPredicateReadsNothing(t *testing.T) {
	target := unitsTarget(t)
	target.Store = nil
	idx, err := Evaluate(context.Background(), target, nil, Options{})
	require.NoError(t, err)
	assert.True(t, idx.IsAll())
	assert.Equal(t, int64(6), idx.Len())

	idx, err = Evaluate(context.Background(), Target{Source: "empty"}, predicate.MustParse("a = 1"), Options{})
	require.NoError(t, err)
	assert.True(t, idx.Empty())
}

func TestEvaluateDisjointUnion(t *testing.T) {
	target := unitsTarget(t)
	p1 := predicate.MustParse("amp < 1")
	p2 := predicate.MustParse("amp >= 1 and location = 'CA1'")

	eval := func(p predicate.Expr) []int64 {
		idx, err := Evaluate(context.Background(), target, p, Options{})
		require.NoError(t, err)
		return idx.Positions()
	}
	union := append(eval(p1), eval(p2)...)
	slices.Sort(union)
	assert.Equal(t, union, eval(predicate.OrOf(p1, p2)))
}

func TestEvaluateStrictAndUnsupported(t *testing.T) {
	target := unitsTarget(t)

	_, err := Evaluate(context.Background(), target, predicate.MustParse("depth > 1"), Options{Strict: true})
	require.ErrorIs(t, err, nwberr.ErrColumnMissing)
	var se *nwberr.SourceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "src", se.Source)
	assert.Equal(t, "/units", se.Path)
	assert.False(t, nwberr.IsGlobal(err))

	_, err = Evaluate(context.Background(), target, predicate.MustParse("spike_times > 1"), Options{})
	assert.ErrorIs(t, err, nwberr.ErrUnsupported)
}

func TestEvaluateHonorsCancel(t *testing.T) {
	target := unitsTarget(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, target, predicate.MustParse("amp > 1"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheck(t *testing.T) {
	s := schema.NewSchema([]schema.ColumnSpec{
		{Name: "amp", Kind: schema.Scalar, Elem: schema.Float},
		{Name: "location", Kind: schema.Scalar, Elem: schema.String},
		{Name: "good", Kind: schema.Scalar, Elem: schema.Bool},
		{Name: "spikes", Kind: schema.Ragged, Elem: schema.Float, Index: []string{"spikes_index"}},
	})
	tests := []struct {
		pred    string
		wantErr bool
	}{
		{"amp > 1 and location = 'x' and good = true", false},
		{"amp in (1, 2.5)", false},
		{"_table_index < 10 and _nwb_path = 'a'", false},
		{"unknown = 'anything'", false},
		{"amp = 'x'", true},
		{"location > 3", true},
		{"good in (1)", true},
		{"_table_index = 'a'", true},
		{"spikes is null", true},
	}
	for _, tt := range tests {
		t.Run(tt.pred, func(t *testing.T) {
			err := Check(predicate.MustParse(tt.pred), s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRowIndex(t *testing.T) {
	r := Rows([]int64{5, 1, 3, 1})
	assert.Equal(t, []int64{1, 3, 5}, r.Positions())
	assert.Equal(t, int64(3), r.Len())
	assert.Equal(t, []int64{1, 3}, r.Truncate(2).Positions())
	assert.Equal(t, r, r.Truncate(10))
	assert.NoError(t, r.Validate(6))
	assert.Error(t, r.Validate(5))

	all := All(4)
	assert.Equal(t, []int64{0, 1, 2, 3}, all.Positions())
	assert.Equal(t, All(2), all.Truncate(2))
	assert.True(t, All(0).Empty())
	assert.True(t, all.Truncate(-1).Empty())
	assert.Equal(t, "all(4)", all.String())
}
