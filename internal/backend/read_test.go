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

package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeStore serves a single 2-D int array and records range calls.
type rangeStore struct {
	rows, cols int64
	calls      [][2]int64
}

func (s *rangeStore) Kind() Kind { return KindZarr }
func (s *rangeStore) Children(context.Context, string) ([]Node, error) {
	return []Node{{Name: "x", Type: NodeArray}}, nil
}
func (s *rangeStore) Info(_ context.Context, p string) (ArrayInfo, error) {
	return ArrayInfo{Path: p, Shape: []int64{s.rows, s.cols}, Family: FamilyInt, ItemSize: 8}, nil
}
func (s *rangeStore) Attrs(context.Context, string) (map[string]any, error) { return nil, nil }
func (s *rangeStore) ReadRange(_ context.Context, _ string, start, count int64) (*Block, error) {
	s.calls = append(s.calls, [2]int64{start, count})
	b := NewBlock(FamilyInt, []int64{s.cols}, int(count))
	for r := start; r < start+count; r++ {
		for c := int64(0); c < s.cols; c++ {
			b.Ints = append(b.Ints, r*100+c)
		}
	}
	b.Rows = int(count)
	return b, nil
}
func (s *rangeStore) Close() error { return nil }

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name   string
		rows   []int64
		maxGap int64
		want   []Run
	}{
		{"empty", nil, 4, nil},
		{"single", []int64{7}, 4, []Run{{Start: 7, End: 8, Lo: 0, Hi: 1}}},
		{"contiguous", []int64{1, 2, 3}, 0, []Run{{Start: 1, End: 4, Lo: 0, Hi: 3}}},
		{"gap within limit", []int64{1, 4}, 2, []Run{{Start: 1, End: 5, Lo: 0, Hi: 2}}},
		{"gap over limit", []int64{1, 10, 11}, 2, []Run{
			{Start: 1, End: 2, Lo: 0, Hi: 1},
			{Start: 10, End: 12, Lo: 1, Hi: 3},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coalesce(tt.rows, tt.maxGap))
		})
	}
}

func TestReadRowsKeepsOrderAndShape(t *testing.T) {
	s := &rangeStore{rows: 1000, cols: 2}
	blk, err := ReadRows(context.Background(), s, "/x", []int64{3, 5, 900})
	require.NoError(t, err)

	assert.Equal(t, 3, blk.Rows)
	assert.Equal(t, []int64{2}, blk.Inner)
	assert.Equal(t, []int64{300, 301, 500, 501, 90000, 90001}, blk.Ints)
	assert.Len(t, s.calls, 2)
}

func TestReadRowsEmpty(t *testing.T) {
	s := &rangeStore{rows: 10, cols: 3}
	blk, err := ReadRows(context.Background(), s, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, blk.Rows)
	assert.Equal(t, []int64{3}, blk.Inner)
	assert.Empty(t, s.calls)
}

func TestBlockGatherAndConvert(t *testing.T) {
	b := NewBlock(FamilyFloat, nil, 3)
	b.Floats = append(b.Floats, 1.5, 2.5, 3.5)
	b.Rows = 3

	g := b.Gather([]int{2, 0})
	assert.Equal(t, []float64{3.5, 1.5}, g.Floats)
	assert.Equal(t, 3.5, g.Value(0))

	ints, err := g.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ints)

	sb := NewBlock(FamilyString, nil, 0)
	_, err = sb.Float64s()
	assert.Error(t, err)
}

func TestAttrHelpers(t *testing.T) {
	attrs := map[string]any{
		"colnames": []any{"a", "b"},
		"unit":     []any{"volts"},
		"rate":     int64(30),
		"table":    Ref{Path: "/units"},
	}
	assert.Equal(t, []string{"a", "b"}, AttrStrings(attrs, "colnames"))
	u, ok := AttrString(attrs, "unit")
	assert.True(t, ok)
	assert.Equal(t, "volts", u)
	r, ok := AttrFloat(attrs, "rate")
	assert.True(t, ok)
	assert.Equal(t, 30.0, r)
	ref, ok := AttrRef(attrs, "table")
	assert.True(t, ok)
	assert.Equal(t, "/units", ref.Path)
	assert.Equal(t, "[a, b]", FormatAttr(attrs["colnames"]))
	assert.Equal(t, "/a/b", Join("a", "b"))
	assert.Equal(t, "/a", Clean("a/"))
}

func TestExists(t *testing.T) {
	s := &rangeStore{rows: 1, cols: 1}
	for p, want := range map[string]bool{"/": true, "/x": true, "/g/x": true, "/y": false} {
		ok, err := Exists(context.Background(), s, p)
		require.NoError(t, err)
		assert.Equal(t, want, ok, p)
	}
}
