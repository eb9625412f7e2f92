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

package schema

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/internal/zarrstore"
	"github.com/cardinalhq/lakenwb/nwberr"
)

func openStore(t *testing.T, f nwbtest.File) backend.Store {
	t.Helper()
	root := nwbtest.Write(t, t.TempDir(), "f.nwb.zarr", f)
	loc, err := objstore.ParseLocation(root)
	require.NoError(t, err)
	s, err := zarrstore.Open(context.Background(), objstore.NewFileClient(""), loc, nil)
	require.NoError(t, err)
	return s
}

func richFile(consolidated bool) nwbtest.File {
	units := nwbtest.Units(0, 4)
	units.Columns = append(units.Columns,
		nwbtest.Column{Name: "waveform", Matrix: [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {1, 1, 1}}},
		nwbtest.Column{Name: "good", Bools: []bool{true, false, true, true}},
		nwbtest.Column{Name: "bursts", Ragged2: [][][]float64{{{1}}, {{2, 3}, {4}}, {}, {{5}}}},
		nwbtest.Column{Name: "series", Refs: []string{"/acquisition/a", "/acquisition/b", "", "/acquisition/a"}},
		nwbtest.Column{Name: "electrodes", RaggedRegion: [][]int64{{0}, {0, 1}, {1}, {}}, RegionTable: "/general/extracellular_ephys/electrodes"},
	)
	return nwbtest.File{
		Consolidated: consolidated,
		Tables:       []nwbtest.Table{units, nwbtest.Electrodes()},
	}
}

func TestInferColumnKinds(t *testing.T) {
	for _, consolidated := range []bool{false, true} {
		s := openStore(t, richFile(consolidated))
		tbl, err := Infer(context.Background(), s, "/units")
		require.NoError(t, err)
		assert.Equal(t, int64(4), tbl.Rows)
		assert.Equal(t, []string{"id", "amp", "bursts", "electrode", "electrodes", "good", "location", "series", "spike_times", "waveform"}, tbl.Schema.Names())

		tests := []struct {
			name  string
			kind  ColumnKind
			elem  ElemType
			index []string
			shape []int64
			ref   string
		}{
			{"id", Scalar, Int, nil, nil, ""},
			{"amp", Scalar, Float, nil, nil, ""},
			{"location", Scalar, String, nil, nil, ""},
			{"good", Scalar, Bool, nil, nil, ""},
			{"spike_times", Ragged, Float, []string{"spike_times_index"}, nil, ""},
			{"bursts", Ragged, Float, []string{"bursts_index_index", "bursts_index"}, nil, ""},
			{"waveform", Fixed, Float, nil, []int64{3}, ""},
			{"electrode", Reference, Int, nil, nil, "/general/extracellular_ephys/electrodes"},
			{"electrodes", Ragged, Int, []string{"electrodes_index"}, nil, "/general/extracellular_ephys/electrodes"},
			{"series", Reference, Int, nil, nil, ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c, ok := tbl.Schema.Lookup(tt.name)
				require.True(t, ok)
				assert.Equal(t, tt.kind, c.Kind)
				assert.Equal(t, tt.elem, c.Elem)
				assert.Equal(t, tt.index, c.Index)
				assert.Equal(t, tt.shape, c.Shape)
				assert.Equal(t, tt.ref, c.RefTable)
				assert.False(t, c.Nullable)
			})
		}
	}
}

func col(name string, kind ColumnKind, elem ElemType) ColumnSpec {
	return ColumnSpec{Name: name, Kind: kind, Elem: elem, Data: name}
}

func TestMerge(t *testing.T) {
	a := NewSchema([]ColumnSpec{col("id", Scalar, Int), col("amp", Scalar, Int), col("x", Scalar, String)})
	b := NewSchema([]ColumnSpec{col("id", Scalar, Int), col("amp", Scalar, Float), col("y", Scalar, Bool)})

	ab, err := Merge(a, b, nil)
	require.NoError(t, err)
	ba, err := Merge(b, a, nil)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	assert.Equal(t, []string{"id", "amp", "x", "y"}, ab.Names())
	amp, _ := ab.Lookup("amp")
	assert.Equal(t, Float, amp.Elem)
	assert.False(t, amp.Nullable)
	x, _ := ab.Lookup("x")
	assert.True(t, x.Nullable)

	withNil, err := Merge(nil, a, nil)
	require.NoError(t, err)
	assert.Equal(t, a, withNil)
}

func TestMergeIsAssociative(t *testing.T) {
	a := NewSchema([]ColumnSpec{col("id", Scalar, Int), col("amp", Scalar, Int)})
	b := NewSchema([]ColumnSpec{col("id", Scalar, Int), col("loc", Scalar, String)})
	c := NewSchema([]ColumnSpec{col("amp", Scalar, Float), col("loc", Scalar, String)})

	ab, err := Merge(a, b, nil)
	require.NoError(t, err)
	left, err := Merge(ab, c, nil)
	require.NoError(t, err)

	bc, err := Merge(b, c, nil)
	require.NoError(t, err)
	right, err := Merge(a, bc, nil)
	require.NoError(t, err)

	assert.Equal(t, left, right)
}

func TestMergeConflicts(t *testing.T) {
	fixed := func(shape ...int64) ColumnSpec {
		c := col("w", Fixed, Float)
		c.Shape = shape
		return c
	}
	tests := []struct {
		name string
		a, b ColumnSpec
		want error
	}{
		{"string vs float", col("w", Scalar, String), col("w", Scalar, Float), nwberr.ErrSchemaConflict},
		{"scalar vs ragged", col("w", Scalar, Float), col("w", Ragged, Float), nwberr.ErrSchemaConflict},
		{"bool vs int", col("w", Scalar, Bool), col("w", Scalar, Int), nwberr.ErrSchemaConflict},
		{"fixed shape", fixed(3), fixed(4), nwberr.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(NewSchema([]ColumnSpec{tt.a}), NewSchema([]ColumnSpec{tt.b}), nil)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, nwberr.IsGlobal(err))
		})
	}
}

func TestMergeWithOverride(t *testing.T) {
	a := NewSchema([]ColumnSpec{col("w", Scalar, String)})
	b := NewSchema([]ColumnSpec{col("w", Scalar, Float)})
	ov := Overrides{"w": {Kind: Scalar, Elem: String}}

	m, err := Merge(a, b, ov)
	require.NoError(t, err)
	w, _ := m.Lookup("w")
	assert.Equal(t, String, w.Elem)

	ragged := Override{Kind: Ragged, Elem: Float, Depth: 2}.spec("r")
	assert.Equal(t, []string{"r_index_index", "r_index"}, ragged.Index)
}

func TestParseOverrides(t *testing.T) {
	doc := `
columns:
  amp: {type: float}
  waveform: {kind: fixed, type: float, shape: [82]}
  spike_times: {kind: ragged, type: float}
`
	ov, err := ParseOverrides(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, Override{Kind: Scalar, Elem: Float}, ov["amp"])
	assert.Equal(t, []int64{82}, ov["waveform"].Shape)
	assert.Equal(t, Ragged, ov["spike_times"].Kind)

	_, err = ParseOverrides(strings.NewReader("columns:\n  w: {kind: fixed, type: float}\n"))
	assert.Error(t, err)
	_, err = ParseOverrides(strings.NewReader("columns:\n  w: {type: complex}\n"))
	assert.Error(t, err)
}

func TestFindAndResolveTables(t *testing.T) {
	ctx := context.Background()
	f := richFile(true)
	f.Tables = append(f.Tables, nwbtest.Table{
		Path:    "/intervals/trials",
		IDs:     []int64{0, 1},
		Columns: []nwbtest.Column{{Name: "start_time", Floats: []float64{0, 1}}},
	})
	s := openStore(t, f)

	paths, err := FindTables(ctx, s)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/units", "/general/extracellular_ephys/electrodes", "/intervals/trials"}, paths)

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"/units", "/units", false},
		{"units", "/units", false},
		{"electrodes", "/general/extracellular_ephys/electrodes", false},
		{"trial", "/intervals/trials", false},
		{"s", "", true},
		{"nothing", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTablePath(paths, tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := Locate(ctx, s, "/units")
	require.NoError(t, err)
	assert.Equal(t, "/units", got)
	_, err = Locate(ctx, s, "/missing")
	assert.ErrorIs(t, err, nwberr.ErrNotFound)
}

func TestListTree(t *testing.T) {
	s := openStore(t, nwbtest.File{Tables: []nwbtest.Table{nwbtest.Electrodes()}})
	nodes, err := ListTree(context.Background(), s)
	require.NoError(t, err)

	byPath := map[string]TreeNode{}
	for _, n := range nodes {
		byPath[n.Path] = n
	}
	require.Contains(t, byPath, "/general/extracellular_ephys/electrodes/x")
	assert.Equal(t, []int64{2}, byPath["/general/extracellular_ephys/electrodes/x"].Shape)
	assert.Equal(t, "<f8", byPath["/general/extracellular_ephys/electrodes/x"].DType)
	assert.Equal(t, backend.NodeGroup, byPath["/general"].Type)
	assert.Equal(t, "DynamicTable", byPath["/general/extracellular_ephys/electrodes"].NeurodataType)
}
