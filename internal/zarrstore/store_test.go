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

package zarrstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/nwberr"
)

func openFixture(t *testing.T, root string, cache *ChunkCache) *Store {
	t.Helper()
	loc, err := objstore.ParseLocation(root)
	require.NoError(t, err)
	s, err := Open(context.Background(), objstore.NewFileClient(""), loc, cache)
	require.NoError(t, err)
	return s
}

func fixtureFile(compressor string, consolidated bool) nwbtest.File {
	return nwbtest.File{
		Compressor:   compressor,
		Consolidated: consolidated,
		Chunk:        3,
		Tables:       []nwbtest.Table{nwbtest.Units(10, 7), nwbtest.Electrodes()},
		Series: []nwbtest.Series{{
			Path:   "/acquisition/lfp",
			Matrix: [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}},
			Rate:   10,
			Start:  2,
		}},
	}
}

func TestStoreReadsEveryEncoding(t *testing.T) {
	for _, compressor := range []string{nwbtest.None, nwbtest.Zlib, nwbtest.Zstd, nwbtest.LZ4, nwbtest.Blosc} {
		for _, consolidated := range []bool{false, true} {
			name := compressor
			if name == "" {
				name = "raw"
			}
			if consolidated {
				name += "/consolidated"
			}
			t.Run(name, func(t *testing.T) {
				ctx := context.Background()
				root := nwbtest.Write(t, t.TempDir(), "f.nwb.zarr", fixtureFile(compressor, consolidated))
				s := openFixture(t, root, nil)
				defer func() { _ = s.Close() }()

				ids, err := backend.ReadAll(ctx, s, "/units/id")
				require.NoError(t, err)
				assert.Equal(t, []int64{10, 11, 12, 13, 14, 15, 16}, ids.Ints)

				loc, err := s.ReadRange(ctx, "/units/location", 2, 4)
				require.NoError(t, err)
				assert.Equal(t, []string{"CA1", "CA3", "CA1", "CA3"}, loc.Strings)

				amp, err := s.ReadRange(ctx, "units/amp", 5, 2)
				require.NoError(t, err)
				assert.Equal(t, []float64{12.5, 13}, amp.Floats)

				lfp, err := s.ReadRange(ctx, "/acquisition/lfp/data", 2, 3)
				require.NoError(t, err)
				assert.Equal(t, []int64{2}, lfp.Inner)
				assert.Equal(t, []float64{5, 6, 7, 8, 9, 10}, lfp.Floats)
			})
		}
	}
}

func TestStoreChildrenAndInfo(t *testing.T) {
	ctx := context.Background()
	for _, consolidated := range []bool{false, true} {
		root := nwbtest.Write(t, t.TempDir(), "f.zarr", fixtureFile(nwbtest.None, consolidated))
		s := openFixture(t, root, nil)

		nodes, err := s.Children(ctx, "/units")
		require.NoError(t, err)
		names := make([]string, len(nodes))
		for i, n := range nodes {
			names[i] = n.Name
			assert.Equal(t, backend.NodeArray, n.Type)
		}
		assert.Equal(t, []string{"amp", "electrode", "id", "location", "spike_times", "spike_times_index"}, names)

		top, err := s.Children(ctx, "/")
		require.NoError(t, err)
		assert.Contains(t, top, backend.Node{Name: "general", Type: backend.NodeGroup})

		info, err := s.Info(ctx, "/acquisition/lfp/data")
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 2}, info.Shape)
		assert.Equal(t, backend.FamilyFloat, info.Family)
		assert.Equal(t, []int64{2}, info.Inner())

		_, err = s.Info(ctx, "/units/nope")
		assert.ErrorIs(t, err, nwberr.ErrNotFound)

		attrs, err := s.Attrs(ctx, "/units/electrode")
		require.NoError(t, err)
		ref, ok := backend.AttrRef(attrs, "table")
		require.True(t, ok)
		assert.Equal(t, "/general/extracellular_ephys/electrodes", ref.Path)
	}
}

func TestStoreScalarAndReferences(t *testing.T) {
	ctx := context.Background()
	f := fixtureFile(nwbtest.None, false)
	f.Tables = append(f.Tables, nwbtest.Table{
		Path: "/intervals/epochs",
		IDs:  []int64{0, 1},
		Columns: []nwbtest.Column{
			{Name: "series", Refs: []string{"/acquisition/lfp", ""}},
		},
	})
	root := nwbtest.Write(t, t.TempDir(), "f.zarr", f)
	s := openFixture(t, root, nil)

	start, err := backend.ReadAll(ctx, s, "/acquisition/lfp/starting_time")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, start.Floats)

	info, err := s.Info(ctx, "/intervals/epochs/series")
	require.NoError(t, err)
	assert.Equal(t, backend.FamilyRef, info.Family)

	refs, err := backend.ReadAll(ctx, s, "/intervals/epochs/series")
	require.NoError(t, err)
	assert.Equal(t, []backend.Ref{{Path: "/acquisition/lfp"}, {}}, refs.Refs)
}

func TestStoreChunksAcrossInnerDimension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w, err := nwbtest.NewWriter(filepath.Join(dir, "m.zarr"), nwbtest.None, false)
	require.NoError(t, err)
	rows := make([][]float64, 5)
	for i := range rows {
		rows[i] = []float64{float64(i * 10), float64(i*10 + 1), float64(i*10 + 2)}
	}
	require.NoError(t, w.Matrix("/m", rows, []int64{2, 2}, nil))
	require.NoError(t, w.Close())

	s := openFixture(t, filepath.Join(dir, "m.zarr"), nil)
	b, err := s.ReadRange(ctx, "/m", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12, 20, 21, 22, 30, 31, 32}, b.Floats)

	// a missing chunk reads as the fill value
	require.NoError(t, os.Remove(filepath.Join(dir, "m.zarr", "m", "1.1")))
	b, err = s.ReadRange(ctx, "/m", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 20.0, b.Floats[0])
	assert.True(t, math.IsNaN(b.Floats[2]))
	assert.True(t, math.IsNaN(b.Floats[5]))
}

func TestStoreRangeErrors(t *testing.T) {
	root := nwbtest.Write(t, t.TempDir(), "f.zarr", fixtureFile(nwbtest.None, false))
	s := openFixture(t, root, nil)
	_, err := s.ReadRange(context.Background(), "/units/id", 5, 10)
	assert.Error(t, err)

	b, err := s.ReadRange(context.Background(), "/units/id", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Rows)
}

func TestOpenRequiresZarrRoot(t *testing.T) {
	loc, err := objstore.ParseLocation(t.TempDir())
	require.NoError(t, err)
	_, err = Open(context.Background(), objstore.NewFileClient(""), loc, nil)
	assert.ErrorIs(t, err, nwberr.ErrNotFound)
}

func TestChunkCacheServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	cache := NewChunkCache(0, 0)
	defer cache.Close()

	root := nwbtest.Write(t, t.TempDir(), "f.zarr", fixtureFile(nwbtest.Zstd, false))
	s := openFixture(t, root, cache)

	first, err := s.ReadRange(ctx, "/units/amp", 0, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, cache.Len())

	// remove the data; the second read must come from the cache
	require.NoError(t, os.RemoveAll(filepath.Join(root, "units", "amp")))
	second, err := s.ReadRange(ctx, "/units/amp", 0, 7)
	require.NoError(t, err)
	assert.Equal(t, first.Floats, second.Floats)
}
