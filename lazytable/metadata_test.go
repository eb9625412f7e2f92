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
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/nwberr"
)

func TestMetadataAcrossSources(t *testing.T) {
	dir := t.TempDir()
	a := nwbtest.Write(t, dir, "a.nwb.zarr", nwbtest.File{Text: map[string]string{
		"/session_description":        "first session",
		"/identifier":                 "id-a",
		"/session_start_time":         "2024-01-02T03:04:05+00:00",
		"/general/subject/subject_id": "m1",
		"/general/subject/species":    "Mus musculus",
	}})
	b := nwbtest.Write(t, dir, "b.nwb.zarr", nwbtest.File{Text: map[string]string{
		"/identifier":  "id-b",
		"/general/lab": "cortex",
	}})
	missing := filepath.Join(dir, "gone.nwb")

	rec, errs, err := Metadata(context.Background(), newCache(t), []string{a, missing, b}, CollectOptions{})
	require.NoError(t, err)
	defer rec.Release()

	require.Len(t, errs, 1)
	assert.Equal(t, []string{missing}, errs.Sources())
	assert.ErrorIs(t, errs[0], nwberr.ErrSourceUnavailable)

	assert.Equal(t, int64(len(MetadataColumns())+1), rec.NumCols())
	assert.Equal(t, []string{a, b}, strs(col(t, rec, "_nwb_path")))
	assert.Equal(t, []string{"id-a", "id-b"}, strs(col(t, rec, "identifier")))

	tests := []struct {
		column string
		want   []string // "" marks null
	}{
		{"session_description", []string{"first session", ""}},
		{"session_start_time", []string{"2024-01-02T03:04:05+00:00", ""}},
		{"subject_id", []string{"m1", ""}},
		{"species", []string{"Mus musculus", ""}},
		{"lab", []string{"", "cortex"}},
		{"keywords", []string{"", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			c := col(t, rec, tt.column).(*array.String)
			for i, want := range tt.want {
				if want == "" {
					assert.True(t, c.IsNull(i), "row %d", i)
					continue
				}
				assert.Equal(t, want, c.Value(i), "row %d", i)
			}
		})
	}
}

func TestMetadataRaise(t *testing.T) {
	dir := t.TempDir()
	a := nwbtest.Write(t, dir, "a.nwb.zarr", nwbtest.File{Text: map[string]string{"/identifier": "id-a"}})
	missing := filepath.Join(dir, "gone.nwb")

	rec, errs, err := Metadata(context.Background(), newCache(t), []string{a, missing},
		CollectOptions{OnMissing: nwberr.Raise, Sequential: true})
	assert.Nil(t, rec)
	assert.Nil(t, errs)
	assert.ErrorIs(t, err, nwberr.ErrSourceUnavailable)
}
