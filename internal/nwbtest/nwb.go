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

package nwbtest

import (
	"path"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// Column describes one DynamicTable column. Exactly one value field is set.
type Column struct {
	Name    string
	Ints    []int64
	Floats  []float64
	Strings []string
	Bools   []bool
	Matrix  [][]float64
	Ragged  [][]float64
	Ragged2 [][][]float64
	Refs    []string
	// RegionTable marks an int column as row indices into another table.
	RegionTable string
	// RaggedRegion is a ragged int column pointing into RegionTable.
	RaggedRegion [][]int64
}

// Table is a DynamicTable at Path with the given row ids.
type Table struct {
	Path    string
	Type    string
	IDs     []int64
	Columns []Column
}

// Series is a TimeSeries group. Either Timestamps or Rate is set.
type Series struct {
	Path       string
	Data       []float64
	Matrix     [][]float64
	Timestamps []float64
	Rate       float64
	Start      float64
	Unit       string
	Conversion float64
	Offset     float64
	Observed   [][2]float64
}

// File describes a whole fixture.
type File struct {
	Compressor   string
	Consolidated bool
	// Chunk is the row chunk size for one-dimensional arrays; zero means one chunk.
	Chunk  int64
	Tables []Table
	Series []Series
	Groups map[string]map[string]any
	// Text holds one-element string datasets such as /session_description.
	Text map[string]string
}

// sink is the storage format a fixture is written through.
type sink interface {
	Group(p string, attrs map[string]any) error
	Numeric(p, dtype string, shape, chunks []int64, values []float64, attrs map[string]any) error
	Ints(p string, vals []int64, chunk int64, attrs map[string]any) error
	Floats(p string, vals []float64, chunk int64, attrs map[string]any) error
	Bools(p string, vals []bool, attrs map[string]any) error
	Matrix(p string, rows [][]float64, chunks []int64, attrs map[string]any) error
	Strings(p string, vals []string, chunk int64, attrs map[string]any) error
	ObjectRefs(p string, targets []string, attrs map[string]any) error
	// Ref is the attribute value of an object reference to target.
	Ref(target string) any
	Close() error
}

// Write creates name under dir and returns its path.
func Write(t testing.TB, dir, name string, f File) string {
	t.Helper()
	root := filepath.Join(dir, name)
	w, err := NewWriter(root, f.Compressor, f.Consolidated)
	require.NoError(t, err)
	require.NoError(t, writeFixture(w, f))
	return root
}

func writeFixture(w sink, f File) error {
	if err := w.Group("/", map[string]any{
		"neurodata_type": "NWBFile",
		"namespace":      "core",
		"nwb_version":    "2.7.0",
	}); err != nil {
		return err
	}
	for _, p := range sortedKeys(f.Groups) {
		if err := w.Group(p, f.Groups[p]); err != nil {
			return err
		}
	}
	for _, tbl := range f.Tables {
		if err := writeTable(w, tbl, f.Chunk); err != nil {
			return err
		}
	}
	for _, s := range f.Series {
		if err := writeSeries(w, s, f.Chunk); err != nil {
			return err
		}
	}
	for _, p := range sortedKeys(f.Text) {
		if err := w.Strings(p, []string{f.Text[p]}, 0, nil); err != nil {
			return err
		}
	}
	return w.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeTable(w sink, tbl Table, chunk int64) error {
	typ := tbl.Type
	if typ == "" {
		typ = "DynamicTable"
	}
	names := make([]any, 0, len(tbl.Columns))
	for _, c := range tbl.Columns {
		names = append(names, c.Name)
	}
	if err := w.Group(tbl.Path, map[string]any{
		"neurodata_type": typ,
		"namespace":      "hdmf-common",
		"colnames":       names,
		"description":    "test table " + path.Base(tbl.Path),
	}); err != nil {
		return err
	}
	if err := w.Ints(path.Join(tbl.Path, "id"), tbl.IDs, chunk, map[string]any{"neurodata_type": "ElementIdentifiers"}); err != nil {
		return err
	}
	for _, c := range tbl.Columns {
		if err := writeColumn(w, tbl.Path, c, chunk); err != nil {
			return err
		}
	}
	return nil
}

func writeColumn(w sink, table string, c Column, chunk int64) error {
	p := path.Join(table, c.Name)
	attrs := map[string]any{
		"neurodata_type": "VectorData",
		"description":    c.Name,
	}
	switch {
	case c.Ints != nil:
		if c.RegionTable != "" {
			attrs["neurodata_type"] = "DynamicTableRegion"
			attrs["table"] = w.Ref(c.RegionTable)
		}
		return w.Ints(p, c.Ints, chunk, attrs)
	case c.Floats != nil:
		return w.Floats(p, c.Floats, chunk, attrs)
	case c.Strings != nil:
		return w.Strings(p, c.Strings, chunk, attrs)
	case c.Bools != nil:
		return w.Bools(p, c.Bools, attrs)
	case c.Matrix != nil:
		var chunks []int64
		if chunk > 0 && len(c.Matrix) > 0 {
			chunks = []int64{chunk, int64(len(c.Matrix[0]))}
		}
		return w.Matrix(p, c.Matrix, chunks, attrs)
	case c.Refs != nil:
		return w.ObjectRefs(p, c.Refs, attrs)
	case c.RaggedRegion != nil:
		var flat []int64
		var offsets []int64
		for _, r := range c.RaggedRegion {
			flat = append(flat, r...)
			offsets = append(offsets, int64(len(flat)))
		}
		attrs["neurodata_type"] = "DynamicTableRegion"
		attrs["table"] = w.Ref(c.RegionTable)
		if err := w.Ints(p, flat, 0, attrs); err != nil {
			return err
		}
		return w.Ints(p+"_index", offsets, chunk, indexAttrs(w, p))
	case c.Ragged != nil:
		var flat []float64
		var offsets []int64
		for _, r := range c.Ragged {
			flat = append(flat, r...)
			offsets = append(offsets, int64(len(flat)))
		}
		if err := w.Floats(p, flat, 0, attrs); err != nil {
			return err
		}
		return w.Ints(p+"_index", offsets, chunk, indexAttrs(w, p))
	case c.Ragged2 != nil:
		var flat []float64
		var inner, outer []int64
		for _, row := range c.Ragged2 {
			for _, r := range row {
				flat = append(flat, r...)
				inner = append(inner, int64(len(flat)))
			}
			outer = append(outer, int64(len(inner)))
		}
		if err := w.Floats(p, flat, 0, attrs); err != nil {
			return err
		}
		if err := w.Ints(p+"_index", inner, 0, indexAttrs(w, p)); err != nil {
			return err
		}
		return w.Ints(p+"_index_index", outer, chunk, indexAttrs(w, p+"_index"))
	}
	return nil
}

func indexAttrs(w sink, target string) map[string]any {
	return map[string]any{
		"neurodata_type": "VectorIndex",
		"target":         w.Ref(target),
	}
}

func writeSeries(w sink, s Series, chunk int64) error {
	if err := w.Group(s.Path, map[string]any{
		"neurodata_type": "TimeSeries",
		"description":    "test series " + path.Base(s.Path),
		"comments":       "no comments",
	}); err != nil {
		return err
	}
	conv := s.Conversion
	if conv == 0 {
		conv = 1
	}
	unit := s.Unit
	if unit == "" {
		unit = "volts"
	}
	dataAttrs := map[string]any{
		"conversion": conv,
		"offset":     s.Offset,
		"resolution": -1.0,
		"unit":       unit,
	}
	switch {
	case s.Matrix != nil:
		var chunks []int64
		if chunk > 0 && len(s.Matrix) > 0 {
			chunks = []int64{chunk, int64(len(s.Matrix[0]))}
		}
		if err := w.Matrix(path.Join(s.Path, "data"), s.Matrix, chunks, dataAttrs); err != nil {
			return err
		}
	case s.Data != nil:
		if err := w.Floats(path.Join(s.Path, "data"), s.Data, chunk, dataAttrs); err != nil {
			return err
		}
	}

	if s.Timestamps != nil {
		if err := w.Floats(path.Join(s.Path, "timestamps"), s.Timestamps, chunk, map[string]any{
			"interval": int64(1),
			"unit":     "seconds",
		}); err != nil {
			return err
		}
	} else {
		if err := w.Numeric(path.Join(s.Path, "starting_time"), "<f8", []int64{}, nil, []float64{s.Start}, map[string]any{
			"rate": s.Rate,
			"unit": "seconds",
		}); err != nil {
			return err
		}
	}

	if s.Observed != nil {
		rows := make([][]float64, len(s.Observed))
		for i, iv := range s.Observed {
			rows[i] = []float64{iv[0], iv[1]}
		}
		return w.Matrix(path.Join(s.Path, "obs_intervals"), rows, nil, nil)
	}
	return nil
}

// Units returns a typical units table whose rows are offset by base so
// different fixtures hold distinct values.
func Units(base int64, n int) Table {
	ids := make([]int64, n)
	amps := make([]float64, n)
	loc := make([]string, n)
	spikes := make([][]float64, n)
	elec := make([]int64, n)
	for i := range n {
		ids[i] = base + int64(i)
		amps[i] = float64(base) + float64(i)*0.5
		if i%2 == 0 {
			loc[i] = "CA1"
		} else {
			loc[i] = "CA3"
		}
		spikes[i] = make([]float64, i%3+1)
		for j := range spikes[i] {
			spikes[i][j] = float64(i) + float64(j)*0.1
		}
		elec[i] = int64(i % 2)
	}
	return Table{
		Path: "/units",
		Type: "Units",
		IDs:  ids,
		Columns: []Column{
			{Name: "amp", Floats: amps},
			{Name: "location", Strings: loc},
			{Name: "spike_times", Ragged: spikes},
			{Name: "electrode", Ints: elec, RegionTable: "/general/extracellular_ephys/electrodes"},
		},
	}
}

// Electrodes returns a two-row electrodes table.
func Electrodes() Table {
	return Table{
		Path: "/general/extracellular_ephys/electrodes",
		IDs:  []int64{0, 1},
		Columns: []Column{
			{Name: "x", Floats: []float64{1.5, 2.5}},
			{Name: "group_name", Strings: []string{"shank0", "shank1"}},
		},
	}
}
