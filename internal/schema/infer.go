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
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/cardinalhq/lakenwb/internal/backend"
)

const indexSuffix = "_index"

// Infer reads the metadata of the table group at tablePath and types each
// column. No column data is read.
func Infer(ctx context.Context, store backend.Store, tablePath string) (*Table, error) {
	tablePath = backend.Clean(tablePath)
	nodes, err := store.Children(ctx, tablePath)
	if err != nil {
		return nil, err
	}

	infos := make(map[string]backend.ArrayInfo)
	for _, n := range nodes {
		if n.Type != backend.NodeArray {
			continue
		}
		info, err := store.Info(ctx, backend.Join(tablePath, n.Name))
		if err != nil {
			return nil, err
		}
		infos[n.Name] = info
	}

	rows, err := tableRows(ctx, store, tablePath, infos)
	if err != nil {
		return nil, err
	}

	var cols []ColumnSpec
	for _, name := range sortedKeys(infos) {
		if isIndexOf(name, infos) {
			continue
		}
		col, ok, err := inferColumn(ctx, store, tablePath, name, infos, rows)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		if ok {
			cols = append(cols, col)
		}
	}
	return &Table{Path: tablePath, Rows: rows, Schema: NewSchema(cols)}, nil
}

// tableRows takes the row count from id, or else from the first listed
// column's row dimension.
func tableRows(ctx context.Context, store backend.Store, tablePath string, infos map[string]backend.ArrayInfo) (int64, error) {
	if id, ok := infos[ColID]; ok {
		return id.Rows(), nil
	}
	attrs, err := store.Attrs(ctx, tablePath)
	if err != nil {
		return 0, err
	}
	for _, name := range backend.AttrStrings(attrs, "colnames") {
		if idx, ok := infos[name+indexSuffix]; ok {
			return idx.Rows(), nil
		}
		if info, ok := infos[name]; ok {
			return info.Rows(), nil
		}
	}
	return 0, fmt.Errorf("table %s has neither id nor colnames", tablePath)
}

// isIndexOf reports whether name is the offsets array of another array.
func isIndexOf(name string, infos map[string]backend.ArrayInfo) bool {
	target, ok := strings.CutSuffix(name, indexSuffix)
	if !ok {
		return false
	}
	_, exists := infos[target]
	return exists
}

func inferColumn(ctx context.Context, store backend.Store, tablePath, name string, infos map[string]backend.ArrayInfo, rows int64) (ColumnSpec, bool, error) {
	info := infos[name]
	col := ColumnSpec{Name: name, Data: name, Elem: ElemOf(info.Family)}

	attrs, err := store.Attrs(ctx, backend.Join(tablePath, name))
	if err != nil {
		return ColumnSpec{}, false, err
	}
	if ref, ok := backend.AttrRef(attrs, "table"); ok && ref.Path != "" {
		col.RefTable = ref.Path
	}

	// 1. ragged: an offsets array, possibly itself indexed
	if _, ok := infos[name+indexSuffix]; ok {
		col.Kind = Ragged
		col.Index = []string{name + indexSuffix}
		for next := name + indexSuffix + indexSuffix; ; next += indexSuffix {
			if _, ok := infos[next]; !ok {
				break
			}
			col.Index = append([]string{next}, col.Index...)
		}
		if outer := infos[col.Index[0]]; outer.Rows() != rows {
			slog.Debug("Skipping ragged column with mismatched index length",
				slog.String("table", tablePath), slog.String("column", name),
				slog.Int64("indexRows", outer.Rows()), slog.Int64("rows", rows))
			return ColumnSpec{}, false, nil
		}
		if info.Family == backend.FamilyRef {
			col.Elem = String
		}
		return col, true, nil
	}

	if len(info.Shape) == 0 || info.Rows() != rows {
		slog.Debug("Skipping array whose length differs from the table",
			slog.String("table", tablePath), slog.String("array", name),
			slog.Any("shape", info.Shape), slog.Int64("rows", rows))
		return ColumnSpec{}, false, nil
	}

	switch {
	// 2. fixed multi-dimensional
	case len(info.Shape) > 1:
		col.Kind = Fixed
		col.Shape = slices.Clone(info.Inner())
	// 3. stored object references, or region indices into another table
	case info.Family == backend.FamilyRef:
		col.Kind = Reference
		col.Elem = Int
	case col.RefTable != "" && info.Family == backend.FamilyInt:
		col.Kind = Reference
	// 4. scalar
	default:
		col.Kind = Scalar
		if col.Elem == Unknown {
			slog.Debug("Skipping column with unsupported dtype",
				slog.String("table", tablePath), slog.String("column", name),
				slog.String("dtype", info.DType))
			return ColumnSpec{}, false, nil
		}
	}
	return col, true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
