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

package materialize

import (
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// ResolvedName is the output column for field of reference column col.
func ResolvedName(col, field string) string { return col + "." + field }

// resolveColumn dereferences reference column c at the fetched rows. Region
// references pull the scalar columns of the target table at the referenced
// rows; stored object references pull the target's attributes as text.
// Nothing is returned when the source lacks the column.
func resolveColumn(ctx context.Context, mem memory.Allocator, req Request, c schema.ColumnSpec, positions []int64) ([]arrow.Field, []arrow.Array, error) {
	src, ok, err := sourceSpec(req.Table, c)
	if err != nil || !ok || len(positions) == 0 {
		return nil, nil, err
	}
	p := backend.Join(req.Table.Path, src.Data)
	blk, err := backend.ReadRows(ctx, req.Store, p, positions)
	if err != nil {
		return nil, nil, err
	}
	switch blk.Family {
	case backend.FamilyInt:
		return resolveRegion(ctx, mem, req.Store, c.Name, src.RefTable, blk.Ints)
	case backend.FamilyRef:
		// The attribute columns come from every target in the column, so
		// they do not depend on which rows were selected.
		all, err := backend.ReadAll(ctx, req.Store, p)
		if err != nil {
			return nil, nil, err
		}
		return resolveObjects(ctx, mem, req.Store, c.Name, blk.Refs, all.Refs)
	}
	return nil, nil, fmt.Errorf("column %q: %s values are not references: %w", c.Name, blk.Family, nwberr.ErrReferenceResolution)
}

func resolveRegion(ctx context.Context, mem memory.Allocator, store backend.Store, col, target string, rows []int64) ([]arrow.Field, []arrow.Array, error) {
	if target == "" {
		return nil, nil, fmt.Errorf("column %q has no target table: %w", col, nwberr.ErrReferenceResolution)
	}
	tbl, err := schema.Infer(ctx, store, target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: table %s: %w", nwberr.ErrReferenceResolution, target, err)
	}

	uniq := slices.Clone(rows)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)
	if len(uniq) > 0 && (uniq[0] < 0 || uniq[len(uniq)-1] >= tbl.Rows) {
		return nil, nil, fmt.Errorf("%w: column %q points outside %s (%d rows)",
			nwberr.ErrReferenceResolution, col, target, tbl.Rows)
	}
	slot := make([]int, len(rows))
	for i, r := range rows {
		slot[i], _ = slices.BinarySearch(uniq, r)
	}

	var fields []arrow.Field
	var arrays []arrow.Array
	for _, tc := range tbl.Schema.Columns {
		if tc.Kind != schema.Scalar {
			continue
		}
		data, err := backend.ReadRows(ctx, store, backend.Join(target, tc.Data), uniq)
		if err != nil {
			releaseAll(arrays)
			return nil, nil, fmt.Errorf("%w: %s: %w", nwberr.ErrReferenceResolution, target, err)
		}
		app, err := appenderFor(data.Family, tc.Elem)
		if err != nil {
			releaseAll(arrays)
			return nil, nil, fmt.Errorf("%w: %s column %q: %w", nwberr.ErrReferenceResolution, target, tc.Name, err)
		}
		b := array.NewBuilder(mem, elemType(tc.Elem))
		b.Reserve(len(rows))
		for _, j := range slot {
			app(b, data, j)
		}
		fields = append(fields, arrow.Field{Name: ResolvedName(col, tc.Name), Type: elemType(tc.Elem), Nullable: true})
		arrays = append(arrays, b.NewArray())
		b.Release()
	}
	return fields, arrays, nil
}

// resolveObjects fills one text column per attribute key found on any
// target in column; refs are the selected rows. Only a selected row
// pointing at a missing target is an error.
func resolveObjects(ctx context.Context, mem memory.Allocator, store backend.Store, col string, refs, column []backend.Ref) ([]arrow.Field, []arrow.Array, error) {
	selected := map[string]bool{}
	for _, ref := range refs {
		selected[ref.Path] = true
	}
	attrsOf := map[string]map[string]any{}
	var keys []string
	for _, ref := range column {
		if ref.Path == "" {
			continue
		}
		if _, done := attrsOf[ref.Path]; done {
			continue
		}
		ok, err := backend.Exists(ctx, store, ref.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", nwberr.ErrReferenceResolution, ref.Path, err)
		}
		if !ok {
			if selected[ref.Path] {
				return nil, nil, fmt.Errorf("%w: column %q points at missing %s", nwberr.ErrReferenceResolution, col, ref.Path)
			}
			attrsOf[ref.Path] = nil
			continue
		}
		attrs, err := store.Attrs(ctx, ref.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", nwberr.ErrReferenceResolution, ref.Path, err)
		}
		attrsOf[ref.Path] = attrs
		for k := range attrs {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)

	fields := make([]arrow.Field, 0, len(keys))
	arrays := make([]arrow.Array, 0, len(keys))
	for _, k := range keys {
		b := array.NewStringBuilder(mem)
		b.Reserve(len(refs))
		for _, ref := range refs {
			v, ok := attrsOf[ref.Path][k]
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(backend.FormatAttr(v))
		}
		fields = append(fields, arrow.Field{Name: ResolvedName(col, k), Type: arrow.BinaryTypes.String, Nullable: true})
		arrays = append(arrays, b.NewArray())
		b.Release()
	}
	return fields, arrays, nil
}

func releaseAll(arrays []arrow.Array) {
	for _, a := range arrays {
		a.Release()
	}
}
