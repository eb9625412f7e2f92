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
	"fmt"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/lakenwb/nwberr"
)

// Merge unions two schemas by column name. It is commutative and
// associative, and a nil schema (a source without the table) is its
// identity. Columns present on one side only become nullable. Columns
// named in overrides take the override spec without type checks.
func Merge(a, b *Schema, overrides Overrides) (*Schema, error) {
	if a == nil {
		return applyOverrides(b, overrides), nil
	}
	if b == nil {
		return applyOverrides(a, overrides), nil
	}

	names := mapset.NewThreadUnsafeSet(a.Names()...)
	names.Append(b.Names()...)

	cols := make([]ColumnSpec, 0, names.Cardinality())
	for name := range names.Iter() {
		ca, okA := a.Lookup(name)
		cb, okB := b.Lookup(name)
		if ov, ok := overrides[name]; ok {
			spec := ov.spec(name)
			spec.Nullable = !okA || !okB || ca.Nullable || cb.Nullable
			cols = append(cols, spec)
			continue
		}
		switch {
		case okA && okB:
			merged, err := mergeColumn(ca, cb)
			if err != nil {
				slog.Error("Schema conflict", slog.String("column", name), slog.Any("error", err))
				return nil, err
			}
			cols = append(cols, merged)
		case okA:
			ca = ca.clone()
			ca.Nullable = true
			cols = append(cols, ca)
		default:
			cb = cb.clone()
			cb.Nullable = true
			cols = append(cols, cb)
		}
	}
	return NewSchema(cols), nil
}

// MergeAll folds Merge over schemas.
func MergeAll(schemas []*Schema, overrides Overrides) (*Schema, error) {
	var out *Schema
	for _, s := range schemas {
		var err error
		if out, err = Merge(out, s, overrides); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func conflict(col string, kind error, format string, args ...any) error {
	return &nwberr.ConflictError{Column: col, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func mergeColumn(a, b ColumnSpec) (ColumnSpec, error) {
	if a.Kind != b.Kind {
		return ColumnSpec{}, conflict(a.Name, nwberr.ErrSchemaConflict, "kind %s vs %s", a.Kind, b.Kind)
	}
	elem, ok := widen(a.Elem, b.Elem)
	if !ok {
		return ColumnSpec{}, conflict(a.Name, nwberr.ErrSchemaConflict, "type %s vs %s", a.Elem, b.Elem)
	}
	if a.Depth() != b.Depth() {
		return ColumnSpec{}, conflict(a.Name, nwberr.ErrSchemaConflict, "ragged depth %d vs %d", a.Depth(), b.Depth())
	}
	if a.Kind == Fixed && !slices.Equal(a.Shape, b.Shape) {
		return ColumnSpec{}, conflict(a.Name, nwberr.ErrShapeMismatch, "shape %v vs %v", a.Shape, b.Shape)
	}
	if a.RefTable != b.RefTable {
		return ColumnSpec{}, conflict(a.Name, nwberr.ErrSchemaConflict, "reference target %q vs %q", a.RefTable, b.RefTable)
	}

	out := a.clone()
	out.Elem = elem
	out.Nullable = a.Nullable || b.Nullable
	return out, nil
}

// widen returns the common element type, allowing int to widen to float.
func widen(a, b ElemType) (ElemType, bool) {
	switch {
	case a == b:
		return a, true
	case (a == Int && b == Float) || (a == Float && b == Int):
		return Float, true
	}
	return Unknown, false
}

func applyOverrides(s *Schema, overrides Overrides) *Schema {
	if s == nil || len(overrides) == 0 {
		return s
	}
	cols := make([]ColumnSpec, len(s.Columns))
	for i, c := range s.Columns {
		if ov, ok := overrides[c.Name]; ok {
			spec := ov.spec(c.Name)
			spec.Nullable = c.Nullable
			c = spec
		}
		cols[i] = c
	}
	return NewSchema(cols)
}
