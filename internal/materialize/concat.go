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
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/cardinalhq/lakenwb/nwberr"
)

// Concat stacks recs in order under base. Fields some records add beyond
// base, such as resolved reference columns, are appended in first-seen
// order and null-filled for records without them. The same extra field
// arriving as int64 and float64 widens to float64; any other type clash
// is a schema conflict. Inputs are not released.
func Concat(mem memory.Allocator, base *arrow.Schema, recs []arrow.Record) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	fields := append([]arrow.Field(nil), base.Fields()...)
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}
	var total int64
	for _, rec := range recs {
		total += rec.NumRows()
		for _, f := range rec.Schema().Fields() {
			i, ok := index[f.Name]
			if !ok {
				index[f.Name] = len(fields)
				f.Nullable = true
				fields = append(fields, f)
				continue
			}
			if arrow.TypeEqual(fields[i].Type, f.Type) {
				continue
			}
			if isNumeric(fields[i].Type) && isNumeric(f.Type) {
				fields[i].Type = arrow.PrimitiveTypes.Float64
				continue
			}
			return nil, &nwberr.ConflictError{
				Column: f.Name,
				Kind:   nwberr.ErrSchemaConflict,
				Detail: fmt.Sprintf("type %s vs %s", fields[i].Type, f.Type),
			}
		}
	}

	cols := make([]arrow.Array, 0, len(fields))
	defer func() { releaseAll(cols) }()
	for _, f := range fields {
		parts := make([]arrow.Array, 0, len(recs))
		for _, rec := range recs {
			part, err := columnFor(mem, rec, f)
			if err != nil {
				releaseAll(parts)
				return nil, err
			}
			parts = append(parts, part)
		}
		var col arrow.Array
		if len(parts) == 0 {
			col = array.MakeArrayOfNull(mem, f.Type, 0)
		} else {
			var err error
			col, err = array.Concatenate(parts, mem)
			releaseAll(parts)
			if err != nil {
				return nil, fmt.Errorf("concatenate %s: %w", f.Name, err)
			}
		}
		cols = append(cols, col)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, total), nil
}

func isNumeric(t arrow.DataType) bool {
	return t.ID() == arrow.INT64 || t.ID() == arrow.FLOAT64
}

// columnFor returns rec's column for f with a reference the caller owns,
// null-filled when rec lacks it and widened to float64 when needed.
func columnFor(mem memory.Allocator, rec arrow.Record, f arrow.Field) (arrow.Array, error) {
	idx := rec.Schema().FieldIndices(f.Name)
	if len(idx) == 0 {
		return array.MakeArrayOfNull(mem, f.Type, int(rec.NumRows())), nil
	}
	col := rec.Column(idx[0])
	if arrow.TypeEqual(col.DataType(), f.Type) {
		col.Retain()
		return col, nil
	}
	ints, ok := col.(*array.Int64)
	if !ok || f.Type.ID() != arrow.FLOAT64 {
		return nil, fmt.Errorf("column %s: cannot convert %s to %s", f.Name, col.DataType(), f.Type)
	}
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.Reserve(ints.Len())
	for i := range ints.Len() {
		if ints.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(float64(ints.Value(i)))
	}
	return b.NewArray(), nil
}
