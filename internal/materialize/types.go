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

// Package materialize reads selected rows and columns of one source into
// an Arrow record, and concatenates per-source records.
package materialize

import (
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/cardinalhq/lakenwb/internal/schema"
)

// Field names of the reference struct.
const (
	RefTableField = "table"
	RefRowField   = "row"
)

// MetaShape is the field metadata key holding a fixed column's per-row shape.
const MetaShape = "shape"

var refType = arrow.StructOf(
	arrow.Field{Name: RefTableField, Type: arrow.BinaryTypes.String, Nullable: true},
	arrow.Field{Name: RefRowField, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
)

func elemType(e schema.ElemType) arrow.DataType {
	switch e {
	case schema.Bool:
		return arrow.FixedWidthTypes.Boolean
	case schema.Int:
		return arrow.PrimitiveTypes.Int64
	case schema.Float:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowType maps a column to its Arrow type.
func ArrowType(c schema.ColumnSpec) arrow.DataType {
	switch c.Kind {
	case schema.Ragged:
		t := elemType(c.Elem)
		for range c.Depth() {
			t = arrow.ListOf(t)
		}
		return t
	case schema.Fixed:
		return arrow.FixedSizeListOf(int32(flatSize(c.Shape)), elemType(c.Elem))
	case schema.Reference:
		return refType
	default:
		return elemType(c.Elem)
	}
}

// Field returns the Arrow field for c. Every field is nullable because a
// column can be absent from some sources.
func Field(c schema.ColumnSpec) arrow.Field {
	f := arrow.Field{Name: c.Name, Type: ArrowType(c), Nullable: true}
	if c.Kind == schema.Fixed {
		dims := make([]string, len(c.Shape))
		for i, d := range c.Shape {
			dims[i] = strconv.FormatInt(d, 10)
		}
		f.Metadata = arrow.NewMetadata([]string{MetaShape}, []string{strings.Join(dims, ",")})
	}
	return f
}

// IdentityFields are the leading fields of every record.
func IdentityFields() []arrow.Field {
	return []arrow.Field{
		{Name: schema.ColNWBPath, Type: arrow.BinaryTypes.String},
		{Name: schema.ColTablePath, Type: arrow.BinaryTypes.String},
		{Name: schema.ColTableIndex, Type: arrow.PrimitiveTypes.Int64},
	}
}

// Schema is the Arrow schema of a record holding cols, before any
// resolved reference columns.
func Schema(cols []schema.ColumnSpec) *arrow.Schema {
	fields := IdentityFields()
	for _, c := range cols {
		fields = append(fields, Field(c))
	}
	return arrow.NewSchema(fields, nil)
}

func flatSize(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
