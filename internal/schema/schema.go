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

// Package schema discovers table-like groups in an NWB file, infers the
// type of each column, and merges per-file schemas into one.
package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/cardinalhq/lakenwb/internal/backend"
)

// ColumnKind is the structural kind of a column.
type ColumnKind int

const (
	Scalar ColumnKind = iota
	Ragged
	Fixed
	Reference
)

func (k ColumnKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Ragged:
		return "ragged"
	case Fixed:
		return "fixed"
	case Reference:
		return "reference"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseColumnKind is the inverse of ColumnKind.String.
func ParseColumnKind(s string) (ColumnKind, error) {
	for _, k := range []ColumnKind{Scalar, Ragged, Fixed, Reference} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// ElemType is the element type of a column's values.
type ElemType int

const (
	Unknown ElemType = iota
	Bool
	Int
	Float
	String
)

func (e ElemType) String() string {
	switch e {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	}
	return "unknown"
}

// ParseElemType is the inverse of ElemType.String.
func ParseElemType(s string) (ElemType, error) {
	for _, e := range []ElemType{Bool, Int, Float, String} {
		if strings.EqualFold(s, e.String()) {
			return e, nil
		}
	}
	return Unknown, fmt.Errorf("unknown element type %q", s)
}

// ElemOf maps a backend family to an element type. References map to Int
// because they materialize as row positions.
func ElemOf(f backend.Family) ElemType {
	switch f {
	case backend.FamilyBool:
		return Bool
	case backend.FamilyInt:
		return Int
	case backend.FamilyFloat:
		return Float
	case backend.FamilyString:
		return String
	case backend.FamilyRef:
		return Int
	}
	return Unknown
}

// Identity columns added to every materialized row.
const (
	ColNWBPath    = "_nwb_path"
	ColTablePath  = "_table_path"
	ColTableIndex = "_table_index"
	ColID         = "id"
)

// IsIdentity reports whether name is one of the identity columns.
func IsIdentity(name string) bool {
	return name == ColNWBPath || name == ColTablePath || name == ColTableIndex
}

// ColumnSpec describes one column. Data and Index name arrays relative to
// the table group, so one spec serves every file that shares the layout.
type ColumnSpec struct {
	Name string
	Kind ColumnKind
	Elem ElemType

	Data string
	// Index lists offsets arrays, outermost first, for ragged columns.
	Index []string
	// Shape is the per-row trailing shape of a fixed column.
	Shape []int64
	// RefTable is the target table of a region reference; empty for
	// stored object references.
	RefTable string

	Nullable bool
}

// Depth is the ragged nesting level.
func (c ColumnSpec) Depth() int { return len(c.Index) }

// Array reports whether values are sequences rather than single values.
func (c ColumnSpec) Array() bool { return c.Kind == Ragged || c.Kind == Fixed }

func (c ColumnSpec) String() string {
	s := c.Kind.String() + "<" + c.Elem.String()
	switch {
	case c.Kind == Ragged && c.Depth() > 1:
		s += fmt.Sprintf(", depth=%d", c.Depth())
	case c.Kind == Fixed:
		s += fmt.Sprintf(", shape=%v", c.Shape)
	}
	if c.RefTable != "" {
		s += ", table=" + c.RefTable
	}
	s += ">"
	if c.Nullable {
		s += "?"
	}
	return s
}

func (c ColumnSpec) clone() ColumnSpec {
	c.Index = slices.Clone(c.Index)
	c.Shape = slices.Clone(c.Shape)
	return c
}

// Schema is an ordered set of columns: id first, then by name.
type Schema struct {
	Columns []ColumnSpec
}

// NewSchema sorts cols into canonical order.
func NewSchema(cols []ColumnSpec) *Schema {
	out := make([]ColumnSpec, len(cols))
	copy(out, cols)
	sort.Slice(out, func(i, j int) bool { return columnLess(out[i].Name, out[j].Name) })
	return &Schema{Columns: out}
}

func columnLess(a, b string) bool {
	if a == ColID || b == ColID {
		return a == ColID && b != ColID
	}
	return a < b
}

// Lookup finds a column by name.
func (s *Schema) Lookup(name string) (ColumnSpec, bool) {
	if s == nil {
		return ColumnSpec{}, false
	}
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Names lists column names in schema order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Len is the number of columns.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Columns)
}

// Table is the inferred shape of one table in one file.
type Table struct {
	Path   string
	Rows   int64
	Schema *Schema
}
