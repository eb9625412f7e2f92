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

// Package predicate holds row filter expressions: an AST of column
// comparisons joined by and, or and not, evaluated with three-valued logic
// so that null values never select a row.
//
//	p, err := predicate.Parse(`location = 'CA1' and (amp > 1.5 or id in (1, 2, 3))`)
package predicate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Truth is a Kleene truth value. The ordering False < Unknown < True makes
// and the minimum and or the maximum.
type Truth int8

const (
	False Truth = iota
	Unknown
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Not negates t, leaving Unknown unchanged.
func (t Truth) Not() Truth { return True - t }

func truthOf(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Row gives the value of a column at one row. Values are bool, int64,
// float64 or string; nil is null.
type Row interface {
	Value(column string) any
}

// RowFunc adapts a function to Row.
type RowFunc func(column string) any

func (f RowFunc) Value(column string) any { return f(column) }

// Expr is a predicate node.
type Expr interface {
	Eval(r Row) Truth
	String() string
	columns(set mapset.Set[string])
}

// Columns returns the set of column names e references.
func Columns(e Expr) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	if e != nil {
		e.columns(set)
	}
	return set
}

// Walk calls fn for e and every node beneath it, parents first. It stops
// descending when fn returns false.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch t := e.(type) {
	case *And:
		for _, x := range t.Terms {
			Walk(x, fn)
		}
	case *Or:
		for _, x := range t.Terms {
			Walk(x, fn)
		}
	case *Not:
		Walk(t.Expr, fn)
	}
}

// Op is a comparison operator.
type Op string

const (
	Eq Op = "="
	Ne Op = "!="
	Lt Op = "<"
	Le Op = "<="
	Gt Op = ">"
	Ge Op = ">="
)

// Compare tests one column against a literal.
type Compare struct {
	Column string
	Op     Op
	Value  any
}

func (c *Compare) Eval(r Row) Truth {
	cmp, ok := compareValues(r.Value(c.Column), c.Value)
	if !ok {
		return Unknown
	}
	switch c.Op {
	case Eq:
		return truthOf(cmp == 0)
	case Ne:
		return truthOf(cmp != 0)
	case Lt:
		return truthOf(cmp < 0)
	case Le:
		return truthOf(cmp <= 0)
	case Gt:
		return truthOf(cmp > 0)
	case Ge:
		return truthOf(cmp >= 0)
	}
	return Unknown
}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Column, c.Op, formatLiteral(c.Value))
}

func (c *Compare) columns(set mapset.Set[string]) { set.Add(c.Column) }

// In tests column membership in a literal list.
type In struct {
	Column string
	Values []any
}

func (in *In) Eval(r Row) Truth {
	v := r.Value(in.Column)
	if isNull(v) {
		return Unknown
	}
	for _, lit := range in.Values {
		if cmp, ok := compareValues(v, lit); ok && cmp == 0 {
			return True
		}
	}
	return False
}

func (in *In) String() string {
	parts := make([]string, len(in.Values))
	for i, v := range in.Values {
		parts[i] = formatLiteral(v)
	}
	return fmt.Sprintf("%s in (%s)", in.Column, strings.Join(parts, ", "))
}

func (in *In) columns(set mapset.Set[string]) { set.Add(in.Column) }

// IsNull tests for a null value, or a non-null one when Negate is set.
// It is never Unknown.
type IsNull struct {
	Column string
	Negate bool
}

func (n *IsNull) Eval(r Row) Truth {
	return truthOf(isNull(r.Value(n.Column)) != n.Negate)
}

func (n *IsNull) String() string {
	if n.Negate {
		return n.Column + " is not null"
	}
	return n.Column + " is null"
}

func (n *IsNull) columns(set mapset.Set[string]) { set.Add(n.Column) }

type And struct{ Terms []Expr }

func (a *And) Eval(r Row) Truth {
	out := True
	for _, t := range a.Terms {
		out = min(out, t.Eval(r))
		if out == False {
			return False
		}
	}
	return out
}

func (a *And) String() string { return join(a.Terms, " and ") }

func (a *And) columns(set mapset.Set[string]) {
	for _, t := range a.Terms {
		t.columns(set)
	}
}

type Or struct{ Terms []Expr }

func (o *Or) Eval(r Row) Truth {
	out := False
	for _, t := range o.Terms {
		out = max(out, t.Eval(r))
		if out == True {
			return True
		}
	}
	return out
}

func (o *Or) String() string { return join(o.Terms, " or ") }

func (o *Or) columns(set mapset.Set[string]) {
	for _, t := range o.Terms {
		t.columns(set)
	}
}

type Not struct{ Expr Expr }

func (n *Not) Eval(r Row) Truth { return n.Expr.Eval(r).Not() }

func (n *Not) String() string { return "not (" + n.Expr.String() + ")" }

func (n *Not) columns(set mapset.Set[string]) { n.Expr.columns(set) }

// AndOf joins terms with and, flattening nested conjunctions. Nil terms
// are dropped.
func AndOf(terms ...Expr) Expr {
	var flat []Expr
	for _, t := range terms {
		switch x := t.(type) {
		case nil:
		case *And:
			flat = append(flat, x.Terms...)
		default:
			flat = append(flat, t)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return &And{Terms: flat}
}

// OrOf joins terms with or, flattening nested disjunctions.
func OrOf(terms ...Expr) Expr {
	var flat []Expr
	for _, t := range terms {
		switch x := t.(type) {
		case nil:
		case *Or:
			flat = append(flat, x.Terms...)
		default:
			flat = append(flat, t)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return &Or{Terms: flat}
}

func join(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		s := t.String()
		switch t.(type) {
		case *And, *Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

// NaN is the fill value of float columns and reads as null.
func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(t)
	}
	return false
}

// compareValues orders a against b. ok is false when either is null or the
// two are not comparable; ints and floats compare numerically.
func compareValues(a, b any) (int, bool) {
	if isNull(a) || isNull(b) {
		return 0, false
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func formatLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "\\'") + "'"
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}
