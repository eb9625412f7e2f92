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

package predicate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRow map[string]any

func (m mapRow) Value(c string) any { return m[c] }

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Expr
	}{
		{"amp > 1.5", &Compare{Column: "amp", Op: Gt, Value: 1.5}},
		{"id = 3", &Compare{Column: "id", Op: Eq, Value: int64(3)}},
		{"id == -3", &Compare{Column: "id", Op: Eq, Value: int64(-3)}},
		{"x <> 1e3", &Compare{Column: "x", Op: Ne, Value: 1000.0}},
		{"location = 'CA''1'", &Compare{Column: "location", Op: Eq, Value: "CA'1"}},
		{`name != "a\"b"`, &Compare{Column: "name", Op: Ne, Value: `a"b`}},
		{"good = TRUE", &Compare{Column: "good", Op: Eq, Value: true}},
		{"electrode.x <= 2", &Compare{Column: "electrode.x", Op: Le, Value: int64(2)}},
		{"`in` >= 0", &Compare{Column: "in", Op: Ge, Value: int64(0)}},
		{"id in (1, 2.5, 'x')", &In{Column: "id", Values: []any{int64(1), 2.5, "x"}}},
		{"id not in (1)", &Not{Expr: &In{Column: "id", Values: []any{int64(1)}}}},
		{"amp is null", &IsNull{Column: "amp"}},
		{"amp IS NOT NULL", &IsNull{Column: "amp", Negate: true}},
		{
			"location = 'CA1' and (amp > 1.5 or id in (1,2,3))",
			&And{Terms: []Expr{
				&Compare{Column: "location", Op: Eq, Value: "CA1"},
				&Or{Terms: []Expr{
					&Compare{Column: "amp", Op: Gt, Value: 1.5},
					&In{Column: "id", Values: []any{int64(1), int64(2), int64(3)}},
				}},
			}},
		},
		{
			"a = 1 or b = 2 and c = 3",
			&Or{Terms: []Expr{
				&Compare{Column: "a", Op: Eq, Value: int64(1)},
				&And{Terms: []Expr{
					&Compare{Column: "b", Op: Eq, Value: int64(2)},
					&Compare{Column: "c", Op: Eq, Value: int64(3)},
				}},
			}},
		},
		{"not not a = 1", &Not{Expr: &Not{Expr: &Compare{Column: "a", Op: Eq, Value: int64(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"amp >",
		"amp > 1 and",
		"(amp > 1",
		"amp > 1)",
		"amp ! 1",
		"amp = 'open",
		"1 = amp",
		"amp in ()",
		"amp is 3",
		"amp = x",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsDeepNesting(t *testing.T) {
	input := ""
	for range maxDepth + 1 {
		input += "("
	}
	input += "a = 1"
	for range maxDepth + 1 {
		input += ")"
	}
	_, err := Parse(input)
	assert.ErrorContains(t, err, "nested deeper")
}

func TestStringReparses(t *testing.T) {
	for _, input := range []string{
		"location = 'CA1' and (amp > 1.5 or id in (1, 2, 3))",
		"not (a is null) or b is not null",
		"s = 'it''s'",
	} {
		e := MustParse(input)
		again, err := Parse(e.String())
		require.NoError(t, err, e.String())
		assert.Equal(t, e, again)
	}
}

func TestColumns(t *testing.T) {
	e := MustParse("location = 'CA1' and (amp > 1.5 or id in (1,2,3)) and not amp is null")
	assert.ElementsMatch(t, []string{"location", "amp", "id"}, Columns(e).ToSlice())
	assert.Equal(t, 0, Columns(nil).Cardinality())
}

func TestKleeneEvaluation(t *testing.T) {
	row := mapRow{"a": int64(1), "f": math.NaN(), "s": "x"}
	tests := []struct {
		input string
		want  Truth
	}{
		{"a = 1", True},
		{"a = 1.0", True},
		{"a < 0.5", False},
		{"missing = 1", Unknown},
		{"f = 1", Unknown},
		{"f is null", True},
		{"missing is not null", False},
		{"s > 'w'", True},
		{"s = 1", Unknown},
		{"missing = 1 and a = 2", False},
		{"missing = 1 and a = 1", Unknown},
		{"missing = 1 or a = 1", True},
		{"missing = 1 or a = 2", Unknown},
		{"not missing = 1", Unknown},
		{"not a = 2", True},
		{"missing in (1, 2)", Unknown},
		{"a in (2, 1)", True},
		{"a not in (2, 1)", False},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParse(tt.input).Eval(row))
		})
	}
}

func TestBuildersFlatten(t *testing.T) {
	a := &Compare{Column: "a", Op: Eq, Value: int64(1)}
	b := &Compare{Column: "b", Op: Eq, Value: int64(1)}
	assert.Nil(t, AndOf())
	assert.Same(t, a, AndOf(nil, a))
	assert.Equal(t, &And{Terms: []Expr{a, b, a}}, AndOf(AndOf(a, b), a))
	assert.Equal(t, &Or{Terms: []Expr{a, b}}, OrOf(a, nil, OrOf(b)))
}

func TestWalk(t *testing.T) {
	var seen []string
	Walk(MustParse("a = 1 or not (b = 2 and c is null)"), func(e Expr) bool {
		switch x := e.(type) {
		case *Compare:
			seen = append(seen, x.Column)
		case *IsNull:
			seen = append(seen, x.Column)
		}
		return true
	})
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}
