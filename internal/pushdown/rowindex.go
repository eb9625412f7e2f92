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

package pushdown

import (
	"fmt"
	"slices"
)

// RowIndex is the set of rows selected from one source: either every row
// of an n-row table, or an ascending list of distinct positions.
type RowIndex struct {
	all  bool
	n    int64
	rows []int64
}

// All selects every row of an n-row table without listing them.
func All(n int64) RowIndex { return RowIndex{all: true, n: n} }

// Rows selects the given positions. They are sorted and deduplicated.
func Rows(rows []int64) RowIndex {
	out := slices.Clone(rows)
	slices.Sort(out)
	return RowIndex{rows: slices.Compact(out)}
}

// IsAll reports whether r is the every-row sentinel.
func (r RowIndex) IsAll() bool { return r.all }

// Len is the number of selected rows.
func (r RowIndex) Len() int64 {
	if r.all {
		return r.n
	}
	return int64(len(r.rows))
}

// Empty reports whether no row is selected.
func (r RowIndex) Empty() bool { return r.Len() == 0 }

// Positions lists the selected rows in ascending order.
func (r RowIndex) Positions() []int64 {
	if !r.all {
		return r.rows
	}
	out := make([]int64, r.n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}

// Truncate keeps the first n selected rows.
func (r RowIndex) Truncate(n int64) RowIndex {
	n = max(n, 0)
	if r.all {
		return All(min(r.n, n))
	}
	if int64(len(r.rows)) <= n {
		return r
	}
	return RowIndex{rows: r.rows[:n]}
}

// Validate checks that every position is below rows.
func (r RowIndex) Validate(rows int64) error {
	if r.Len() > 0 && r.last() >= rows {
		return fmt.Errorf("row index %d exceeds table of %d rows", r.last(), rows)
	}
	return nil
}

func (r RowIndex) last() int64 {
	if r.all {
		return r.n - 1
	}
	return r.rows[len(r.rows)-1]
}

func (r RowIndex) String() string {
	if r.all {
		return fmt.Sprintf("all(%d)", r.n)
	}
	return fmt.Sprintf("rows(%d)", len(r.rows))
}
