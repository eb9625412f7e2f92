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

package backend

import (
	"fmt"
)

// Block is a decoded run of rows from one array. Values are stored flat in
// C order; only the slice matching Family is populated.
type Block struct {
	Family Family
	Rows   int
	Inner  []int64

	Bools   []bool
	Ints    []int64
	Floats  []float64
	Strings []string
	Refs    []Ref
}

// NewBlock allocates an empty block with room for capRows rows.
func NewBlock(f Family, inner []int64, capRows int) *Block {
	b := &Block{Family: f, Inner: inner}
	n := capRows * b.Stride()
	switch f {
	case FamilyBool:
		b.Bools = make([]bool, 0, n)
	case FamilyInt:
		b.Ints = make([]int64, 0, n)
	case FamilyFloat:
		b.Floats = make([]float64, 0, n)
	case FamilyString:
		b.Strings = make([]string, 0, n)
	case FamilyRef:
		b.Refs = make([]Ref, 0, n)
	}
	return b
}

// Stride is the number of flat elements per row.
func (b *Block) Stride() int {
	s := 1
	for _, d := range b.Inner {
		s *= int(d)
	}
	return s
}

// Len is the number of rows.
func (b *Block) Len() int { return b.Rows }

// AppendRows copies rows [start, end) of src onto b.
func (b *Block) AppendRows(src *Block, start, end int) {
	s := src.Stride()
	lo, hi := start*s, end*s
	switch b.Family {
	case FamilyBool:
		b.Bools = append(b.Bools, src.Bools[lo:hi]...)
	case FamilyInt:
		b.Ints = append(b.Ints, src.Ints[lo:hi]...)
	case FamilyFloat:
		b.Floats = append(b.Floats, src.Floats[lo:hi]...)
	case FamilyString:
		b.Strings = append(b.Strings, src.Strings[lo:hi]...)
	case FamilyRef:
		b.Refs = append(b.Refs, src.Refs[lo:hi]...)
	}
	b.Rows += end - start
}

// Gather returns a new block holding the given rows of b, in order.
func (b *Block) Gather(rows []int) *Block {
	out := NewBlock(b.Family, b.Inner, len(rows))
	for _, r := range rows {
		out.AppendRows(b, r, r+1)
	}
	return out
}

// Value returns the element of a one-dimensional block at row i.
func (b *Block) Value(i int) any {
	switch b.Family {
	case FamilyBool:
		return b.Bools[i]
	case FamilyInt:
		return b.Ints[i]
	case FamilyFloat:
		return b.Floats[i]
	case FamilyString:
		return b.Strings[i]
	case FamilyRef:
		return b.Refs[i]
	}
	return nil
}

// Int64s returns the block's values as int64, for offsets and indices.
func (b *Block) Int64s() ([]int64, error) {
	switch b.Family {
	case FamilyInt:
		return b.Ints, nil
	case FamilyFloat:
		out := make([]int64, len(b.Floats))
		for i, f := range b.Floats {
			out[i] = int64(f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot read %s values as integers", b.Family)
}

// Float64s returns numeric values as float64.
func (b *Block) Float64s() ([]float64, error) {
	switch b.Family {
	case FamilyFloat:
		return b.Floats, nil
	case FamilyInt:
		out := make([]float64, len(b.Ints))
		for i, v := range b.Ints {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot read %s values as floats", b.Family)
}
