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
	"strconv"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/schema"
)

// appender writes element i of a block onto an Arrow builder.
type appender func(b array.Builder, blk *backend.Block, i int)

// appenderFor returns the conversion from a stored family to the column's
// element type, or an error when the stored values cannot be represented.
func appenderFor(from backend.Family, to schema.ElemType) (appender, error) {
	switch to {
	case schema.Bool:
		if from == backend.FamilyBool {
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.BooleanBuilder).Append(blk.Bools[i])
			}, nil
		}
	case schema.Int:
		switch from {
		case backend.FamilyInt:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.Int64Builder).Append(blk.Ints[i])
			}, nil
		case backend.FamilyBool:
			return func(b array.Builder, blk *backend.Block, i int) {
				var v int64
				if blk.Bools[i] {
					v = 1
				}
				b.(*array.Int64Builder).Append(v)
			}, nil
		}
	case schema.Float:
		switch from {
		case backend.FamilyFloat:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.Float64Builder).Append(blk.Floats[i])
			}, nil
		case backend.FamilyInt:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.Float64Builder).Append(float64(blk.Ints[i]))
			}, nil
		}
	case schema.String:
		switch from {
		case backend.FamilyString:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.StringBuilder).Append(blk.Strings[i])
			}, nil
		case backend.FamilyInt:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.StringBuilder).Append(strconv.FormatInt(blk.Ints[i], 10))
			}, nil
		case backend.FamilyFloat:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.StringBuilder).Append(strconv.FormatFloat(blk.Floats[i], 'g', -1, 64))
			}, nil
		case backend.FamilyBool:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.StringBuilder).Append(strconv.FormatBool(blk.Bools[i]))
			}, nil
		case backend.FamilyRef:
			return func(b array.Builder, blk *backend.Block, i int) {
				b.(*array.StringBuilder).Append(blk.Refs[i].Path)
			}, nil
		}
	}
	return nil, fmt.Errorf("%s values cannot be read as %s", from, to)
}
