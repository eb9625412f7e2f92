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

package timeseries

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Record reads samples [start, end) into a record with a timestamps column
// and, when the series has data, a data column. Multi-channel data becomes
// a fixed-size list per sample. Conversion and offset are applied.
func (ts *TimeSeries) Record(ctx context.Context, mem memory.Allocator, start, end int64) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	ax, err := ts.timeAxis(ctx)
	if err != nil {
		return nil, err
	}
	start = max(start, 0)
	end = min(end, ax.Len())
	end = max(end, start)

	tb := array.NewFloat64Builder(mem)
	defer tb.Release()
	tb.Reserve(int(end - start))
	for i := start; i < end; i++ {
		tb.Append(ax.At(i))
	}
	stamps := tb.NewArray()
	defer stamps.Release()

	fields := []arrow.Field{{Name: timestampsName, Type: arrow.PrimitiveTypes.Float64}}
	cols := []arrow.Array{stamps}

	if ts.HasData() {
		raw, err := ts.Data.ReadRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		vals := ts.Scale(raw)
		stride := ts.Data.Stride()

		var b array.Builder
		if stride == 1 {
			fb := array.NewFloat64Builder(mem)
			fb.AppendValues(vals, nil)
			b = fb
		} else {
			lb := array.NewFixedSizeListBuilder(mem, int32(stride), arrow.PrimitiveTypes.Float64)
			vb := lb.ValueBuilder().(*array.Float64Builder)
			for i := 0; i+stride <= len(vals); i += stride {
				lb.Append(true)
				vb.AppendValues(vals[i:i+stride], nil)
			}
			b = lb
		}
		defer b.Release()
		data := b.NewArray()
		defer data.Release()
		fields = append(fields, arrow.Field{Name: dataName, Type: data.DataType(), Nullable: true})
		cols = append(cols, data)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, end-start), nil
}
