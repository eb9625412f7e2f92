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
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/pushdown"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// Request describes the rows and columns to read from one source.
type Request struct {
	Source string
	Store  backend.Store
	// Table is the source's own inferred table, nil when the source lacks it.
	Table *schema.Table
	Rows  pushdown.RowIndex
	// Columns are merged-schema specs, in output order. Columns the
	// source lacks come back null.
	Columns []schema.ColumnSpec
	// Resolve names reference columns to dereference.
	Resolve []string
	Mem     memory.Allocator
}

// Fetch reads req into a record whose leading columns identify the source,
// table and row of each output row. Failures carry the source and the
// internal path that failed.
func Fetch(ctx context.Context, req Request) (arrow.Record, error) {
	tracer := otel.Tracer("github.com/cardinalhq/lakenwb/internal/materialize")
	ctx, fetchSpan := tracer.Start(ctx, "materialize.fetch")
	defer fetchSpan.End()
	fetchSpan.SetAttributes(
		attribute.String("source", req.Source),
		attribute.Int64("rows", req.Rows.Len()),
		attribute.Int("columns", len(req.Columns)),
	)

	rec, err := fetch(ctx, req)
	if err != nil {
		fetchSpan.RecordError(err)
		fetchSpan.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	return rec, nil
}

func fetch(ctx context.Context, req Request) (arrow.Record, error) {
	mem := req.Mem
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var positions []int64
	tablePath := ""
	if req.Table != nil {
		tablePath = req.Table.Path
		if err := req.Rows.Validate(req.Table.Rows); err != nil {
			return nil, nwberr.Wrap(req.Source, tablePath, err)
		}
		positions = req.Rows.Positions()
	}

	fields := IdentityFields()
	arrays := identityArrays(mem, req.Source, tablePath, positions)
	release := func() {
		for _, a := range arrays {
			a.Release()
		}
	}

	for _, c := range req.Columns {
		arr, err := fetchColumn(ctx, mem, req, c, positions)
		if err != nil {
			release()
			return nil, nwberr.Wrap(req.Source, backend.Join(tablePath, c.Data), err)
		}
		fields = append(fields, Field(c))
		arrays = append(arrays, arr)
	}

	for _, name := range req.Resolve {
		c, ok := findColumn(req.Columns, name)
		if !ok || c.Kind != schema.Reference {
			release()
			return nil, fmt.Errorf("resolve %q: not a selected reference column: %w", name, nwberr.ErrUnsupported)
		}
		rf, ra, err := resolveColumn(ctx, mem, req, c, positions)
		if err != nil {
			release()
			return nil, nwberr.Wrap(req.Source, backend.Join(tablePath, c.Data), err)
		}
		fields = append(fields, rf...)
		arrays = append(arrays, ra...)
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(len(positions)))
	release()
	return rec, nil
}

func identityArrays(mem memory.Allocator, source, table string, positions []int64) []arrow.Array {
	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	tb := array.NewStringBuilder(mem)
	defer tb.Release()
	ib := array.NewInt64Builder(mem)
	defer ib.Release()

	sb.Reserve(len(positions))
	tb.Reserve(len(positions))
	for range positions {
		sb.Append(source)
		tb.Append(table)
	}
	ib.AppendValues(positions, nil)
	return []arrow.Array{sb.NewArray(), tb.NewArray(), ib.NewArray()}
}

func findColumn(cols []schema.ColumnSpec, name string) (schema.ColumnSpec, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return schema.ColumnSpec{}, false
}

// sourceSpec finds the source's own spec for a merged column and checks the
// two agree structurally. A mismatch can only come from an override and
// fails just this source.
func sourceSpec(t *schema.Table, c schema.ColumnSpec) (schema.ColumnSpec, bool, error) {
	if t == nil {
		return schema.ColumnSpec{}, false, nil
	}
	src, ok := t.Schema.Lookup(c.Name)
	if !ok {
		return schema.ColumnSpec{}, false, nil
	}
	switch {
	case src.Kind != c.Kind:
		return src, true, fmt.Errorf("column %q is %s in this source, want %s: %w", c.Name, src.Kind, c.Kind, nwberr.ErrSchemaConflict)
	case src.Depth() != c.Depth():
		return src, true, fmt.Errorf("column %q has ragged depth %d in this source, want %d: %w", c.Name, src.Depth(), c.Depth(), nwberr.ErrSchemaConflict)
	case c.Kind == schema.Fixed && !slices.Equal(src.Shape, c.Shape):
		return src, true, fmt.Errorf("column %q has shape %v in this source, want %v: %w", c.Name, src.Shape, c.Shape, nwberr.ErrShapeMismatch)
	}
	return src, true, nil
}

func fetchColumn(ctx context.Context, mem memory.Allocator, req Request, c schema.ColumnSpec, positions []int64) (arrow.Array, error) {
	b := array.NewBuilder(mem, ArrowType(c))
	defer b.Release()
	b.Reserve(len(positions))

	src, ok, err := sourceSpec(req.Table, c)
	if err != nil {
		return nil, err
	}
	if !ok || len(positions) == 0 {
		b.AppendNulls(len(positions))
		return b.NewArray(), nil
	}
	table := req.Table.Path
	p := backend.Join(table, src.Data)

	switch c.Kind {
	case schema.Scalar:
		blk, err := backend.ReadRows(ctx, req.Store, p, positions)
		if err != nil {
			return nil, err
		}
		app, err := columnAppender(c, blk.Family)
		if err != nil {
			return nil, err
		}
		for i := range blk.Rows {
			app(b, blk, i)
		}

	case schema.Fixed:
		blk, err := backend.ReadRows(ctx, req.Store, p, positions)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(blk.Inner, c.Shape) {
			return nil, fmt.Errorf("column %q stores shape %v, want %v: %w", c.Name, blk.Inner, c.Shape, nwberr.ErrShapeMismatch)
		}
		app, err := columnAppender(c, blk.Family)
		if err != nil {
			return nil, err
		}
		fb := b.(*array.FixedSizeListBuilder)
		vb := fb.ValueBuilder()
		stride := blk.Stride()
		for row := range blk.Rows {
			fb.Append(true)
			for k := range stride {
				app(vb, blk, row*stride+k)
			}
		}

	case schema.Ragged:
		rv, err := readRagged(ctx, req.Store, table, src, positions)
		if err != nil {
			return nil, err
		}
		app, err := columnAppender(c, rv.data.Family)
		if err != nil {
			return nil, err
		}
		appendRagged(b, rv, len(positions), app)

	case schema.Reference:
		blk, err := backend.ReadRows(ctx, req.Store, p, positions)
		if err != nil {
			return nil, err
		}
		if err := appendRefs(b.(*array.StructBuilder), blk, src.RefTable); err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
	}
	return b.NewArray(), nil
}

func columnAppender(c schema.ColumnSpec, from backend.Family) (appender, error) {
	app, err := appenderFor(from, c.Elem)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w: %w", c.Name, nwberr.ErrSchemaConflict, err)
	}
	return app, nil
}

// appendRagged writes rows list values, descending one list level per
// index array.
func appendRagged(b array.Builder, rv *raggedValues, rows int, app appender) {
	depth := len(rv.lengths)
	cursors := make([]int, depth)
	leaf := 0
	var level func(b array.Builder, k int)
	level = func(b array.Builder, k int) {
		lb := b.(*array.ListBuilder)
		n := rv.lengths[k][cursors[k]]
		cursors[k]++
		lb.Append(true)
		vb := lb.ValueBuilder()
		for range n {
			if k+1 < depth {
				level(vb, k+1)
				continue
			}
			app(vb, rv.data, leaf)
			leaf++
		}
	}
	for range rows {
		level(b, 0)
	}
}

// appendRefs writes reference structs. Region columns store row numbers
// into refTable; stored object references name their target and have no
// row.
func appendRefs(sb *array.StructBuilder, blk *backend.Block, refTable string) error {
	tb := sb.FieldBuilder(0).(*array.StringBuilder)
	rb := sb.FieldBuilder(1).(*array.Int64Builder)
	switch blk.Family {
	case backend.FamilyRef:
		for _, ref := range blk.Refs {
			if ref.Path == "" {
				sb.AppendNull()
				continue
			}
			sb.Append(true)
			tb.Append(ref.Path)
			rb.AppendNull()
		}
	case backend.FamilyInt:
		for _, row := range blk.Ints {
			sb.Append(true)
			if refTable == "" {
				tb.AppendNull()
			} else {
				tb.Append(refTable)
			}
			rb.Append(row)
		}
	default:
		return fmt.Errorf("%s values cannot hold references: %w", blk.Family, nwberr.ErrSchemaConflict)
	}
	return nil
}
