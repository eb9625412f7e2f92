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

// Package pushdown turns a predicate into the rows it selects from one
// source, reading only the columns the predicate names.
package pushdown

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
	"github.com/cardinalhq/lakenwb/predicate"
)

// DefaultBatchRows is how many rows are read and tested at a time.
const DefaultBatchRows = 64 * 1024

// Target is one source's table as seen by the evaluator.
type Target struct {
	Source string
	Store  backend.Store
	// Table is the source's own inferred table; nil when the source has
	// no such table.
	Table *schema.Table
}

// Options tune Evaluate.
type Options struct {
	// Strict fails the source with ErrColumnMissing when a referenced
	// column is absent, instead of treating it as all null.
	Strict    bool
	BatchRows int64
}

// Evaluate returns the rows of t selected by pred. A nil pred selects all
// rows without reading anything.
func Evaluate(ctx context.Context, t Target, pred predicate.Expr, opts Options) (RowIndex, error) {
	if t.Table == nil {
		return All(0), nil
	}
	if pred == nil {
		return All(t.Table.Rows), nil
	}

	var cols []schema.ColumnSpec
	for name := range predicate.Columns(pred).Iter() {
		if schema.IsIdentity(name) {
			continue
		}
		c, ok := t.Table.Schema.Lookup(name)
		if !ok {
			if opts.Strict {
				return RowIndex{}, nwberr.Wrap(t.Source, t.Table.Path,
					fmt.Errorf("filter column %q: %w", name, nwberr.ErrColumnMissing))
			}
			continue
		}
		if c.Kind != schema.Scalar {
			return RowIndex{}, nwberr.Wrap(t.Source, t.Table.Path,
				fmt.Errorf("filter on %s column %q: %w", c.Kind, name, nwberr.ErrUnsupported))
		}
		cols = append(cols, c)
	}

	batch := opts.BatchRows
	if batch <= 0 {
		batch = DefaultBatchRows
	}

	row := &rowView{source: t.Source, table: t.Table.Path, blocks: make(map[string]*backend.Block, len(cols))}
	var selected []int64
	for start := int64(0); start < t.Table.Rows; start += batch {
		if err := ctx.Err(); err != nil {
			return RowIndex{}, err
		}
		n := min(batch, t.Table.Rows-start)
		for _, c := range cols {
			p := backend.Join(t.Table.Path, c.Data)
			blk, err := t.Store.ReadRange(ctx, p, start, n)
			if err != nil {
				return RowIndex{}, nwberr.Wrap(t.Source, p, err)
			}
			row.blocks[c.Name] = blk
		}
		row.base = start
		for i := range int(n) {
			row.i = i
			if pred.Eval(row) == predicate.True {
				selected = append(selected, start+int64(i))
			}
		}
	}

	logctx.FromContext(ctx).Debug("Predicate evaluated",
		slog.String("source", t.Source),
		slog.String("table", t.Table.Path),
		slog.String("predicate", pred.String()),
		slog.Int64("rows", t.Table.Rows),
		slog.Int("selected", len(selected)))
	return RowIndex{rows: selected}, nil
}

// rowView exposes one row of the current batch to the predicate. Columns
// with no block read as null.
type rowView struct {
	source, table string
	blocks        map[string]*backend.Block
	base          int64
	i             int
}

func (r *rowView) Value(column string) any {
	switch column {
	case schema.ColTableIndex:
		return r.base + int64(r.i)
	case schema.ColNWBPath:
		return r.source
	case schema.ColTablePath:
		return r.table
	}
	blk, ok := r.blocks[column]
	if !ok {
		return nil
	}
	return blk.Value(r.i)
}

// Check validates pred against the merged schema before any source is
// read: array-valued columns cannot be filtered, and literals must match
// the column's element type. Columns the schema lacks are left to
// per-source handling.
func Check(pred predicate.Expr, s *schema.Schema) error {
	var err error
	predicate.Walk(pred, func(e predicate.Expr) bool {
		if err != nil {
			return false
		}
		var column string
		var lits []any
		switch x := e.(type) {
		case *predicate.Compare:
			column, lits = x.Column, []any{x.Value}
		case *predicate.In:
			column, lits = x.Column, x.Values
		case *predicate.IsNull:
			column = x.Column
		default:
			return true
		}
		elem, ok := columnElem(column, s)
		if !ok {
			if c, found := s.Lookup(column); found {
				err = fmt.Errorf("filter on %s column %q: %w", c.Kind, column, nwberr.ErrUnsupported)
			}
			return true
		}
		for _, lit := range lits {
			if !literalFits(elem, lit) {
				err = fmt.Errorf("column %q holds %s values, cannot compare with %v", column, elem, lit)
				return false
			}
		}
		return true
	})
	return err
}

func columnElem(column string, s *schema.Schema) (schema.ElemType, bool) {
	switch column {
	case schema.ColTableIndex:
		return schema.Int, true
	case schema.ColNWBPath, schema.ColTablePath:
		return schema.String, true
	}
	c, ok := s.Lookup(column)
	if !ok || c.Kind != schema.Scalar {
		return schema.Unknown, false
	}
	return c.Elem, true
}

func literalFits(elem schema.ElemType, lit any) bool {
	switch lit.(type) {
	case int64, float64:
		return elem == schema.Int || elem == schema.Float
	case string:
		return elem == schema.String
	case bool:
		return elem == schema.Bool
	}
	return false
}
