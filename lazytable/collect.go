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

package lazytable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cardinalhq/lakenwb/internal/fanout"
	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/internal/materialize"
	"github.com/cardinalhq/lakenwb/internal/pushdown"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// CollectOptions controls one Collect call.
type CollectOptions struct {
	// OnMissing decides whether a failing source aborts the call (Raise)
	// or is skipped and reported (Suppress, the default).
	OnMissing nwberr.OnMissing
	// MaxWorkers bounds per-source concurrency; zero means GOMAXPROCS.
	MaxWorkers int
	// Sequential processes sources one at a time.
	Sequential bool
	// Progress receives the count of sources fetched so far.
	Progress chan<- int
	// IncludeArrayColumns adds ragged and fixed columns to the default
	// projection. Columns named by Select are always included.
	IncludeArrayColumns bool
	// Resolve names reference columns to dereference into extra columns.
	Resolve []string
	Mem     memory.Allocator
}

// Collect evaluates the query. The record holds the identity columns
// followed by the projected columns, with rows in source order and, within
// a source, in table order. Failures of single sources are returned in the
// error list under Suppress; the error return is for failures of the call
// as a whole, or the first source failure under Raise.
func (t *LazyTable) Collect(ctx context.Context, opts CollectOptions) (arrow.Record, nwberr.Errors, error) {
	tracer := otel.Tracer("github.com/cardinalhq/lakenwb/lazytable")
	ctx, collectSpan := tracer.Start(ctx, "lazytable.collect")
	defer collectSpan.End()
	collectSpan.SetAttributes(
		attribute.String("table", t.name),
		attribute.Int("sources", len(t.sources)),
	)

	rec, errs, err := t.collect(ctx, opts)
	if err != nil {
		collectSpan.RecordError(err)
		collectSpan.SetStatus(codes.Error, "collect failed")
		return nil, nil, err
	}
	collectSpan.SetAttributes(
		attribute.Int64("rows", rec.NumRows()),
		attribute.Int("failedSources", len(errs)),
	)
	return rec, errs, nil
}

func (t *LazyTable) collect(ctx context.Context, opts CollectOptions) (arrow.Record, nwberr.Errors, error) {
	start := time.Now()
	collectID := uuid.NewString()
	ctx, ll := logctx.With(ctx, slog.String("collectID", collectID), slog.String("table", t.name))
	raise := opts.OnMissing == nwberr.Raise
	mem := opts.Mem
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	cols, err := t.projection(opts.IncludeArrayColumns)
	if err != nil {
		return nil, nil, err
	}
	if err := checkResolve(cols, opts.Resolve); err != nil {
		return nil, nil, err
	}
	if err := pushdown.Check(t.pred, t.schema); err != nil {
		return nil, nil, err
	}

	var errs nwberr.Errors
	fail := func(s source, err error) error {
		if raise {
			return err
		}
		errs.Add(s.key, err)
		ll.Warn("Skipping failed source",
			slog.String("source", s.key),
			slog.Any("error", err))
		return nil
	}
	fopts := fanout.Options{Workers: opts.MaxWorkers, Sequential: opts.Sequential, StopOnError: raise}

	// phase 1: row selection
	indexes, err := fanout.Map(ctx, t.sources, func(ctx context.Context, _ int, s source) (pushdown.RowIndex, error) {
		if s.err != nil {
			return pushdown.RowIndex{}, s.err
		}
		if s.table == nil || t.pred == nil {
			return pushdown.Evaluate(ctx, pushdown.Target{Source: s.key, Table: s.table}, t.pred, pushdown.Options{})
		}
		h, err := t.cache.Open(ctx, s.src)
		if err != nil {
			return pushdown.RowIndex{}, err
		}
		defer h.Release()
		idx, err := pushdown.Evaluate(ctx, pushdown.Target{Source: s.key, Store: h.Store(), Table: s.table}, t.pred,
			pushdown.Options{Strict: t.strict})
		return idx, nwberr.Wrap(s.key, s.table.Path, err)
	}, fopts)
	if err != nil {
		return nil, nil, err
	}

	ok := make([]bool, len(t.sources))
	remaining := t.limit
	for i, r := range indexes {
		if r.Err != nil {
			if err := fail(t.sources[i], r.Err); err != nil {
				return nil, nil, err
			}
			continue
		}
		ok[i] = true
		if remaining >= 0 {
			indexes[i].Value = r.Value.Truncate(remaining)
			remaining -= indexes[i].Value.Len()
		}
	}

	// phase 2: fetch
	parts, err := fanout.Map(ctx, t.sources, func(ctx context.Context, i int, s source) (arrow.Record, error) {
		rows := indexes[i].Value
		if !ok[i] || rows.Empty() {
			return nil, nil
		}
		h, err := t.cache.Open(ctx, s.src)
		if err != nil {
			return nil, err
		}
		defer h.Release()
		return materialize.Fetch(ctx, materialize.Request{
			Source:  s.key,
			Store:   h.Store(),
			Table:   s.table,
			Rows:    rows,
			Columns: cols,
			Resolve: opts.Resolve,
			Mem:     mem,
		})
	}, fanout.Options{
		Workers:     opts.MaxWorkers,
		Sequential:  opts.Sequential,
		StopOnError: raise,
		Progress:    opts.Progress,
	})
	defer func() {
		for _, p := range parts {
			if p.Value != nil {
				p.Value.Release()
			}
		}
	}()
	if err != nil {
		return nil, nil, err
	}

	var recs []arrow.Record
	for i, p := range parts {
		if p.Err != nil {
			if err := fail(t.sources[i], p.Err); err != nil {
				return nil, nil, err
			}
			continue
		}
		if p.Value != nil {
			recs = append(recs, p.Value)
		}
	}

	out, err := materialize.Concat(mem, materialize.Schema(cols), recs)
	if err != nil {
		return nil, nil, err
	}

	ll.Info("Collected table",
		slog.Int("sources", len(t.sources)),
		slog.Int("failedSources", len(errs)),
		slog.Int64("rows", out.NumRows()),
		slog.Int("columns", len(cols)),
		slog.Duration("duration", time.Since(start)))
	return out, errs, nil
}

// projection lists the columns to fetch. Without a Select, every scalar
// and reference column is taken, plus array columns when asked for.
func (t *LazyTable) projection(includeArrays bool) ([]schema.ColumnSpec, error) {
	if t.columns == nil {
		var out []schema.ColumnSpec
		for _, c := range t.schema.Columns {
			if c.Array() && !includeArrays {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}
	out := make([]schema.ColumnSpec, 0, len(t.columns))
	for _, name := range t.columns {
		c, ok := t.schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("select %q: no source has this column: %w", name, nwberr.ErrColumnMissing)
		}
		out = append(out, c)
	}
	return out, nil
}

func checkResolve(cols []schema.ColumnSpec, names []string) error {
	for _, name := range names {
		found := false
		for _, c := range cols {
			if c.Name != name {
				continue
			}
			if c.Kind != schema.Reference {
				return fmt.Errorf("resolve %q: %s column is not a reference: %w", name, c.Kind, nwberr.ErrUnsupported)
			}
			found = true
		}
		if !found {
			return fmt.Errorf("resolve %q: column is not selected: %w", name, nwberr.ErrColumnMissing)
		}
	}
	return nil
}
