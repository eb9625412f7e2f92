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

// Package lazytable presents one table, found in many NWB files, as a
// single logical table. Scan reads only metadata; Filter, Select and
// Limit describe the query; Collect reads the selected rows and columns
// into one Arrow record.
package lazytable

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/fanout"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
	"github.com/cardinalhq/lakenwb/predicate"
)

type (
	Cache        = accessor.Cache
	CacheOptions = accessor.Options
	Schema       = schema.Schema
	ColumnSpec   = schema.ColumnSpec
	Override     = schema.Override
	Overrides    = schema.Overrides
)

// Column kinds and element types, for building overrides.
const (
	Scalar    = schema.Scalar
	Ragged    = schema.Ragged
	Fixed     = schema.Fixed
	Reference = schema.Reference

	Bool   = schema.Bool
	Int    = schema.Int
	Float  = schema.Float
	String = schema.String
)

// NewCache returns a handle cache for Scan and Collect. The caller closes it.
func NewCache(opts CacheOptions) (*Cache, error) {
	return accessor.New(opts)
}

// source is one scanned input and what inference learned about it.
type source struct {
	key string
	src accessor.Source
	// table is nil when the file has no such table.
	table *schema.Table
	// err is a failure found during Scan, reported at Collect.
	err error
}

// LazyTable is an immutable query over a fixed list of sources. Every
// transform returns a new value.
type LazyTable struct {
	cache   *accessor.Cache
	name    string
	sources []source
	schema  *schema.Schema
	strict  bool

	pred    predicate.Expr
	columns []string
	limit   int64
}

type scanConfig struct {
	overrides schema.Overrides
	strict    bool
	workers   int
}

// ScanOption configures Scan.
type ScanOption func(*scanConfig)

// WithOverrides forces column types for every source.
func WithOverrides(o Overrides) ScanOption {
	return func(c *scanConfig) { c.overrides = o }
}

// WithStrict makes a filter on a column a source lacks fail that source
// with ErrColumnMissing, rather than matching none of its rows.
func WithStrict(strict bool) ScanOption {
	return func(c *scanConfig) { c.strict = strict }
}

// WithInferWorkers bounds concurrent schema inference.
func WithInferWorkers(n int) ScanOption {
	return func(c *scanConfig) { c.workers = n }
}

// Scan infers the schema of table in every source and merges the results.
// table is an internal path or a name resolved per file. A source that
// cannot be read does not fail the scan; its error is reported by Collect.
// Incompatible column types across sources do fail it.
func Scan(ctx context.Context, cache *Cache, sources []string, table string, opts ...ScanOption) (*LazyTable, error) {
	var cfg scanConfig
	for _, o := range opts {
		o(&cfg)
	}
	start := time.Now()

	results, _ := fanout.Map(ctx, sources, func(ctx context.Context, _ int, raw string) (source, error) {
		return inferSource(ctx, cache, raw, table), nil
	}, fanout.Options{Workers: cfg.workers})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &LazyTable{
		cache:   cache,
		name:    table,
		sources: make([]source, len(results)),
		strict:  cfg.strict,
		limit:   -1,
	}
	var schemas []*schema.Schema
	failed := 0
	for i, r := range results {
		out.sources[i] = r.Value
		if r.Value.err != nil {
			failed++
		}
		if r.Value.table != nil {
			schemas = append(schemas, r.Value.table.Schema)
		}
	}

	merged, err := schema.MergeAll(schemas, cfg.overrides)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = schema.NewSchema(nil)
	}
	out.schema = merged

	slog.Debug("Scanned sources",
		slog.String("table", table),
		slog.Int("sources", len(sources)),
		slog.Int("withTable", len(schemas)),
		slog.Int("failed", failed),
		slog.Int("columns", merged.Len()),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func inferSource(ctx context.Context, cache *Cache, raw, table string) source {
	src, err := accessor.ParseSource(raw)
	if err != nil {
		return source{key: raw, err: nwberr.Unavailable(raw, err)}
	}
	s := source{key: src.Key(), src: src}

	h, err := cache.Open(ctx, src)
	if err != nil {
		s.err = err
		return s
	}
	defer h.Release()

	p, err := schema.Locate(ctx, h.Store(), table)
	if errors.Is(err, nwberr.ErrNotFound) {
		slog.Debug("Source has no matching table", slog.String("source", s.key), slog.String("table", table))
		return s
	}
	if err != nil {
		s.err = nwberr.Wrap(s.key, "", err)
		return s
	}
	t, err := schema.Infer(ctx, h.Store(), p)
	if err != nil {
		s.err = nwberr.Wrap(s.key, p, err)
		return s
	}
	s.table = t
	return s
}

func (t *LazyTable) clone() *LazyTable {
	c := *t
	c.columns = slices.Clone(t.columns)
	return &c
}

// Filter returns a table restricted to rows where p is true. Successive
// filters are ANDed.
func (t *LazyTable) Filter(p predicate.Expr) *LazyTable {
	c := t.clone()
	c.pred = predicate.AndOf(t.pred, p)
	return c
}

// Select returns a table with only the named columns, in the given order.
// The identity columns are always present and need not be named.
func (t *LazyTable) Select(columns ...string) *LazyTable {
	c := t.clone()
	c.columns = nil
	seen := map[string]bool{}
	for _, name := range columns {
		if seen[name] || schema.IsIdentity(name) {
			continue
		}
		seen[name] = true
		c.columns = append(c.columns, name)
	}
	return c
}

// Limit returns a table that yields at most n rows, taken in source order.
func (t *LazyTable) Limit(n int64) *LazyTable {
	c := t.clone()
	c.limit = max(n, 0)
	return c
}

// Schema is the merged schema of the scanned sources.
func (t *LazyTable) Schema() *Schema { return t.schema }

// Table is the table name or path the scan was asked for.
func (t *LazyTable) Table() string { return t.name }

// Predicate is the combined filter, or nil.
func (t *LazyTable) Predicate() predicate.Expr { return t.pred }

// Sources lists the normalized source keys in scan order.
func (t *LazyTable) Sources() []string {
	out := make([]string, len(t.sources))
	for i, s := range t.sources {
		out[i] = s.key
	}
	return out
}

// TablePaths maps each source with the table to the internal path it was
// found at.
func (t *LazyTable) TablePaths() map[string]string {
	out := make(map[string]string, len(t.sources))
	for _, s := range t.sources {
		if s.table != nil {
			out[s.key] = s.table.Path
		}
	}
	return out
}
