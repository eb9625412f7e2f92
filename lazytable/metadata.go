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
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/fanout"
	"github.com/cardinalhq/lakenwb/internal/logctx"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// metadataGroup lists the text datasets read from one group.
type metadataGroup struct {
	dir    string
	fields []string
}

var metadataGroups = []metadataGroup{
	{"/", []string{
		"session_description", "identifier", "session_start_time",
		"timestamps_reference_time", "file_create_date",
	}},
	{"/general", []string{
		"session_id", "experimenter", "experiment_description", "institution", "lab",
		"keywords", "notes", "protocol", "related_publications", "stimulus",
		"data_collection", "surgery", "pharmacology", "virus", "source_script",
	}},
	{"/general/subject", []string{
		"subject_id", "species", "strain", "genotype", "sex", "age",
		"date_of_birth", "weight", "description",
	}},
}

// MetadataColumns lists the columns of a Metadata record after _nwb_path.
func MetadataColumns() []string {
	var out []string
	for _, g := range metadataGroups {
		out = append(out, g.fields...)
	}
	return out
}

// Metadata reads the session and subject fields of every source into one
// record, one row per readable source, in source order. Fields a file does
// not store are null; multi-valued fields such as keywords render as
// "[a, b]". OnMissing, MaxWorkers, Sequential, Progress and Mem apply as
// for Collect.
func Metadata(ctx context.Context, cache *Cache, sources []string, opts CollectOptions) (arrow.Record, nwberr.Errors, error) {
	tracer := otel.Tracer("github.com/cardinalhq/lakenwb/lazytable")
	ctx, span := tracer.Start(ctx, "lazytable.metadata")
	defer span.End()
	span.SetAttributes(attribute.Int("sources", len(sources)))

	start := time.Now()
	ctx, ll := logctx.With(ctx, slog.String("op", "metadata"))
	raise := opts.OnMissing == nwberr.Raise
	mem := opts.Mem
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	results, err := fanout.Map(ctx, sources, func(ctx context.Context, _ int, raw string) (sourceMetadata, error) {
		return readMetadata(ctx, cache, raw)
	}, fanout.Options{
		Workers:     opts.MaxWorkers,
		Sequential:  opts.Sequential,
		StopOnError: raise,
		Progress:    opts.Progress,
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	var errs nwberr.Errors
	fields := []arrow.Field{{Name: schema.ColNWBPath, Type: arrow.BinaryTypes.String}}
	for _, name := range MetadataColumns() {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	rb := array.NewRecordBuilder(mem, arrow.NewSchema(fields, nil))
	defer rb.Release()

	for i, r := range results {
		if r.Err != nil {
			if raise {
				return nil, nil, r.Err
			}
			errs.Add(sources[i], r.Err)
			ll.Warn("Skipping failed source", slog.String("source", sources[i]), slog.Any("error", r.Err))
			continue
		}
		rb.Field(0).(*array.StringBuilder).Append(r.Value.key)
		for j, name := range MetadataColumns() {
			b := rb.Field(j + 1).(*array.StringBuilder)
			if v, ok := r.Value.values[name]; ok {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
	}
	rec := rb.NewRecord()

	span.SetAttributes(attribute.Int64("rows", rec.NumRows()), attribute.Int("failedSources", len(errs)))
	ll.Info("Read metadata",
		slog.Int("sources", len(sources)),
		slog.Int("failedSources", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return rec, errs, nil
}

type sourceMetadata struct {
	key    string
	values map[string]string
}

func readMetadata(ctx context.Context, cache *Cache, raw string) (sourceMetadata, error) {
	src, err := accessor.ParseSource(raw)
	if err != nil {
		return sourceMetadata{}, nwberr.Unavailable(raw, err)
	}
	out := sourceMetadata{key: src.Key(), values: map[string]string{}}
	h, err := cache.Open(ctx, src)
	if err != nil {
		return out, err
	}
	defer h.Release()
	st := h.Store()

	for _, g := range metadataGroups {
		nodes, err := st.Children(ctx, g.dir)
		if errors.Is(err, nwberr.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, nwberr.Wrap(out.key, g.dir, err)
		}
		arrays := map[string]bool{}
		for _, n := range nodes {
			if n.Type == backend.NodeArray {
				arrays[n.Name] = true
			}
		}
		for _, name := range g.fields {
			if !arrays[name] {
				continue
			}
			p := backend.Join(g.dir, name)
			v, ok, err := readText(ctx, st, p)
			if err != nil {
				return out, nwberr.Wrap(out.key, p, err)
			}
			if ok {
				out.values[name] = v
			}
		}
	}
	return out, nil
}

// readText renders a small dataset as text. A single value is returned
// as is; several are rendered as a list.
func readText(ctx context.Context, st backend.Store, p string) (string, bool, error) {
	blk, err := backend.ReadAll(ctx, st, p)
	if err != nil {
		return "", false, err
	}
	var vals []any
	switch blk.Family {
	case backend.FamilyString:
		for _, v := range blk.Strings {
			vals = append(vals, v)
		}
	case backend.FamilyInt:
		for _, v := range blk.Ints {
			vals = append(vals, strconv.FormatInt(v, 10))
		}
	case backend.FamilyFloat:
		for _, v := range blk.Floats {
			vals = append(vals, strconv.FormatFloat(v, 'g', -1, 64))
		}
	case backend.FamilyBool:
		for _, v := range blk.Bools {
			vals = append(vals, strconv.FormatBool(v))
		}
	case backend.FamilyRef:
		for _, v := range blk.Refs {
			vals = append(vals, v.Path)
		}
	default:
		return "", false, nil
	}
	switch len(vals) {
	case 0:
		return "", false, nil
	case 1:
		return vals[0].(string), true, nil
	}
	return backend.FormatAttr(vals), true, nil
}
