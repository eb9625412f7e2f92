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
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// List returns the paths of every series in source: groups holding data
// with timestamps or a starting time, and event series holding timestamps
// alone.
func List(ctx context.Context, cache *accessor.Cache, source string) ([]string, error) {
	src, err := accessor.ParseSource(source)
	if err != nil {
		return nil, nwberr.Unavailable(source, err)
	}
	h, err := cache.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	out, err := listSeries(ctx, h.Store())
	return out, nwberr.Wrap(src.Key(), "", err)
}

func listSeries(ctx context.Context, store backend.Store) ([]string, error) {
	nodes, err := schema.ListTree(ctx, store)
	if err != nil {
		return nil, err
	}
	arrays := map[string]mapset.Set[string]{}
	for _, n := range nodes {
		if n.Type != backend.NodeArray {
			continue
		}
		dir := path.Dir(n.Path)
		if arrays[dir] == nil {
			arrays[dir] = mapset.NewThreadUnsafeSet[string]()
		}
		arrays[dir].Add(path.Base(n.Path))
	}

	var out []string
	for dir, names := range arrays {
		if names.Contains(timestampsName) || (names.Contains(dataName) && names.Contains(startingName)) {
			out = append(out, dir)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Find resolves name to a series path: an exact path first, then a path
// ending in name, then a path containing it. When several paths match,
// the first in sorted order is used.
func Find(ctx context.Context, cache *accessor.Cache, source, name string) (string, error) {
	src, err := accessor.ParseSource(source)
	if err != nil {
		return "", nwberr.Unavailable(source, err)
	}
	h, err := cache.Open(ctx, src)
	if err != nil {
		return "", err
	}
	defer h.Release()

	all, err := listSeries(ctx, h.Store())
	if err != nil {
		return "", nwberr.Wrap(src.Key(), "", err)
	}
	p, err := pick(all, name)
	if err != nil {
		return "", nwberr.Wrap(src.Key(), "", err)
	}
	return p, nil
}

func pick(all []string, name string) (string, error) {
	want := seriesPath(name)
	if slices.Contains(all, want) {
		return want, nil
	}
	trimmed := strings.Trim(name, "/")
	for _, match := range []func(string) bool{
		func(p string) bool { return strings.HasSuffix(p, "/"+trimmed) },
		func(p string) bool { return strings.Contains(p, trimmed) },
	} {
		var hits []string
		for _, p := range all {
			if match(p) {
				hits = append(hits, p)
			}
		}
		if len(hits) > 1 {
			slog.Warn("Several series match, using the first",
				slog.String("name", name), slog.Any("matches", hits))
		}
		if len(hits) > 0 {
			return hits[0], nil
		}
	}
	return "", fmt.Errorf("series %q: %w", name, nwberr.ErrNotFound)
}
