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

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/schema"
)

// span is the half-open element range [start, end) of one ragged value.
type span struct{ start, end int64 }

func (s span) len() int64 { return s.end - s.start }

// spansAt reads the offsets array at p and returns the element span of
// each listed position. Positions must be ascending. Offsets must be
// non-decreasing and stay within limit elements of the array they index.
func spansAt(ctx context.Context, store backend.Store, p string, positions []int64, limit int64) ([]span, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	need := make([]int64, 0, 2*len(positions))
	for _, q := range positions {
		if q > 0 {
			need = append(need, q-1)
		}
		need = append(need, q)
	}
	slices.Sort(need)
	need = slices.Compact(need)

	blk, err := backend.ReadRows(ctx, store, p, need)
	if err != nil {
		return nil, err
	}
	offsets, err := blk.Int64s()
	if err != nil {
		return nil, fmt.Errorf("offsets array %s: %w", p, err)
	}
	at := func(q int64) int64 {
		i, _ := slices.BinarySearch(need, q)
		return offsets[i]
	}

	out := make([]span, len(positions))
	for i, q := range positions {
		var s span
		if q > 0 {
			s.start = at(q - 1)
		}
		s.end = at(q)
		if s.start < 0 || s.end < s.start || s.end > limit {
			return nil, fmt.Errorf("offsets array %s is not monotonic at row %d: [%d, %d) of %d elements",
				p, q, s.start, s.end, limit)
		}
		out[i] = s
	}
	return out, nil
}

// readSpans reads the given ascending, non-overlapping element spans of
// the array at p and returns them back to back in one block. Nearby spans
// share a single range read.
func readSpans(ctx context.Context, store backend.Store, p string, spans []span) (*backend.Block, error) {
	var total int64
	for _, s := range spans {
		total += s.len()
	}

	var out *backend.Block
	for i := 0; i < len(spans); {
		lo, hi := spans[i].start, spans[i].end
		j := i
		for j+1 < len(spans) && spans[j+1].start-hi <= backend.DefaultMaxGap {
			j++
			hi = max(hi, spans[j].end)
		}
		if hi > lo {
			blk, err := store.ReadRange(ctx, p, lo, hi-lo)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = backend.NewBlock(blk.Family, blk.Inner, int(total))
			}
			for _, s := range spans[i : j+1] {
				out.AppendRows(blk, int(s.start-lo), int(s.end-lo))
			}
		}
		i = j + 1
	}
	if out == nil {
		info, err := store.Info(ctx, p)
		if err != nil {
			return nil, err
		}
		out = backend.NewBlock(info.Family, info.Inner(), 0)
	}
	return out, nil
}

// raggedValues is a ragged column read at some rows. lengths[k][i] is the
// number of children of the i-th value at nesting level k; data holds the
// leaf values back to back.
type raggedValues struct {
	lengths [][]int64
	data    *backend.Block
}

func readRagged(ctx context.Context, store backend.Store, table string, c schema.ColumnSpec, positions []int64) (*raggedValues, error) {
	dataPath := backend.Join(table, c.Data)
	out := &raggedValues{}
	cur := positions
	for k, idx := range c.Index {
		var target string
		if k+1 < len(c.Index) {
			target = backend.Join(table, c.Index[k+1])
		} else {
			target = dataPath
		}
		info, err := store.Info(ctx, target)
		if err != nil {
			return nil, err
		}

		spans, err := spansAt(ctx, store, backend.Join(table, idx), cur, info.Rows())
		if err != nil {
			return nil, err
		}
		lengths := make([]int64, len(spans))
		var next []int64
		for i, s := range spans {
			lengths[i] = s.len()
			if k+1 < len(c.Index) {
				for q := s.start; q < s.end; q++ {
					next = append(next, q)
				}
			}
		}
		out.lengths = append(out.lengths, lengths)

		if k+1 == len(c.Index) {
			if out.data, err = readSpans(ctx, store, dataPath, spans); err != nil {
				return nil, err
			}
		}
		cur = next
	}
	return out, nil
}
