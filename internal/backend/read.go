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
	"context"
	"fmt"
)

// DefaultMaxGap is the largest run of unwanted rows read through rather
// than split into a separate range request.
const DefaultMaxGap = 256

// Run is a contiguous row range [Start, End) covering rows[Lo:Hi] of an
// ascending row list.
type Run struct {
	Start, End int64
	Lo, Hi     int
}

// Coalesce groups ascending rows into runs, merging neighbours whose gap is
// at most maxGap rows.
func Coalesce(rows []int64, maxGap int64) []Run {
	if len(rows) == 0 {
		return nil
	}
	var runs []Run
	cur := Run{Start: rows[0], End: rows[0] + 1, Lo: 0, Hi: 1}
	for i := 1; i < len(rows); i++ {
		r := rows[i]
		if r-cur.End <= maxGap {
			cur.End = r + 1
			cur.Hi = i + 1
			continue
		}
		runs = append(runs, cur)
		cur = Run{Start: r, End: r + 1, Lo: i, Hi: i + 1}
	}
	return append(runs, cur)
}

// ReadRows reads the listed rows of an array. Rows must be ascending and
// within bounds; the result holds them in the same order.
func ReadRows(ctx context.Context, s Store, p string, rows []int64) (*Block, error) {
	if len(rows) == 0 {
		info, err := s.Info(ctx, p)
		if err != nil {
			return nil, err
		}
		return NewBlock(info.Family, info.Inner(), 0), nil
	}

	var out *Block
	for _, run := range Coalesce(rows, DefaultMaxGap) {
		blk, err := s.ReadRange(ctx, p, run.Start, run.End-run.Start)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = NewBlock(blk.Family, blk.Inner, len(rows))
		}
		for _, r := range rows[run.Lo:run.Hi] {
			off := int(r - run.Start)
			if off >= blk.Rows {
				return nil, fmt.Errorf("row %d out of range for %s", r, p)
			}
			out.AppendRows(blk, off, off+1)
		}
	}
	return out, nil
}

// ReadAll reads every row of an array.
func ReadAll(ctx context.Context, s Store, p string) (*Block, error) {
	info, err := s.Info(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) == 0 {
		return s.ReadRange(ctx, p, 0, 1)
	}
	return s.ReadRange(ctx, p, 0, info.Rows())
}
