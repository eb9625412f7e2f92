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
	"math"
	"sort"
)

// axis is an ascending time axis.
type axis interface {
	Len() int64
	At(i int64) float64
	// Search returns the first index whose time is >= t, or Len.
	Search(t float64) int64
	// SearchAfter returns the first index whose time is > t, or Len.
	SearchAfter(t float64) int64
}

type rateAxis struct {
	start, rate float64
	n           int64
}

func (a rateAxis) Len() int64         { return a.n }
func (a rateAxis) At(i int64) float64 { return a.start + float64(i)/a.rate }

func (a rateAxis) Search(t float64) int64 {
	return a.settle(t, func(v float64) bool { return v >= t })
}

func (a rateAxis) SearchAfter(t float64) int64 {
	return a.settle(t, func(v float64) bool { return v > t })
}

// settle guesses the index arithmetically, then steps to the exact
// boundary to absorb rounding.
func (a rateAxis) settle(t float64, ok func(float64) bool) int64 {
	guess := math.Ceil((t - a.start) * a.rate)
	var i int64
	switch {
	case math.IsNaN(guess) || guess <= 0:
		i = 0
	case guess >= float64(a.n):
		i = a.n
	default:
		i = int64(guess)
	}
	for i > 0 && ok(a.At(i-1)) {
		i--
	}
	for i < a.n && !ok(a.At(i)) {
		i++
	}
	return i
}

type stampAxis []float64

func (a stampAxis) Len() int64         { return int64(len(a)) }
func (a stampAxis) At(i int64) float64 { return a[i] }

func (a stampAxis) Search(t float64) int64 {
	return int64(sort.Search(len(a), func(i int) bool { return a[i] >= t }))
}

func (a stampAxis) SearchAfter(t float64) int64 {
	return int64(sort.Search(len(a), func(i int) bool { return a[i] > t }))
}

// Selector chooses the samples aligned to one event.
type Selector struct {
	nearest bool
	// Pre and Post extend the window before and after the event, in seconds.
	Pre, Post float64
}

// Nearest selects the single sample closest to each event.
var Nearest = Selector{nearest: true}

// Span selects every sample within [event-pre, event+post].
func Span(pre, post float64) Selector { return Selector{Pre: pre, Post: post} }

func (s Selector) String() string {
	if s.nearest {
		return "nearest"
	}
	return fmt.Sprintf("span(-%g, +%g)", s.Pre, s.Post)
}

// Window is the result of aligning to one event. Indices and Times are
// empty when the event falls outside the series. When filtering by observed
// intervals, a span keeps only its observed samples, whichever interval
// they fall in, and a nearest sample is taken from the interval holding the
// event, or none when no interval holds it.
type Window struct {
	Event   float64
	Indices []int64
	Times   []float64
}

// Align selects samples around each event with sel.
func (ts *TimeSeries) Align(ctx context.Context, events []float64, sel Selector) ([]Window, error) {
	if !sel.nearest && (sel.Pre < 0 || sel.Post < 0) {
		return nil, fmt.Errorf("window %s: bounds must not be negative", sel)
	}
	ax, err := ts.timeAxis(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Window, len(events))
	for k, e := range events {
		out[k].Event = e
		if ax.Len() == 0 || math.IsNaN(e) || e < ax.At(0) || e > ax.At(ax.Len()-1) {
			continue
		}
		if sel.nearest {
			lo, hi := int64(0), ax.Len()
			if ts.filtering() {
				iv, ok := ts.containing(e)
				if !ok {
					continue
				}
				lo, hi = ax.Search(iv.Start), ax.SearchAfter(iv.End)
			}
			if lo >= hi {
				continue
			}
			i := nearestIn(ax, e, lo, hi)
			out[k].Indices = []int64{i}
			out[k].Times = []float64{ax.At(i)}
			continue
		}
		from, to := ax.Search(e-sel.Pre), ax.SearchAfter(e+sel.Post)
		for i := from; i < to; i++ {
			t := ax.At(i)
			if ts.filtering() && !ts.observed(t) {
				continue
			}
			out[k].Indices = append(out[k].Indices, i)
			out[k].Times = append(out[k].Times, t)
		}
	}
	return out, nil
}

// nearestIn finds the index in [lo, hi) whose time is closest to e,
// preferring the earlier sample on a tie.
func nearestIn(ax axis, e float64, lo, hi int64) int64 {
	j := min(max(ax.Search(e), lo), hi-1)
	if j > lo && math.Abs(ax.At(j-1)-e) <= math.Abs(ax.At(j)-e) {
		return j - 1
	}
	return j
}

// ObservedIndices lists the sample indices inside the observed intervals,
// or every index when not filtering by them.
func (ts *TimeSeries) ObservedIndices(ctx context.Context) ([]int64, error) {
	ax, err := ts.timeAxis(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, ax.Len())
	for i := range ax.Len() {
		if ts.filtering() && !ts.observed(ax.At(i)) {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

func (ts *TimeSeries) filtering() bool {
	return ts.observedOnly && len(ts.intervals) > 0
}

func (ts *TimeSeries) observed(t float64) bool {
	_, ok := ts.containing(t)
	return ok
}

func (ts *TimeSeries) containing(t float64) (Interval, bool) {
	for _, iv := range ts.intervals {
		if iv.Contains(t) {
			return iv, true
		}
	}
	return Interval{}, false
}
