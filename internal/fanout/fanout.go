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

// Package fanout runs one function per item over a bounded pool and hands
// back results in item order, whatever order the work finished in.
package fanout

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Options controls a Map call.
type Options struct {
	// Workers bounds concurrency; zero means GOMAXPROCS.
	Workers int
	// Sequential runs items one at a time in order, on the calling goroutine.
	Sequential bool
	// Progress receives the running count of finished items. Counts only
	// grow, intermediate values may be skipped, and the final count is
	// always delivered before Map returns, so the channel must be read
	// concurrently or have room.
	Progress chan<- int
	// StopOnError cancels items that have not started once any item fails.
	StopOnError bool
}

// Result is the outcome for one item.
type Result[T any] struct {
	Value T
	Err   error
}

// Func processes the item at position i.
type Func[I, O any] func(ctx context.Context, i int, item I) (O, error)

// Map applies fn to every item. Item errors stay in their Result. The
// returned error is non-nil only under StopOnError, where it is the failure
// that stopped the run, or when ctx ends first.
func Map[I, O any](ctx context.Context, items []I, fn Func[I, O], opts Options) ([]Result[O], error) {
	results := make([]Result[O], len(items))
	if len(items) == 0 {
		return results, ctx.Err()
	}

	finished := make(chan struct{}, len(items))
	var reporterDone chan struct{}
	if opts.Progress != nil {
		reporterDone = make(chan struct{})
		go func() {
			defer close(reporterDone)
			report(ctx, opts.Progress, finished)
		}()
	}
	flush := func() {
		close(finished)
		if reporterDone != nil {
			<-reporterDone
		}
	}

	if opts.Sequential {
		err := runSequential(ctx, items, fn, opts.StopOnError, results, finished)
		flush()
		return results, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			v, err := fn(gctx, i, item)
			results[i] = Result[O]{Value: v, Err: err}
			finished <- struct{}{}
			if err != nil && opts.StopOnError {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	flush()
	if err == nil {
		err = ctx.Err()
	}
	return results, err
}

func runSequential[I, O any](ctx context.Context, items []I, fn Func[I, O], stopOnError bool, results []Result[O], finished chan<- struct{}) error {
	var stopErr error
	for i, item := range items {
		if stopErr != nil {
			results[i].Err = context.Canceled
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			stopErr = err
			continue
		}
		v, err := fn(ctx, i, item)
		results[i] = Result[O]{Value: v, Err: err}
		finished <- struct{}{}
		if err != nil && stopOnError {
			stopErr = err
		}
	}
	return stopErr
}

// report forwards the finished count to out, coalescing while the reader
// is slow, until finished is closed and the last count is sent.
func report(ctx context.Context, out chan<- int, finished <-chan struct{}) {
	done, sent := 0, 0
	in := finished
	for {
		if in == nil && sent == done {
			return
		}
		var send chan<- int
		if sent != done {
			send = out
		}
		select {
		case _, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			done++
		case send <- done:
			sent = done
		case <-ctx.Done():
			return
		}
	}
}
