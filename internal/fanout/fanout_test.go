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

package fanout

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(ctx context.Context, i int, item int) (int, error) {
	time.Sleep(time.Duration(rand.IntN(3000)) * time.Microsecond)
	return item * item, nil
}

func values[T any](rs []Result[T]) []T {
	out := make([]T, len(rs))
	for i, r := range rs {
		out[i] = r.Value
	}
	return out
}

func TestMapPreservesOrder(t *testing.T) {
	items := make([]int, 50)
	want := make([]int, 50)
	for i := range items {
		items[i] = i
		want[i] = i * i
	}

	tests := []struct {
		name string
		opts Options
	}{
		{"default workers", Options{}},
		{"one worker", Options{Workers: 1}},
		{"many workers", Options{Workers: 16}},
		{"sequential", Options{Sequential: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Map(context.Background(), items, square, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, want, values(got))
		})
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	fn := func(ctx context.Context, i int, item struct{}) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return i, nil
	}
	_, err := Map(context.Background(), make([]struct{}, 40), fn, Options{Workers: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestMapKeepsItemErrors(t *testing.T) {
	boom := errors.New("boom")
	fn := func(ctx context.Context, i int, item int) (int, error) {
		if item%2 == 1 {
			return 0, boom
		}
		return item, nil
	}
	for _, seq := range []bool{false, true} {
		got, err := Map(context.Background(), []int{0, 1, 2, 3}, fn, Options{Sequential: seq})
		require.NoError(t, err)
		assert.NoError(t, got[0].Err)
		assert.ErrorIs(t, got[1].Err, boom)
		assert.Equal(t, 2, got[2].Value)
		assert.ErrorIs(t, got[3].Err, boom)
	}
}

func TestMapStopOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	fn := func(ctx context.Context, i int, item int) (int, error) {
		calls.Add(1)
		if i == 0 {
			return 0, boom
		}
		time.Sleep(time.Millisecond)
		return item, ctx.Err()
	}
	items := make([]int, 100)

	got, err := Map(context.Background(), items, fn, Options{Workers: 1, StopOnError: true})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, got[0].Err, boom)
	assert.Error(t, got[99].Err)
	assert.Less(t, calls.Load(), int32(100))

	calls.Store(0)
	got, err = Map(context.Background(), items, fn, Options{Sequential: true, StopOnError: true})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, got[1].Err, context.Canceled)
}

func TestMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, seq := range []bool{false, true} {
		got, err := Map(ctx, []int{1, 2, 3}, square, Options{Sequential: seq})
		assert.ErrorIs(t, err, context.Canceled)
		for _, r := range got {
			assert.ErrorIs(t, r.Err, context.Canceled)
		}
	}
}

func TestMapProgress(t *testing.T) {
	for _, seq := range []bool{false, true} {
		progress := make(chan int)
		var seen []int
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range progress {
				seen = append(seen, n)
			}
		}()

		_, err := Map(context.Background(), make([]int, 25), square, Options{Workers: 4, Sequential: seq, Progress: progress})
		require.NoError(t, err)
		close(progress)
		wg.Wait()

		require.NotEmpty(t, seen)
		assert.Equal(t, 25, seen[len(seen)-1])
		for i := 1; i < len(seen); i++ {
			assert.Greater(t, seen[i], seen[i-1])
		}
	}
}

func TestMapProgressDoesNotBlockWorkers(t *testing.T) {
	progress := make(chan int)
	allRan := make(chan struct{})
	var ran atomic.Int32
	fn := func(ctx context.Context, i int, item int) (int, error) {
		if ran.Add(1) == 20 {
			close(allRan)
		}
		return i, nil
	}

	last := make(chan int)
	go func() {
		<-allRan
		n := 0
		for v := range progress {
			n = v
		}
		last <- n
	}()

	_, err := Map(context.Background(), make([]int, 20), fn, Options{Workers: 4, Progress: progress})
	require.NoError(t, err)
	close(progress)
	assert.Equal(t, 20, <-last)
}

func TestMapEmpty(t *testing.T) {
	got, err := Map(context.Background(), []int(nil), square, Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
