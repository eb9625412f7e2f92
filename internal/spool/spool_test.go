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

package spool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func writer(content string, calls *atomic.Int32) DownloadFunc {
	return func(_ context.Context, dir string) (string, int64, error) {
		calls.Add(1)
		f, err := os.CreateTemp(dir, "*-file.nwb")
		if err != nil {
			return "", 0, err
		}
		defer func() { _ = f.Close() }()
		n, err := f.WriteString(content)
		return f.Name(), int64(n), err
	}
}

func TestSpool_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("downloads once and reuses the file", func(t *testing.T) {
		t.Parallel()
		s := newTestSpool(t)
		var calls atomic.Int32

		p1, err := s.Fetch(context.Background(), "s3://b/a.nwb", writer("hdf5", &calls))
		require.NoError(t, err)
		p2, err := s.Fetch(context.Background(), "s3://b/a.nwb", writer("hdf5", &calls))
		require.NoError(t, err)

		assert.Equal(t, p1, p2)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int64(1), s.FileCount())
		assert.Equal(t, int64(4), s.TotalBytes())

		data, err := os.ReadFile(p1)
		require.NoError(t, err)
		assert.Equal(t, "hdf5", string(data))
	})

	t.Run("concurrent fetches share one download", func(t *testing.T) {
		t.Parallel()
		s := newTestSpool(t)
		var calls atomic.Int32

		var wg sync.WaitGroup
		paths := make([]string, 8)
		for i := range paths {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := s.Fetch(context.Background(), "az://c/x.nwb", writer("x", &calls))
				assert.NoError(t, err)
				paths[i] = p
			}()
		}
		wg.Wait()

		for _, p := range paths {
			assert.Equal(t, paths[0], p)
		}
		assert.Equal(t, int64(1), s.FileCount())
	})

	t.Run("download errors are returned and nothing is tracked", func(t *testing.T) {
		t.Parallel()
		s := newTestSpool(t)
		boom := errors.New("boom")
		_, err := s.Fetch(context.Background(), "k", func(context.Context, string) (string, int64, error) {
			return "", 0, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), s.FileCount())
	})

	t.Run("files downloaded elsewhere are moved under the key directory", func(t *testing.T) {
		t.Parallel()
		s := newTestSpool(t)
		other := t.TempDir()
		p, err := s.Fetch(context.Background(), "k", func(context.Context, string) (string, int64, error) {
			name := filepath.Join(other, "f.nwb")
			return name, 1, os.WriteFile(name, []byte("1"), 0o644)
		})
		require.NoError(t, err)
		assert.Equal(t, s.dirForKey("k"), filepath.Dir(p))
	})
}

func TestSpool_ReleaseAndCleanup(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)
	s.getDiskUsage = func(string) (uint64, uint64, error) { return 1, 100, nil }
	var calls atomic.Int32

	p, err := s.Fetch(context.Background(), "k", writer("abc", &calls))
	require.NoError(t, err)

	s.Release("k")
	s.mu.Lock()
	s.files[p].deleteAfter = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.cleanup()
	assert.Equal(t, int64(0), s.FileCount())
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestSpool_ReleaseThenFetchKeepsFile(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)
	var calls atomic.Int32

	_, err := s.Fetch(context.Background(), "k", writer("abc", &calls))
	require.NoError(t, err)
	s.Release("k")
	_, err = s.Fetch(context.Background(), "k", writer("abc", &calls))
	require.NoError(t, err)

	s.cleanup()
	assert.Equal(t, int64(1), s.FileCount())
	assert.Equal(t, int32(1), calls.Load())
}

func TestSpool_EvictForDiskPressure(t *testing.T) {
	t.Parallel()
	s := newTestSpool(t)
	var calls atomic.Int32

	p1, err := s.Fetch(context.Background(), "old", writer("a", &calls))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	p2, err := s.Fetch(context.Background(), "new", writer("b", &calls))
	require.NoError(t, err)

	// usage drops below the low watermark after one eviction
	var checks atomic.Int32
	s.getDiskUsage = func(string) (uint64, uint64, error) {
		if checks.Add(1) <= 2 {
			return 90, 100, nil
		}
		return 50, 100, nil
	}
	s.evictForDiskPressure()

	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p2)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), s.FileCount())
}
