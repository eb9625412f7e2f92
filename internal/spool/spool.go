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

// Package spool keeps local copies of remote objects that can only be read
// through a file path, such as HDF5 files opened by the C library.
package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCleanupInterval is how often the cleanup goroutine runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultDeletionDelay is how long a released file stays on disk so an
	// immediate re-open can reuse it.
	DefaultDeletionDelay = 1 * time.Minute

	// DiskUsageHighWatermark is the disk utilization level that triggers eviction.
	DiskUsageHighWatermark = 0.80

	// DiskUsageLowWatermark is the target disk utilization after eviction.
	DiskUsageLowWatermark = 0.70
)

// DiskUsageFunc returns disk usage statistics for the filesystem holding path.
type DiskUsageFunc func(path string) (usedBytes, totalBytes uint64, err error)

// DownloadFunc copies the object into a new file under dir and returns its name.
type DownloadFunc func(ctx context.Context, dir string) (filename string, size int64, err error)

// Spool tracks downloaded objects keyed by source identity, with
// disk-pressure LRU eviction and delayed deletion of released files.
type Spool struct {
	mu sync.RWMutex

	baseDir   string
	files     map[string]*spooledFile // by local path
	keyToPath map[string]string

	cleanupInterval time.Duration
	getDiskUsage    DiskUsageFunc
	fetches         singleflight.Group

	fileCount  int64
	totalBytes int64

	stopCleanup context.CancelFunc
	cleanupWG   sync.WaitGroup
}

type spooledFile struct {
	key         string
	path        string
	size        int64
	lastAccess  time.Time
	deleteAfter time.Time
}

// New creates a spool rooted at baseDir. An empty baseDir selects a
// directory under os.TempDir().
func New(baseDir string, cleanupInterval time.Duration) (*Spool, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "lakenwb-spool")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}

	s := &Spool{
		baseDir:         baseDir,
		files:           make(map[string]*spooledFile),
		keyToPath:       make(map[string]string),
		cleanupInterval: cleanupInterval,
		getDiskUsage:    defaultGetDiskUsage,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopCleanup = cancel
	s.cleanupWG.Add(1)
	go s.cleanupLoop(ctx)

	slog.Debug("Spool initialized",
		slog.String("baseDir", baseDir),
		slog.Duration("cleanupInterval", cleanupInterval))
	return s, nil
}

// Close stops the cleanup goroutine and removes every spooled file.
func (s *Spool) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	s.cleanupWG.Wait()

	s.mu.Lock()
	for path := range s.files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove spooled file during Close",
				slog.String("path", path),
				slog.Any("error", err))
		}
	}
	s.files = make(map[string]*spooledFile)
	s.keyToPath = make(map[string]string)
	s.fileCount = 0
	s.totalBytes = 0
	s.mu.Unlock()

	s.cleanupEmptyDirs()
}

// RegisterMetrics registers gauges for the spool's file count and size.
func (s *Spool) RegisterMetrics() error {
	meter := otel.Meter("github.com/cardinalhq/lakenwb/internal/spool")

	_, err := meter.Int64ObservableGauge(
		"lakenwb.spool.file_count",
		metric.WithDescription("Number of remote objects spooled on disk"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			o.Observe(s.fileCount)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	_, err = meter.Int64ObservableGauge(
		"lakenwb.spool.bytes",
		metric.WithDescription("Total bytes of spooled objects"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			o.Observe(s.totalBytes)
			return nil
		}),
	)
	return err
}

// Fetch returns a local path holding the object identified by key,
// downloading it once when it is not already spooled. Concurrent fetches of
// the same key share one download.
func (s *Spool) Fetch(ctx context.Context, key string, download DownloadFunc) (string, error) {
	if p, ok := s.lookup(key); ok {
		return p, nil
	}

	v, err, _ := s.fetches.Do(key, func() (any, error) {
		if p, ok := s.lookup(key); ok {
			return p, nil
		}
		return s.download(ctx, key, download)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Spool) lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.keyToPath[key]
	if !ok {
		return "", false
	}
	info := s.files[p]
	if info == nil {
		return "", false
	}
	info.lastAccess = time.Now()
	info.deleteAfter = time.Time{}
	return p, true
}

func (s *Spool) download(ctx context.Context, key string, download DownloadFunc) (string, error) {
	dir := s.dirForKey(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name, size, err := download(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("spool %s: %w", key, err)
	}
	if filepath.Dir(name) != dir {
		final := filepath.Join(dir, filepath.Base(name))
		if err := os.Rename(name, final); err != nil {
			_ = os.Remove(name)
			return "", fmt.Errorf("spool %s: %w", key, err)
		}
		name = final
	}

	s.mu.Lock()
	s.files[name] = &spooledFile{
		key:        key,
		path:       name,
		size:       size,
		lastAccess: time.Now(),
	}
	s.keyToPath[key] = name
	s.fileCount++
	s.totalBytes += size
	s.mu.Unlock()

	slog.Debug("Spooled remote object",
		slog.String("key", key),
		slog.String("path", name),
		slog.Int64("size", size))
	return name, nil
}

// Release marks the file for key for delayed deletion.
func (s *Spool) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.keyToPath[key]; ok {
		if info, exists := s.files[p]; exists {
			info.deleteAfter = time.Now().Add(DefaultDeletionDelay)
		}
	}
}

// FileCount returns the current number of tracked files.
func (s *Spool) FileCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fileCount
}

// TotalBytes returns the total size of tracked files.
func (s *Spool) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBytes
}

// dirForKey gives each key its own directory so downloaded file names
// never collide.
func (s *Spool) dirForKey(key string) string {
	return filepath.Join(s.baseDir, strconv.FormatUint(xxhash.Sum64String(key), 16))
}

func (s *Spool) removeFile(path string) {
	s.mu.Lock()
	if info, exists := s.files[path]; exists {
		s.totalBytes -= info.size
		s.fileCount--
		delete(s.keyToPath, info.key)
		delete(s.files, path)
	}
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove spooled file from disk",
			slog.String("path", path),
			slog.Any("error", err))
	}
}

func (s *Spool) cleanupLoop(ctx context.Context) {
	defer s.cleanupWG.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes released files whose delay has passed, then evicts for
// disk pressure.
func (s *Spool) cleanup() {
	now := time.Now()

	var toRemove []string
	s.mu.RLock()
	for path, info := range s.files {
		if !info.deleteAfter.IsZero() && now.After(info.deleteAfter) {
			toRemove = append(toRemove, path)
		}
	}
	s.mu.RUnlock()

	if len(toRemove) > 0 {
		slog.Debug("Removing released spool files", slog.Int("count", len(toRemove)))
		for _, path := range toRemove {
			s.removeFile(path)
		}
	}

	s.evictForDiskPressure()
	s.cleanupEmptyDirs()
}

// evictForDiskPressure removes files least recently used first while disk
// usage is above the high watermark, stopping at the low watermark.
func (s *Spool) evictForDiskPressure() {
	used, total, err := s.getDiskUsage(s.baseDir)
	if err != nil {
		slog.Warn("Failed to get disk usage for eviction check",
			slog.String("baseDir", s.baseDir),
			slog.Any("error", err))
		return
	}
	if total == 0 || float64(used)/float64(total) < DiskUsageHighWatermark {
		return
	}

	slog.Info("Disk pressure detected, evicting spooled files",
		slog.Float64("utilization", float64(used)/float64(total)),
		slog.Uint64("usedBytes", used),
		slog.Uint64("totalBytes", total))

	type entry struct {
		path       string
		lastAccess time.Time
	}
	s.mu.RLock()
	entries := make([]entry, 0, len(s.files))
	for path, info := range s.files {
		entries = append(entries, entry{path: path, lastAccess: info.lastAccess})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	evicted := 0
	for _, e := range entries {
		used, total, err = s.getDiskUsage(s.baseDir)
		if err != nil || total == 0 || float64(used)/float64(total) <= DiskUsageLowWatermark {
			break
		}
		s.removeFile(e.path)
		evicted++
	}
	if evicted > 0 {
		slog.Info("Disk pressure eviction complete", slog.Int("evictedCount", evicted))
	}
}

func defaultGetDiskUsage(path string) (usedBytes, totalBytes uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	return totalBytes - freeBytes, totalBytes, nil
}

func (s *Spool) cleanupEmptyDirs() {
	_ = filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == s.baseDir {
			return nil
		}
		_ = os.Remove(path)
		return nil
	})
}
