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

package zarrstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakenwb/internal/backend"
)

const (
	DefaultChunkTTL      = 5 * time.Minute
	DefaultChunkCapacity = 4096
)

var (
	chunkHits   metric.Int64Counter
	chunkMisses metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakenwb/internal/zarrstore")

	var err error
	chunkHits, err = meter.Int64Counter(
		"lakenwb.zarr.chunk_cache.hits",
		metric.WithDescription("Decoded chunk cache hits"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create chunk_cache.hits counter: %w", err))
	}

	chunkMisses, err = meter.Int64Counter(
		"lakenwb.zarr.chunk_cache.misses",
		metric.WithDescription("Decoded chunk cache misses"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create chunk_cache.misses counter: %w", err))
	}
}

// ChunkCache holds decoded chunks shared by every open Zarr store, keyed
// by a hash of the store identity and chunk key. Cached blocks are never
// mutated by readers.
type ChunkCache struct {
	cache *ttlcache.Cache[uint64, *backend.Block]
}

// NewChunkCache starts a cache with the given TTL and item capacity.
// Zero values select the defaults.
func NewChunkCache(ttl time.Duration, capacity uint64) *ChunkCache {
	if ttl <= 0 {
		ttl = DefaultChunkTTL
	}
	if capacity == 0 {
		capacity = DefaultChunkCapacity
	}
	c := ttlcache.New(
		ttlcache.WithTTL[uint64, *backend.Block](ttl),
		ttlcache.WithCapacity[uint64, *backend.Block](capacity),
	)
	go c.Start()
	return &ChunkCache{cache: c}
}

func chunkCacheKey(storeID, key string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(storeID)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(key)
	return d.Sum64()
}

func (c *ChunkCache) get(ctx context.Context, storeID, key string) (*backend.Block, bool) {
	if c == nil {
		return nil, false
	}
	item := c.cache.Get(chunkCacheKey(storeID, key))
	if item == nil {
		chunkMisses.Add(ctx, 1)
		return nil, false
	}
	chunkHits.Add(ctx, 1)
	return item.Value(), true
}

func (c *ChunkCache) set(storeID, key string, b *backend.Block) {
	if c == nil {
		return
	}
	c.cache.Set(chunkCacheKey(storeID, key), b, ttlcache.DefaultTTL)
}

// Len reports the number of cached chunks.
func (c *ChunkCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Close stops the expiry loop and drops every cached chunk.
func (c *ChunkCache) Close() {
	if c == nil {
		return
	}
	c.cache.Stop()
	c.cache.DeleteAll()
}
