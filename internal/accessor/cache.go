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

// Package accessor owns open file handles. A Cache keeps at most one open
// store per normalized source; concurrent opens of one source share a
// single underlying open, and evicted stores stay valid until the last
// reader releases them.
package accessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

var (
	openCounter  metric.Int64Counter
	evictCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakenwb/internal/accessor")

	var err error
	openCounter, err = meter.Int64Counter(
		"lakenwb.accessor.opens",
		metric.WithDescription("Underlying store opens, by backend kind and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create opens counter: %w", err))
	}

	evictCounter, err = meter.Int64Counter(
		"lakenwb.accessor.evictions",
		metric.WithDescription("Stores dropped from the handle cache"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create evictions counter: %w", err))
	}
}

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("accessor cache closed")

type entry struct {
	src   Source
	store backend.Store
	refs  int // one for the cache while cached, plus one per live Handle
}

// Cache maps normalized sources to shared open stores.
type Cache struct {
	opener Opener
	owned  interface{ Close() error }

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	group   singleflight.Group
}

// NewCache returns a cache that opens stores through opener.
func NewCache(opener Opener) *Cache {
	return &Cache{opener: opener, entries: make(map[string]*entry)}
}

// New returns a cache backed by a StoreOpener built from opts. Closing the
// cache also closes the opener.
func New(opts Options) (*Cache, error) {
	o, err := NewStoreOpener(opts)
	if err != nil {
		return nil, err
	}
	c := NewCache(o)
	c.owned = o
	return c, nil
}

// Handle is one reader's reference to a cached store.
type Handle struct {
	c    *Cache
	e    *entry
	once sync.Once
}

func (h *Handle) Store() backend.Store { return h.e.store }
func (h *Handle) Source() Source       { return h.e.src }

// Release returns the reference. The store closes once it has been evicted
// and every handle is released. Release is idempotent.
func (h *Handle) Release() {
	h.once.Do(func() { h.c.unref(h.e) })
}

// Open returns a handle on the store for src, opening it on first use.
// Failures wrap nwberr.ErrSourceUnavailable in a *nwberr.SourceError.
func (c *Cache) Open(ctx context.Context, src Source) (*Handle, error) {
	key := src.Key()
	for {
		if h, err := c.acquire(key); h != nil || err != nil {
			return h, err
		}

		_, err, _ := c.group.Do(key, func() (any, error) {
			// the open is shared, so one caller giving up must not fail the rest
			ctx := context.WithoutCancel(ctx)
			c.mu.Lock()
			_, ok := c.entries[key]
			c.mu.Unlock()
			if ok {
				return nil, nil
			}

			st, err := c.opener.Open(ctx, src)
			if err != nil {
				openCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
				slog.Debug("Source open failed", slog.String("source", key), slog.Any("error", err))
				return nil, nwberr.Unavailable(key, err)
			}
			openCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("outcome", "ok"),
				attribute.String("kind", string(st.Kind()))))

			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				_ = st.Close()
				return nil, ErrClosed
			}
			c.entries[key] = &entry{src: src, store: st, refs: 1}
			slog.Debug("Opened source", slog.String("source", key), slog.String("kind", string(st.Kind())))
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		// loop: the entry may have been evicted before this caller took a reference
	}
}

func (c *Cache) acquire(key string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	e.refs++
	return &Handle{c: c, e: e}, nil
}

func (c *Cache) unref(e *entry) {
	c.mu.Lock()
	e.refs--
	closeNow := e.refs == 0
	c.mu.Unlock()
	if closeNow {
		if err := e.store.Close(); err != nil {
			slog.Warn("Failed to close store", slog.String("source", e.src.Key()), slog.Any("error", err))
		}
	}
}

// Evict drops the cache's reference to src. Readers holding handles keep
// using the store until they release it.
func (c *Cache) Evict(src Source) error {
	key := src.Key()
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, key)
	e.refs--
	closeNow := e.refs == 0
	c.mu.Unlock()

	evictCounter.Add(context.Background(), 1)
	slog.Debug("Evicted source", slog.String("source", key), slog.Bool("closed", closeNow))
	if closeNow {
		return e.store.Close()
	}
	return nil
}

// Len reports the number of cached stores.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close evicts every store and refuses further opens.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	sources := make([]Source, 0, len(c.entries))
	for _, e := range c.entries {
		sources = append(sources, e.src)
	}
	c.mu.Unlock()

	var result *multierror.Error
	for _, src := range sources {
		if err := c.Evict(src); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", src.Key(), err))
		}
	}
	if c.owned != nil {
		if err := c.owned.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
