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

package accessor

import (
	"context"
	"fmt"
	"time"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/h5store"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/internal/spool"
	"github.com/cardinalhq/lakenwb/internal/zarrstore"
)

// Opener opens the backend store for a source.
type Opener interface {
	Open(ctx context.Context, src Source) (backend.Store, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, src Source) (backend.Store, error)

func (f OpenerFunc) Open(ctx context.Context, src Source) (backend.Store, error) {
	return f(ctx, src)
}

// Options configures the default opener.
type Options struct {
	Storage         objstore.Options
	ChunkTTL        time.Duration
	ChunkCapacity   uint64
	SpoolDir        string
	CleanupInterval time.Duration
	// Clients preinstalls object store clients by scheme.
	Clients map[string]objstore.Client
}

// StoreOpener detects the format of a source and opens the matching store.
// Zarr stores read through object storage directly; remote HDF5 files are
// spooled to local disk first.
type StoreOpener struct {
	clients *objstore.Manager
	chunks  *zarrstore.ChunkCache
	spool   *spool.Spool
}

// NewStoreOpener builds the shared transport, chunk cache, and spool.
func NewStoreOpener(opts Options) (*StoreOpener, error) {
	var mopts []objstore.ManagerOption
	for scheme, c := range opts.Clients {
		mopts = append(mopts, objstore.WithClient(scheme, c))
	}
	sp, err := spool.New(opts.SpoolDir, opts.CleanupInterval)
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	if err := sp.RegisterMetrics(); err != nil {
		sp.Close()
		return nil, fmt.Errorf("register spool metrics: %w", err)
	}
	return &StoreOpener{
		clients: objstore.NewManager(opts.Storage, mopts...),
		chunks:  zarrstore.NewChunkCache(opts.ChunkTTL, opts.ChunkCapacity),
		spool:   sp,
	}, nil
}

func (o *StoreOpener) Open(ctx context.Context, src Source) (backend.Store, error) {
	client, err := o.clients.ClientFor(ctx, src.Loc)
	if err != nil {
		return nil, err
	}
	kind, err := Detect(ctx, client, src.Loc)
	if err != nil {
		return nil, err
	}

	switch kind {
	case backend.KindZarr:
		s, err := zarrstore.Open(ctx, client, src.Loc, o.chunks)
		if err != nil {
			return nil, err
		}
		return s, nil
	case backend.KindHDF5:
		if src.Loc.Scheme == "file" {
			return h5store.Open(src.Loc.Key, nil)
		}
		key := src.Key()
		local, err := o.spool.Fetch(ctx, key, func(ctx context.Context, dir string) (string, int64, error) {
			return client.DownloadObject(ctx, dir, src.Loc.Bucket, src.Loc.Key)
		})
		if err != nil {
			return nil, err
		}
		return h5store.Open(local, func() { o.spool.Release(key) })
	}
	return nil, fmt.Errorf("unknown store kind %q", kind)
}

// Close drops cached chunks and spooled files.
func (o *StoreOpener) Close() error {
	o.chunks.Close()
	o.spool.Close()
	return nil
}
