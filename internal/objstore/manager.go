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

package objstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Options configures every provider the Manager can hand out.
type Options struct {
	S3          S3Options
	Azure       AzureOptions
	HTTPTimeout time.Duration
}

// Manager lazily builds and caches one Client per scheme.
type Manager struct {
	opts Options

	sync.RWMutex
	clients map[string]Client
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithClient installs a prebuilt client for scheme, typically in tests.
func WithClient(scheme string, c Client) ManagerOption {
	return func(m *Manager) {
		m.clients[scheme] = c
	}
}

// NewManager returns a Manager for opts.
func NewManager(opts Options, mopts ...ManagerOption) *Manager {
	m := &Manager{
		opts:    opts,
		clients: map[string]Client{"file": NewFileClient("")},
	}
	for _, o := range mopts {
		o(m)
	}
	return m
}

// ClientFor returns the client serving loc's scheme.
func (m *Manager) ClientFor(ctx context.Context, loc Location) (Client, error) {
	m.RLock()
	c, ok := m.clients[loc.Scheme]
	m.RUnlock()
	if ok {
		return c, nil
	}

	m.Lock()
	defer m.Unlock()
	if c, ok = m.clients[loc.Scheme]; ok {
		return c, nil
	}

	var err error
	switch loc.Scheme {
	case "s3":
		c, err = NewS3Client(ctx, m.opts.S3)
	case "az":
		c, err = NewAzureClient(m.opts.Azure)
	case "http", "https":
		c = NewHTTPClient(loc.Scheme, m.opts.HTTPTimeout)
	default:
		err = fmt.Errorf("unsupported scheme %q", loc.Scheme)
	}
	if err != nil {
		return nil, err
	}
	m.clients[loc.Scheme] = c
	return c, nil
}
