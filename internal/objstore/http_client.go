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
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cardinalhq/lakenwb/nwberr"
)

// httpClient reads objects over plain HTTP(S) with Range requests. The
// bucket is the host; it cannot list, so remote Zarr served this way
// needs consolidated metadata.
type httpClient struct {
	scheme string
	client *http.Client
}

// NewHTTPClient returns a range-reading client for scheme (http or https).
func NewHTTPClient(scheme string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{scheme: scheme, client: &http.Client{Timeout: timeout}}
}

func (c *httpClient) url(host, key string) string {
	return c.scheme + "://" + host + "/" + strings.TrimPrefix(key, "/")
}

func (c *httpClient) do(ctx context.Context, method, host, key, rng string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(host, key), nil)
	if err != nil {
		return nil, err
	}
	if rng != "" {
		req.Header.Set("Range", rng)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		recordError(ctx, c.scheme, "transport")
		return nil, fmt.Errorf("%s %s: %w", method, c.url(host, key), err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		recordError(ctx, c.scheme, "not_found")
		return nil, notFound(host, key, errors.New(resp.Status))
	case resp.StatusCode >= 300:
		_ = resp.Body.Close()
		recordError(ctx, c.scheme, "status")
		return nil, fmt.Errorf("%s %s: unexpected status %s", method, c.url(host, key), resp.Status)
	}
	return resp, nil
}

func (c *httpClient) ReadRange(ctx context.Context, host, key string, off, n int64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	resp, err := c.do(ctx, http.MethodGet, host, key, httpRange(off, n))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.Reader(resp.Body)
	if resp.StatusCode == http.StatusOK {
		// Server ignored the range; skip to the requested window.
		if _, err := io.CopyN(io.Discard, body, off); err != nil {
			return nil, fmt.Errorf("skip to offset %d: %w", off, err)
		}
		if n > 0 {
			body = io.LimitReader(body, n)
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	recordRead(ctx, c.scheme, len(data))
	return data, nil
}

func (c *httpClient) Get(ctx context.Context, host, key string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, host, key, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	recordRead(ctx, c.scheme, len(data))
	return data, nil
}

func (c *httpClient) Size(ctx context.Context, host, key string) (int64, error) {
	resp, err := c.do(ctx, http.MethodHead, host, key, "")
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%s: unknown content length", c.url(host, key))
	}
	return resp.ContentLength, nil
}

func (c *httpClient) List(_ context.Context, host, prefix string) ([]string, error) {
	return nil, fmt.Errorf("listing %s: %w", c.url(host, prefix), nwberr.ErrUnsupported)
}

func (c *httpClient) DownloadObject(ctx context.Context, dir, host, key string) (string, int64, error) {
	resp, err := c.do(ctx, http.MethodGet, host, key, "")
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	name := path.Base(strings.SplitN(key, "?", 2)[0])
	f, err := os.CreateTemp(dir, "*-"+name)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	size, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("download %s: %w", c.url(host, key), err)
	}
	recordRead(ctx, c.scheme, int(size))
	return f.Name(), size, nil
}
