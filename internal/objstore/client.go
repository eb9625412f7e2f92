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
	"net/url"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakenwb/nwberr"
)

// ErrNotFound is returned, possibly wrapped, when an object does not exist.
var ErrNotFound = nwberr.ErrNotFound

// Client provides byte-range reads over one storage provider.
type Client interface {
	// ReadRange reads n bytes at off. A negative n reads to the end of the object.
	ReadRange(ctx context.Context, bucket, key string, off, n int64) ([]byte, error)

	// Get reads a whole object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Size returns the object's length in bytes.
	Size(ctx context.Context, bucket, key string) (int64, error)

	// List returns the names of the immediate children under prefix, which
	// is treated as a directory. Names have no trailing slash.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// DownloadObject copies an object into a new file under dir and
	// returns the file name and size.
	DownloadObject(ctx context.Context, dir, bucket, key string) (filename string, size int64, err error)
}

// Location addresses one object or object prefix.
type Location struct {
	Scheme string // file, s3, az, http, https
	Bucket string // bucket, container, or host; empty for file
	Key    string
}

func (l Location) String() string {
	if l.Scheme == "file" {
		return l.Key
	}
	return l.Scheme + "://" + l.Bucket + "/" + strings.TrimPrefix(l.Key, "/")
}

// Child returns the location of name under l.
func (l Location) Child(name string) Location {
	c := l
	if l.Scheme == "file" {
		c.Key = filepath.Join(l.Key, filepath.FromSlash(name))
		return c
	}
	c.Key = strings.TrimSuffix(l.Key, "/") + "/" + strings.TrimPrefix(name, "/")
	c.Key = strings.TrimPrefix(c.Key, "/")
	return c
}

// ParseLocation normalizes a local path or URL. Local paths are made
// absolute; trailing slashes are dropped and schemes are lowercased.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, fmt.Errorf("empty source")
	}
	if !strings.Contains(s, "://") || strings.HasPrefix(strings.ToLower(s), "file://") {
		p := s
		if strings.HasPrefix(strings.ToLower(p), "file://") {
			p = p[len("file://"):]
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return Location{}, fmt.Errorf("resolve %q: %w", s, err)
		}
		return Location{Scheme: "file", Key: filepath.Clean(abs)}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w", s, err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "s3", "az", "abfs", "abfss", "http", "https":
	default:
		return Location{}, fmt.Errorf("unsupported scheme %q in %q: %w", u.Scheme, s, nwberr.ErrUnsupported)
	}
	if scheme == "abfs" || scheme == "abfss" {
		scheme = "az"
	}
	bucket := u.Host
	if u.User != nil && scheme == "az" {
		// abfs://container@account.dfs.core.windows.net/path
		bucket = u.User.Username()
	}
	key := strings.Trim(u.Path, "/")
	if u.RawQuery != "" && (scheme == "http" || scheme == "https") {
		key += "?" + u.RawQuery
	}
	return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

var (
	readCount  metric.Int64Counter
	readBytes  metric.Int64Counter
	readErrors metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakenwb/internal/objstore")

	var err error
	readCount, err = meter.Int64Counter(
		"lakenwb.objstore.read.count",
		metric.WithDescription("Number of object range reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create read.count counter: %w", err))
	}

	readBytes, err = meter.Int64Counter(
		"lakenwb.objstore.read.bytes",
		metric.WithDescription("Bytes read from object storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create read.bytes counter: %w", err))
	}

	readErrors, err = meter.Int64Counter(
		"lakenwb.objstore.read.errors",
		metric.WithDescription("Number of failed object reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create read.errors counter: %w", err))
	}
}

func recordRead(ctx context.Context, scheme string, n int) {
	attrs := metric.WithAttributes(attribute.String("scheme", scheme))
	readCount.Add(ctx, 1, attrs)
	readBytes.Add(ctx, int64(n), attrs)
}

func recordError(ctx context.Context, scheme, reason string) {
	readErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scheme", scheme),
		attribute.String("reason", reason),
	))
}

// notFound wraps a provider error so errors.Is(err, ErrNotFound) holds.
func notFound(bucket, key string, cause error) error {
	return fmt.Errorf("%s/%s: %w: %v", bucket, key, ErrNotFound, cause)
}

// childNames reduces full keys under prefix to unique immediate child names.
func childNames(prefix string, keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	var out []string
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
