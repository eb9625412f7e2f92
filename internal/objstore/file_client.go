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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// fileClient serves objects from the local filesystem. Buckets become
// subdirectories of base; an empty base with an absolute key reads the
// key directly.
type fileClient struct {
	base string
}

// NewFileClient returns a client rooted at base.
func NewFileClient(base string) Client {
	return &fileClient{base: base}
}

func (c *fileClient) path(bucket, key string) string {
	return filepath.Join(c.base, bucket, filepath.FromSlash(key))
}

func (c *fileClient) ReadRange(ctx context.Context, bucket, key string, off, n int64) ([]byte, error) {
	f, err := os.Open(c.path(bucket, key))
	if err != nil {
		return nil, c.classify(ctx, bucket, key, err)
	}
	defer func() { _ = f.Close() }()

	if n < 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		n = fi.Size() - off
		if n < 0 {
			n = 0
		}
	}
	buf := make([]byte, n)
	got, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		recordError(ctx, "file", "read")
		return nil, fmt.Errorf("read %s at %d: %w", key, off, err)
	}
	recordRead(ctx, "file", got)
	return buf[:got], nil
}

func (c *fileClient) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(c.path(bucket, key))
	if err != nil {
		return nil, c.classify(ctx, bucket, key, err)
	}
	recordRead(ctx, "file", len(data))
	return data, nil
}

func (c *fileClient) Size(ctx context.Context, bucket, key string) (int64, error) {
	fi, err := os.Stat(c.path(bucket, key))
	if err != nil {
		return 0, c.classify(ctx, bucket, key, err)
	}
	return fi.Size(), nil
}

func (c *fileClient) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	entries, err := os.ReadDir(c.path(bucket, prefix))
	if err != nil {
		return nil, c.classify(ctx, bucket, prefix, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// DownloadObject copies the requested object to a temp file and returns the filename.
func (c *fileClient) DownloadObject(ctx context.Context, dir, bucket, key string) (string, int64, error) {
	src, err := os.Open(c.path(bucket, key))
	if err != nil {
		return "", 0, c.classify(ctx, bucket, key, err)
	}
	defer func() { _ = src.Close() }()

	// Keep the original name so the extension survives for detection.
	dst, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	size, err := io.Copy(dst, src)
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", 0, fmt.Errorf("copy %s: %w", key, err)
	}
	recordRead(ctx, "file", int(size))
	return dst.Name(), size, nil
}

func (c *fileClient) classify(ctx context.Context, bucket, key string, err error) error {
	// a path through a regular file fails with ENOTDIR
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		recordError(ctx, "file", "not_found")
		return notFound(bucket, key, err)
	}
	recordError(ctx, "file", "unknown")
	return err
}
