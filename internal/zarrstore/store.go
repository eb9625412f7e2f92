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

// Package zarrstore reads Zarr v2 hierarchies through an objstore.Client.
// Consolidated metadata is used when present; otherwise metadata documents
// are fetched per node and cached for the life of the store.
package zarrstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// Store implements backend.Store over a Zarr v2 hierarchy.
type Store struct {
	client objstore.Client
	root   objstore.Location
	id     string
	chunks *ChunkCache

	// consolidated maps store keys such as "units/.zarray" to documents.
	// It is nil when the hierarchy has no .zmetadata.
	consolidated map[string]json.RawMessage

	mu     sync.RWMutex
	arrays map[string]*arrayMeta
	attrs  map[string]map[string]any
}

var _ backend.Store = (*Store)(nil)

// Open reads the root metadata of the hierarchy at root. A nil cache
// disables chunk caching.
func Open(ctx context.Context, client objstore.Client, root objstore.Location, cache *ChunkCache) (*Store, error) {
	s := &Store{
		client: client,
		root:   root,
		id:     root.String(),
		chunks: cache,
		arrays: make(map[string]*arrayMeta),
		attrs:  make(map[string]map[string]any),
	}

	raw, err := s.get(ctx, consolidatedKey)
	switch {
	case err == nil:
		md, perr := parseConsolidated(raw)
		if perr != nil {
			return nil, perr
		}
		s.consolidated = md
		slog.Debug("Using consolidated zarr metadata",
			slog.String("store", s.id),
			slog.Int("documents", len(md)))
	case errors.Is(err, objstore.ErrNotFound):
		if _, err := s.get(ctx, groupKey); err != nil {
			return nil, fmt.Errorf("open zarr root %s: %w", s.id, err)
		}
	default:
		return nil, fmt.Errorf("open zarr root %s: %w", s.id, err)
	}
	return s, nil
}

func (s *Store) Kind() backend.Kind { return backend.KindZarr }

// Close releases nothing; chunk cache entries expire on their own.
func (s *Store) Close() error { return nil }

// relKey maps an internal path plus document name to a store-relative key.
func relKey(p, name string) string {
	p = strings.Trim(backend.Clean(p), "/")
	if p == "" {
		return name
	}
	if name == "" {
		return p
	}
	return p + "/" + name
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	loc := s.root.Child(key)
	return s.client.Get(ctx, loc.Bucket, loc.Key)
}

// document fetches a metadata document from consolidated metadata or storage.
func (s *Store) document(ctx context.Context, key string) ([]byte, error) {
	if s.consolidated != nil {
		raw, ok := s.consolidated[key]
		if !ok {
			return nil, fmt.Errorf("%s: %w", key, objstore.ErrNotFound)
		}
		return raw, nil
	}
	return s.get(ctx, key)
}

func (s *Store) Attrs(ctx context.Context, p string) (map[string]any, error) {
	p = backend.Clean(p)
	s.mu.RLock()
	a, ok := s.attrs[p]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	raw, err := s.document(ctx, relKey(p, attrsKey))
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		a = map[string]any{}
	case err != nil:
		return nil, err
	default:
		if a, err = parseAttrs(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s.mu.Lock()
	s.attrs[p] = a
	s.mu.Unlock()
	return a, nil
}

func (s *Store) meta(ctx context.Context, p string) (*arrayMeta, error) {
	p = backend.Clean(p)
	s.mu.RLock()
	m, ok := s.arrays[p]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	raw, err := s.document(ctx, relKey(p, arrayKey))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("array %s: %w", p, nwberr.ErrNotFound)
		}
		return nil, err
	}
	attrs, err := s.Attrs(ctx, p)
	if err != nil {
		return nil, err
	}
	m, err = parseArrayMeta(raw, attrs)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", p, err)
	}

	s.mu.Lock()
	s.arrays[p] = m
	s.mu.Unlock()
	return m, nil
}

func (s *Store) Info(ctx context.Context, p string) (backend.ArrayInfo, error) {
	m, err := s.meta(ctx, p)
	if err != nil {
		return backend.ArrayInfo{}, err
	}
	return m.info(backend.Clean(p)), nil
}

func (s *Store) Children(ctx context.Context, p string) ([]backend.Node, error) {
	p = backend.Clean(p)
	if s.consolidated != nil {
		if _, ok := s.consolidated[relKey(p, groupKey)]; !ok {
			return nil, fmt.Errorf("group %s: %w", p, nwberr.ErrNotFound)
		}
		return s.consolidatedChildren(p), nil
	}

	loc := s.root.Child(relKey(p, ""))
	if p == "/" {
		loc = s.root
	}
	names, err := s.client.List(ctx, loc.Bucket, loc.Key)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", p, nwberr.ErrNotFound)
		}
		return nil, err
	}

	var nodes []backend.Node
	for _, name := range names {
		if strings.HasPrefix(name, ".") {
			continue
		}
		child := backend.Join(p, name)
		if _, err := s.get(ctx, relKey(child, arrayKey)); err == nil {
			nodes = append(nodes, backend.Node{Name: name, Type: backend.NodeArray})
			continue
		}
		if _, err := s.get(ctx, relKey(child, groupKey)); err == nil {
			nodes = append(nodes, backend.Node{Name: name, Type: backend.NodeGroup})
		}
	}
	return nodes, nil
}

func (s *Store) consolidatedChildren(p string) []backend.Node {
	prefix := strings.Trim(p, "/")
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]backend.NodeType)
	for key := range s.consolidated {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		name, doc, ok := strings.Cut(rest, "/")
		if !ok || strings.Contains(doc, "/") {
			continue
		}
		switch doc {
		case arrayKey:
			seen[name] = backend.NodeArray
		case groupKey:
			if _, dup := seen[name]; !dup {
				seen[name] = backend.NodeGroup
			}
		}
	}
	nodes := make([]backend.Node, 0, len(seen))
	for name, t := range seen {
		nodes = append(nodes, backend.Node{Name: name, Type: t})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// ReadRange reads rows [start, start+count) of the array at p across all
// trailing dimensions, assembling them from whichever chunks intersect.
func (s *Store) ReadRange(ctx context.Context, p string, start, count int64) (*backend.Block, error) {
	p = backend.Clean(p)
	m, err := s.meta(ctx, p)
	if err != nil {
		return nil, err
	}

	shape, chunks := m.Shape, m.Chunks
	if len(shape) == 0 {
		shape, chunks = []int64{1}, []int64{1}
	}
	if start < 0 || count < 0 || start+count > shape[0] {
		return nil, fmt.Errorf("rows [%d,%d) out of range for %s with %d rows", start, start+count, p, shape[0])
	}

	inner := shape[1:]
	out := backend.NewBlock(m.family, append([]int64(nil), inner...), 0)
	stride := out.Stride()
	allocBlock(out, int(count)*stride)
	out.Rows = int(count)
	if count == 0 {
		return out, nil
	}

	lo := make([]int64, len(shape))
	hi := append([]int64(nil), shape...)
	lo[0], hi[0] = start, start+count

	first := make([]int64, len(shape))
	last := make([]int64, len(shape))
	for d := range shape {
		first[d] = lo[d] / chunks[d]
		last[d] = (hi[d] - 1) / chunks[d]
	}

	idx := append([]int64(nil), first...)
	for {
		chunk, err := s.chunk(ctx, p, m, idx, chunks)
		if err != nil {
			return nil, err
		}
		copyIntersection(out, lo, hi, chunk, idx, chunks)

		// advance the chunk-grid odometer
		d := len(idx) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] <= last[d] {
				break
			}
			idx[d] = first[d]
			d--
		}
		if d < 0 {
			break
		}
	}
	return out, nil
}

// chunk returns the decoded chunk at grid index idx, filled with the fill
// value when the chunk was never written.
func (s *Store) chunk(ctx context.Context, p string, m *arrayMeta, idx, chunks []int64) (*backend.Block, error) {
	n := 1
	for _, c := range chunks {
		n *= int(c)
	}
	key := relKey(p, m.chunkKey(idx))
	if len(m.Shape) == 0 {
		key = relKey(p, "0")
	}
	if b, ok := s.chunks.get(ctx, s.id, key); ok {
		return b, nil
	}

	raw, err := s.get(ctx, key)
	if errors.Is(err, objstore.ErrNotFound) {
		return fillBlock(m.dt, m.family, m.FillValue, n), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", key, err)
	}

	b, err := decodeChunk(m, raw, n)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", key, err)
	}
	s.chunks.set(s.id, key, b)
	return b, nil
}

func decodeChunk(m *arrayMeta, raw []byte, n int) (*backend.Block, error) {
	compressor := ""
	if m.Compressor != nil {
		compressor = m.Compressor.ID
	}
	data, err := decompress(compressor, raw)
	if err != nil {
		return nil, err
	}

	if m.dt.kind == 'O' {
		b, err := decodeObjects(m.codec, data, n)
		if err != nil {
			return nil, err
		}
		if m.family == backend.FamilyRef && b.Family == backend.FamilyString {
			// references whose elements were all null
			b = &backend.Block{Family: backend.FamilyRef, Rows: b.Rows, Refs: make([]backend.Ref, b.Rows)}
		}
		if b.Rows < n {
			return nil, fmt.Errorf("object chunk has %d items, want %d", b.Rows, n)
		}
		return b, nil
	}
	return m.dt.decodeFixed(data, n)
}

func allocBlock(b *backend.Block, n int) {
	switch b.Family {
	case backend.FamilyBool:
		b.Bools = make([]bool, n)
	case backend.FamilyInt:
		b.Ints = make([]int64, n)
	case backend.FamilyFloat:
		b.Floats = make([]float64, n)
	case backend.FamilyString:
		b.Strings = make([]string, n)
	case backend.FamilyRef:
		b.Refs = make([]backend.Ref, n)
	}
}

// copyIntersection copies the part of chunk (at grid index idx) that falls
// inside the region [lo, hi) into out, whose layout is the region in C order.
func copyIntersection(out *backend.Block, lo, hi []int64, chunk *backend.Block, idx, chunks []int64) {
	nd := len(lo)
	clo := make([]int64, nd)
	chi := make([]int64, nd)
	for d := range nd {
		cs := idx[d] * chunks[d]
		clo[d] = max(cs, lo[d])
		chi[d] = min(cs+chunks[d], hi[d])
		if clo[d] >= chi[d] {
			return
		}
	}

	outStrides := make([]int64, nd)
	chunkStrides := make([]int64, nd)
	outStrides[nd-1], chunkStrides[nd-1] = 1, 1
	for d := nd - 2; d >= 0; d-- {
		outStrides[d] = outStrides[d+1] * (hi[d+1] - lo[d+1])
		chunkStrides[d] = chunkStrides[d+1] * chunks[d+1]
	}

	run := int(chi[nd-1] - clo[nd-1])
	pos := append([]int64(nil), clo...)
	for {
		var dst, src int64
		for d := range nd {
			dst += (pos[d] - lo[d]) * outStrides[d]
			src += (pos[d] - idx[d]*chunks[d]) * chunkStrides[d]
		}
		copyRun(out, int(dst), chunk, int(src), run)

		d := nd - 2
		for d >= 0 {
			pos[d]++
			if pos[d] < chi[d] {
				break
			}
			pos[d] = clo[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

func copyRun(dst *backend.Block, di int, src *backend.Block, si, n int) {
	switch dst.Family {
	case backend.FamilyBool:
		copy(dst.Bools[di:di+n], src.Bools[si:si+n])
	case backend.FamilyInt:
		copy(dst.Ints[di:di+n], src.Ints[si:si+n])
	case backend.FamilyFloat:
		copy(dst.Floats[di:di+n], src.Floats[si:si+n])
	case backend.FamilyString:
		copy(dst.Strings[di:di+n], src.Strings[si:si+n])
	case backend.FamilyRef:
		copy(dst.Refs[di:di+n], src.Refs[si:si+n])
	}
}
