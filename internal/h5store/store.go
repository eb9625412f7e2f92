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

//go:build cgo

package h5store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// Store implements backend.Store over a local HDF5 file. The HDF5 library
// is not reentrant, so every call holds the store's lock.
type Store struct {
	mu      sync.Mutex
	path    string
	f       *hdf5.File
	onClose func()
	closed  bool
}

var _ backend.Store = (*Store)(nil)

// Open opens the HDF5 file at path read-only. onClose, if set, runs after
// the file is closed; the accessor uses it to release spooled copies.
func Open(path string, onClose func()) (backend.Store, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		if onClose != nil {
			onClose()
		}
		return nil, fmt.Errorf("open hdf5 %s: %w", path, err)
	}
	slog.Debug("Opened HDF5 file", slog.String("path", path))
	return &Store{path: path, f: f, onClose: onClose}, nil
}

func (s *Store) Kind() backend.Kind { return backend.KindHDF5 }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.f.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// h5path converts an internal path into the library's form.
func h5path(p string) string {
	p = backend.Clean(p)
	if p == "/" {
		return "."
	}
	return strings.TrimPrefix(p, "/")
}

func (s *Store) Children(_ context.Context, p string) ([]backend.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fg *hdf5.CommonFG
	if backend.Clean(p) == "/" {
		fg = &s.f.CommonFG
	} else {
		g, err := s.f.OpenGroup(h5path(p))
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", p, nwberr.ErrNotFound)
		}
		defer func() { _ = g.Close() }()
		fg = &g.CommonFG
	}

	n, err := fg.NumObjects()
	if err != nil {
		return nil, err
	}
	nodes := make([]backend.Node, 0, n)
	for i := range n {
		name, err := fg.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		typ, err := fg.ObjectTypeByIndex(i)
		if err != nil {
			return nil, err
		}
		switch typ {
		case hdf5.H5G_GROUP:
			nodes = append(nodes, backend.Node{Name: name, Type: backend.NodeGroup})
		case hdf5.H5G_DATASET:
			nodes = append(nodes, backend.Node{Name: name, Type: backend.NodeArray})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

type datasetInfo struct {
	dims   []uint
	family backend.Family
	size   int
	class  hdf5.TypeClass
}

func (s *Store) describe(ds *hdf5.Dataset) (datasetInfo, error) {
	space := ds.Space()
	defer func() { _ = space.Close() }()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return datasetInfo{}, err
	}
	dt, err := ds.Datatype()
	if err != nil {
		return datasetInfo{}, err
	}
	defer func() { _ = dt.Close() }()

	info := datasetInfo{dims: dims, class: dt.Class(), size: int(dt.Size())}
	switch info.class {
	case hdf5.T_INTEGER:
		info.family = backend.FamilyInt
	case hdf5.T_FLOAT:
		info.family = backend.FamilyFloat
	case hdf5.T_STRING:
		info.family = backend.FamilyString
	case hdf5.T_ENUM:
		// h5py stores booleans as a one-byte enum
		info.family = backend.FamilyBool
	case hdf5.T_REFERENCE:
		info.family = backend.FamilyRef
	default:
		info.family = backend.FamilyUnknown
	}
	return info, nil
}

func (s *Store) Info(_ context.Context, p string) (backend.ArrayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.f.OpenDataset(h5path(p))
	if err != nil {
		return backend.ArrayInfo{}, fmt.Errorf("array %s: %w", p, nwberr.ErrNotFound)
	}
	defer func() { _ = ds.Close() }()

	d, err := s.describe(ds)
	if err != nil {
		return backend.ArrayInfo{}, fmt.Errorf("array %s: %w", p, err)
	}
	shape := make([]int64, len(d.dims))
	for i, v := range d.dims {
		shape[i] = int64(v)
	}
	return backend.ArrayInfo{
		Path:     backend.Clean(p),
		Shape:    shape,
		Family:   d.family,
		ItemSize: d.size,
		DType:    fmt.Sprintf("%s%d", d.family, d.size),
	}, nil
}

func (s *Store) ReadRange(_ context.Context, p string, start, count int64) (*backend.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.f.OpenDataset(h5path(p))
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", p, nwberr.ErrNotFound)
	}
	defer func() { _ = ds.Close() }()

	d, err := s.describe(ds)
	if err != nil {
		return nil, err
	}
	dims := d.dims
	if len(dims) == 0 {
		dims = []uint{1}
	}
	if start < 0 || count < 0 || uint(start+count) > dims[0] {
		return nil, fmt.Errorf("rows [%d,%d) out of range for %s with %d rows", start, start+count, p, dims[0])
	}

	inner := make([]int64, len(dims)-1)
	n := int(count)
	for i, v := range dims[1:] {
		inner[i] = int64(v)
		n *= int(v)
	}
	out := &backend.Block{Family: d.family, Rows: int(count), Inner: inner}
	if n == 0 {
		return out, nil
	}

	src := datasetSource(ds.ID(), 0, 0)
	if len(d.dims) > 0 {
		filespace := ds.Space()
		defer func() { _ = filespace.Close() }()
		offset := make([]uint, len(dims))
		counts := append([]uint(nil), dims...)
		offset[0], counts[0] = uint(start), uint(count)
		if err := filespace.SelectHyperslab(offset, nil, counts, nil); err != nil {
			return nil, fmt.Errorf("select %s: %w", p, err)
		}
		memspace, err := hdf5.CreateSimpleDataspace(counts, nil)
		if err != nil {
			return nil, err
		}
		defer func() { _ = memspace.Close() }()
		src = datasetSource(ds.ID(), memspace.ID(), filespace.ID())
	}

	switch d.family {
	case backend.FamilyInt:
		out.Ints, err = readInts(src, n)
	case backend.FamilyFloat:
		out.Floats, err = readFloats(src, n)
	case backend.FamilyBool:
		out.Bools, err = readBools(src, n, d.size)
	case backend.FamilyString:
		out.Strings, err = readStrings(src, n, datasetIsVlenString(ds.ID()), d.size)
	case backend.FamilyRef:
		out.Refs, err = readRefs(src, s.f.ID(), n)
	default:
		return nil, fmt.Errorf("datatype class %d in %s: %w", d.class, p, nwberr.ErrUnsupported)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return out, nil
}

// knownAttrs lists the NWB and hdmf attributes this package looks up. The
// bindings cannot enumerate attributes, so each one is looked up by name.
var knownAttrs = []string{
	"neurodata_type", "namespace", "colnames", "description", "comments",
	"rate", "unit", "conversion", "offset", "resolution", "interval",
	"nwb_version", "object_id", "table",
}

type attrOpener interface {
	OpenAttribute(name string) (*hdf5.Attribute, error)
}

func (s *Store) Attrs(_ context.Context, p string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var obj any
	switch {
	case backend.Clean(p) == "/":
		g, err := s.f.OpenGroup("/")
		if err != nil {
			return nil, err
		}
		defer func() { _ = g.Close() }()
		obj = g
	default:
		if g, err := s.f.OpenGroup(h5path(p)); err == nil {
			defer func() { _ = g.Close() }()
			obj = g
		} else if ds, err := s.f.OpenDataset(h5path(p)); err == nil {
			defer func() { _ = ds.Close() }()
			obj = ds
		} else {
			return nil, fmt.Errorf("node %s: %w", p, nwberr.ErrNotFound)
		}
	}

	out := map[string]any{}
	opener, ok := obj.(attrOpener)
	if !ok {
		return out, nil
	}
	for _, name := range knownAttrs {
		attr, err := opener.OpenAttribute(name)
		if err != nil {
			continue
		}
		if v, ok := decodeAttr(attr.ID(), s.f.ID()); ok {
			out[name] = v
		}
		_ = attr.Close()
	}
	return out, nil
}
