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

// Package backend defines the capability interface every storage format
// implements. Inference, pushdown and materialization code depend only on
// Store; the concrete format is chosen once when a source is opened.
package backend

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cardinalhq/lakenwb/nwberr"
)

// Kind names a storage format.
type Kind string

const (
	KindZarr Kind = "zarr"
	KindHDF5 Kind = "hdf5"
)

// NodeType distinguishes containers from arrays in the file tree.
type NodeType int

const (
	NodeGroup NodeType = iota
	NodeArray
)

func (t NodeType) String() string {
	if t == NodeArray {
		return "array"
	}
	return "group"
}

// Node is one immediate child of a group.
type Node struct {
	Name string
	Type NodeType
}

// Family is the element family of an array, independent of its byte width.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyBool
	FamilyInt
	FamilyFloat
	FamilyString
	FamilyRef
)

func (f Family) String() string {
	switch f {
	case FamilyBool:
		return "bool"
	case FamilyInt:
		return "int"
	case FamilyFloat:
		return "float"
	case FamilyString:
		return "string"
	case FamilyRef:
		return "reference"
	default:
		return "unknown"
	}
}

// Ref is a stored object reference. An empty Path is a null reference.
type Ref struct {
	Path string
}

// ArrayInfo describes one array without reading its data.
type ArrayInfo struct {
	Path     string
	Shape    []int64
	Family   Family
	ItemSize int
	DType    string // backend-native dtype text, for listings
}

// Rows is the length of the first axis. Scalars count as one row.
func (a ArrayInfo) Rows() int64 {
	if len(a.Shape) == 0 {
		return 1
	}
	return a.Shape[0]
}

// Inner is the trailing shape after the first axis.
func (a ArrayInfo) Inner() []int64 {
	if len(a.Shape) <= 1 {
		return nil
	}
	return append([]int64(nil), a.Shape[1:]...)
}

// Store is the read-only capability surface of one open file.
type Store interface {
	Kind() Kind
	// Children lists the immediate children of the group at p, sorted by name.
	Children(ctx context.Context, p string) ([]Node, error)
	// Info describes the array at p, or fails with nwberr.ErrNotFound.
	Info(ctx context.Context, p string) (ArrayInfo, error)
	// Attrs returns the attributes of the node at p. Values are string,
	// float64, int64, bool, Ref, or []any of those.
	Attrs(ctx context.Context, p string) (map[string]any, error)
	// ReadRange reads count rows of the array at p starting at row start,
	// including every trailing dimension.
	ReadRange(ctx context.Context, p string, start, count int64) (*Block, error)
	Close() error
}

// Join builds a clean absolute internal path.
func Join(elem ...string) string {
	p := path.Join(append([]string{"/"}, elem...)...)
	return p
}

// Clean normalizes an internal path to an absolute form without a trailing slash.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// AttrString fetches a string attribute, unwrapping single-element lists.
func AttrString(attrs map[string]any, key string) (string, bool) {
	v, ok := attrs[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		if len(t) == 1 {
			s, ok := t[0].(string)
			return s, ok
		}
	}
	return "", false
}

// AttrFloat fetches a numeric attribute as float64.
func AttrFloat(attrs map[string]any, key string) (float64, bool) {
	switch t := attrs[key].(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case []any:
		if len(t) == 1 {
			return AttrFloat(map[string]any{key: t[0]}, key)
		}
	}
	return 0, false
}

// AttrStrings fetches a list-of-strings attribute such as colnames.
func AttrStrings(attrs map[string]any, key string) []string {
	switch t := attrs[key].(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AttrRef fetches an object reference attribute, such as the table
// attribute of a region column.
func AttrRef(attrs map[string]any, key string) (Ref, bool) {
	r, ok := attrs[key].(Ref)
	return r, ok
}

// FormatAttr renders an attribute value as text.
func FormatAttr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case Ref:
		return t.Path
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = FormatAttr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(t)
	}
}

// Exists reports whether p names a group or array, by listing its parent.
func Exists(ctx context.Context, s Store, p string) (bool, error) {
	p = Clean(p)
	if p == "/" {
		return true, nil
	}
	nodes, err := s.Children(ctx, path.Dir(p))
	if err != nil {
		if errors.Is(err, nwberr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	name := path.Base(p)
	for _, n := range nodes {
		if n.Name == name {
			return true, nil
		}
	}
	return false, nil
}
