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

package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// FindTables walks the file and returns the paths of table-like groups in
// depth-first order. A group qualifies when it lists colnames, or holds an
// id array next to at least one other array of the same length. Tables
// are not searched for nested tables.
func FindTables(ctx context.Context, store backend.Store) ([]string, error) {
	var out []string
	var walk func(p string) error
	walk = func(p string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		nodes, err := store.Children(ctx, p)
		if err != nil {
			return err
		}
		ok, err := isTable(ctx, store, p, nodes)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, p)
			return nil
		}
		for _, n := range nodes {
			if n.Type == backend.NodeGroup {
				if err := walk(backend.Join(p, n.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, err
	}
	return out, nil
}

func isTable(ctx context.Context, store backend.Store, p string, nodes []backend.Node) (bool, error) {
	if p == "/" {
		return false, nil
	}
	attrs, err := store.Attrs(ctx, p)
	if err != nil {
		return false, err
	}
	if _, ok := attrs["colnames"]; ok {
		return true, nil
	}

	var id *backend.ArrayInfo
	var others []backend.ArrayInfo
	for _, n := range nodes {
		if n.Type != backend.NodeArray {
			continue
		}
		info, err := store.Info(ctx, backend.Join(p, n.Name))
		if err != nil {
			return false, err
		}
		if n.Name == ColID {
			id = &info
			continue
		}
		if len(info.Shape) == 1 {
			others = append(others, info)
		}
	}
	if id == nil || len(id.Shape) != 1 {
		return false, nil
	}
	for _, o := range others {
		if o.Rows() == id.Rows() {
			return true, nil
		}
	}
	return false, nil
}

// ResolveTablePath picks the table a user-supplied name refers to: an
// exact path, then the name with a leading slash, then a unique path
// suffix, then a unique substring. Ambiguity is an error naming the
// candidates.
func ResolveTablePath(paths []string, name string) (string, error) {
	trimmed := strings.Trim(name, "/")
	for _, p := range paths {
		if p == name {
			return p, nil
		}
	}
	for _, p := range paths {
		if p == "/"+trimmed {
			return p, nil
		}
	}

	matchBy := func(pred func(string) bool) []string {
		var out []string
		for _, p := range paths {
			if pred(p) {
				out = append(out, p)
			}
		}
		return out
	}
	for _, candidates := range [][]string{
		matchBy(func(p string) bool { return strings.HasSuffix(p, "/"+trimmed) }),
		matchBy(func(p string) bool { return strings.Contains(p, trimmed) }),
	} {
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return candidates[0], nil
		default:
			return "", fmt.Errorf("table name %q is ambiguous: %s", name, strings.Join(candidates, ", "))
		}
	}
	return "", fmt.Errorf("table %q: %w", name, nwberr.ErrNotFound)
}

// Locate resolves name to a table path within store. An absolute path to
// an existing group is used as is, without walking the file.
func Locate(ctx context.Context, store backend.Store, name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		if _, err := store.Children(ctx, name); err == nil {
			return backend.Clean(name), nil
		} else if !errors.Is(err, nwberr.ErrNotFound) {
			return "", err
		}
	}
	paths, err := FindTables(ctx, store)
	if err != nil {
		return "", err
	}
	return ResolveTablePath(paths, name)
}

// TreeNode is one entry of a file listing.
type TreeNode struct {
	Path  string
	Type  backend.NodeType
	Shape []int64
	DType string
	// NeurodataType is the NWB type attribute, when present.
	NeurodataType string
}

// ListTree lists every group and array in the file, depth first.
func ListTree(ctx context.Context, store backend.Store) ([]TreeNode, error) {
	var out []TreeNode
	var walk func(p string) error
	walk = func(p string) error {
		nodes, err := store.Children(ctx, p)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			child := backend.Join(p, n.Name)
			tn := TreeNode{Path: child, Type: n.Type}
			if attrs, err := store.Attrs(ctx, child); err == nil {
				tn.NeurodataType, _ = backend.AttrString(attrs, "neurodata_type")
			}
			if n.Type == backend.NodeArray {
				info, err := store.Info(ctx, child)
				if err != nil {
					return err
				}
				tn.Shape, tn.DType = info.Shape, info.DType
				out = append(out, tn)
				continue
			}
			out = append(out, tn)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, err
	}
	return out, nil
}
