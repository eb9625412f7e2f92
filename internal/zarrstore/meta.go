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

package zarrstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

const (
	groupKey        = ".zgroup"
	arrayKey        = ".zarray"
	attrsKey        = ".zattrs"
	consolidatedKey = ".zmetadata"
)

// arrayMeta is the content of a .zarray document.
type arrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int64         `json:"shape"`
	Chunks             []int64         `json:"chunks"`
	DType              json.RawMessage `json:"dtype"`
	Compressor         *codecConfig    `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []codecConfig   `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator"`

	dt     dtype
	family backend.Family
	codec  string
}

func parseArrayMeta(raw []byte, attrs map[string]any) (*arrayMeta, error) {
	var m arrayMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode .zarray: %w", err)
	}
	if m.ZarrFormat != 0 && m.ZarrFormat != 2 {
		return nil, fmt.Errorf("zarr format %d: %w", m.ZarrFormat, nwberr.ErrUnsupported)
	}
	if m.Order == "F" {
		return nil, fmt.Errorf("fortran-ordered chunks: %w", nwberr.ErrUnsupported)
	}
	if len(m.Shape) != len(m.Chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v differ in rank", m.Shape, m.Chunks)
	}
	for _, c := range m.Chunks {
		if c <= 0 {
			return nil, fmt.Errorf("invalid chunk shape %v", m.Chunks)
		}
	}
	if m.DimensionSeparator == "" {
		m.DimensionSeparator = "."
	}

	dt, err := parseDType(m.DType)
	if err != nil {
		return nil, err
	}
	m.dt = dt
	m.family = dt.family()
	if dt.kind == 'O' {
		m.codec = objectCodec(m.Filters)
		if zd, ok := backend.AttrString(attrs, "zarr_dtype"); ok && zd == "object" {
			m.family = backend.FamilyRef
		}
	}
	return &m, nil
}

func (m *arrayMeta) info(p string) backend.ArrayInfo {
	return backend.ArrayInfo{
		Path:     p,
		Shape:    append([]int64(nil), m.Shape...),
		Family:   m.family,
		ItemSize: m.dt.size,
		DType:    m.dt.text,
	}
}

// chunkKey builds the store key suffix for a chunk grid index.
func (m *arrayMeta) chunkKey(idx []int64) string {
	if len(idx) == 0 {
		return "0"
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, m.DimensionSeparator)
}

// parseAttrs decodes a .zattrs document, turning hdmf-zarr reference
// objects into backend.Ref values and integral numbers into int64.
func parseAttrs(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode .zattrs: %w", err)
	}
	for k, v := range m {
		m[k] = normalizeAttr(v)
	}
	return m, nil
}

func normalizeAttr(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeAttr(t[i])
		}
		return t
	case map[string]any:
		if zd, ok := t["zarr_dtype"].(string); ok && zd == "object" {
			if inner, ok := t["value"].(map[string]any); ok {
				return normalizeAttr(inner)
			}
		}
		if p, ok := t["path"].(string); ok {
			if _, hasSource := t["source"]; hasSource {
				return backend.Ref{Path: backend.Clean(p)}
			}
		}
		for k, e := range t {
			t[k] = normalizeAttr(e)
		}
		return t
	}
	return v
}

// consolidated is the parsed .zmetadata document.
type consolidated struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
}

func parseConsolidated(raw []byte) (map[string]json.RawMessage, error) {
	var c consolidated
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode .zmetadata: %w", err)
	}
	if c.Metadata == nil {
		return nil, fmt.Errorf("decode .zmetadata: no metadata section")
	}
	return c.Metadata, nil
}
