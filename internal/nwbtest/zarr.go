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

// Package nwbtest writes small Zarr v2 hierarchies shaped like NWB files
// for tests. Nothing here is used outside _test.go files.
package nwbtest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compressor values accepted by Writer.
const (
	None  = ""
	Zlib  = "zlib"
	Zstd  = "zstd"
	Blosc = "blosc"
	LZ4   = "lz4"
)

// Writer lays out a Zarr v2 hierarchy on disk.
type Writer struct {
	Root         string
	Compressor   string
	Consolidated bool
	// BloscBlockSize is the uncompressed blosc block size in bytes.
	BloscBlockSize int

	docs map[string]json.RawMessage
}

// NewWriter creates the root group at dir.
func NewWriter(dir, compressor string, consolidated bool) (*Writer, error) {
	w := &Writer{
		Root:           dir,
		Compressor:     compressor,
		Consolidated:   consolidated,
		BloscBlockSize: 1024,
		docs:           make(map[string]json.RawMessage),
	}
	if err := w.Group("/", nil); err != nil {
		return nil, err
	}
	return w, nil
}

func rel(p string) string { return strings.Trim(p, "/") }

func (w *Writer) writeDoc(p, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := name
	if r := rel(p); r != "" {
		key = r + "/" + name
	}
	w.docs[key] = raw
	return w.writeFile(key, raw)
}

func (w *Writer) writeFile(key string, data []byte) error {
	full := filepath.Join(w.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (w *Writer) ensureParents(p string) error {
	parts := strings.Split(rel(p), "/")
	for i := 1; i < len(parts); i++ {
		g := "/" + strings.Join(parts[:i], "/")
		if _, ok := w.docs[rel(g)+"/.zgroup"]; ok {
			continue
		}
		if err := w.Group(g, nil); err != nil {
			return err
		}
	}
	return nil
}

// Group writes a group and its attributes, creating missing parents.
func (w *Writer) Group(p string, attrs map[string]any) error {
	if rel(p) != "" {
		if err := w.ensureParents(p); err != nil {
			return err
		}
	}
	if err := w.writeDoc(p, ".zgroup", map[string]int{"zarr_format": 2}); err != nil {
		return err
	}
	if attrs != nil {
		return w.writeDoc(p, ".zattrs", attrs)
	}
	return nil
}

// Ref builds the hdmf-zarr attribute form of an object reference.
func Ref(target string) map[string]any {
	return map[string]any{
		"zarr_dtype": "object",
		"value":      map[string]any{"source": ".", "path": target},
	}
}

// Ref is the sink form of Ref.
func (w *Writer) Ref(target string) any { return Ref(target) }

type arraySpec struct {
	shape   []int64
	chunks  []int64
	dtype   string
	fill    any
	filters []map[string]any
}

func (w *Writer) compressorDoc() any {
	switch w.Compressor {
	case None:
		return nil
	case Blosc:
		return map[string]any{"id": "blosc", "cname": "lz4", "clevel": 5, "shuffle": 1}
	}
	return map[string]any{"id": w.Compressor}
}

func (w *Writer) writeArrayMeta(p string, s arraySpec, attrs map[string]any) error {
	if err := w.ensureParents(p); err != nil {
		return err
	}
	doc := map[string]any{
		"zarr_format": 2,
		"shape":       s.shape,
		"chunks":      s.chunks,
		"dtype":       s.dtype,
		"compressor":  w.compressorDoc(),
		"fill_value":  s.fill,
		"order":       "C",
		"filters":     nil,
	}
	if s.filters != nil {
		doc["filters"] = s.filters
	}
	if err := w.writeDoc(p, ".zarray", doc); err != nil {
		return err
	}
	if attrs != nil {
		return w.writeDoc(p, ".zattrs", attrs)
	}
	return nil
}

func (w *Writer) writeChunk(p string, idx []int64, raw []byte, typesize int) error {
	enc, err := w.compress(raw, typesize)
	if err != nil {
		return err
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.FormatInt(v, 10)
	}
	key := strings.Join(parts, ".")
	if len(idx) == 0 {
		key = "0"
	}
	return w.writeFile(rel(p)+"/"+key, enc)
}

func (w *Writer) compress(raw []byte, typesize int) ([]byte, error) {
	switch w.Compressor {
	case None:
		return raw, nil
	case Zlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer func() { _ = enc.Close() }()
		return enc.EncodeAll(raw, nil), nil
	case LZ4:
		return EncodeNumcodecsLZ4(raw)
	case Blosc:
		return EncodeBlosc(raw, typesize, w.BloscBlockSize, true)
	}
	return nil, fmt.Errorf("unknown test compressor %q", w.Compressor)
}

// Numeric writes a fixed-width numeric array. dtype is a numpy type string
// such as "<i8", "<f4" or "|b1"; values are given flat in C order.
func (w *Writer) Numeric(p, dtype string, shape, chunks []int64, values []float64, attrs map[string]any) error {
	size, err := strconv.Atoi(dtype[2:])
	if err != nil {
		return err
	}
	kind := dtype[1]
	var fill any = 0
	if kind == 'f' {
		fill = "NaN"
	}
	if chunks == nil {
		chunks = make([]int64, len(shape))
		copy(chunks, shape)
		for i, c := range chunks {
			if c == 0 {
				chunks[i] = 1
			}
		}
	}
	if err := w.writeArrayMeta(p, arraySpec{shape: shape, chunks: chunks, dtype: dtype, fill: fill}, attrs); err != nil {
		return err
	}

	encode := func(dst []byte, v float64) {
		switch kind {
		case 'f':
			if size == 4 {
				binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
			}
		case 'b':
			if v != 0 {
				dst[0] = 1
			}
		default:
			switch size {
			case 1:
				dst[0] = byte(int8(v))
			case 2:
				binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
			case 4:
				binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
			default:
				binary.LittleEndian.PutUint64(dst, uint64(int64(v)))
			}
		}
	}
	return forEachChunk(shape, chunks, func(idx []int64, elems []int64) error {
		raw := make([]byte, len(elems)*size)
		for i, flat := range elems {
			v := 0.0
			if kind == 'f' {
				v = math.NaN()
			}
			if flat >= 0 {
				v = values[flat]
			}
			encode(raw[i*size:], v)
		}
		return w.writeChunk(p, idx, raw, size)
	})
}

// forEachChunk visits every chunk of the grid, handing fn the flat source
// index of each element in the chunk (C order), or -1 for padding.
func forEachChunk(shape, chunks []int64, fn func(idx []int64, elems []int64) error) error {
	if len(shape) == 0 {
		return fn(nil, []int64{0})
	}
	nd := len(shape)
	grid := make([]int64, nd)
	for d := range nd {
		grid[d] = (shape[d] + chunks[d] - 1) / chunks[d]
		if grid[d] == 0 {
			return nil
		}
	}
	strides := make([]int64, nd)
	strides[nd-1] = 1
	for d := nd - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * shape[d+1]
	}
	per := int64(1)
	for _, c := range chunks {
		per *= c
	}

	idx := make([]int64, nd)
	for {
		elems := make([]int64, per)
		pos := make([]int64, nd)
		for e := range per {
			rem := e
			for d := nd - 1; d >= 0; d-- {
				pos[d] = rem % chunks[d]
				rem /= chunks[d]
			}
			flat := int64(0)
			for d := range nd {
				g := idx[d]*chunks[d] + pos[d]
				if g >= shape[d] {
					flat = -1
					break
				}
				flat += g * strides[d]
			}
			elems[e] = flat
		}
		if err := fn(append([]int64(nil), idx...), elems); err != nil {
			return err
		}

		d := nd - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < grid[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return nil
		}
	}
}

// Ints writes a one-dimensional <i8 array.
func (w *Writer) Ints(p string, vals []int64, chunk int64, attrs map[string]any) error {
	fs := make([]float64, len(vals))
	for i, v := range vals {
		fs[i] = float64(v)
	}
	return w.Numeric(p, "<i8", []int64{int64(len(vals))}, chunkOf(len(vals), chunk), fs, attrs)
}

// Floats writes a one-dimensional <f8 array.
func (w *Writer) Floats(p string, vals []float64, chunk int64, attrs map[string]any) error {
	return w.Numeric(p, "<f8", []int64{int64(len(vals))}, chunkOf(len(vals), chunk), vals, attrs)
}

// Bools writes a one-dimensional |b1 array.
func (w *Writer) Bools(p string, vals []bool, attrs map[string]any) error {
	fs := make([]float64, len(vals))
	for i, v := range vals {
		if v {
			fs[i] = 1
		}
	}
	return w.Numeric(p, "|b1", []int64{int64(len(vals))}, nil, fs, attrs)
}

// Matrix writes a two-dimensional <f8 array.
func (w *Writer) Matrix(p string, rows [][]float64, chunks []int64, attrs map[string]any) error {
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	flat := make([]float64, 0, len(rows)*width)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return w.Numeric(p, "<f8", []int64{int64(len(rows)), int64(width)}, chunks, flat, attrs)
}

func chunkOf(n int, chunk int64) []int64 {
	if chunk <= 0 {
		chunk = max(int64(n), 1)
	}
	return []int64{chunk}
}

// Strings writes a one-dimensional vlen-utf8 object array.
func (w *Writer) Strings(p string, vals []string, chunk int64, attrs map[string]any) error {
	n := int64(len(vals))
	chunks := chunkOf(len(vals), chunk)
	spec := arraySpec{
		shape:   []int64{n},
		chunks:  chunks,
		dtype:   "|O",
		fill:    0,
		filters: []map[string]any{{"id": "vlen-utf8"}},
	}
	if err := w.writeArrayMeta(p, spec, attrs); err != nil {
		return err
	}
	return forEachChunk([]int64{n}, chunks, func(idx []int64, elems []int64) error {
		var buf bytes.Buffer
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(elems)))
		for _, e := range elems {
			s := ""
			if e >= 0 {
				s = vals[e]
			}
			_ = binary.Write(&buf, binary.LittleEndian, uint32(len(s)))
			buf.WriteString(s)
		}
		return w.writeChunk(p, idx, buf.Bytes(), 1)
	})
}

// ObjectRefs writes an hdmf-zarr object reference array: a json2 object
// array tagged with zarr_dtype "object". An empty target is a null entry.
func (w *Writer) ObjectRefs(p string, targets []string, attrs map[string]any) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["zarr_dtype"] = "object"
	n := int64(len(targets))
	spec := arraySpec{
		shape:   []int64{n},
		chunks:  chunkOf(len(targets), 0),
		dtype:   "|O",
		fill:    nil,
		filters: []map[string]any{{"id": "json2"}},
	}
	if err := w.writeArrayMeta(p, spec, attrs); err != nil {
		return err
	}
	items := make([]any, 0, n+2)
	for _, t := range targets {
		if t == "" {
			items = append(items, nil)
			continue
		}
		items = append(items, map[string]any{"source": ".", "path": t})
	}
	items = append(items, "|O", []int64{n})
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return w.writeChunk(p, []int64{0}, raw, 1)
}

// Close writes consolidated metadata when requested.
func (w *Writer) Close() error {
	if !w.Consolidated {
		return nil
	}
	raw, err := json.Marshal(map[string]any{
		"zarr_consolidated_format": 1,
		"metadata":                 w.docs,
	})
	if err != nil {
		return err
	}
	return w.writeFile(".zmetadata", raw)
}
