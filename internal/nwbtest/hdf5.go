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

package nwbtest

// #cgo LDFLAGS: -lhdf5
// #include <stdlib.h>
// #include <hdf5.h>
//
// enum { W_F8, W_F4, W_I8, W_I4, W_U1, W_BOOL, W_STR, W_REF };
//
// static hid_t w_type(int code) {
// 	hid_t t;
// 	signed char v;
// 	switch (code) {
// 	case W_F8: return H5Tcopy(H5T_NATIVE_DOUBLE);
// 	case W_F4: return H5Tcopy(H5T_NATIVE_FLOAT);
// 	case W_I8: return H5Tcopy(H5T_NATIVE_INT64);
// 	case W_I4: return H5Tcopy(H5T_NATIVE_INT32);
// 	case W_U1: return H5Tcopy(H5T_NATIVE_UINT8);
// 	case W_BOOL:
// 		t = H5Tenum_create(H5T_NATIVE_SCHAR);
// 		v = 0;
// 		H5Tenum_insert(t, "FALSE", &v);
// 		v = 1;
// 		H5Tenum_insert(t, "TRUE", &v);
// 		return t;
// 	case W_STR:
// 		t = H5Tcopy(H5T_C_S1);
// 		H5Tset_size(t, H5T_VARIABLE);
// 		H5Tset_cset(t, H5T_CSET_UTF8);
// 		return t;
// 	default:
// 		return H5Tcopy(H5T_STD_REF_OBJ);
// 	}
// }
//
// static hid_t w_create(const char *name) {
// 	H5Eset_auto2(H5E_DEFAULT, NULL, NULL);
// 	return H5Fcreate(name, H5F_ACC_TRUNC, H5P_DEFAULT, H5P_DEFAULT);
// }
//
// static hid_t w_lcpl(void) {
// 	hid_t p = H5Pcreate(H5P_LINK_CREATE);
// 	H5Pset_create_intermediate_group(p, 1);
// 	return p;
// }
//
// static herr_t w_group(hid_t file, const char *name) {
// 	hid_t g = H5Gopen2(file, name, H5P_DEFAULT);
// 	if (g < 0) {
// 		hid_t lcpl = w_lcpl();
// 		g = H5Gcreate2(file, name, lcpl, H5P_DEFAULT, H5P_DEFAULT);
// 		H5Pclose(lcpl);
// 	}
// 	return g < 0 ? -1 : H5Gclose(g);
// }
//
// static hid_t w_space(int rank, const hsize_t *dims) {
// 	return rank == 0 ? H5Screate(H5S_SCALAR) : H5Screate_simple(rank, dims, NULL);
// }
//
// static herr_t w_dataset(hid_t file, const char *name, int code, int rank, const hsize_t *dims, const void *buf) {
// 	hid_t t = w_type(code);
// 	hid_t s = w_space(rank, dims);
// 	hid_t lcpl = w_lcpl();
// 	hid_t d = H5Dcreate2(file, name, t, s, lcpl, H5P_DEFAULT, H5P_DEFAULT);
// 	herr_t rc = d < 0 ? -1 : H5Dwrite(d, t, H5S_ALL, H5S_ALL, H5P_DEFAULT, buf);
// 	if (d >= 0) H5Dclose(d);
// 	H5Pclose(lcpl);
// 	H5Sclose(s);
// 	H5Tclose(t);
// 	return rc;
// }
//
// static herr_t w_attr(hid_t file, const char *obj, const char *name, int code, int rank, const hsize_t *dims, const void *buf) {
// 	hid_t o = H5Oopen(file, obj, H5P_DEFAULT);
// 	if (o < 0) return -1;
// 	hid_t t = w_type(code);
// 	hid_t s = w_space(rank, dims);
// 	hid_t a = H5Acreate2(o, name, t, s, H5P_DEFAULT, H5P_DEFAULT);
// 	herr_t rc = a < 0 ? -1 : H5Awrite(a, t, buf);
// 	if (a >= 0) H5Aclose(a);
// 	H5Sclose(s);
// 	H5Tclose(t);
// 	H5Oclose(o);
// 	return rc;
// }
//
// static herr_t w_ref(hid_t file, const char *target, hobj_ref_t *out) {
// 	return H5Rcreate(out, file, target, H5R_OBJECT, -1);
// }
import "C"

import (
	"fmt"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// H5Writer builds NWB fixtures as HDF5 files laid out the way pynwb and
// h5py write them: variable-length UTF-8 strings, booleans as a one-byte
// enum and object references for table links.
type H5Writer struct {
	file C.hid_t
}

// h5Ref is an object reference attribute value.
type h5Ref string

var _ sink = (*H5Writer)(nil)

// WriteHDF5 creates name under dir as an HDF5 file and returns its path.
func WriteHDF5(t testing.TB, dir, name string, f File) string {
	t.Helper()
	p := filepath.Join(dir, name)
	w, err := NewH5Writer(p)
	require.NoError(t, err)
	require.NoError(t, writeFixture(w, f))
	return p
}

func NewH5Writer(path string) (*H5Writer, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	f := C.w_create(cs)
	if f < 0 {
		return nil, fmt.Errorf("create hdf5 %s", path)
	}
	return &H5Writer{file: f}, nil
}

func (w *H5Writer) Close() error {
	if C.H5Fclose(w.file) < 0 {
		return fmt.Errorf("close hdf5 file")
	}
	return nil
}

func (w *H5Writer) Ref(target string) any { return h5Ref(target) }

func (w *H5Writer) Group(p string, attrs map[string]any) error {
	cs := C.CString(p)
	defer C.free(unsafe.Pointer(cs))
	if C.w_group(w.file, cs) < 0 {
		return fmt.Errorf("group %s", p)
	}
	return w.attrs(p, attrs)
}

func (w *H5Writer) attrs(p string, attrs map[string]any) error {
	for _, name := range sortedKeys(attrs) {
		if err := w.attr(p, name, attrs[name]); err != nil {
			return fmt.Errorf("attribute %s of %s: %w", name, p, err)
		}
	}
	return nil
}

func (w *H5Writer) attr(p, name string, v any) error {
	switch t := v.(type) {
	case string:
		return w.put(p, name, C.W_STR, nil, []string{t})
	case float64:
		return w.put(p, name, C.W_F8, nil, []float64{t})
	case int64:
		return w.put(p, name, C.W_I8, nil, []int64{t})
	case bool:
		return w.put(p, name, C.W_BOOL, nil, []bool{t})
	case h5Ref:
		return w.put(p, name, C.W_REF, nil, []h5Ref{t})
	case []any:
		strs := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("unsupported list element %T", e)
			}
			strs[i] = s
		}
		return w.put(p, name, C.W_STR, []int64{int64(len(strs))}, strs)
	default:
		return fmt.Errorf("unsupported attribute type %T", v)
	}
}

// put writes a dataset at p, or an attribute of p when attr is set. A nil
// shape writes a scalar.
func (w *H5Writer) put(p, attr string, code C.int, shape []int64, data any) error {
	buf, free, err := w.buffer(data)
	if err != nil {
		return err
	}
	defer free()

	rank := len(shape)
	dims := make([]C.hsize_t, max(rank, 1))
	for i, d := range shape {
		dims[i] = C.hsize_t(d)
	}
	cp := C.CString(p)
	defer C.free(unsafe.Pointer(cp))

	var rc C.herr_t
	if attr == "" {
		rc = C.w_dataset(w.file, cp, code, C.int(rank), &dims[0], buf)
	} else {
		ca := C.CString(attr)
		defer C.free(unsafe.Pointer(ca))
		rc = C.w_attr(w.file, cp, ca, code, C.int(rank), &dims[0], buf)
	}
	if rc < 0 {
		return fmt.Errorf("write %s%s", p, attr)
	}
	return nil
}

// buffer lays data out in C memory in the form the matching datatype
// expects.
func (w *H5Writer) buffer(data any) (unsafe.Pointer, func(), error) {
	alloc := func(n int, size uintptr) unsafe.Pointer {
		return C.calloc(C.size_t(max(n, 1)), C.size_t(size))
	}
	switch t := data.(type) {
	case []float64:
		p := alloc(len(t), 8)
		copy(unsafe.Slice((*float64)(p), len(t)), t)
		return p, func() { C.free(p) }, nil
	case []float32:
		p := alloc(len(t), 4)
		copy(unsafe.Slice((*float32)(p), len(t)), t)
		return p, func() { C.free(p) }, nil
	case []int64:
		p := alloc(len(t), 8)
		copy(unsafe.Slice((*int64)(p), len(t)), t)
		return p, func() { C.free(p) }, nil
	case []int32:
		p := alloc(len(t), 4)
		copy(unsafe.Slice((*int32)(p), len(t)), t)
		return p, func() { C.free(p) }, nil
	case []uint8:
		p := alloc(len(t), 1)
		copy(unsafe.Slice((*uint8)(p), len(t)), t)
		return p, func() { C.free(p) }, nil
	case []bool:
		p := alloc(len(t), 1)
		dst := unsafe.Slice((*int8)(p), len(t))
		for i, v := range t {
			if v {
				dst[i] = 1
			}
		}
		return p, func() { C.free(p) }, nil
	case []string:
		p := alloc(len(t), unsafe.Sizeof((*C.char)(nil)))
		dst := unsafe.Slice((**C.char)(p), len(t))
		for i, s := range t {
			dst[i] = C.CString(s)
		}
		return p, func() {
			for _, s := range dst {
				C.free(unsafe.Pointer(s))
			}
			C.free(p)
		}, nil
	case []h5Ref:
		p := alloc(len(t), unsafe.Sizeof(C.hobj_ref_t(0)))
		dst := unsafe.Slice((*C.hobj_ref_t)(p), len(t))
		for i, target := range t {
			if target == "" {
				continue
			}
			cs := C.CString(string(target))
			rc := C.w_ref(w.file, cs, &dst[i])
			C.free(unsafe.Pointer(cs))
			if rc < 0 {
				C.free(p)
				return nil, nil, fmt.Errorf("reference to missing %s", target)
			}
		}
		return p, func() { C.free(p) }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported data %T", data)
	}
}

func (w *H5Writer) dataset(p string, code C.int, shape []int64, data any, attrs map[string]any) error {
	if err := w.put(p, "", code, shape, data); err != nil {
		return err
	}
	return w.attrs(p, attrs)
}

// Numeric writes a numeric dataset. dtype is a numpy type string such as
// "<f8", "<i4" or "|u1"; values are given flat in C order.
func (w *H5Writer) Numeric(p, dtype string, shape, _ []int64, values []float64, attrs map[string]any) error {
	switch dtype[1:] {
	case "f8":
		return w.dataset(p, C.W_F8, shape, values, attrs)
	case "f4":
		out := make([]float32, len(values))
		for i, v := range values {
			out[i] = float32(v)
		}
		return w.dataset(p, C.W_F4, shape, out, attrs)
	case "i8":
		out := make([]int64, len(values))
		for i, v := range values {
			out[i] = int64(v)
		}
		return w.dataset(p, C.W_I8, shape, out, attrs)
	case "i4":
		out := make([]int32, len(values))
		for i, v := range values {
			out[i] = int32(v)
		}
		return w.dataset(p, C.W_I4, shape, out, attrs)
	case "u1":
		out := make([]uint8, len(values))
		for i, v := range values {
			out[i] = uint8(v)
		}
		return w.dataset(p, C.W_U1, shape, out, attrs)
	case "b1":
		out := make([]bool, len(values))
		for i, v := range values {
			out[i] = v != 0
		}
		return w.dataset(p, C.W_BOOL, shape, out, attrs)
	}
	return fmt.Errorf("unsupported dtype %s", dtype)
}

func (w *H5Writer) Ints(p string, vals []int64, _ int64, attrs map[string]any) error {
	return w.dataset(p, C.W_I8, []int64{int64(len(vals))}, vals, attrs)
}

func (w *H5Writer) Floats(p string, vals []float64, _ int64, attrs map[string]any) error {
	return w.dataset(p, C.W_F8, []int64{int64(len(vals))}, vals, attrs)
}

func (w *H5Writer) Bools(p string, vals []bool, attrs map[string]any) error {
	return w.dataset(p, C.W_BOOL, []int64{int64(len(vals))}, vals, attrs)
}

func (w *H5Writer) Matrix(p string, rows [][]float64, _ []int64, attrs map[string]any) error {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	flat := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	return w.dataset(p, C.W_F8, []int64{int64(len(rows)), int64(cols)}, flat, attrs)
}

func (w *H5Writer) Strings(p string, vals []string, _ int64, attrs map[string]any) error {
	return w.dataset(p, C.W_STR, []int64{int64(len(vals))}, vals, attrs)
}

// ObjectRefs writes an object reference dataset. An empty target is a
// null reference. Targets must already exist.
func (w *H5Writer) ObjectRefs(p string, targets []string, attrs map[string]any) error {
	refs := make([]h5Ref, len(targets))
	for i, t := range targets {
		refs[i] = h5Ref(t)
	}
	return w.dataset(p, C.W_REF, []int64{int64(len(refs))}, refs, attrs)
}
