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

// #cgo LDFLAGS: -lhdf5
// #include <stdlib.h>
// #include <hdf5.h>
//
// enum { NWB_INT, NWB_FLOAT, NWB_REF, NWB_VSTR, NWB_FSTR, NWB_NATIVE };
//
// static hid_t nwb_mem_type(int kind, hid_t file_type) {
// 	hid_t t;
// 	switch (kind) {
// 	case NWB_INT:
// 		return H5Tcopy(H5T_NATIVE_INT64);
// 	case NWB_FLOAT:
// 		return H5Tcopy(H5T_NATIVE_DOUBLE);
// 	case NWB_REF:
// 		return H5Tcopy(H5T_STD_REF_OBJ);
// 	case NWB_VSTR:
// 		t = H5Tcopy(H5T_C_S1);
// 		H5Tset_size(t, H5T_VARIABLE);
// 		H5Tset_cset(t, H5Tget_cset(file_type));
// 		return t;
// 	case NWB_FSTR:
// 		t = H5Tcopy(H5T_C_S1);
// 		H5Tset_size(t, H5Tget_size(file_type));
// 		H5Tset_strpad(t, H5T_STR_NULLPAD);
// 		H5Tset_cset(t, H5Tget_cset(file_type));
// 		return t;
// 	default:
// 		return H5Tget_native_type(file_type, H5T_DIR_ASCEND);
// 	}
// }
//
// static herr_t nwb_dread(hid_t ds, int kind, hid_t mem_space, hid_t file_space, void *buf) {
// 	hid_t ft = H5Dget_type(ds);
// 	if (ft < 0) return -1;
// 	hid_t mt = nwb_mem_type(kind, ft);
// 	herr_t rc = mt < 0 ? -1 : H5Dread(ds, mt, mem_space, file_space, H5P_DEFAULT, buf);
// 	if (mt >= 0) H5Tclose(mt);
// 	H5Tclose(ft);
// 	return rc;
// }
//
// static herr_t nwb_aread(hid_t attr, int kind, hid_t unused_mem, hid_t unused_file, void *buf) {
// 	hid_t ft = H5Aget_type(attr);
// 	if (ft < 0) return -1;
// 	hid_t mt = nwb_mem_type(kind, ft);
// 	herr_t rc = mt < 0 ? -1 : H5Aread(attr, mt, buf);
// 	if (mt >= 0) H5Tclose(mt);
// 	H5Tclose(ft);
// 	return rc;
// }
//
// static int nwb_attr_info(hid_t attr, int *cls, int *ndims, long long *npoints, size_t *size, int *vlen) {
// 	hid_t t = H5Aget_type(attr);
// 	if (t < 0) return -1;
// 	hid_t s = H5Aget_space(attr);
// 	if (s < 0) { H5Tclose(t); return -1; }
// 	*cls = (int)H5Tget_class(t);
// 	*size = H5Tget_size(t);
// 	*vlen = *cls == H5T_STRING ? H5Tis_variable_str(t) > 0 : 0;
// 	*ndims = H5Sget_simple_extent_ndims(s);
// 	*npoints = (long long)H5Sget_simple_extent_npoints(s);
// 	H5Sclose(s);
// 	H5Tclose(t);
// 	return 0;
// }
//
// static int nwb_dataset_vlen(hid_t ds) {
// 	hid_t t = H5Dget_type(ds);
// 	if (t < 0) return 0;
// 	int v = H5Tget_class(t) == H5T_STRING && H5Tis_variable_str(t) > 0;
// 	H5Tclose(t);
// 	return v;
// }
//
// static ssize_t nwb_ref_name(hid_t loc, hobj_ref_t *ref, char *name, size_t size) {
// 	return H5Rget_name(loc, H5R_OBJECT, ref, name, size);
// }
//
// static void nwb_free_strings(char **s, size_t n) {
// 	for (size_t i = 0; i < n; i++) {
// 		if (s[i] != NULL) H5free_memory(s[i]);
// 	}
// }
import "C"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/cardinalhq/lakenwb/internal/backend"
)

type memKind C.int

const (
	memInt    memKind = C.NWB_INT
	memFloat  memKind = C.NWB_FLOAT
	memRef    memKind = C.NWB_REF
	memVStr   memKind = C.NWB_VSTR
	memFStr   memKind = C.NWB_FSTR
	memNative memKind = C.NWB_NATIVE
)

var errRead = errors.New("hdf5 read failed")

// source reads a whole selection into buf, converting to the memory type
// named by kind.
type source func(kind memKind, buf unsafe.Pointer) error

func datasetSource(ds, memSpace, fileSpace int64) source {
	return func(kind memKind, buf unsafe.Pointer) error {
		if C.nwb_dread(C.hid_t(ds), C.int(kind), C.hid_t(memSpace), C.hid_t(fileSpace), buf) < 0 {
			return errRead
		}
		return nil
	}
}

func attrSource(attr int64) source {
	return func(kind memKind, buf unsafe.Pointer) error {
		if C.nwb_aread(C.hid_t(attr), C.int(kind), 0, 0, buf) < 0 {
			return errRead
		}
		return nil
	}
}

func readInts(src source, n int) ([]int64, error) {
	out := make([]int64, n)
	if n == 0 {
		return out, nil
	}
	return out, src(memInt, unsafe.Pointer(&out[0]))
}

func readFloats(src source, n int) ([]float64, error) {
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}
	return out, src(memFloat, unsafe.Pointer(&out[0]))
}

// readBools reads an enum selection in its native layout. h5py writes
// booleans as an enum with FALSE=0 and TRUE=1 over a signed byte.
func readBools(src source, n, size int) ([]bool, error) {
	out := make([]bool, n)
	if n == 0 {
		return out, nil
	}
	switch size {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("enum of %d bytes", size)
	}
	raw := make([]byte, n*size)
	if err := src(memNative, unsafe.Pointer(&raw[0])); err != nil {
		return nil, err
	}
	for i := range out {
		b := raw[i*size : (i+1)*size]
		var v uint64
		switch size {
		case 1:
			v = uint64(b[0])
		case 2:
			v = uint64(binary.NativeEndian.Uint16(b))
		case 4:
			v = uint64(binary.NativeEndian.Uint32(b))
		case 8:
			v = binary.NativeEndian.Uint64(b)
		}
		out[i] = v != 0
	}
	return out, nil
}

func readStrings(src source, n int, vlen bool, size int) ([]string, error) {
	out := make([]string, n)
	if n == 0 {
		return out, nil
	}
	if vlen {
		ptrs := (**C.char)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof((*C.char)(nil)))))
		if ptrs == nil {
			return nil, errors.New("out of memory")
		}
		defer C.free(unsafe.Pointer(ptrs))
		if err := src(memVStr, unsafe.Pointer(ptrs)); err != nil {
			return nil, err
		}
		defer C.nwb_free_strings(ptrs, C.size_t(n))
		for i, p := range unsafe.Slice(ptrs, n) {
			if p != nil {
				out[i] = C.GoString(p)
			}
		}
		return out, nil
	}
	if size <= 0 {
		return out, nil
	}
	raw := make([]byte, n*size)
	if err := src(memFStr, unsafe.Pointer(&raw[0])); err != nil {
		return nil, err
	}
	for i := range out {
		b := raw[i*size : (i+1)*size]
		if j := bytes.IndexByte(b, 0); j >= 0 {
			b = b[:j]
		}
		out[i] = string(bytes.TrimRight(b, " "))
	}
	return out, nil
}

// readRefs reads object references and resolves each to the absolute path
// of its target within the file open at loc. Null references resolve to
// an empty path.
func readRefs(src source, loc int64, n int) ([]backend.Ref, error) {
	out := make([]backend.Ref, n)
	if n == 0 {
		return out, nil
	}
	raw := make([]C.hobj_ref_t, n)
	if err := src(memRef, unsafe.Pointer(&raw[0])); err != nil {
		return nil, err
	}
	for i := range raw {
		if raw[i] == 0 {
			continue
		}
		name, err := refName(loc, &raw[i])
		if err != nil {
			return nil, err
		}
		out[i] = backend.Ref{Path: backend.Clean(name)}
	}
	return out, nil
}

func refName(loc int64, ref *C.hobj_ref_t) (string, error) {
	n := C.nwb_ref_name(C.hid_t(loc), ref, nil, 0)
	if n < 0 {
		return "", errors.New("dangling object reference")
	}
	buf := (*C.char)(C.malloc(C.size_t(n + 1)))
	defer C.free(unsafe.Pointer(buf))
	if C.nwb_ref_name(C.hid_t(loc), ref, buf, C.size_t(n+1)) < 0 {
		return "", errors.New("dangling object reference")
	}
	return C.GoString(buf), nil
}

func datasetIsVlenString(ds int64) bool {
	return C.nwb_dataset_vlen(C.hid_t(ds)) != 0
}

type attrInfo struct {
	class   C.int
	ndims   int
	npoints int
	size    int
	vlen    bool
}

func describeAttr(attr int64) (attrInfo, error) {
	var (
		cls, ndims, vlen C.int
		npoints          C.longlong
		size             C.size_t
	)
	if C.nwb_attr_info(C.hid_t(attr), &cls, &ndims, &npoints, &size, &vlen) < 0 {
		return attrInfo{}, errRead
	}
	return attrInfo{
		class:   cls,
		ndims:   int(ndims),
		npoints: int(npoints),
		size:    int(size),
		vlen:    vlen != 0,
	}, nil
}

// decodeAttr reads an attribute into the value shapes the backend package
// understands: scalars stay scalars, arrays become []any.
func decodeAttr(attr, loc int64) (any, bool) {
	info, err := describeAttr(attr)
	if err != nil || info.npoints < 0 {
		return nil, false
	}
	src := attrSource(attr)
	var vals []any
	switch info.class {
	case C.H5T_INTEGER, C.H5T_FLOAT:
		fs, err := readFloats(src, info.npoints)
		if err != nil {
			return nil, false
		}
		if len(fs) == 1 {
			return fs[0], true
		}
		vals = make([]any, len(fs))
		for i, v := range fs {
			vals[i] = v
		}
	case C.H5T_STRING:
		ss, err := readStrings(src, info.npoints, info.vlen, info.size)
		if err != nil {
			return nil, false
		}
		if info.ndims == 0 && len(ss) == 1 {
			return ss[0], true
		}
		vals = make([]any, len(ss))
		for i, v := range ss {
			vals[i] = v
		}
	case C.H5T_ENUM:
		bs, err := readBools(src, info.npoints, info.size)
		if err != nil {
			return nil, false
		}
		if len(bs) == 1 {
			return bs[0], true
		}
		vals = make([]any, len(bs))
		for i, v := range bs {
			vals[i] = v
		}
	case C.H5T_REFERENCE:
		rs, err := readRefs(src, loc, info.npoints)
		if err != nil {
			return nil, false
		}
		if info.ndims == 0 && len(rs) == 1 {
			return rs[0], true
		}
		vals = make([]any, len(rs))
		for i, v := range rs {
			vals[i] = v
		}
	default:
		return nil, false
	}
	return vals, true
}
