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
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/nwbtest"
	"github.com/cardinalhq/lakenwb/nwberr"
)

func sequence(n int) []byte {
	out := make([]byte, n*8)
	for i := range n {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(i*i))
	}
	return out
}

func TestDecodeBlosc(t *testing.T) {
	tests := []struct {
		name      string
		raw       []byte
		typesize  int
		blocksize int
		shuffle   bool
	}{
		{"single block split streams", sequence(512), 8, 0, true},
		{"multiple blocks with leftover", sequence(300), 8, 1024, true},
		{"small blocks not split", sequence(64), 8, 128, true},
		{"no shuffle", sequence(200), 8, 0, false},
		{"byte typesize", []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbbbbbb"), 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := nwbtest.EncodeBlosc(tt.raw, tt.typesize, tt.blocksize, tt.shuffle)
			require.NoError(t, err)
			got, err := decodeBlosc(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, got)
		})
	}
}

func TestDecodeBloscMemcpyed(t *testing.T) {
	payload := []byte("hello blosc")
	frame := make([]byte, bloscHeaderSize, bloscHeaderSize+len(payload))
	frame[0], frame[1], frame[2], frame[3] = 2, 1, bloscMemcpyed, 1
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[12:], uint32(bloscHeaderSize+len(payload)))
	frame = append(frame, payload...)

	got, err := decodeBlosc(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeBloscRejects(t *testing.T) {
	_, err := decodeBlosc([]byte{1, 2, 3})
	assert.Error(t, err)

	frame := make([]byte, bloscHeaderSize)
	frame[2] = bloscDoBitShuffle
	binary.LittleEndian.PutUint32(frame[4:], 8)
	binary.LittleEndian.PutUint32(frame[8:], 8)
	binary.LittleEndian.PutUint32(frame[12:], bloscHeaderSize)
	_, err = decodeBlosc(frame)
	assert.ErrorIs(t, err, nwberr.ErrUnsupported)
}

func TestUnshuffleInvertsShuffle(t *testing.T) {
	src := []byte("0123456789abcdefXYZ")
	assert.Equal(t, src, unshuffle(nwbtest.Shuffle(src, 4), 4))
}

func TestDecompressNumcodecsLZ4(t *testing.T) {
	raw := sequence(100)
	enc, err := nwbtest.EncodeNumcodecsLZ4(raw)
	require.NoError(t, err)
	got, err := decompress("lz4", enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDecompressUnknown(t *testing.T) {
	_, err := decompress("lzma", []byte{0})
	assert.ErrorIs(t, err, nwberr.ErrUnsupported)
}

func TestDecodeVLen(t *testing.T) {
	raw := []byte{2, 0, 0, 0, 2, 0, 0, 0, 'h', 'i', 0, 0, 0, 0}
	got, err := decodeObjects("vlen-utf8", raw, 2)
	require.NoError(t, err)
	assert.Equal(t, backend.FamilyString, got.Family)
	assert.Equal(t, []string{"hi", ""}, got.Strings)

	_, err = decodeVLen(raw[:9])
	assert.Error(t, err)
}

func TestDecodeJSONObjects(t *testing.T) {
	refs := `[{"source":".","path":"/acquisition/ts"},null,"|O",[2]]`
	got, err := decodeObjects("json2", []byte(refs), 2)
	require.NoError(t, err)
	assert.Equal(t, backend.FamilyRef, got.Family)
	assert.Equal(t, []backend.Ref{{Path: "/acquisition/ts"}, {}}, got.Refs)

	strs := `["a","b","|O",[2]]`
	got, err = decodeObjects("json2", []byte(strs), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Strings)
}

func TestParseDType(t *testing.T) {
	tests := []struct {
		in     string
		kind   byte
		size   int
		family backend.Family
	}{
		{"<i8", 'i', 8, backend.FamilyInt},
		{">u2", 'u', 2, backend.FamilyInt},
		{"<f4", 'f', 4, backend.FamilyFloat},
		{"|b1", 'b', 1, backend.FamilyBool},
		{"|S12", 'S', 12, backend.FamilyString},
		{"<U3", 'U', 12, backend.FamilyString},
		{"|O", 'O', 0, backend.FamilyString},
		{"<M8[ns]", 'M', 8, backend.FamilyInt},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := parseDType(json.RawMessage(`"` + tt.in + `"`))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.kind)
			assert.Equal(t, tt.size, d.size)
			assert.Equal(t, tt.family, d.family())
		})
	}

	_, err := parseDType(json.RawMessage(`[["a","<i4"]]`))
	assert.ErrorIs(t, err, nwberr.ErrUnsupported)
	_, err = parseDType(json.RawMessage(`"<c16"`))
	assert.ErrorIs(t, err, nwberr.ErrUnsupported)
}

func TestDecodeFixed(t *testing.T) {
	d, err := parseDType(json.RawMessage(`">i2"`))
	require.NoError(t, err)
	b, err := d.decodeFixed([]byte{0xff, 0xfe, 0x00, 0x05}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{-2, 5}, b.Ints)

	d, err = parseDType(json.RawMessage(`"|S4"`))
	require.NoError(t, err)
	b, err = d.decodeFixed([]byte("ab\x00\x00wxyz"), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "wxyz"}, b.Strings)

	d, err = parseDType(json.RawMessage(`"<U2"`))
	require.NoError(t, err)
	b, err = d.decodeFixed([]byte{'h', 0, 0, 0, 'i', 0, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, b.Strings)

	_, err = d.decodeFixed([]byte{1, 2}, 1)
	assert.Error(t, err)
}

func TestDecodeFixedUnsigned64(t *testing.T) {
	d, err := parseDType(json.RawMessage(`"<u8"`))
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     []byte
		want    []int64
		wantErr bool
	}{
		{"fits", []byte{7, 0, 0, 0, 0, 0, 0, 0}, []int64{7}, false},
		{"max int64", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}, []int64{math.MaxInt64}, false},
		{"above max int64", []byte{0, 0, 0, 0, 0, 0, 0, 0x80}, nil, true},
		{"all ones", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := d.decodeFixed(tt.raw, 1)
			if tt.wantErr {
				assert.ErrorIs(t, err, nwberr.ErrUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Ints)
		})
	}
}

func TestHalfToFloat(t *testing.T) {
	tests := []struct {
		in   uint16
		want float64
	}{
		{0x3c00, 1},
		{0xc000, -2},
		{0x3800, 0.5},
		{0x0000, 0},
		{0x0001, math.Pow(2, -24)},
		{0x7bff, 65504},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, halfToFloat(tt.in))
	}
	assert.True(t, math.IsInf(halfToFloat(0x7c00), 1))
	assert.True(t, math.IsNaN(halfToFloat(0x7e00)))
}

func TestFillBlock(t *testing.T) {
	d, _ := parseDType(json.RawMessage(`"<f8"`))
	b := fillBlock(d, backend.FamilyFloat, json.RawMessage(`"NaN"`), 3)
	require.Len(t, b.Floats, 3)
	assert.True(t, math.IsNaN(b.Floats[2]))

	d, _ = parseDType(json.RawMessage(`"<i4"`))
	b = fillBlock(d, backend.FamilyInt, json.RawMessage(`-1`), 2)
	assert.Equal(t, []int64{-1, -1}, b.Ints)
}

func TestParseAttrsNormalizesReferences(t *testing.T) {
	raw := []byte(`{
		"table": {"zarr_dtype": "object", "value": {"source": ".", "path": "/general/electrodes"}},
		"colnames": ["a", "b"],
		"rate": 30000.0,
		"count": 3
	}`)
	attrs, err := parseAttrs(raw)
	require.NoError(t, err)

	ref, ok := backend.AttrRef(attrs, "table")
	require.True(t, ok)
	assert.Equal(t, "/general/electrodes", ref.Path)
	assert.Equal(t, []string{"a", "b"}, backend.AttrStrings(attrs, "colnames"))
	assert.Equal(t, int64(3), attrs["count"])
	rate, ok := backend.AttrFloat(attrs, "rate")
	require.True(t, ok)
	assert.Equal(t, 30000.0, rate)
}

func TestParseArrayMetaRejectsFortranOrder(t *testing.T) {
	_, err := parseArrayMeta([]byte(`{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"<i8","order":"F"}`), nil)
	assert.ErrorIs(t, err, nwberr.ErrUnsupported)

	m, err := parseArrayMeta([]byte(`{"zarr_format":2,"shape":[4,3],"chunks":[2,3],"dtype":"<i8","order":"C"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "1.0", m.chunkKey([]int64{1, 0}))
	m.DimensionSeparator = "/"
	assert.Equal(t, "1/0", m.chunkKey([]int64{1, 0}))
}
