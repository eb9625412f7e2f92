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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// dtype is a parsed numpy type string such as "<f8" or "|S12".
type dtype struct {
	text  string
	kind  byte // b i u f S U O M m
	size  int
	order binary.ByteOrder
}

func parseDType(raw json.RawMessage) (dtype, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return dtype{}, fmt.Errorf("structured dtype %s: %w", string(raw), nwberr.ErrUnsupported)
	}
	if len(s) < 2 {
		return dtype{}, fmt.Errorf("invalid dtype %q", s)
	}

	d := dtype{text: s, order: binary.LittleEndian}
	switch s[0] {
	case '<', '|', '=':
	case '>':
		d.order = binary.BigEndian
	default:
		return dtype{}, fmt.Errorf("invalid dtype byte order in %q", s)
	}
	d.kind = s[1]
	sizeText := s[2:]
	if i := strings.IndexByte(sizeText, '['); i >= 0 {
		sizeText = sizeText[:i] // datetime unit, e.g. <M8[ns]
	}
	if sizeText != "" {
		n, err := strconv.Atoi(sizeText)
		if err != nil {
			return dtype{}, fmt.Errorf("invalid dtype size in %q", s)
		}
		d.size = n
	}

	switch d.kind {
	case 'b', 'i', 'u', 'f', 'S', 'U', 'M', 'm':
		if d.size == 0 {
			return dtype{}, fmt.Errorf("dtype %q has no item size", s)
		}
	case 'O':
	default:
		return dtype{}, fmt.Errorf("dtype %q: %w", s, nwberr.ErrUnsupported)
	}
	if d.kind == 'U' {
		d.size *= 4
	}
	return d, nil
}

func (d dtype) family() backend.Family {
	switch d.kind {
	case 'b':
		return backend.FamilyBool
	case 'i', 'u', 'M', 'm':
		return backend.FamilyInt
	case 'f':
		return backend.FamilyFloat
	case 'S', 'U', 'O':
		return backend.FamilyString
	}
	return backend.FamilyUnknown
}

// decodeFixed converts raw chunk bytes of a fixed-width dtype into a block
// holding n elements in a flat layout.
func (d dtype) decodeFixed(raw []byte, n int) (*backend.Block, error) {
	if len(raw) < n*d.size {
		return nil, fmt.Errorf("chunk has %d bytes, want %d for %d x %s", len(raw), n*d.size, n, d.text)
	}
	b := &backend.Block{Family: d.family(), Rows: n}
	switch d.kind {
	case 'b':
		b.Bools = make([]bool, n)
		for i := range n {
			b.Bools[i] = raw[i] != 0
		}
	case 'i', 'M', 'm':
		b.Ints = make([]int64, n)
		for i := range n {
			b.Ints[i] = d.readInt(raw[i*d.size:])
		}
	case 'u':
		b.Ints = make([]int64, n)
		for i := range n {
			v := d.readUint(raw[i*d.size:])
			if v > math.MaxInt64 {
				return nil, fmt.Errorf("%s value %d overflows int64: %w", d.text, v, nwberr.ErrUnsupported)
			}
			b.Ints[i] = int64(v)
		}
	case 'f':
		b.Floats = make([]float64, n)
		for i := range n {
			v, err := d.readFloat(raw[i*d.size:])
			if err != nil {
				return nil, err
			}
			b.Floats[i] = v
		}
	case 'S':
		b.Strings = make([]string, n)
		for i := range n {
			b.Strings[i] = string(bytes.TrimRight(raw[i*d.size:(i+1)*d.size], "\x00"))
		}
	case 'U':
		b.Strings = make([]string, n)
		for i := range n {
			b.Strings[i] = d.decodeUTF32(raw[i*d.size : (i+1)*d.size])
		}
	default:
		return nil, fmt.Errorf("dtype %q is not fixed width", d.text)
	}
	return b, nil
}

func (d dtype) readUint(p []byte) uint64 {
	switch d.size {
	case 1:
		return uint64(p[0])
	case 2:
		return uint64(d.order.Uint16(p))
	case 4:
		return uint64(d.order.Uint32(p))
	default:
		return d.order.Uint64(p)
	}
}

func (d dtype) readInt(p []byte) int64 {
	switch d.size {
	case 1:
		return int64(int8(p[0]))
	case 2:
		return int64(int16(d.order.Uint16(p)))
	case 4:
		return int64(int32(d.order.Uint32(p)))
	default:
		return int64(d.order.Uint64(p))
	}
}

func (d dtype) readFloat(p []byte) (float64, error) {
	switch d.size {
	case 2:
		return halfToFloat(d.order.Uint16(p)), nil
	case 4:
		return float64(math.Float32frombits(d.order.Uint32(p))), nil
	case 8:
		return math.Float64frombits(d.order.Uint64(p)), nil
	}
	return 0, fmt.Errorf("float dtype %q: %w", d.text, nwberr.ErrUnsupported)
}

func (d dtype) decodeUTF32(p []byte) string {
	var sb strings.Builder
	for i := 0; i+4 <= len(p); i += 4 {
		r := rune(d.order.Uint32(p[i:]))
		if r == 0 {
			break
		}
		if !utf8.ValidRune(r) {
			r = utf8.RuneError
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// halfToFloat widens an IEEE 754 binary16 value.
func halfToFloat(h uint16) float64 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch {
	case exp == 0 && frac == 0:
		return float64(math.Float32frombits(sign))
	case exp == 0:
		// subnormal
		v := float64(frac) / 1024 * math.Pow(2, -14)
		if sign != 0 {
			v = -v
		}
		return v
	case exp == 0x1f:
		return float64(math.Float32frombits(sign | 0x7f800000 | frac<<13))
	}
	return float64(math.Float32frombits(sign | (exp+112)<<23 | frac<<13))
}

// fillBlock builds a block of n copies of the array's fill value.
func fillBlock(d dtype, fam backend.Family, fill json.RawMessage, n int) *backend.Block {
	b := &backend.Block{Family: fam, Rows: n}
	switch fam {
	case backend.FamilyBool:
		var v bool
		_ = json.Unmarshal(fill, &v)
		b.Bools = make([]bool, n)
		if v {
			for i := range b.Bools {
				b.Bools[i] = true
			}
		}
	case backend.FamilyInt:
		var v int64
		_ = json.Unmarshal(fill, &v)
		b.Ints = make([]int64, n)
		if v != 0 {
			for i := range b.Ints {
				b.Ints[i] = v
			}
		}
	case backend.FamilyFloat:
		v := parseFloatFill(fill)
		b.Floats = make([]float64, n)
		for i := range b.Floats {
			b.Floats[i] = v
		}
	case backend.FamilyString:
		b.Strings = make([]string, n)
		if d.kind == 'O' {
			var s string
			if json.Unmarshal(fill, &s) == nil && s != "" {
				for i := range b.Strings {
					b.Strings[i] = s
				}
			}
		}
	case backend.FamilyRef:
		b.Refs = make([]backend.Ref, n)
	}
	return b
}

func parseFloatFill(fill json.RawMessage) float64 {
	var v float64
	if json.Unmarshal(fill, &v) == nil {
		return v
	}
	var s string
	if json.Unmarshal(fill, &s) == nil {
		switch s {
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
	}
	return math.NaN()
}
