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
	"compress/bzip2"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// codecConfig is a numcodecs configuration object, e.g. {"id": "zlib", "level": 4}.
type codecConfig struct {
	ID string `json:"id"`
}

var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// decompress undoes a chunk-level compressor.
func decompress(id string, src []byte) ([]byte, error) {
	switch id {
	case "":
		return src, nil
	case "zlib":
		return readAllFrom(zlib.NewReader(bytes.NewReader(src)))
	case "gzip":
		return readAllFrom(gzip.NewReader(bytes.NewReader(src)))
	case "bz2":
		return io.ReadAll(bzip2.NewReader(bytes.NewReader(src)))
	case "zstd":
		return zstdDecoder.DecodeAll(src, nil)
	case "lz4":
		return decodeNumcodecsLZ4(src)
	case "blosc":
		return decodeBlosc(src)
	}
	return nil, fmt.Errorf("compressor %q: %w", id, nwberr.ErrUnsupported)
}

func readAllFrom(r io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// decodeNumcodecsLZ4 reads numcodecs' LZ4 framing: a little-endian uint32
// uncompressed size followed by one raw LZ4 block.
func decodeNumcodecsLZ4(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("lz4 chunk too short")
	}
	n := binary.LittleEndian.Uint32(src)
	dst := make([]byte, n)
	got, err := lz4.UncompressBlock(src[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	return dst[:got], nil
}

// objectCodec names the filter that turns bytes into object elements.
func objectCodec(filters []codecConfig) string {
	for i := len(filters) - 1; i >= 0; i-- {
		switch filters[i].ID {
		case "vlen-utf8", "vlen-bytes", "json2", "json":
			return filters[i].ID
		}
	}
	return ""
}

// decodeObjects decodes an object-dtype chunk. Strings come back as a
// string block; JSON elements holding {"path": ...} come back as references.
func decodeObjects(codec string, raw []byte, n int) (*backend.Block, error) {
	switch codec {
	case "vlen-utf8", "vlen-bytes":
		items, err := decodeVLen(raw)
		if err != nil {
			return nil, err
		}
		return &backend.Block{Family: backend.FamilyString, Rows: len(items), Strings: items}, nil
	case "json2", "json":
		return decodeJSONObjects(raw, n)
	}
	return nil, fmt.Errorf("object codec %q: %w", codec, nwberr.ErrUnsupported)
}

func decodeVLen(raw []byte) ([]string, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("vlen chunk too short")
	}
	n := int(binary.LittleEndian.Uint32(raw))
	out := make([]string, n)
	pos := 4
	for i := range n {
		if pos+4 > len(raw) {
			return nil, fmt.Errorf("vlen chunk truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(raw[pos:]))
		pos += 4
		if pos+l > len(raw) {
			return nil, fmt.Errorf("vlen chunk truncated in item %d", i)
		}
		out[i] = string(raw[pos : pos+l])
		pos += l
	}
	return out, nil
}

// decodeJSONObjects handles numcodecs JSON, whose payload is a flat list of
// items followed by the dtype string and the shape.
func decodeJSONObjects(raw []byte, n int) (*backend.Block, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("json object chunk: %w", err)
	}
	if len(items) >= 2 {
		items = items[:len(items)-2]
	}
	if n > 0 && len(items) > n {
		items = items[:n]
	}

	refs := make([]backend.Ref, len(items))
	strs := make([]string, len(items))
	isRef := false
	for i, it := range items {
		var obj struct {
			Path   *string `json:"path"`
			Source string  `json:"source"`
		}
		if json.Unmarshal(it, &obj) == nil && obj.Path != nil {
			refs[i] = backend.Ref{Path: backend.Clean(*obj.Path)}
			isRef = true
			continue
		}
		var s string
		if json.Unmarshal(it, &s) == nil {
			strs[i] = s
		} else {
			strs[i] = string(it)
		}
	}
	if isRef {
		return &backend.Block{Family: backend.FamilyRef, Rows: len(refs), Refs: refs}, nil
	}
	return &backend.Block{Family: backend.FamilyString, Rows: len(strs), Strings: strs}, nil
}
