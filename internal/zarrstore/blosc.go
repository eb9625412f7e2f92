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
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"github.com/cardinalhq/lakenwb/nwberr"
)

const (
	bloscHeaderSize = 16

	bloscDoShuffle    = 0x1
	bloscMemcpyed     = 0x2
	bloscDoBitShuffle = 0x4
	bloscDontSplit    = 0x10

	bloscMaxSplits     = 16
	bloscMinBufferSize = 128
)

// Compressor codes stored in bits 5-7 of the flags byte.
const (
	bloscBloscLZ = 0
	bloscLZ4     = 1
	bloscSnappy  = 2
	bloscZlib    = 3
	bloscZstd    = 4
)

// decodeBlosc decompresses one Blosc1 frame.
func decodeBlosc(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderSize {
		return nil, fmt.Errorf("blosc frame too short: %d bytes", len(src))
	}
	flags := src[2]
	typesize := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:]))
	blocksize := int(binary.LittleEndian.Uint32(src[8:]))
	cbytes := int(binary.LittleEndian.Uint32(src[12:]))
	if cbytes > len(src) {
		return nil, fmt.Errorf("blosc frame truncated: header says %d bytes, have %d", cbytes, len(src))
	}

	if flags&bloscMemcpyed != 0 {
		if bloscHeaderSize+nbytes > len(src) {
			return nil, fmt.Errorf("blosc memcpyed frame truncated")
		}
		return append([]byte(nil), src[bloscHeaderSize:bloscHeaderSize+nbytes]...), nil
	}
	if flags&bloscDoBitShuffle != 0 {
		return nil, fmt.Errorf("blosc bitshuffle: %w", nwberr.ErrUnsupported)
	}
	if nbytes == 0 {
		return []byte{}, nil
	}
	if blocksize <= 0 {
		return nil, fmt.Errorf("blosc frame has invalid block size %d", blocksize)
	}
	compressor := int(flags>>5) & 0x7

	nblocks := nbytes / blocksize
	leftover := nbytes % blocksize
	if leftover > 0 {
		nblocks++
	}
	if bloscHeaderSize+4*nblocks > len(src) {
		return nil, fmt.Errorf("blosc block table truncated")
	}

	out := make([]byte, 0, nbytes)
	for j := range nblocks {
		bstart := int(binary.LittleEndian.Uint32(src[bloscHeaderSize+4*j:]))
		bsize := blocksize
		lastLeftover := j == nblocks-1 && leftover > 0
		if lastLeftover {
			bsize = leftover
		}
		block, err := bloscBlock(src, bstart, bsize, typesize, compressor, flags, lastLeftover)
		if err != nil {
			return nil, fmt.Errorf("blosc block %d: %w", j, err)
		}
		if flags&bloscDoShuffle != 0 && typesize > 1 {
			block = unshuffle(block, typesize)
		}
		out = append(out, block...)
	}
	return out, nil
}

func bloscBlock(src []byte, pos, bsize, typesize, compressor int, flags byte, leftover bool) ([]byte, error) {
	nsplits := 1
	if flags&bloscDontSplit == 0 && !leftover && typesize <= bloscMaxSplits && typesize > 0 && bsize/typesize >= bloscMinBufferSize {
		nsplits = typesize
	}
	neblock := bsize / nsplits

	block := make([]byte, 0, bsize)
	for range nsplits {
		if pos+4 > len(src) {
			return nil, fmt.Errorf("stream header out of range")
		}
		csize := int(int32(binary.LittleEndian.Uint32(src[pos:])))
		pos += 4
		if csize < 0 || pos+csize > len(src) {
			return nil, fmt.Errorf("stream of %d bytes out of range", csize)
		}
		stream := src[pos : pos+csize]
		pos += csize

		if csize == neblock {
			block = append(block, stream...)
			continue
		}
		dec, err := bloscInner(compressor, stream, neblock)
		if err != nil {
			return nil, err
		}
		if len(dec) != neblock {
			return nil, fmt.Errorf("stream decoded to %d bytes, want %d", len(dec), neblock)
		}
		block = append(block, dec...)
	}
	return block, nil
}

func bloscInner(compressor int, stream []byte, n int) ([]byte, error) {
	switch compressor {
	case bloscLZ4:
		dst := make([]byte, n)
		got, err := lz4.UncompressBlock(stream, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		return dst[:got], nil
	case bloscSnappy:
		return snappy.Decode(nil, stream)
	case bloscZlib:
		return readAllFrom(zlib.NewReader(bytes.NewReader(stream)))
	case bloscZstd:
		return zstdDecoder.DecodeAll(stream, make([]byte, 0, n))
	case bloscBloscLZ:
		return nil, fmt.Errorf("blosclz: %w", nwberr.ErrUnsupported)
	}
	return nil, fmt.Errorf("blosc compressor %d: %w", compressor, nwberr.ErrUnsupported)
}

// unshuffle reverses Blosc's byte shuffle: the shuffled block stores byte k
// of every element contiguously. Trailing bytes that do not fill an element
// are stored as-is.
func unshuffle(src []byte, typesize int) []byte {
	n := len(src) / typesize
	dst := make([]byte, len(src))
	for i := range n {
		for k := range typesize {
			dst[i*typesize+k] = src[k*n+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}
