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

package nwbtest

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// EncodeNumcodecsLZ4 frames one LZ4 block behind a uint32 size header.
func EncodeNumcodecsLZ4(raw []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(raw)))
	binary.LittleEndian.PutUint32(dst, uint32(len(raw)))
	n, err := lz4.CompressBlock(raw, dst[4:], nil)
	if err != nil {
		return nil, err
	}
	return dst[:4+n], nil
}

// EncodeBlosc builds a Blosc1 frame using the lz4 inner compressor.
// Blocks large enough are split into typesize streams the same way the
// reference encoder does, and incompressible streams are stored raw.
func EncodeBlosc(raw []byte, typesize, blocksize int, shuffle bool) ([]byte, error) {
	const headerSize = 16
	if blocksize <= 0 || blocksize > len(raw) {
		blocksize = max(len(raw), 1)
	}
	nblocks := len(raw) / blocksize
	leftover := len(raw) % blocksize
	if leftover > 0 {
		nblocks++
	}

	var flags byte = 1 << 5 // lz4
	if shuffle {
		flags |= 0x1
	}
	out := make([]byte, headerSize+4*nblocks)
	out[0], out[1], out[2], out[3] = 2, 1, flags, byte(typesize)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[8:], uint32(blocksize))

	for j := range nblocks {
		start := j * blocksize
		end := min(start+blocksize, len(raw))
		block := raw[start:end]
		if shuffle && typesize > 1 {
			block = Shuffle(block, typesize)
		}
		isLeftover := j == nblocks-1 && leftover > 0
		nsplits := 1
		if !isLeftover && typesize <= 16 && typesize > 0 && len(block)/typesize >= 128 {
			nsplits = typesize
		}
		binary.LittleEndian.PutUint32(out[headerSize+4*j:], uint32(len(out)))

		neblock := len(block) / nsplits
		for s := range nsplits {
			stream := block[s*neblock : (s+1)*neblock]
			dst := make([]byte, lz4.CompressBlockBound(len(stream)))
			n, err := lz4.CompressBlock(stream, dst, nil)
			if err != nil {
				return nil, err
			}
			if n == 0 || n >= len(stream) {
				dst, n = stream, len(stream)
			}
			var hdr [4]byte
			binary.LittleEndian.PutUint32(hdr[:], uint32(n))
			out = append(out, hdr[:]...)
			out = append(out, dst[:n]...)
		}
	}
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	return out, nil
}

// Shuffle groups byte k of every element together.
func Shuffle(src []byte, typesize int) []byte {
	n := len(src) / typesize
	dst := make([]byte, len(src))
	for i := range n {
		for k := range typesize {
			dst[k*n+i] = src[i*typesize+k]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
	return dst
}
