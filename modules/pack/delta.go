// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"errors"
)

var (
	ErrDeltaCorrupt = errors.New("corrupt delta instruction stream")
)

const (
	// A copy instruction with no size bytes copies 0x10000 bytes.
	deltaCopyZeroSize = 0x10000
)

// deltaHeaderSize decodes one little-endian 7-bit varint from the head of
// a delta instruction stream.
func deltaHeaderSize(delta []byte) (int64, []byte, error) {
	var size int64
	var shift uint
	for i, b := range delta {
		size |= int64(b&0x7f) << shift
		if b&0x80 == 0 {
			return size, delta[i+1:], nil
		}
		shift += 7
		if shift > 63 {
			break
		}
	}
	return 0, nil, ErrDeltaCorrupt
}

// applyDelta materializes a delta against its resolved base: the stream
// starts with the expected source and target sizes, followed by copy
// (from base) and insert (literal) instructions.
func applyDelta(base, delta []byte) ([]byte, error) {
	srcSize, delta, err := deltaHeaderSize(delta)
	if err != nil {
		return nil, err
	}
	if srcSize != int64(len(base)) {
		return nil, ErrDeltaCorrupt
	}
	dstSize, delta, err := deltaHeaderSize(delta)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, dstSize)
	for len(delta) > 0 {
		op := delta[0]
		delta = delta[1:]
		switch {
		case op&0x80 != 0:
			// copy: low nibble selects offset bytes, bits 4-6
			// select size bytes.
			var offset, size int64
			for i := range 4 {
				if op&(1<<i) != 0 {
					if len(delta) == 0 {
						return nil, ErrDeltaCorrupt
					}
					offset |= int64(delta[0]) << (8 * i)
					delta = delta[1:]
				}
			}
			for i := range 3 {
				if op&(0x10<<i) != 0 {
					if len(delta) == 0 {
						return nil, ErrDeltaCorrupt
					}
					size |= int64(delta[0]) << (8 * i)
					delta = delta[1:]
				}
			}
			if size == 0 {
				size = deltaCopyZeroSize
			}
			if offset < 0 || size < 0 || offset+size > int64(len(base)) {
				return nil, ErrDeltaCorrupt
			}
			dst = append(dst, base[offset:offset+size]...)
		case op != 0:
			// insert: op is the literal length.
			if int(op) > len(delta) {
				return nil, ErrDeltaCorrupt
			}
			dst = append(dst, delta[:op]...)
			delta = delta[op:]
		default:
			return nil, ErrDeltaCorrupt
		}
	}
	if int64(len(dst)) != dstSize {
		return nil, ErrDeltaCorrupt
	}
	return dst, nil
}
