// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deltaInsertAt builds an instruction stream that splices insert into base
// at the given offset.
func deltaInsertAt(base, insert []byte, at int) []byte {
	var d bytes.Buffer
	writeDeltaSize(&d, int64(len(base)))
	writeDeltaSize(&d, int64(len(base)+len(insert)))
	if at > 0 {
		writeDeltaCopy(&d, 0, at)
	}
	d.WriteByte(byte(len(insert)))
	d.Write(insert)
	if at < len(base) {
		writeDeltaCopy(&d, at, len(base)-at)
	}
	return d.Bytes()
}

func writeDeltaSize(d *bytes.Buffer, size int64) {
	for {
		b := byte(size & 0x7f)
		size >>= 7
		if size != 0 {
			b |= 0x80
		}
		d.WriteByte(b)
		if size == 0 {
			return
		}
	}
}

func writeDeltaCopy(d *bytes.Buffer, offset, size int) {
	op := byte(0x80)
	var operands []byte
	for i := range 4 {
		if b := byte(offset >> (8 * i)); b != 0 {
			op |= 1 << i
			operands = append(operands, b)
		}
	}
	for i := range 3 {
		if b := byte(size >> (8 * i)); b != 0 {
			op |= 0x10 << i
			operands = append(operands, b)
		}
	}
	d.WriteByte(op)
	d.Write(operands)
}

func TestApplyDeltaInsert(t *testing.T) {
	base := []byte("hello\n")
	got, err := applyDelta(base, deltaInsertAt(base, []byte(" world"), 5))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(got))
}

func TestApplyDeltaIdentity(t *testing.T) {
	base := []byte("same bytes")
	var d bytes.Buffer
	writeDeltaSize(&d, int64(len(base)))
	writeDeltaSize(&d, int64(len(base)))
	writeDeltaCopy(&d, 0, len(base))
	got, err := applyDelta(base, d.Bytes())
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestApplyDeltaSizeMismatch(t *testing.T) {
	base := []byte("hello\n")
	delta := deltaInsertAt(base, []byte("!"), 0)
	_, err := applyDelta([]byte("different size base"), delta)
	assert.Equal(t, ErrDeltaCorrupt, err)
}

func TestApplyDeltaTruncated(t *testing.T) {
	base := []byte("hello\n")
	delta := deltaInsertAt(base, []byte(" world"), 5)
	_, err := applyDelta(base, delta[:len(delta)-3])
	assert.Error(t, err)
}

func TestApplyDeltaCopyOutOfRange(t *testing.T) {
	var d bytes.Buffer
	writeDeltaSize(&d, 4)
	writeDeltaSize(&d, 8)
	writeDeltaCopy(&d, 2, 6)
	_, err := applyDelta([]byte("abcd"), d.Bytes())
	assert.Equal(t, ErrDeltaCorrupt, err)
}
