// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/antgroup/mono/modules/object"
)

// A pack stream is a 12-byte header (magic, version, object count), the
// entries, and a trailing SHA-1 over every preceding byte. Each entry
// header packs the type tag into bits 4-6 of the first byte; the expanded
// size spreads over the low 4 bits plus 7 bits per continuation byte.
//
// See https://git-scm.com/docs/gitformat-pack.

var (
	packMagic = [4]byte{'P', 'A', 'C', 'K'}
)

const (
	VersionSupported uint32 = 2

	maxVarintBytes = 10
)

func readHeader(r io.Reader) (version uint32, objects uint32, err error) {
	var hdr [12]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}
	if [4]byte(hdr[0:4]) != packMagic {
		return 0, 0, ErrBadSignature
	}
	version = binary.BigEndian.Uint32(hdr[4:8])
	if version != 2 && version != 3 {
		return 0, 0, ErrUnsupportedVersion
	}
	objects = binary.BigEndian.Uint32(hdr[8:12])
	return version, objects, nil
}

func writeHeader(w io.Writer, objects uint32) error {
	var hdr [12]byte
	copy(hdr[0:4], packMagic[:])
	binary.BigEndian.PutUint32(hdr[4:8], VersionSupported)
	binary.BigEndian.PutUint32(hdr[8:12], objects)
	_, err := w.Write(hdr[:])
	return err
}

// readEntryHeader decodes one entry type tag and its expanded body size.
func readEntryHeader(r io.ByteReader) (object.ObjectType, int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return object.InvalidObject, 0, err
	}
	t := object.ObjectType((b >> 4) & 0x07)
	size := int64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		if shift >= maxVarintBytes*7 {
			return object.InvalidObject, 0, ErrMalformedEntry
		}
		if b, err = r.ReadByte(); err != nil {
			return object.InvalidObject, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return t, size, nil
}

// writeEntryHeader encodes the type tag and expanded body size.
func writeEntryHeader(w io.Writer, t object.ObjectType, size int64) error {
	var buf [maxVarintBytes]byte
	buf[0] = byte(t)<<4 | byte(size&0x0f)
	size >>= 4
	n := 1
	for size != 0 {
		buf[n-1] |= 0x80
		buf[n] = byte(size & 0x7f)
		size >>= 7
		n++
	}
	_, err := w.Write(buf[:n])
	return err
}

// readNegativeOffset decodes the base distance of an ofs-delta entry.
func readNegativeOffset(r io.ByteReader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	offset := int64(b & 0x7f)
	for b&0x80 != 0 {
		if b, err = r.ReadByte(); err != nil {
			return 0, err
		}
		offset = ((offset + 1) << 7) | int64(b&0x7f)
		if offset < 0 {
			return 0, ErrMalformedEntry
		}
	}
	return offset, nil
}

// trackingReader counts and hashes every byte read from the underlying
// stream. Implementing io.ByteReader keeps the flate decompressor from
// reading past the end of an entry body.
type trackingReader struct {
	r      *bufio.Reader
	h      hash.Hash
	offset int64
}

func newTrackingReader(r io.Reader, h hash.Hash) *trackingReader {
	return &trackingReader{r: bufio.NewReader(r), h: h}
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.offset += int64(n)
		_, _ = t.h.Write(p[:n])
	}
	return n, err
}

func (t *trackingReader) ReadByte() (byte, error) {
	b, err := t.r.ReadByte()
	if err != nil {
		return 0, err
	}
	t.offset++
	_, _ = t.h.Write([]byte{b})
	return b, nil
}

func (t *trackingReader) ReadFull(p []byte) error {
	if _, err := io.ReadFull(t, p); err != nil {
		return fmt.Errorf("read %d bytes: %w", len(p), err)
	}
	return nil
}

// ReadRaw fills p from the underlying stream without hashing, for the
// trailing checksum itself.
func (t *trackingReader) ReadRaw(p []byte) error {
	if _, err := io.ReadFull(t.r, p); err != nil {
		return fmt.Errorf("read %d bytes: %w", len(p), err)
	}
	return nil
}
