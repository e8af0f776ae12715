// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"context"
	"crypto/sha1"
	"hash"
	"io"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/streamio"
)

// Encoder writes an ordered entry stream as a pack. Entries are deflated
// individually without delta compression; the output is conformant and
// reproduces the same object names on decode. The caller's emission order
// is preserved byte-for-byte.
type Encoder struct {
	w       io.Writer
	h       hash.Hash
	objects uint32
}

func NewEncoder(w io.Writer, objects uint32) *Encoder {
	return &Encoder{w: w, h: sha1.New(), objects: objects}
}

// Encode drains receiver into the pack body and seals it with the running
// SHA-1 trailer once the channel closes. The number of received entries
// must equal the object count announced in the header.
func (e *Encoder) Encode(ctx context.Context, receiver <-chan *object.Entry) error {
	hw := &hashWriter{w: e.w, h: e.h}
	if err := writeHeader(hw, e.objects); err != nil {
		return err
	}

	var written uint32
	for {
		var entry *object.Entry
		var ok bool
		select {
		case entry, ok = <-receiver:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}
		if err := writeEntryHeader(hw, entry.Type, entry.Size()); err != nil {
			return err
		}
		zw := streamio.GetZlibWriter(hw)
		if _, err := zw.Write(entry.Data); err != nil {
			streamio.PutZlibWriter(zw)
			return err
		}
		if err := zw.Close(); err != nil {
			streamio.PutZlibWriter(zw)
			return err
		}
		streamio.PutZlibWriter(zw)
		written++
	}
	if written != e.objects {
		return ErrMalformedEntry
	}

	trailer := e.h.Sum(nil)
	_, err := e.w.Write(trailer)
	return err
}

// hashWriter feeds the running pack checksum with every written byte.
type hashWriter struct {
	w io.Writer
	h hash.Hash
}

func (hw *hashWriter) Write(p []byte) (int, error) {
	_, _ = hw.h.Write(p)
	return hw.w.Write(p)
}
