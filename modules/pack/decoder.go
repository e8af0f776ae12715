// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"context"
	"crypto/sha1"
	"io"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/antgroup/mono/modules/streamio"
)

// DecodeOptions bound one decode run. MemSize is the byte budget of the
// in-memory resolved cache; bodies beyond it are served from the spill
// store under CachePath.
type DecodeOptions struct {
	MemSize               int64
	CachePath             string
	CleanCacheAfterDecode bool
}

// Decoder turns a pack byte stream into fully-resolved entries. Deltas may
// precede their bases on the wire; unresolved ones are parked in a waiters
// index and cascade as bases arrive, so consumers must not assume any
// entry order.
type Decoder struct {
	opts DecodeOptions
}

func NewDecoder(opts DecodeOptions) *Decoder {
	return &Decoder{opts: opts}
}

// pendingDelta is a delta whose base has not arrived yet.
type pendingDelta struct {
	offset       int64
	instructions []byte
}

type resolvedObject struct {
	oid    plumbing.Hash
	offset int64
	t      object.ObjectType
	body   []byte
}

type decodeState struct {
	cache        *resolvedCache
	waitByHash   map[plumbing.Hash][]*pendingDelta
	waitByOffset map[int64][]*pendingDelta
	sender       chan<- *object.Entry
	emitted      uint32
}

func (st *decodeState) pendingCount() int {
	var n int
	for _, w := range st.waitByHash {
		n += len(w)
	}
	for _, w := range st.waitByOffset {
		n += len(w)
	}
	return n
}

// Decode reads one whole pack from r and sends every resolved entry to
// sender. The sender channel is closed when Decode returns. Decode fails
// without internal retries: the pack is either whole or rejected.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, sender chan<- *object.Entry) (err error) {
	defer close(sender)

	hasher := sha1.New()
	tr := newTrackingReader(r, hasher)

	_, objects, err := readHeader(tr)
	if err != nil {
		return err
	}

	cache, err := newResolvedCache(d.opts.MemSize, d.opts.CachePath, d.opts.CleanCacheAfterDecode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cache.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	st := &decodeState{
		cache:        cache,
		waitByHash:   make(map[plumbing.Hash][]*pendingDelta),
		waitByOffset: make(map[int64][]*pendingDelta),
		sender:       sender,
	}

	for i := uint32(0); i < objects; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := tr.offset
		t, size, err := readEntryHeader(tr)
		if err != nil {
			return err
		}
		switch {
		case t.Valid():
			body, err := inflateEntry(tr, size, start)
			if err != nil {
				return err
			}
			oid := plumbing.ComputeHash(t.String(), body)
			if err := st.resolve(ctx, resolvedObject{oid: oid, offset: start, t: t, body: body}); err != nil {
				return err
			}
		case t == object.OFSDeltaObject:
			neg, err := readNegativeOffset(tr)
			if err != nil {
				return err
			}
			baseOffset := start - neg
			if baseOffset < 0 {
				return ErrMalformedEntry
			}
			instructions, err := inflateEntry(tr, size, start)
			if err != nil {
				return err
			}
			pd := &pendingDelta{offset: start, instructions: instructions}
			if _, bt, base, ok := st.cache.getByOffset(baseOffset); ok {
				if err := st.apply(ctx, bt, base, pd); err != nil {
					return err
				}
				continue
			}
			st.waitByOffset[baseOffset] = append(st.waitByOffset[baseOffset], pd)
		case t == object.REFDeltaObject:
			var baseOid plumbing.Hash
			if err := tr.ReadFull(baseOid[:]); err != nil {
				return err
			}
			instructions, err := inflateEntry(tr, size, start)
			if err != nil {
				return err
			}
			pd := &pendingDelta{offset: start, instructions: instructions}
			if bt, base, ok := st.cache.get(baseOid); ok {
				if err := st.apply(ctx, bt, base, pd); err != nil {
					return err
				}
				continue
			}
			st.waitByHash[baseOid] = append(st.waitByHash[baseOid], pd)
		default:
			return ErrMalformedEntry
		}
	}

	if n := st.pendingCount(); n != 0 {
		return &ErrUnresolvedDeltaBase{Pending: n}
	}

	computed := hasher.Sum(nil)
	var trailer [plumbing.HASH_DIGEST_SIZE]byte
	if err := tr.ReadRaw(trailer[:]); err != nil {
		return err
	}
	if plumbing.NewHashFromBytes(computed) != plumbing.NewHashFromBytes(trailer[:]) {
		return ErrChecksumMismatch
	}
	return nil
}

// DecodeStream decodes a pack arriving as byte chunks from a streaming
// transport body. Offsets are relative to the start of the stream, which
// keeps ofs-delta resolution intact without a seekable reader.
func (d *Decoder) DecodeStream(ctx context.Context, chunks <-chan []byte, sender chan<- *object.Entry) error {
	return d.Decode(ctx, streamio.NewChannelReader(chunks), sender)
}

// resolve emits an object and cascades through every delta that was
// waiting for it, by name or by offset.
func (st *decodeState) resolve(ctx context.Context, ro resolvedObject) error {
	stack := []resolvedObject{ro}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := st.cache.put(cur.oid, cur.offset, cur.t, cur.body); err != nil {
			return err
		}
		select {
		case st.sender <- &object.Entry{Type: cur.t, Hash: cur.oid, Data: cur.body}:
		case <-ctx.Done():
			return ctx.Err()
		}
		st.emitted++

		waiters := st.waitByHash[cur.oid]
		delete(st.waitByHash, cur.oid)
		if byOffset := st.waitByOffset[cur.offset]; len(byOffset) > 0 {
			waiters = append(waiters, byOffset...)
			delete(st.waitByOffset, cur.offset)
		}
		for _, pd := range waiters {
			body, err := applyDelta(cur.body, pd.instructions)
			if err != nil {
				return err
			}
			oid := plumbing.ComputeHash(cur.t.String(), body)
			stack = append(stack, resolvedObject{oid: oid, offset: pd.offset, t: cur.t, body: body})
		}
	}
	return nil
}

// apply materializes a delta whose base is already resolvable.
func (st *decodeState) apply(ctx context.Context, baseType object.ObjectType, base []byte, pd *pendingDelta) error {
	body, err := applyDelta(base, pd.instructions)
	if err != nil {
		return err
	}
	oid := plumbing.ComputeHash(baseType.String(), body)
	return st.resolve(ctx, resolvedObject{oid: oid, offset: pd.offset, t: baseType, body: body})
}

// inflateEntry inflates exactly size expanded bytes and consumes the zlib
// stream through its checksum so the reader stays aligned with the next
// entry header.
func inflateEntry(tr *trackingReader, size int64, offset int64) ([]byte, error) {
	zr, err := streamio.GetZlibReader(tr)
	if err != nil {
		return nil, &ErrInflate{Offset: offset, Err: err}
	}
	defer streamio.PutZlibReader(zr)
	body := make([]byte, size)
	if _, err := io.ReadFull(zr, body); err != nil {
		return nil, &ErrInflate{Offset: offset, Err: err}
	}
	var one [1]byte
	if n, err := zr.Read(one[:]); n != 0 {
		return nil, &ErrInflate{Offset: offset, Err: ErrMalformedEntry}
	} else if err != nil && err != io.EOF {
		return nil, &ErrInflate{Offset: offset, Err: err}
	}
	return body, nil
}
