// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"fmt"

	"github.com/antgroup/mono/modules/plumbing"
)

// Entry is the currency between the pack codec and the object store: one
// fully-resolved object, carrying its kind, its name and its canonical body.
type Entry struct {
	Type ObjectType
	Hash plumbing.Hash
	Data []byte
}

// NewEntry stamps body with its object name.
func NewEntry(t ObjectType, body []byte) *Entry {
	return &Entry{
		Type: t,
		Hash: plumbing.ComputeHash(t.String(), body),
		Data: body,
	}
}

// EntryOf serializes a typed object into pipeline form.
func EntryOf(t ObjectType, e Encoder) (*Entry, error) {
	var b bytes.Buffer
	if err := e.Encode(&b); err != nil {
		return nil, err
	}
	return NewEntry(t, b.Bytes()), nil
}

// Verify re-hashes the body and checks the content-address invariant.
func (e *Entry) Verify() error {
	if got := plumbing.ComputeHash(e.Type.String(), e.Data); got != e.Hash {
		return fmt.Errorf("mono: entry hash mismatch: got '%s' want '%s'", got, e.Hash)
	}
	return nil
}

func (e *Entry) Size() int64 {
	return int64(len(e.Data))
}

// Commit parses the entry body. The entry must be a commit.
func (e *Entry) Commit() (*Commit, error) {
	a, err := Decode(e.Type, e.Hash, e.Data)
	if err != nil {
		return nil, err
	}
	if cc, ok := a.(*Commit); ok {
		return cc, nil
	}
	return nil, ErrUnsupportedObject
}

// Tree parses the entry body. The entry must be a tree.
func (e *Entry) Tree() (*Tree, error) {
	a, err := Decode(e.Type, e.Hash, e.Data)
	if err != nil {
		return nil, err
	}
	if t, ok := a.(*Tree); ok {
		return t, nil
	}
	return nil, ErrUnsupportedObject
}

// Tag parses the entry body. The entry must be a tag.
func (e *Entry) Tag() (*Tag, error) {
	a, err := Decode(e.Type, e.Hash, e.Data)
	if err != nil {
		return nil, err
	}
	if t, ok := a.(*Tag); ok {
		return t, nil
	}
	return nil, ErrUnsupportedObject
}
