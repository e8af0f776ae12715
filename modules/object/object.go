// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/antgroup/mono/modules/plumbing"
)

var (
	ErrUnsupportedObject = errors.New("unsupported object type")
)

type ObjectType int8

// Object type tags as they appear in pack entry headers.
const (
	InvalidObject ObjectType = 0
	CommitObject  ObjectType = 1
	TreeObject    ObjectType = 2
	BlobObject    ObjectType = 3
	TagObject     ObjectType = 4
	// 5 reserved for future expansion
	OFSDeltaObject ObjectType = 6
	REFDeltaObject ObjectType = 7

	AnyObject ObjectType = -127
)

func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return "commit"
	case TreeObject:
		return "tree"
	case BlobObject:
		return "blob"
	case TagObject:
		return "tag"
	case OFSDeltaObject:
		return "ofs-delta"
	case REFDeltaObject:
		return "ref-delta"
	case AnyObject:
		return "any"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the four storable kinds.
func (t ObjectType) Valid() bool {
	return t >= CommitObject && t <= TagObject
}

// IsDelta reports whether t identifies a delta entry.
func (t ObjectType) IsDelta() bool {
	return t == OFSDeltaObject || t == REFDeltaObject
}

// ObjectTypeFromString converts from a given string to an ObjectType
// enumeration instance.
func ObjectTypeFromString(s string) ObjectType {
	switch strings.ToLower(s) {
	case "commit":
		return CommitObject
	case "tree":
		return TreeObject
	case "blob":
		return BlobObject
	case "tag":
		return TagObject
	case "ofs-delta":
		return OFSDeltaObject
	case "ref-delta":
		return REFDeltaObject
	case "any":
		return AnyObject
	default:
		return InvalidObject
	}
}

type Reader interface {
	io.Reader
	Hash() plumbing.Hash
	Type() ObjectType
}

type reader struct {
	io.Reader
	hash       plumbing.Hash
	objectType ObjectType
}

func (r *reader) Hash() plumbing.Hash {
	return r.hash
}

func (r *reader) Type() ObjectType {
	return r.objectType
}

// NewReader wraps r with the object name and kind required by Decode.
func NewReader(r io.Reader, oid plumbing.Hash, t ObjectType) Reader {
	return &reader{Reader: r, hash: oid, objectType: t}
}

type Encoder interface {
	Encode(io.Writer) error
}

// Hash serializes e and returns the name of its canonical loose-object form.
func Hash(t ObjectType, e Encoder) plumbing.Hash {
	var b bytes.Buffer
	if err := e.Encode(&b); err != nil {
		return plumbing.ZeroHash
	}
	return plumbing.ComputeHash(t.String(), b.Bytes())
}

// Decode parses the canonical body of the given kind.
func Decode(t ObjectType, oid plumbing.Hash, body []byte) (any, error) {
	switch t {
	case CommitObject:
		c := &Commit{}
		err := c.Decode(NewReader(bytes.NewReader(body), oid, t))
		return c, err
	case TreeObject:
		tree := &Tree{}
		err := tree.Decode(NewReader(bytes.NewReader(body), oid, t))
		return tree, err
	case BlobObject:
		return &Blob{Hash: oid, Content: bytes.Clone(body)}, nil
	case TagObject:
		tag := &Tag{}
		err := tag.Decode(NewReader(bytes.NewReader(body), oid, t))
		return tag, err
	}
	return nil, ErrUnsupportedObject
}
