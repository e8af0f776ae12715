// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"io"

	"github.com/antgroup/mono/modules/plumbing"
)

// Blob is opaque file content.
type Blob struct {
	Hash    plumbing.Hash `json:"hash"`
	Content []byte        `json:"-"`
}

// NewBlob stamps content with its object name.
func NewBlob(content []byte) *Blob {
	return &Blob{
		Hash:    plumbing.ComputeHash(BlobObject.String(), content),
		Content: content,
	}
}

func (b *Blob) Size() int64 {
	return int64(len(b.Content))
}

func (b *Blob) Encode(w io.Writer) error {
	_, err := w.Write(b.Content)
	return err
}
