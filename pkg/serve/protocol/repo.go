// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"io"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/pkg/serve"
	"github.com/antgroup/mono/pkg/serve/store"
)

// Repo serves one imported repository: refs are advanced directly by
// receive-pack commands, no merge request is involved.
type Repo struct {
	handlerBase
	path string
}

var (
	_ PackHandler = &Repo{}
)

func NewRepo(s store.Storage, packConfig *serve.Pack, path string) *Repo {
	return &Repo{
		handlerBase: handlerBase{store: s, repo: path, pack: packConfig},
		path:        path,
	}
}

func (r *Repo) HeadHash(ctx context.Context) (string, []*store.Ref, error) {
	refs, err := r.store.GetRefs(ctx, r.path)
	if err != nil {
		return "", nil, err
	}
	head, refs := findHeadHash(refs)
	return head, refs, nil
}

func (r *Repo) Unpack(ctx context.Context, reader io.Reader) error {
	decoder := r.newDecoder()
	return r.unpackEntries(ctx,
		func(ctx context.Context, sender chan<- *object.Entry) error {
			return decoder.Decode(ctx, reader, sender)
		},
		func(ctx context.Context, batch []*object.Entry) error {
			return r.store.SaveEntries(ctx, r.repo, nil, batch)
		})
}

func (r *Repo) UnpackStream(ctx context.Context, chunks <-chan []byte) error {
	decoder := r.newDecoder()
	return r.unpackEntries(ctx,
		func(ctx context.Context, sender chan<- *object.Entry) error {
			return decoder.DecodeStream(ctx, chunks, sender)
		},
		func(ctx context.Context, batch []*object.Entry) error {
			return r.store.SaveEntries(ctx, r.repo, nil, batch)
		})
}

func (r *Repo) FullPack(ctx context.Context, w io.Writer) error {
	return r.fullPack(ctx, w)
}

func (r *Repo) IncrementalPack(ctx context.Context, want, have []string, w io.Writer) error {
	return r.incrementalPack(ctx, want, have, w)
}

// UpdateRefs advances or creates the named ref.
func (r *Repo) UpdateRefs(ctx context.Context, cmd *store.RefCommand) error {
	_, err := r.store.DoRefUpdate(ctx, r.path, cmd)
	return err
}

func (r *Repo) CheckCommitExist(ctx context.Context, hash string) (bool, error) {
	return r.checkCommitExist(ctx, hash)
}

func (r *Repo) CheckDefaultBranch(ctx context.Context) (bool, error) {
	return r.checkDefaultBranch(ctx, r.path)
}
