// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"io"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/antgroup/mono/pkg/serve"
	"github.com/antgroup/mono/pkg/serve/store"
	"github.com/sirupsen/logrus"
)

// MonoRepo serves one subtree path of the monorepo. Pushes stage their
// ancestor rewrites under an open merge request; the root ref only moves
// when the request merges, so UpdateRefs is a no-op here.
type MonoRepo struct {
	handlerBase
	path     string
	fromHash plumbing.Hash
	toHash   plumbing.Hash
}

var (
	_ PackHandler = &MonoRepo{}
)

func NewMonoRepo(s store.Storage, packConfig *serve.Pack, path string, fromHash, toHash plumbing.Hash) *MonoRepo {
	return &MonoRepo{
		handlerBase: handlerBase{store: s, repo: store.MonoRepoPath, pack: packConfig},
		path:        path,
		fromHash:    fromHash,
		toHash:      toHash,
	}
}

// HeadHash resolves the subtree's ref list. A subtree that has never been
// pushed to directly gets a synthetic ref: the root tree is walked down
// the path and a parentless commit is minted to anchor it.
func (m *MonoRepo) HeadHash(ctx context.Context) (string, []*store.Ref, error) {
	if m.path == store.MonoRepoPath {
		refs, err := m.store.GetRefs(ctx, store.MonoRepoPath)
		if err != nil {
			return "", nil, err
		}
		head, refs := findHeadHash(refs)
		return head, refs, nil
	}

	refs, err := m.store.GetRefs(ctx, m.path)
	if err != nil {
		return "", nil, err
	}
	if len(refs) > 0 {
		head, refs := findHeadHash(refs)
		return head, refs, nil
	}

	rootRefs, err := m.store.GetRefs(ctx, store.MonoRepoPath)
	if err != nil {
		return "", nil, err
	}
	if len(rootRefs) == 0 {
		head, refs := findHeadHash(nil)
		return head, refs, nil
	}
	root := rootRefs[0]
	for _, ref := range rootRefs {
		if ref.DefaultBranch {
			root = ref
		}
	}
	tree, err := m.store.GetTreeByPath(ctx, m.repo, root.CommitHash, m.path)
	if err != nil {
		// the path does not exist below the root tree yet
		head, refs := findHeadHash(nil)
		return head, refs, nil
	}

	cc := object.NewMaintainedCommit(tree.Hash, "Subtree ref generated for path maintenance\n")
	entry, err := object.EntryOf(object.CommitObject, cc)
	if err != nil {
		return "", nil, err
	}
	if err := m.store.SaveEntries(ctx, m.repo, nil, []*object.Entry{entry}); err != nil {
		return "", nil, err
	}
	ref := &store.Ref{
		Path:          m.path,
		Name:          plumbing.MEGA_BRANCH_NAME,
		CommitHash:    cc.Hash,
		TreeHash:      cc.Tree,
		DefaultBranch: true,
	}
	if err := m.store.SaveRef(ctx, ref); err != nil {
		return "", nil, err
	}
	logrus.Infof("maintained subtree ref for '%s' at %s", m.path, cc.Hash)
	head, out := findHeadHash([]*store.Ref{ref})
	return head, out, nil
}

// checkMRStatus returns the open merge request covering this push,
// creating one on first contact. A concurrent push from a different base
// conflicts.
func (m *MonoRepo) checkMRStatus(ctx context.Context) (*store.MergeRequest, error) {
	mr, err := m.store.GetOpenMR(ctx, m.path)
	if err != nil {
		return nil, err
	}
	if mr != nil {
		if mr.FromHash != m.fromHash {
			return nil, store.ErrConflictingMR
		}
		return mr, nil
	}
	mr = &store.MergeRequest{
		Path:     m.path,
		FromHash: m.fromHash,
		ToHash:   m.toHash,
		Status:   store.MergeRequestOpen,
	}
	if err := m.store.SaveMR(ctx, mr); err != nil {
		return nil, err
	}
	return mr, nil
}

func (m *MonoRepo) unpack(ctx context.Context, decode func(context.Context, chan<- *object.Entry) error) error {
	mr, err := m.checkMRStatus(ctx)
	if err != nil {
		return err
	}
	if err := m.unpackEntries(ctx, decode,
		func(ctx context.Context, batch []*object.Entry) error {
			return m.store.SaveEntries(ctx, m.repo, mr, batch)
		}); err != nil {
		return err
	}

	// every ancestor up to root is rewritten against the pushed commit's
	// root tree; the "/" ref stays put until the merge request merges
	cc, err := m.store.GetCommit(ctx, m.repo, m.toHash)
	if err != nil {
		return err
	}
	return m.store.RewriteAncestors(ctx, mr, m.path, cc.Tree)
}

func (m *MonoRepo) Unpack(ctx context.Context, reader io.Reader) error {
	decoder := m.newDecoder()
	return m.unpack(ctx, func(ctx context.Context, sender chan<- *object.Entry) error {
		return decoder.Decode(ctx, reader, sender)
	})
}

func (m *MonoRepo) UnpackStream(ctx context.Context, chunks <-chan []byte) error {
	decoder := m.newDecoder()
	return m.unpack(ctx, func(ctx context.Context, sender chan<- *object.Entry) error {
		return decoder.DecodeStream(ctx, chunks, sender)
	})
}

func (m *MonoRepo) FullPack(ctx context.Context, w io.Writer) error {
	return m.fullPack(ctx, w)
}

func (m *MonoRepo) IncrementalPack(ctx context.Context, want, have []string, w io.Writer) error {
	return m.incrementalPack(ctx, want, have, w)
}

// UpdateRefs does nothing: monorepo ref changes are gated by merge-request
// review.
func (m *MonoRepo) UpdateRefs(ctx context.Context, cmd *store.RefCommand) error {
	return nil
}

func (m *MonoRepo) CheckCommitExist(ctx context.Context, hash string) (bool, error) {
	return m.checkCommitExist(ctx, hash)
}

func (m *MonoRepo) CheckDefaultBranch(ctx context.Context) (bool, error) {
	return m.checkDefaultBranch(ctx, m.path)
}
