// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"context"
	"path"
	"strings"
	"sync"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/antgroup/mono/pkg/serve/store"
)

// memStore is an in-memory Storage used by the handler tests.
type memStore struct {
	mu        sync.Mutex
	commits   map[string]map[plumbing.Hash]*object.Commit
	trees     map[string]map[plumbing.Hash]*object.Tree
	tags      map[string]map[plumbing.Hash]*object.Tag
	blobs     map[plumbing.Hash]*object.Blob
	repoBlobs map[string]map[plumbing.Hash]bool
	refs      map[string][]*store.Ref
	mrs       []*store.MergeRequest
	megaTrees []*store.MegaTree
	nextMR    int64
}

var (
	_ store.Storage = &memStore{}
)

func newMemStore() *memStore {
	return &memStore{
		commits:   make(map[string]map[plumbing.Hash]*object.Commit),
		trees:     make(map[string]map[plumbing.Hash]*object.Tree),
		tags:      make(map[string]map[plumbing.Hash]*object.Tag),
		blobs:     make(map[plumbing.Hash]*object.Blob),
		repoBlobs: make(map[string]map[plumbing.Hash]bool),
		refs:      make(map[string][]*store.Ref),
	}
}

func (s *memStore) objCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, m := range s.commits {
		n += len(m)
	}
	for _, m := range s.trees {
		n += len(m)
	}
	for _, m := range s.tags {
		n += len(m)
	}
	for _, m := range s.repoBlobs {
		n += len(m)
	}
	return n
}

func (s *memStore) SaveEntries(ctx context.Context, repo string, mr *store.MergeRequest, entries []*object.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if err := e.Verify(); err != nil {
			return err
		}
		switch e.Type {
		case object.CommitObject:
			cc, err := e.Commit()
			if err != nil {
				return err
			}
			bucket(s.commits, repo)[e.Hash] = cc
		case object.TreeObject:
			t, err := e.Tree()
			if err != nil {
				return err
			}
			bucket(s.trees, repo)[e.Hash] = t
		case object.TagObject:
			t, err := e.Tag()
			if err != nil {
				return err
			}
			bucket(s.tags, repo)[e.Hash] = t
		case object.BlobObject:
			s.blobs[e.Hash] = &object.Blob{Hash: e.Hash, Content: bytes.Clone(e.Data)}
			if s.repoBlobs[repo] == nil {
				s.repoBlobs[repo] = make(map[plumbing.Hash]bool)
			}
			s.repoBlobs[repo][e.Hash] = true
		default:
			return object.ErrUnsupportedObject
		}
	}
	return nil
}

func bucket[T any](m map[string]map[plumbing.Hash]T, repo string) map[plumbing.Hash]T {
	if m[repo] == nil {
		m[repo] = make(map[plumbing.Hash]T)
	}
	return m[repo]
}

func (s *memStore) GetCommit(ctx context.Context, repo string, oid plumbing.Hash) (*object.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cc, ok := s.commits[repo][oid]; ok {
		return cc, nil
	}
	return nil, plumbing.NoSuchObject(oid)
}

func (s *memStore) GetTree(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trees[repo][oid]; ok {
		return t, nil
	}
	return nil, plumbing.NoSuchObject(oid)
}

func (s *memStore) GetTreesByHashes(ctx context.Context, repo string, oids []plumbing.Hash) ([]*object.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var trees []*object.Tree
	for _, oid := range oids {
		if t, ok := s.trees[repo][oid]; ok {
			trees = append(trees, t)
		}
	}
	return trees, nil
}

func (s *memStore) GetBlobsByHashes(ctx context.Context, oids []plumbing.Hash) ([]*object.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blobs []*object.Blob
	for _, oid := range oids {
		if b, ok := s.blobs[oid]; ok {
			blobs = append(blobs, b)
		}
	}
	return blobs, nil
}

func (s *memStore) GetCommitsByRepo(ctx context.Context, repo string) ([]*object.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var commits []*object.Commit
	for _, cc := range s.commits[repo] {
		commits = append(commits, cc)
	}
	return commits, nil
}

func (s *memStore) GetTreesByRepo(ctx context.Context, repo string) ([]*object.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var trees []*object.Tree
	for _, t := range s.trees[repo] {
		trees = append(trees, t)
	}
	return trees, nil
}

func (s *memStore) GetBlobsByRepo(ctx context.Context, repo string) ([]*object.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blobs []*object.Blob
	for oid := range s.repoBlobs[repo] {
		blobs = append(blobs, s.blobs[oid])
	}
	return blobs, nil
}

func (s *memStore) GetTagsByRepo(ctx context.Context, repo string) ([]*object.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tags []*object.Tag
	for _, t := range s.tags[repo] {
		tags = append(tags, t)
	}
	return tags, nil
}

func (s *memStore) GetObjCount(ctx context.Context, repo string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.commits[repo]) + len(s.trees[repo]) + len(s.repoBlobs[repo]) + len(s.tags[repo])), nil
}

func (s *memStore) HasCommit(ctx context.Context, repo string, oid plumbing.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.commits[repo][oid]
	return ok, nil
}

func (s *memStore) GetTreeByPath(ctx context.Context, repo string, refCommit plumbing.Hash, p string) (*object.Tree, error) {
	cc, err := s.GetCommit(ctx, repo, refCommit)
	if err != nil {
		return nil, err
	}
	tree, err := s.GetTree(ctx, repo, cc.Tree)
	if err != nil {
		return nil, err
	}
	for _, component := range strings.Split(strings.Trim(p, "/"), "/") {
		if component == "" {
			continue
		}
		entry, err := tree.Entry(component)
		if err != nil {
			return nil, err
		}
		if tree, err = s.GetTree(ctx, repo, entry.Hash); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func (s *memStore) GetRefs(ctx context.Context, p string) ([]*store.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[p], nil
}

func (s *memStore) SaveRef(ctx context.Context, ref *store.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref.Path] = append(s.refs[ref.Path], ref)
	return nil
}

func (s *memStore) DoRefUpdate(ctx context.Context, p string, cmd *store.RefCommand) (*store.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd.IsCreate() {
		ref := &store.Ref{Path: p, Name: cmd.RefName, CommitHash: plumbing.NewHash(cmd.NewRev)}
		s.refs[p] = append(s.refs[p], ref)
		return ref, nil
	}
	for i, ref := range s.refs[p] {
		if ref.Name != cmd.RefName {
			continue
		}
		if ref.CommitHash.String() != cmd.OldRev {
			return nil, &store.ErrAlreadyLocked{Reference: cmd.RefName}
		}
		if cmd.IsDelete() {
			s.refs[p] = append(s.refs[p][:i], s.refs[p][i+1:]...)
			return ref, nil
		}
		ref.CommitHash = plumbing.NewHash(cmd.NewRev)
		return ref, nil
	}
	return nil, &store.ErrRevisionNotFound{Revision: cmd.RefName}
}

func (s *memStore) GetOpenMR(ctx context.Context, p string) (*store.MergeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mr := range s.mrs {
		if mr.Path == p && mr.Status == store.MergeRequestOpen {
			return mr, nil
		}
	}
	return nil, nil
}

func (s *memStore) SaveMR(ctx context.Context, mr *store.MergeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMR++
	mr.ID = s.nextMR
	mr.Status = store.MergeRequestOpen
	s.mrs = append(s.mrs, mr)
	return nil
}

func (s *memStore) UpdateMRStatus(ctx context.Context, id int64, status store.MergeRequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mr := range s.mrs {
		if mr.ID == id {
			mr.Status = status
			return nil
		}
	}
	return plumbing.ErrReferenceNotFound
}

func (s *memStore) MergeMR(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rootTree plumbing.Hash
	for _, row := range s.megaTrees {
		if row.MRID == id && row.FullPath == store.MonoRepoPath {
			rootTree = row.Hash
		}
	}
	for _, row := range s.megaTrees {
		if row.MRID != id {
			continue
		}
		row.Status = store.MergeRequestMerged
		a, err := object.Decode(object.TreeObject, row.Hash, row.Items)
		if err != nil {
			return err
		}
		bucket(s.trees, store.MonoRepoPath)[row.Hash] = a.(*object.Tree)
	}
	for _, mr := range s.mrs {
		if mr.ID == id {
			mr.Status = store.MergeRequestMerged
		}
	}
	for _, ref := range s.refs[store.MonoRepoPath] {
		if !ref.DefaultBranch {
			continue
		}
		cc := &object.Commit{Tree: rootTree, Parents: []plumbing.Hash{ref.CommitHash}, Message: "merge\n"}
		cc.Hash = object.Hash(object.CommitObject, cc)
		bucket(s.commits, store.MonoRepoPath)[cc.Hash] = cc
		ref.CommitHash = cc.Hash
		ref.TreeHash = rootTree
	}
	return nil
}

func (s *memStore) RewriteAncestors(ctx context.Context, mr *store.MergeRequest, p string, newHash plumbing.Hash) error {
	root, err := func() (*store.Ref, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, ref := range s.refs[store.MonoRepoPath] {
			if ref.DefaultBranch {
				return ref, nil
			}
		}
		return nil, store.NewConversionError("Can't find parent tree")
	}()
	if err != nil {
		return err
	}

	sub, err := s.GetTree(ctx, store.MonoRepoPath, newHash)
	if err != nil {
		return store.NewConversionError("Can't find child")
	}
	appendRow := func(fullPath, name string, t *object.Tree) error {
		var b bytes.Buffer
		if err := t.Encode(&b); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.megaTrees = append(s.megaTrees, &store.MegaTree{
			Hash: t.Hash, MRID: mr.ID, Status: mr.Status,
			FullPath: fullPath, Name: name, Items: b.Bytes(),
		})
		return nil
	}
	if err := appendRow(p, path.Base(p), sub); err != nil {
		return err
	}

	targetName := path.Base(p)
	targetHash := newHash
	for parent := path.Dir(p); ; parent = path.Dir(parent) {
		ptree, err := s.GetTreeByPath(ctx, store.MonoRepoPath, root.CommitHash, parent)
		if err != nil {
			return store.NewConversionError("Can't find parent tree")
		}
		newParent, ok := ptree.Replace(targetName, targetHash)
		if !ok {
			return store.NewConversionError("Can't find child")
		}
		name := path.Base(parent)
		if parent == store.MonoRepoPath {
			name = "root"
		}
		if err := appendRow(parent, name, newParent); err != nil {
			return err
		}
		if parent == store.MonoRepoPath {
			break
		}
		targetName = path.Base(parent)
		targetHash = newParent.Hash
	}
	return nil
}

func (s *memStore) Close() error {
	return nil
}
