// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/pack"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/antgroup/mono/modules/plumbing/filemode"
	"github.com/antgroup/mono/pkg/serve"
	"github.com/antgroup/mono/pkg/serve/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPackConfig(t *testing.T) *serve.Pack {
	return &serve.Pack{
		PackDecodeMemSize:     1,
		PackDecodeCachePath:   t.TempDir(),
		CleanCacheAfterDecode: true,
	}
}

// encodePack wraps a set of entries into a pack stream.
func encodePack(t *testing.T, entries ...*object.Entry) []byte {
	receiver := make(chan *object.Entry, len(entries))
	for _, e := range entries {
		receiver <- e
	}
	close(receiver)
	var out bytes.Buffer
	require.NoError(t, pack.NewEncoder(&out, uint32(len(entries))).Encode(context.Background(), receiver))
	return out.Bytes()
}

func mustEntry(t *testing.T, kind object.ObjectType, e object.Encoder) *object.Entry {
	entry, err := object.EntryOf(kind, e)
	require.NoError(t, err)
	return entry
}

func blobItem(name string, b *object.Blob) *object.TreeEntry {
	return &object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: b.Hash}
}

func treeItem(name string, tree *object.Tree) *object.TreeEntry {
	return &object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: tree.Hash}
}

func newCommit(tree plumbing.Hash, message string, parents ...plumbing.Hash) *object.Commit {
	cc := &object.Commit{
		Tree:    tree,
		Parents: parents,
		Author:  object.Signature{Name: "dev", Email: "dev@example.com"},
		Committer: object.Signature{
			Name: "dev", Email: "dev@example.com",
		},
		Message: message,
	}
	cc.Hash = object.Hash(object.CommitObject, cc)
	return cc
}

func TestHeadHashEmptyRepo(t *testing.T) {
	r := NewRepo(newMemStore(), testPackConfig(t), "/project/demo")
	head, refs, err := r.HeadHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plumbing.ZERO_OID, head)
	assert.Empty(t, refs)
}

func TestRepoUnpackPersistsEveryEntry(t *testing.T) {
	s := newMemStore()
	r := NewRepo(s, testPackConfig(t), "/project/demo")

	b := object.NewBlob([]byte("hello\n"))
	tree := object.NewTree([]*object.TreeEntry{blobItem("a.txt", b)})
	cc := newCommit(tree.Hash, "initial\n")

	packBytes := encodePack(t,
		object.NewEntry(object.BlobObject, b.Content),
		mustEntry(t, object.TreeObject, tree),
		mustEntry(t, object.CommitObject, cc),
	)
	require.NoError(t, r.Unpack(context.Background(), bytes.NewReader(packBytes)))
	assert.Equal(t, 3, s.objCount())

	// unpacking the same pack again is idempotent
	require.NoError(t, r.Unpack(context.Background(), bytes.NewReader(packBytes)))
	assert.Equal(t, 3, s.objCount())

	exist, err := r.CheckCommitExist(context.Background(), cc.Hash.String())
	require.NoError(t, err)
	assert.True(t, exist)
}

func TestUnpackBrokenPackPersistsNothing(t *testing.T) {
	s := newMemStore()
	r := NewRepo(s, testPackConfig(t), "/project/demo")

	b := object.NewBlob([]byte("hello\n"))
	packBytes := encodePack(t, object.NewEntry(object.BlobObject, b.Content))
	packBytes[len(packBytes)-1] ^= 0xff

	err := r.Unpack(context.Background(), bytes.NewReader(packBytes))
	require.Error(t, err)
	assert.Equal(t, 0, s.objCount())
}

func TestFullPackRoundTrip(t *testing.T) {
	s := newMemStore()
	r := NewRepo(s, testPackConfig(t), "/project/demo")
	ctx := context.Background()

	b := object.NewBlob([]byte("hello\n"))
	tree := object.NewTree([]*object.TreeEntry{blobItem("a.txt", b)})
	cc := newCommit(tree.Hash, "initial\n")
	require.NoError(t, r.Unpack(ctx, bytes.NewReader(encodePack(t,
		object.NewEntry(object.BlobObject, b.Content),
		mustEntry(t, object.TreeObject, tree),
		mustEntry(t, object.CommitObject, cc),
	))))
	require.NoError(t, r.UpdateRefs(ctx, &store.RefCommand{
		RefName: plumbing.MEGA_BRANCH_NAME,
		OldRev:  plumbing.ZERO_OID,
		NewRev:  cc.Hash.String(),
	}))
	refs, err := s.GetRefs(ctx, "/project/demo")
	require.NoError(t, err)
	refs[0].DefaultBranch = true

	var full bytes.Buffer
	require.NoError(t, r.FullPack(ctx, &full))

	// a second empty repository restored from the full pack reaches the
	// same head
	s2 := newMemStore()
	r2 := NewRepo(s2, testPackConfig(t), "/project/demo")
	require.NoError(t, r2.Unpack(ctx, bytes.NewReader(full.Bytes())))
	assert.Equal(t, s.objCount(), s2.objCount())
	require.NoError(t, r2.UpdateRefs(ctx, &store.RefCommand{
		RefName: plumbing.MEGA_BRANCH_NAME,
		OldRev:  plumbing.ZERO_OID,
		NewRev:  cc.Hash.String(),
	}))
	refs2, err := s2.GetRefs(ctx, "/project/demo")
	require.NoError(t, err)
	refs2[0].DefaultBranch = true

	head1, _, err := r.HeadHash(ctx)
	require.NoError(t, err)
	head2, _, err := r2.HeadHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, head1, head2)
	assert.Equal(t, cc.Hash.String(), head2)
}

func TestIncrementalPack(t *testing.T) {
	s := newMemStore()
	r := NewRepo(s, testPackConfig(t), "/project/demo")
	ctx := context.Background()

	b1 := object.NewBlob([]byte("v1\n"))
	t1 := object.NewTree([]*object.TreeEntry{blobItem("a.txt", b1)})
	c1 := newCommit(t1.Hash, "one\n")
	b2 := object.NewBlob([]byte("v2\n"))
	t2 := object.NewTree([]*object.TreeEntry{blobItem("a.txt", b2)})
	c2 := newCommit(t2.Hash, "two\n", c1.Hash)

	require.NoError(t, r.Unpack(ctx, bytes.NewReader(encodePack(t,
		object.NewEntry(object.BlobObject, b1.Content),
		mustEntry(t, object.TreeObject, t1),
		mustEntry(t, object.CommitObject, c1),
		object.NewEntry(object.BlobObject, b2.Content),
		mustEntry(t, object.TreeObject, t2),
		mustEntry(t, object.CommitObject, c2),
	))))

	var out bytes.Buffer
	require.NoError(t, r.IncrementalPack(ctx, []string{c2.Hash.String()}, []string{c1.Hash.String()}, &out))

	// exactly one blob, one tree and one commit travel
	got := decodePack(t, out.Bytes())
	require.Len(t, got, 3)
	assert.Contains(t, got, b2.Hash.String())
	assert.Contains(t, got, t2.Hash.String())
	assert.Contains(t, got, c2.Hash.String())
}

func TestIncrementalPackSharedSubtreeExcluded(t *testing.T) {
	s := newMemStore()
	r := NewRepo(s, testPackConfig(t), "/project/demo")
	ctx := context.Background()

	shared := object.NewBlob([]byte("shared\n"))
	sub := object.NewTree([]*object.TreeEntry{blobItem("s.txt", shared)})
	b1 := object.NewBlob([]byte("v1\n"))
	t1 := object.NewTree([]*object.TreeEntry{blobItem("a.txt", b1), treeItem("lib", sub)})
	c1 := newCommit(t1.Hash, "one\n")
	b2 := object.NewBlob([]byte("v2\n"))
	t2 := object.NewTree([]*object.TreeEntry{blobItem("a.txt", b2), treeItem("lib", sub)})
	c2 := newCommit(t2.Hash, "two\n", c1.Hash)

	require.NoError(t, r.Unpack(ctx, bytes.NewReader(encodePack(t,
		object.NewEntry(object.BlobObject, shared.Content),
		mustEntry(t, object.TreeObject, sub),
		object.NewEntry(object.BlobObject, b1.Content),
		mustEntry(t, object.TreeObject, t1),
		mustEntry(t, object.CommitObject, c1),
		object.NewEntry(object.BlobObject, b2.Content),
		mustEntry(t, object.TreeObject, t2),
		mustEntry(t, object.CommitObject, c2),
	))))

	var out bytes.Buffer
	require.NoError(t, r.IncrementalPack(ctx, []string{c2.Hash.String()}, []string{c1.Hash.String()}, &out))

	got := decodePack(t, out.Bytes())
	require.Len(t, got, 3)
	assert.NotContains(t, got, shared.Hash.String())
	assert.NotContains(t, got, sub.Hash.String())
}

func TestIncrementalPackUnknownWant(t *testing.T) {
	r := NewRepo(newMemStore(), testPackConfig(t), "/project/demo")
	var out bytes.Buffer
	err := r.IncrementalPack(context.Background(),
		[]string{"1111111111111111111111111111111111111111"}, nil, &out)
	assert.True(t, errors.Is(err, ErrNotOurRef))
}

// seedMonorepo installs root tree {src -> ta, doc -> tb} behind the "/"
// ref and returns the pieces the monorepo tests need.
func seedMonorepo(t *testing.T, s *memStore) (ta, tb, t0 *object.Tree, c0 *object.Commit) {
	ctx := context.Background()
	bl := object.NewBlob([]byte("fn main() {}\n"))
	doc := object.NewBlob([]byte("# readme\n"))
	ta = object.NewTree([]*object.TreeEntry{blobItem("lib.rs", bl)})
	tb = object.NewTree([]*object.TreeEntry{blobItem("README.md", doc)})
	t0 = object.NewTree([]*object.TreeEntry{treeItem("doc", tb), treeItem("src", ta)})
	c0 = newCommit(t0.Hash, "import\n")

	require.NoError(t, s.SaveEntries(ctx, store.MonoRepoPath, nil, []*object.Entry{
		object.NewEntry(object.BlobObject, bl.Content),
		object.NewEntry(object.BlobObject, doc.Content),
		mustEntry(t, object.TreeObject, ta),
		mustEntry(t, object.TreeObject, tb),
		mustEntry(t, object.TreeObject, t0),
		mustEntry(t, object.CommitObject, c0),
	}))
	require.NoError(t, s.SaveRef(ctx, &store.Ref{
		Path:          store.MonoRepoPath,
		Name:          plumbing.MEGA_BRANCH_NAME,
		CommitHash:    c0.Hash,
		TreeHash:      t0.Hash,
		DefaultBranch: true,
	}))
	return ta, tb, t0, c0
}

func TestMonorepoSubtreePush(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	_, tb, t0, c0 := seedMonorepo(t, s)

	// push rewrites src/lib.rs under an open merge request
	b2 := object.NewBlob([]byte("fn main() { hello() }\n"))
	taNew := object.NewTree([]*object.TreeEntry{blobItem("lib.rs", b2)})
	c1 := newCommit(taNew.Hash, "update lib\n")

	m := NewMonoRepo(s, testPackConfig(t), "/src", plumbing.ZeroHash, c1.Hash)
	require.NoError(t, m.Unpack(ctx, bytes.NewReader(encodePack(t,
		object.NewEntry(object.BlobObject, b2.Content),
		mustEntry(t, object.TreeObject, taNew),
		mustEntry(t, object.CommitObject, c1),
	))))

	mr, err := s.GetOpenMR(ctx, "/src")
	require.NoError(t, err)
	require.NotNil(t, mr)

	// both staged rows carry the merge request id
	require.Len(t, s.megaTrees, 2)
	sub, newRoot := s.megaTrees[0], s.megaTrees[1]
	assert.Equal(t, "/src", sub.FullPath)
	assert.Equal(t, taNew.Hash, sub.Hash)
	assert.Equal(t, mr.ID, sub.MRID)
	assert.Equal(t, store.MonoRepoPath, newRoot.FullPath)
	assert.Equal(t, mr.ID, newRoot.MRID)
	assert.NotEqual(t, t0.Hash, newRoot.Hash)

	decoded, err := object.Decode(object.TreeObject, newRoot.Hash, newRoot.Items)
	require.NoError(t, err)
	rootTree := decoded.(*object.Tree)
	src, err := rootTree.Entry("src")
	require.NoError(t, err)
	assert.Equal(t, taNew.Hash, src.Hash)
	doc, err := rootTree.Entry("doc")
	require.NoError(t, err)
	assert.Equal(t, tb.Hash, doc.Hash)

	// the "/" ref is unchanged until the merge request merges
	refs, err := s.GetRefs(ctx, store.MonoRepoPath)
	require.NoError(t, err)
	assert.Equal(t, c0.Hash, refs[0].CommitHash)

	require.NoError(t, s.MergeMR(ctx, mr.ID))
	refs, err = s.GetRefs(ctx, store.MonoRepoPath)
	require.NoError(t, err)
	assert.NotEqual(t, c0.Hash, refs[0].CommitHash)
	assert.Equal(t, newRoot.Hash, refs[0].TreeHash)
}

func TestMonorepoConflictingMR(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	seedMonorepo(t, s)

	require.NoError(t, s.SaveMR(ctx, &store.MergeRequest{
		Path:     "/src",
		FromHash: plumbing.NewHash("ce013625030ba8dba906f756967f9e9ca394464a"),
	}))

	m := NewMonoRepo(s, testPackConfig(t), "/src", plumbing.ZeroHash, plumbing.ZeroHash)
	err := m.Unpack(ctx, bytes.NewReader(encodePack(t)))
	assert.True(t, errors.Is(err, store.ErrConflictingMR))
}

func TestMonorepoHeadHashSynthesizesSubtreeRef(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	_, tb, _, _ := seedMonorepo(t, s)

	m := NewMonoRepo(s, testPackConfig(t), "/doc", plumbing.ZeroHash, plumbing.ZeroHash)
	head, refs, err := m.HeadHash(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.NotEqual(t, plumbing.ZERO_OID, head)
	assert.True(t, refs[0].DefaultBranch)
	assert.Equal(t, tb.Hash, refs[0].TreeHash)

	// the maintained commit is persisted and the ref sticks
	cc, err := s.GetCommit(ctx, store.MonoRepoPath, refs[0].CommitHash)
	require.NoError(t, err)
	assert.Equal(t, tb.Hash, cc.Tree)
	head2, _, err := m.HeadHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, head2)
}

func TestMonorepoHeadHashUnknownPath(t *testing.T) {
	s := newMemStore()
	seedMonorepo(t, s)

	m := NewMonoRepo(s, testPackConfig(t), "/nope", plumbing.ZeroHash, plumbing.ZeroHash)
	head, refs, err := m.HeadHash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plumbing.ZERO_OID, head)
	assert.Empty(t, refs)
}

func TestMonorepoUpdateRefsIsNoop(t *testing.T) {
	s := newMemStore()
	_, _, _, c0 := seedMonorepo(t, s)
	ctx := context.Background()

	m := NewMonoRepo(s, testPackConfig(t), "/src", plumbing.ZeroHash, plumbing.ZeroHash)
	require.NoError(t, m.UpdateRefs(ctx, &store.RefCommand{
		RefName: plumbing.MEGA_BRANCH_NAME,
		OldRev:  c0.Hash.String(),
		NewRev:  plumbing.ZERO_OID,
	}))
	refs, err := s.GetRefs(ctx, store.MonoRepoPath)
	require.NoError(t, err)
	assert.Equal(t, c0.Hash, refs[0].CommitHash)
}

func decodePack(t *testing.T, packBytes []byte) map[string]object.ObjectType {
	d := pack.NewDecoder(pack.DecodeOptions{
		MemSize:               1 << 20,
		CachePath:             t.TempDir(),
		CleanCacheAfterDecode: true,
	})
	sender := make(chan *object.Entry, 256)
	errch := make(chan error, 1)
	go func() {
		errch <- d.Decode(context.Background(), bytes.NewReader(packBytes), sender)
	}()
	got := make(map[string]object.ObjectType)
	for e := range sender {
		require.NoError(t, e.Verify())
		got[e.Hash.String()] = e.Type
	}
	require.NoError(t, <-errch)
	return got
}
