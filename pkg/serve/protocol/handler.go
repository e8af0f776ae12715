// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/pack"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/antgroup/mono/pkg/serve"
	"github.com/antgroup/mono/pkg/serve/store"
	"github.com/emirpasic/gods/sets/hashset"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotOurRef rejects a negotiation whose want is unknown; the
	// connection continues.
	ErrNotOurRef = errors.New("not our ref")
)

// ErrCorruptRepository occurs when an object reachable from a ref is
// missing mid-traversal. The response is aborted, never partially emitted.
type ErrCorruptRepository struct {
	Hash plumbing.Hash
}

func (e *ErrCorruptRepository) Error() string {
	return fmt.Sprintf("corrupt repository: missing object '%s'", e.Hash)
}

func IsErrCorruptRepository(err error) bool {
	if err == nil {
		return false
	}
	var ce *ErrCorruptRepository
	return errors.As(err, &ce)
}

// PackHandler mediates between the pack wire format and the object store.
// The single-repo and monorepo variants share this interface and differ in
// ref semantics and subtree-rewrite policy.
type PackHandler interface {
	// HeadHash returns the current head commit hash and the full ref
	// list. Without a default branch the head is ZERO_OID.
	HeadHash(ctx context.Context) (string, []*store.Ref, error)

	// Unpack decodes an inbound pack and persists the entries in batches.
	Unpack(ctx context.Context, r io.Reader) error
	// UnpackStream decodes a pack arriving as transport body chunks.
	UnpackStream(ctx context.Context, chunks <-chan []byte) error

	// FullPack streams every object of the repository as one pack.
	FullPack(ctx context.Context, w io.Writer) error
	// IncrementalPack streams the objects reachable from want but not
	// from have.
	IncrementalPack(ctx context.Context, want, have []string, w io.Writer) error

	UpdateRefs(ctx context.Context, cmd *store.RefCommand) error
	CheckCommitExist(ctx context.Context, hash string) (bool, error)
	CheckDefaultBranch(ctx context.Context) (bool, error)
}

// handlerBase carries what both variants share: the storage, the repo
// scope for object queries and the decoder bounds.
type handlerBase struct {
	store store.Storage
	repo  string
	pack  *serve.Pack
}

// findHeadHash picks the default branch's commit out of the ref list.
func findHeadHash(refs []*store.Ref) (string, []*store.Ref) {
	headHash := plumbing.ZERO_OID
	for _, ref := range refs {
		if ref.DefaultBranch {
			headHash = ref.CommitHash.String()
		}
	}
	return headHash, refs
}

func (h *handlerBase) newDecoder() *pack.Decoder {
	return pack.NewDecoder(pack.DecodeOptions{
		MemSize:               h.pack.MemSizeBytes(),
		CachePath:             h.pack.PackDecodeCachePath,
		CleanCacheAfterDecode: h.pack.CleanCacheAfterDecode,
	})
}

const unpackBatch = 1000

// unpackEntries drains the decoder into the store in batches of up to
// 1000 entries. Full batches are saved as they fill; the final partial
// batch is held back until the decoder has succeeded, so a small broken
// pack persists nothing. Re-saving on retry is idempotent.
func (h *handlerBase) unpackEntries(ctx context.Context, decode func(context.Context, chan<- *object.Entry) error, save func(context.Context, []*object.Entry) error) error {
	sender := make(chan *object.Entry, 64)
	var remainder []*object.Entry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return decode(gctx, sender)
	})
	g.Go(func() error {
		var batch []*object.Entry
		for entry := range sender {
			batch = append(batch, entry)
			if len(batch) >= unpackBatch {
				if err := save(gctx, batch); err != nil {
					return err
				}
				batch = nil
			}
		}
		remainder = batch
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return save(ctx, remainder)
}

func (h *handlerBase) checkCommitExist(ctx context.Context, hash string) (bool, error) {
	oid, err := plumbing.NewHashEx(hash)
	if err != nil {
		return false, err
	}
	return h.store.HasCommit(ctx, h.repo, oid)
}

func (h *handlerBase) checkDefaultBranch(ctx context.Context, path string) (bool, error) {
	refs, err := h.store.GetRefs(ctx, path)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		if ref.DefaultBranch {
			return true, nil
		}
	}
	return false, nil
}

// fullPack streams the whole object set: commits, trees, blobs, then
// tags. The object count in the header equals the sum of the queried
// cardinalities; nothing needs the graph walked.
func (h *handlerBase) fullPack(ctx context.Context, w io.Writer) error {
	count, err := h.store.GetObjCount(ctx, h.repo)
	if err != nil {
		return err
	}
	sender := make(chan *object.Entry, 64)
	encoder := pack.NewEncoder(w, uint32(count))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return encoder.Encode(gctx, sender)
	})
	g.Go(func() error {
		defer close(sender)
		commits, err := h.store.GetCommitsByRepo(gctx, h.repo)
		if err != nil {
			return err
		}
		for _, cc := range commits {
			if err := sendEncoder(gctx, sender, object.CommitObject, cc); err != nil {
				return err
			}
		}
		trees, err := h.store.GetTreesByRepo(gctx, h.repo)
		if err != nil {
			return err
		}
		for _, t := range trees {
			if err := sendEncoder(gctx, sender, object.TreeObject, t); err != nil {
				return err
			}
		}
		blobs, err := h.store.GetBlobsByRepo(gctx, h.repo)
		if err != nil {
			return err
		}
		for _, b := range blobs {
			if err := send(gctx, sender, object.NewEntry(object.BlobObject, b.Content)); err != nil {
				return err
			}
		}
		tags, err := h.store.GetTagsByRepo(gctx, h.repo)
		if err != nil {
			return err
		}
		for _, t := range tags {
			if err := sendEncoder(gctx, sender, object.TagObject, t); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func send(ctx context.Context, sender chan<- *object.Entry, e *object.Entry) error {
	select {
	case sender <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sendEncoder(ctx context.Context, sender chan<- *object.Entry, t object.ObjectType, e object.Encoder) error {
	entry, err := object.EntryOf(t, e)
	if err != nil {
		return err
	}
	return send(ctx, sender, entry)
}

// traverse walks a tree bottom-up, sending blobs before subtrees and
// children before their parent, matching Git's topological pack ordering.
// existObjs dedups across the whole response.
func (h *handlerBase) traverse(ctx context.Context, tree *object.Tree, existObjs *hashset.Set, sender chan<- *object.Entry) error {
	var searchTrees, searchBlobs []plumbing.Hash
	for _, item := range tree.Entries {
		key := item.Hash.String()
		if existObjs.Contains(key) {
			continue
		}
		switch item.Type() {
		case object.TreeObject:
			existObjs.Add(key)
			searchTrees = append(searchTrees, item.Hash)
		case object.BlobObject:
			existObjs.Add(key)
			searchBlobs = append(searchBlobs, item.Hash)
		default:
			// submodule links live in other repositories
		}
	}

	if sender != nil && len(searchBlobs) > 0 {
		blobs, err := h.store.GetBlobsByHashes(ctx, searchBlobs)
		if err != nil {
			return err
		}
		if oid, ok := missingHash(searchBlobs, blobHashes(blobs)); ok {
			return &ErrCorruptRepository{Hash: oid}
		}
		for _, b := range blobs {
			if err := send(ctx, sender, object.NewEntry(object.BlobObject, b.Content)); err != nil {
				return err
			}
		}
	}

	if len(searchTrees) > 0 {
		trees, err := h.store.GetTreesByHashes(ctx, h.repo, searchTrees)
		if err != nil {
			return err
		}
		if oid, ok := missingHash(searchTrees, treeHashes(trees)); ok {
			return &ErrCorruptRepository{Hash: oid}
		}
		for _, t := range trees {
			if err := h.traverse(ctx, t, existObjs, sender); err != nil {
				return err
			}
		}
	}

	if sender != nil {
		return sendEncoder(ctx, sender, object.TreeObject, tree)
	}
	return nil
}

// traverseForCount is the dry-run pass computing the object count for the
// pack header before any bytes are written. existObjs is read-only here;
// countedObj keeps the dry run from double counting.
func (h *handlerBase) traverseForCount(ctx context.Context, tree *object.Tree, existObjs, countedObj *hashset.Set, objNum *uint64) error {
	var searchTrees []plumbing.Hash
	var blobCount uint64
	for _, item := range tree.Entries {
		key := item.Hash.String()
		if existObjs.Contains(key) || countedObj.Contains(key) {
			continue
		}
		switch item.Type() {
		case object.TreeObject:
			countedObj.Add(key)
			searchTrees = append(searchTrees, item.Hash)
		case object.BlobObject:
			countedObj.Add(key)
			blobCount++
		default:
		}
	}
	*objNum += blobCount
	if len(searchTrees) > 0 {
		trees, err := h.store.GetTreesByHashes(ctx, h.repo, searchTrees)
		if err != nil {
			return err
		}
		if oid, ok := missingHash(searchTrees, treeHashes(trees)); ok {
			return &ErrCorruptRepository{Hash: oid}
		}
		for _, t := range trees {
			if err := h.traverseForCount(ctx, t, existObjs, countedObj, objNum); err != nil {
				return err
			}
		}
	}
	*objNum++
	return nil
}

func blobHashes(blobs []*object.Blob) map[plumbing.Hash]bool {
	m := make(map[plumbing.Hash]bool, len(blobs))
	for _, b := range blobs {
		m[b.Hash] = true
	}
	return m
}

func treeHashes(trees []*object.Tree) map[plumbing.Hash]bool {
	m := make(map[plumbing.Hash]bool, len(trees))
	for _, t := range trees {
		m[t.Hash] = true
	}
	return m
}

func missingHash(want []plumbing.Hash, got map[plumbing.Hash]bool) (plumbing.Hash, bool) {
	for _, oid := range want {
		if !got[oid] {
			return oid, true
		}
	}
	return plumbing.ZeroHash, false
}

// ancestorSet walks parent edges from the given commits and returns every
// reachable commit, children before parents. Unknown roots are skipped
// when lax; a missing parent mid-walk always means corruption.
func (h *handlerBase) ancestorSet(ctx context.Context, roots []plumbing.Hash, lax bool) ([]*object.Commit, error) {
	seen := hashset.New()
	var ordered []*object.Commit
	queue := make([]plumbing.Hash, 0, len(roots))
	for _, oid := range roots {
		cc, err := h.store.GetCommit(ctx, h.repo, oid)
		if err != nil {
			if plumbing.IsNoSuchObject(err) && lax {
				continue
			}
			if plumbing.IsNoSuchObject(err) {
				return nil, ErrNotOurRef
			}
			return nil, err
		}
		if seen.Contains(oid.String()) {
			continue
		}
		seen.Add(oid.String())
		ordered = append(ordered, cc)
		queue = append(queue, cc.Parents...)
	}
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		if seen.Contains(oid.String()) {
			continue
		}
		cc, err := h.store.GetCommit(ctx, h.repo, oid)
		if err != nil {
			if plumbing.IsNoSuchObject(err) {
				return nil, &ErrCorruptRepository{Hash: oid}
			}
			return nil, err
		}
		seen.Add(oid.String())
		ordered = append(ordered, cc)
		queue = append(queue, cc.Parents...)
	}
	return ordered, nil
}

// treeClosure seeds existObjs with every tree and blob reachable from the
// given commits, so shared subtrees stay out of an incremental pack.
func (h *handlerBase) treeClosure(ctx context.Context, commits []*object.Commit, existObjs *hashset.Set) error {
	for _, cc := range commits {
		key := cc.Tree.String()
		if existObjs.Contains(key) {
			continue
		}
		tree, err := h.store.GetTree(ctx, h.repo, cc.Tree)
		if err != nil {
			if plumbing.IsNoSuchObject(err) {
				return &ErrCorruptRepository{Hash: cc.Tree}
			}
			return err
		}
		existObjs.Add(key)
		if err := h.traverse(ctx, tree, existObjs, nil); err != nil {
			return err
		}
	}
	return nil
}

// incrementalPack negotiates want/have and streams the difference:
// blobs and trees bottom-up per new commit, then the commits themselves,
// children before parents.
func (h *handlerBase) incrementalPack(ctx context.Context, want, have []string, w io.Writer) error {
	wantHashes := make([]plumbing.Hash, 0, len(want))
	for _, s := range want {
		oid, err := plumbing.NewHashEx(s)
		if err != nil {
			return ErrNotOurRef
		}
		wantHashes = append(wantHashes, oid)
	}
	haveHashes := make([]plumbing.Hash, 0, len(have))
	for _, s := range have {
		oid, err := plumbing.NewHashEx(s)
		if err != nil {
			continue
		}
		haveHashes = append(haveHashes, oid)
	}

	wantCommits, err := h.ancestorSet(ctx, wantHashes, false)
	if err != nil {
		return err
	}
	haveCommits, err := h.ancestorSet(ctx, haveHashes, true)
	if err != nil {
		return err
	}

	haveSet := hashset.New()
	for _, cc := range haveCommits {
		haveSet.Add(cc.Hash.String())
	}
	newCommits := make([]*object.Commit, 0, len(wantCommits))
	for _, cc := range wantCommits {
		if !haveSet.Contains(cc.Hash.String()) {
			newCommits = append(newCommits, cc)
		}
	}

	existObjs := hashset.New()
	if err := h.treeClosure(ctx, haveCommits, existObjs); err != nil {
		return err
	}

	// dry-run count for the pack header
	countedObj := hashset.New()
	var objNum uint64
	for _, cc := range newCommits {
		if existObjs.Contains(cc.Tree.String()) || countedObj.Contains(cc.Tree.String()) {
			continue
		}
		countedObj.Add(cc.Tree.String())
		tree, err := h.store.GetTree(ctx, h.repo, cc.Tree)
		if err != nil {
			if plumbing.IsNoSuchObject(err) {
				return &ErrCorruptRepository{Hash: cc.Tree}
			}
			return err
		}
		if err := h.traverseForCount(ctx, tree, existObjs, countedObj, &objNum); err != nil {
			return err
		}
	}
	objNum += uint64(len(newCommits))

	sender := make(chan *object.Entry, 64)
	encoder := pack.NewEncoder(w, uint32(objNum))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return encoder.Encode(gctx, sender)
	})
	g.Go(func() error {
		defer close(sender)
		for _, cc := range newCommits {
			if existObjs.Contains(cc.Tree.String()) {
				continue
			}
			tree, err := h.store.GetTree(gctx, h.repo, cc.Tree)
			if err != nil {
				if plumbing.IsNoSuchObject(err) {
					return &ErrCorruptRepository{Hash: cc.Tree}
				}
				return err
			}
			existObjs.Add(cc.Tree.String())
			if err := h.traverse(gctx, tree, existObjs, sender); err != nil {
				return err
			}
		}
		for _, cc := range newCommits {
			if err := sendEncoder(gctx, sender, object.CommitObject, cc); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}
