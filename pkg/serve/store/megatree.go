// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"path"
	"strings"
	"time"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/sirupsen/logrus"
)

// rootTreeName tags the mega-tree row staged for "/" itself.
const rootTreeName = "root"

// treeResolver is the slice of the store the ancestor rewrite needs.
type treeResolver interface {
	TreeByPath(ctx context.Context, refCommit plumbing.Hash, p string) (*object.Tree, error)
	TreeByHash(ctx context.Context, oid plumbing.Hash) (*object.Tree, error)
}

func megaRow(mr *MergeRequest, fullPath, name string, tree *object.Tree) (*MegaTree, error) {
	var b bytes.Buffer
	if err := tree.Encode(&b); err != nil {
		return nil, err
	}
	return &MegaTree{
		Hash:     tree.Hash,
		MRID:     mr.ID,
		Status:   mr.Status,
		FullPath: fullPath,
		Name:     name,
		Items:    b.Bytes(),
	}, nil
}

// rewriteAncestorRows stages the pushed subtree and every rewritten
// ancestor from its parent up to root. Each ancestor re-links the child
// whose name matches the next path component and gains a new hash; the
// chain is returned leaf-first. Names match by exact UTF-8 equality.
func rewriteAncestorRows(ctx context.Context, r treeResolver, root *Ref, mr *MergeRequest, p string, newHash plumbing.Hash) ([]*MegaTree, error) {
	p = normalizePath(p)
	if p == MonoRepoPath {
		return nil, NewConversionError("Can't rewrite the repository root")
	}

	sub, err := r.TreeByHash(ctx, newHash)
	if err != nil {
		return nil, NewConversionError("Can't find child")
	}
	row, err := megaRow(mr, p, path.Base(p), sub)
	if err != nil {
		return nil, err
	}
	rows := []*MegaTree{row}

	targetName := path.Base(p)
	targetHash := newHash
	for parent := path.Dir(p); ; parent = path.Dir(parent) {
		ptree, err := r.TreeByPath(ctx, root.CommitHash, parent)
		if err != nil {
			return nil, NewConversionError("Can't find parent tree")
		}
		newParent, ok := ptree.Replace(targetName, targetHash)
		if !ok {
			return nil, NewConversionError("Can't find child")
		}
		name := path.Base(parent)
		if parent == MonoRepoPath {
			name = rootTreeName
		}
		if row, err = megaRow(mr, parent, name, newParent); err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if parent == MonoRepoPath {
			break
		}
		targetName = path.Base(parent)
		targetHash = newParent.Hash
	}
	return rows, nil
}

func normalizePath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

type storeResolver struct {
	s *mysqlStore
}

func (r storeResolver) TreeByPath(ctx context.Context, refCommit plumbing.Hash, p string) (*object.Tree, error) {
	return r.s.GetTreeByPath(ctx, MonoRepoPath, refCommit, p)
}

func (r storeResolver) TreeByHash(ctx context.Context, oid plumbing.Hash) (*object.Tree, error) {
	return r.s.GetTree(ctx, MonoRepoPath, oid)
}

func (s *mysqlStore) RewriteAncestors(ctx context.Context, mr *MergeRequest, p string, newHash plumbing.Hash) error {
	refs, err := s.GetRefs(ctx, MonoRepoPath)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return NewConversionError("Can't find parent tree")
	}
	root := refs[0]
	for _, ref := range refs {
		if ref.DefaultBranch {
			root = ref
		}
	}
	rows, err := rewriteAncestorRows(ctx, storeResolver{s: s}, root, mr, p, newHash)
	if err != nil {
		return err
	}
	if err := s.saveMegaTrees(ctx, rows); err != nil {
		return err
	}
	logrus.Infof("[MR-%d] staged %d mega trees for '%s'", mr.ID, len(rows), p)
	return nil
}

// saveMegaTrees writes one rewrite chain in a single transaction; readers
// never observe a partial ancestor chain.
func (s *mysqlStore) saveMegaTrees(ctx context.Context, rows []*MegaTree) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapUnavailable(err)
	}
	now := time.Now()
	var args []any
	for _, row := range rows {
		args = append(args, row.Hash.String(), row.MRID, string(row.Status), row.FullPath, row.Name,
			base64.StdEncoding.EncodeToString(row.Items), now)
	}
	sb := strings.Builder{}
	sb.WriteString("insert into mega_tree(hash, mr_id, status, full_path, name, bindata, created_at) values(?, ?, ?, ?, ?, ?, ?)")
	sb.WriteString(strings.Repeat(", (?, ?, ?, ?, ?, ?, ?)", len(rows)-1))
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		_ = tx.Rollback()
		return wrapUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}
