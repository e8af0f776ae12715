// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/sirupsen/logrus"
)

func (s *mysqlStore) GetOpenMR(ctx context.Context, path string) (*MergeRequest, error) {
	var mr MergeRequest
	var fromHash, toHash string
	err := s.db.QueryRowContext(ctx,
		"select id, path, from_hash, to_hash, status, created_at, updated_at from merge_request where path = ? and status = ?",
		path, string(MergeRequestOpen)).Scan(&mr.ID, &mr.Path, &fromHash, &toHash, &mr.Status, &mr.CreatedAt, &mr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	mr.FromHash = plumbing.NewHash(fromHash)
	mr.ToHash = plumbing.NewHash(toHash)
	return &mr, nil
}

// SaveMR persists a new merge request and stamps it with its row id. Only
// one Open request may exist per path.
func (s *mysqlStore) SaveMR(ctx context.Context, mr *MergeRequest) error {
	now := time.Now()
	mr.Status = MergeRequestOpen
	mr.CreatedAt = now
	mr.UpdatedAt = now
	result, err := s.db.ExecContext(ctx,
		"insert into merge_request(path, from_hash, to_hash, status, created_at, updated_at) values(?, ?, ?, ?, ?, ?)",
		mr.Path, mr.FromHash.String(), mr.ToHash.String(), string(mr.Status), now, now)
	if err != nil {
		return wrapUnavailable(err)
	}
	mr.ID, _ = result.LastInsertId()
	return nil
}

func (s *mysqlStore) UpdateMRStatus(ctx context.Context, id int64, status MergeRequestStatus) error {
	result, err := s.db.ExecContext(ctx,
		"update merge_request set status = ?, updated_at = ? where id = ?",
		string(status), time.Now(), id)
	if err != nil {
		return wrapUnavailable(err)
	}
	if a, err := result.RowsAffected(); err != nil {
		return wrapUnavailable(err)
	} else if a == 0 {
		return fmt.Errorf("merge request %d not found", id)
	}
	return nil
}

// MergeMR adopts a reviewed merge request: the staged mega-trees become
// canonical trees, a merge commit is minted on the staged root tree, the
// "/" ref advances, and the request transitions to Merged. One
// transaction covers the adoption so readers never observe a partial
// state. Closed requests leave their mega-trees orphaned for GC.
func (s *mysqlStore) MergeMR(ctx context.Context, id int64) error {
	unlock := s.lockRef(MonoRepoPath, plumbing.MEGA_BRANCH_NAME)
	defer unlock()

	var mr MergeRequest
	var fromHash, toHash string
	err := s.db.QueryRowContext(ctx,
		"select id, path, from_hash, to_hash, status from merge_request where id = ?",
		id).Scan(&mr.ID, &mr.Path, &fromHash, &toHash, &mr.Status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("merge request %d not found", id)
	}
	if err != nil {
		return wrapUnavailable(err)
	}
	if mr.Status != MergeRequestOpen {
		return fmt.Errorf("merge request %d is not open", id)
	}

	var rootTree string
	err = s.db.QueryRowContext(ctx,
		"select hash from mega_tree where mr_id = ? and full_path = ? order by id desc limit 1",
		id, MonoRepoPath).Scan(&rootTree)
	if err == sql.ErrNoRows {
		return NewConversionError("Can't find parent tree")
	}
	if err != nil {
		return wrapUnavailable(err)
	}

	refs, err := s.GetRefs(ctx, MonoRepoPath)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return &ErrRevisionNotFound{Revision: MonoRepoPath}
	}
	root := refs[0]
	for _, ref := range refs {
		if ref.DefaultBranch {
			root = ref
		}
	}

	now := time.Now()
	sig := object.Signature{Name: "mono", Email: "mono@localhost", When: now}
	cc := &object.Commit{
		Tree:      plumbing.NewHash(rootTree),
		Parents:   []plumbing.Hash{root.CommitHash},
		Author:    sig,
		Committer: sig,
		Message:   fmt.Sprintf("Merge request %d for path '%s'\n", mr.ID, mr.Path),
	}
	cc.Hash = object.Hash(object.CommitObject, cc)
	bindata, err := encodeBindata(cc)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapUnavailable(err)
	}
	if _, err := tx.ExecContext(ctx,
		"insert into trees(repo_path, hash, bindata, created_at) select ?, hash, bindata, ? from mega_tree where mr_id = ? ON DUPLICATE KEY UPDATE hash = hash",
		MonoRepoPath, now, id); err != nil {
		_ = tx.Rollback()
		return wrapUnavailable(err)
	}
	if _, err := tx.ExecContext(ctx,
		"insert into commits(repo_path, hash, tree_hash, parents, author, committer, bindata, created_at) values(?, ?, ?, ?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE hash = hash",
		MonoRepoPath, cc.Hash.String(), cc.Tree.String(), joinParents(cc), sig.Email, sig.Email, bindata, now); err != nil {
		_ = tx.Rollback()
		return wrapUnavailable(err)
	}
	if err := updateRefTx(ctx, tx, MonoRepoPath, root.Name, cc.Hash, cc.Tree); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"update mega_tree set status = ? where mr_id = ?", string(MergeRequestMerged), id); err != nil {
		_ = tx.Rollback()
		return wrapUnavailable(err)
	}
	if _, err := tx.ExecContext(ctx,
		"update merge_request set status = ?, updated_at = ? where id = ?",
		string(MergeRequestMerged), now, id); err != nil {
		_ = tx.Rollback()
		return wrapUnavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapUnavailable(err)
	}
	logrus.Infof("[MR-%d] merged, root ref now %s", id, cc.Hash)
	return nil
}
