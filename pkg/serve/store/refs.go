// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/antgroup/mono/modules/plumbing"
)

func (s *mysqlStore) GetRefs(ctx context.Context, path string) ([]*Ref, error) {
	rows, err := s.db.QueryContext(ctx,
		"select path, name, commit_hash, tree_hash, default_branch from refs where path = ?", path)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	var refs []*Ref
	for rows.Next() {
		var r Ref
		var commitHash, treeHash string
		if err := rows.Scan(&r.Path, &r.Name, &commitHash, &treeHash, &r.DefaultBranch); err != nil {
			return nil, wrapUnavailable(err)
		}
		r.CommitHash = plumbing.NewHash(commitHash)
		r.TreeHash = plumbing.NewHash(treeHash)
		refs = append(refs, &r)
	}
	return refs, rows.Err()
}

func (s *mysqlStore) SaveRef(ctx context.Context, ref *Ref) error {
	unlock := s.lockRef(ref.Path, ref.Name)
	defer unlock()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		"insert into refs(path, name, commit_hash, tree_hash, default_branch, created_at, updated_at) values(?, ?, ?, ?, ?, ?, ?)",
		ref.Path, ref.Name, ref.CommitHash.String(), ref.TreeHash.String(), ref.DefaultBranch, now, now)
	if IsDupEntry(err) {
		return &ErrAlreadyLocked{Reference: ref.Name}
	}
	if err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *mysqlStore) doCreateRef(ctx context.Context, path string, cmd *RefCommand) (*Ref, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		"insert into refs(path, name, commit_hash, tree_hash, default_branch, created_at, updated_at) values(?, ?, ?, ?, ?, ?, ?)",
		path, cmd.RefName, cmd.NewRev, plumbing.ZERO_OID, false, now, now)
	if IsDupEntry(err) {
		return nil, &ErrAlreadyLocked{Reference: cmd.RefName}
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if a, err := result.RowsAffected(); err != nil || a == 0 {
		return nil, &ErrAlreadyLocked{Reference: cmd.RefName}
	}
	return &Ref{Path: path, Name: cmd.RefName, CommitHash: plumbing.NewHash(cmd.NewRev)}, nil
}

func (s *mysqlStore) doRemoveRef(ctx context.Context, path string, cmd *RefCommand) (*Ref, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("new tx error: %v", err)
	}
	var oldRev string
	if err := tx.QueryRowContext(ctx, "select commit_hash from refs where path = ? and name = ?",
		path, cmd.RefName).Scan(&oldRev); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, &ErrRevisionNotFound{Revision: cmd.RefName}
		}
		return nil, wrapUnavailable(err)
	}
	if cmd.OldRev != oldRev {
		_ = tx.Rollback()
		return nil, &ErrAlreadyLocked{Reference: cmd.RefName}
	}
	result, err := tx.ExecContext(ctx, "delete from refs where path = ? and name = ? and commit_hash = ?",
		path, cmd.RefName, cmd.OldRev)
	if err != nil {
		_ = tx.Rollback()
		return nil, wrapUnavailable(err)
	}
	if a, err := result.RowsAffected(); err != nil || a == 0 {
		_ = tx.Rollback()
		return nil, &ErrAlreadyLocked{Reference: cmd.RefName}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return &Ref{Path: path, Name: cmd.RefName, CommitHash: plumbing.NewHash(cmd.OldRev)}, nil
}

// DoRefUpdate advances, creates or deletes one ref with compare-and-swap
// semantics against OldRev. Writes to the same ref name are serialized.
func (s *mysqlStore) DoRefUpdate(ctx context.Context, path string, cmd *RefCommand) (*Ref, error) {
	unlock := s.lockRef(path, cmd.RefName)
	defer unlock()
	if cmd.IsCreate() {
		return s.doCreateRef(ctx, path, cmd)
	}
	if cmd.IsDelete() {
		return s.doRemoveRef(ctx, path, cmd)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("new tx error: %v", err)
	}
	var oldRev string
	if err := tx.QueryRowContext(ctx, "select commit_hash from refs where path = ? and name = ?",
		path, cmd.RefName).Scan(&oldRev); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, &ErrRevisionNotFound{Revision: cmd.RefName}
		}
		return nil, wrapUnavailable(err)
	}
	if cmd.OldRev != oldRev {
		_ = tx.Rollback()
		return nil, &ErrAlreadyLocked{Reference: cmd.RefName}
	}
	result, err := tx.ExecContext(ctx,
		"update refs set commit_hash = ?, updated_at = ? where path = ? and name = ? and commit_hash = ?",
		cmd.NewRev, time.Now(), path, cmd.RefName, cmd.OldRev)
	if err != nil {
		_ = tx.Rollback()
		return nil, wrapUnavailable(err)
	}
	if a, err := result.RowsAffected(); err != nil || a == 0 {
		_ = tx.Rollback()
		return nil, &ErrAlreadyLocked{Reference: cmd.RefName}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return &Ref{Path: path, Name: cmd.RefName, CommitHash: plumbing.NewHash(cmd.NewRev)}, nil
}

// updateRefTx rewrites a ref inside an ongoing transaction, used by the
// merge-request adoption path.
func updateRefTx(ctx context.Context, tx *sql.Tx, path, name string, commitHash, treeHash plumbing.Hash) error {
	result, err := tx.ExecContext(ctx,
		"update refs set commit_hash = ?, tree_hash = ?, updated_at = ? where path = ? and name = ?",
		commitHash.String(), treeHash.String(), time.Now(), path, name)
	if err != nil {
		return wrapUnavailable(err)
	}
	if a, err := result.RowsAffected(); err != nil {
		return wrapUnavailable(err)
	} else if a == 0 {
		return &ErrRevisionNotFound{Revision: name}
	}
	return nil
}
