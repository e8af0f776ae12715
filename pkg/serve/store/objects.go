// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
)

func decodeBindata(t object.ObjectType, oid plumbing.Hash, bindata string) (any, error) {
	body, err := base64.StdEncoding.DecodeString(bindata)
	if err != nil {
		return nil, fmt.Errorf("decode object '%s' error: %w", oid, err)
	}
	return object.Decode(t, oid, body)
}

func (s *mysqlStore) GetCommit(ctx context.Context, repo string, oid plumbing.Hash) (*object.Commit, error) {
	if cc, err := s.cache.Commit(ctx, repo, oid); err == nil {
		return cc, nil
	}
	var bindata string
	err := s.db.QueryRowContext(ctx, "select bindata from commits where repo_path = ? and hash = ?",
		repo, oid.String()).Scan(&bindata)
	if err == sql.ErrNoRows {
		return nil, plumbing.NoSuchObject(oid)
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	a, err := decodeBindata(object.CommitObject, oid, bindata)
	if err != nil {
		return nil, err
	}
	cc := a.(*object.Commit)
	_ = s.cache.Store(ctx, repo, cc)
	return cc, nil
}

func (s *mysqlStore) GetTree(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tree, error) {
	if t, err := s.cache.Tree(ctx, repo, oid); err == nil {
		return t, nil
	}
	var bindata string
	err := s.db.QueryRowContext(ctx, "select bindata from trees where repo_path = ? and hash = ?",
		repo, oid.String()).Scan(&bindata)
	if err == sql.ErrNoRows {
		return nil, plumbing.NoSuchObject(oid)
	}
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	a, err := decodeBindata(object.TreeObject, oid, bindata)
	if err != nil {
		return nil, err
	}
	t := a.(*object.Tree)
	_ = s.cache.Store(ctx, repo, t)
	return t, nil
}

func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *mysqlStore) GetTreesByHashes(ctx context.Context, repo string, oids []plumbing.Hash) ([]*object.Tree, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(oids)+1)
	args = append(args, repo)
	for _, oid := range oids {
		args = append(args, oid.String())
	}
	rows, err := s.db.QueryContext(ctx,
		"select hash, bindata from trees where repo_path = ? and hash in ("+inClause(len(oids))+")", args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	trees := make([]*object.Tree, 0, len(oids))
	for rows.Next() {
		var hash, bindata string
		if err := rows.Scan(&hash, &bindata); err != nil {
			return nil, wrapUnavailable(err)
		}
		a, err := decodeBindata(object.TreeObject, plumbing.NewHash(hash), bindata)
		if err != nil {
			return nil, err
		}
		trees = append(trees, a.(*object.Tree))
	}
	return trees, rows.Err()
}

func (s *mysqlStore) GetBlobsByHashes(ctx context.Context, oids []plumbing.Hash) ([]*object.Blob, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(oids))
	for _, oid := range oids {
		args = append(args, oid.String())
	}
	rows, err := s.db.QueryContext(ctx,
		"select sha1, content from raw_blob where sha1 in ("+inClause(len(oids))+")", args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	blobs := make([]*object.Blob, 0, len(oids))
	for rows.Next() {
		var hash string
		var content []byte
		if err := rows.Scan(&hash, &content); err != nil {
			return nil, wrapUnavailable(err)
		}
		blobs = append(blobs, &object.Blob{Hash: plumbing.NewHash(hash), Content: content})
	}
	return blobs, rows.Err()
}

func (s *mysqlStore) GetCommitsByRepo(ctx context.Context, repo string) ([]*object.Commit, error) {
	rows, err := s.db.QueryContext(ctx, "select hash, bindata from commits where repo_path = ?", repo)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	var commits []*object.Commit
	for rows.Next() {
		var hash, bindata string
		if err := rows.Scan(&hash, &bindata); err != nil {
			return nil, wrapUnavailable(err)
		}
		a, err := decodeBindata(object.CommitObject, plumbing.NewHash(hash), bindata)
		if err != nil {
			return nil, err
		}
		commits = append(commits, a.(*object.Commit))
	}
	return commits, rows.Err()
}

func (s *mysqlStore) GetTreesByRepo(ctx context.Context, repo string) ([]*object.Tree, error) {
	rows, err := s.db.QueryContext(ctx, "select hash, bindata from trees where repo_path = ?", repo)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	var trees []*object.Tree
	for rows.Next() {
		var hash, bindata string
		if err := rows.Scan(&hash, &bindata); err != nil {
			return nil, wrapUnavailable(err)
		}
		a, err := decodeBindata(object.TreeObject, plumbing.NewHash(hash), bindata)
		if err != nil {
			return nil, err
		}
		trees = append(trees, a.(*object.Tree))
	}
	return trees, rows.Err()
}

func (s *mysqlStore) GetBlobsByRepo(ctx context.Context, repo string) ([]*object.Blob, error) {
	rows, err := s.db.QueryContext(ctx,
		"select b.sha1, b.content from raw_blob b join repo_blob r on r.sha1 = b.sha1 where r.repo_path = ?", repo)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	var blobs []*object.Blob
	for rows.Next() {
		var hash string
		var content []byte
		if err := rows.Scan(&hash, &content); err != nil {
			return nil, wrapUnavailable(err)
		}
		blobs = append(blobs, &object.Blob{Hash: plumbing.NewHash(hash), Content: content})
	}
	return blobs, rows.Err()
}

func (s *mysqlStore) GetTagsByRepo(ctx context.Context, repo string) ([]*object.Tag, error) {
	rows, err := s.db.QueryContext(ctx, "select hash, bindata from tags where repo_path = ?", repo)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	var tags []*object.Tag
	for rows.Next() {
		var hash, bindata string
		if err := rows.Scan(&hash, &bindata); err != nil {
			return nil, wrapUnavailable(err)
		}
		a, err := decodeBindata(object.TagObject, plumbing.NewHash(hash), bindata)
		if err != nil {
			return nil, err
		}
		tags = append(tags, a.(*object.Tag))
	}
	return tags, rows.Err()
}

func (s *mysqlStore) GetObjCount(ctx context.Context, repo string) (uint64, error) {
	var total uint64
	for _, q := range []string{
		"select count(*) from commits where repo_path = ?",
		"select count(*) from trees where repo_path = ?",
		"select count(*) from repo_blob where repo_path = ?",
		"select count(*) from tags where repo_path = ?",
	} {
		var n uint64
		if err := s.db.QueryRowContext(ctx, q, repo).Scan(&n); err != nil {
			return 0, wrapUnavailable(err)
		}
		total += n
	}
	return total, nil
}

func (s *mysqlStore) HasCommit(ctx context.Context, repo string, oid plumbing.Hash) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "select count(*) from commits where repo_path = ? and hash = ?",
		repo, oid.String()).Scan(&n)
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return n > 0, nil
}

// GetTreeByPath walks from the commit's root tree down the given
// slash-separated path. The empty path (or "/") resolves to the root tree
// itself.
func (s *mysqlStore) GetTreeByPath(ctx context.Context, repo string, refCommit plumbing.Hash, path string) (*object.Tree, error) {
	cc, err := s.GetCommit(ctx, repo, refCommit)
	if err != nil {
		return nil, err
	}
	tree, err := s.GetTree(ctx, repo, cc.Tree)
	if err != nil {
		return nil, err
	}
	for _, component := range splitPath(path) {
		entry, err := tree.Entry(component)
		if err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			return nil, object.ErrUnsupportedObject
		}
		if tree, err = s.GetTree(ctx, repo, entry.Hash); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// splitPath breaks a slash-separated path into its components. Path
// components are OS-independent: no platform separators appear on the
// wire.
func splitPath(p string) []string {
	var components []string
	for _, c := range strings.Split(p, "/") {
		if c != "" {
			components = append(components, c)
		}
	}
	return components
}
