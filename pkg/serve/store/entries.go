// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"strings"
	"time"

	"github.com/antgroup/mono/modules/object"
	"github.com/sirupsen/logrus"
)

const (
	// batchSize is the canonical transactional batch; larger inputs are
	// chunked.
	batchSize = 1000
	// multiRowGroup bounds one multi-row INSERT statement.
	multiRowGroup = 10
)

func (s *mysqlStore) SaveEntries(ctx context.Context, repo string, mr *MergeRequest, entries []*object.Entry) error {
	now := time.Now()
	for len(entries) > 0 {
		g := min(len(entries), batchSize)
		if err := s.saveEntryBatch(ctx, repo, entries[:g]); err != nil {
			return err
		}
		entries = entries[g:]
	}
	if mr != nil {
		logrus.Infof("[MR-%d] entries saved for '%s' in %v", mr.ID, repo, time.Since(now))
	}
	return nil
}

func (s *mysqlStore) saveEntryBatch(ctx context.Context, repo string, entries []*object.Entry) error {
	var commits []*object.Commit
	var trees []*object.Tree
	var tags []*object.Tag
	var blobs []*object.Blob
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
			commits = append(commits, cc)
		case object.TreeObject:
			t, err := e.Tree()
			if err != nil {
				return err
			}
			trees = append(trees, t)
		case object.TagObject:
			t, err := e.Tag()
			if err != nil {
				return err
			}
			tags = append(tags, t)
		case object.BlobObject:
			blobs = append(blobs, &object.Blob{Hash: e.Hash, Content: e.Data})
		default:
			return object.ErrUnsupportedObject
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapUnavailable(err)
	}
	if err := batchInsertCommits(ctx, tx, repo, commits); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := batchInsertTrees(ctx, tx, repo, trees); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := batchInsertTags(ctx, tx, repo, tags); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := batchInsertBlobs(ctx, tx, repo, blobs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapUnavailable(err)
	}

	for _, cc := range commits {
		_ = s.cache.Store(ctx, repo, cc)
	}
	for _, t := range trees {
		_ = s.cache.Store(ctx, repo, t)
	}
	for _, t := range tags {
		_ = s.cache.Store(ctx, repo, t)
	}
	return nil
}

func encodeBindata(e object.Encoder) (string, error) {
	var sb strings.Builder
	b64 := base64.NewEncoder(base64.StdEncoding, &sb)
	if err := e.Encode(b64); err != nil {
		return "", err
	}
	if err := b64.Close(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func joinParents(cc *object.Commit) string {
	parents := make([]string, 0, len(cc.Parents))
	for _, p := range cc.Parents {
		parents = append(parents, p.String())
	}
	return strings.Join(parents, " ")
}

func batchInsertCommits(ctx context.Context, tx *sql.Tx, repo string, commits []*object.Commit) error {
	batchFn := func(cs []*object.Commit) error {
		if len(cs) == 0 {
			return nil
		}
		now := time.Now()
		var args []any
		for _, c := range cs {
			bindata, err := encodeBindata(c)
			if err != nil {
				return err
			}
			args = append(args, repo, c.Hash.String(), c.Tree.String(), joinParents(c),
				c.Author.Email, c.Committer.Email, bindata, now)
		}
		sb := strings.Builder{}
		sb.WriteString("insert into commits(repo_path, hash, tree_hash, parents, author, committer, bindata, created_at) values(?, ?, ?, ?, ?, ?, ?, ?)")
		sb.WriteString(strings.Repeat(", (?, ?, ?, ?, ?, ?, ?, ?)", len(cs)-1))
		sb.WriteString(" ON DUPLICATE KEY UPDATE hash = hash")
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	}
	for len(commits) > 0 {
		g := min(len(commits), multiRowGroup)
		if err := batchFn(commits[:g]); err != nil {
			return err
		}
		commits = commits[g:]
	}
	return nil
}

func batchInsertTrees(ctx context.Context, tx *sql.Tx, repo string, trees []*object.Tree) error {
	batchFn := func(ts []*object.Tree) error {
		if len(ts) == 0 {
			return nil
		}
		now := time.Now()
		var args []any
		for _, t := range ts {
			bindata, err := encodeBindata(t)
			if err != nil {
				return err
			}
			args = append(args, repo, t.Hash.String(), bindata, now)
		}
		sb := strings.Builder{}
		sb.WriteString("insert into trees(repo_path, hash, bindata, created_at) values(?, ?, ?, ?)")
		sb.WriteString(strings.Repeat(", (?, ?, ?, ?)", len(ts)-1))
		sb.WriteString(" ON DUPLICATE KEY UPDATE hash = hash")
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	}
	for len(trees) > 0 {
		g := min(len(trees), multiRowGroup)
		if err := batchFn(trees[:g]); err != nil {
			return err
		}
		trees = trees[g:]
	}
	return nil
}

func batchInsertTags(ctx context.Context, tx *sql.Tx, repo string, tags []*object.Tag) error {
	batchFn := func(ts []*object.Tag) error {
		if len(ts) == 0 {
			return nil
		}
		now := time.Now()
		var args []any
		for _, t := range ts {
			bindata, err := encodeBindata(t)
			if err != nil {
				return err
			}
			args = append(args, repo, t.Hash.String(), t.Object.String(), t.ObjectType.String(),
				t.Name, t.Tagger.String(), bindata, now)
		}
		sb := strings.Builder{}
		sb.WriteString("insert into tags(repo_path, hash, object_id, kind, name, tagger, bindata, created_at) values(?, ?, ?, ?, ?, ?, ?, ?)")
		sb.WriteString(strings.Repeat(", (?, ?, ?, ?, ?, ?, ?, ?)", len(ts)-1))
		sb.WriteString(" ON DUPLICATE KEY UPDATE hash = hash")
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	}
	for len(tags) > 0 {
		g := min(len(tags), multiRowGroup)
		if err := batchFn(tags[:g]); err != nil {
			return err
		}
		tags = tags[g:]
	}
	return nil
}

func batchInsertBlobs(ctx context.Context, tx *sql.Tx, repo string, blobs []*object.Blob) error {
	batchFn := func(bs []*object.Blob) error {
		if len(bs) == 0 {
			return nil
		}
		var args []any
		for _, b := range bs {
			args = append(args, b.Hash.String(), b.Content, b.Size())
		}
		sb := strings.Builder{}
		sb.WriteString("insert into raw_blob(sha1, content, size) values(?, ?, ?)")
		sb.WriteString(strings.Repeat(", (?, ?, ?)", len(bs)-1))
		sb.WriteString(" ON DUPLICATE KEY UPDATE sha1 = sha1")
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
		args = args[:0]
		for _, b := range bs {
			args = append(args, repo, b.Hash.String(), b.Size())
		}
		sb.Reset()
		sb.WriteString("insert into repo_blob(repo_path, sha1, size) values(?, ?, ?)")
		sb.WriteString(strings.Repeat(", (?, ?, ?)", len(bs)-1))
		sb.WriteString(" ON DUPLICATE KEY UPDATE sha1 = sha1")
		_, err := tx.ExecContext(ctx, sb.String(), args...)
		return err
	}
	for len(blobs) > 0 {
		g := min(len(blobs), multiRowGroup)
		if err := batchFn(blobs[:g]); err != nil {
			return err
		}
		blobs = blobs[g:]
	}
	return nil
}
