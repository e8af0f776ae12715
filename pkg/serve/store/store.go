// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/go-sql-driver/mysql"
)

// Storage persists and retrieves content-addressed objects, per-path refs
// and merge-request state. All operations check out one connection from
// the shared pool and honor ctx.
type Storage interface {
	// SaveEntries persists one decoded batch transactionally. Batches
	// beyond 1000 entries are chunked. Re-saving the same entries is
	// idempotent: identical bytes carry identical names.
	SaveEntries(ctx context.Context, repo string, mr *MergeRequest, entries []*object.Entry) error

	GetCommit(ctx context.Context, repo string, oid plumbing.Hash) (*object.Commit, error)
	GetTree(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tree, error)
	GetTreesByHashes(ctx context.Context, repo string, oids []plumbing.Hash) ([]*object.Tree, error)
	GetBlobsByHashes(ctx context.Context, oids []plumbing.Hash) ([]*object.Blob, error)
	GetCommitsByRepo(ctx context.Context, repo string) ([]*object.Commit, error)
	GetTreesByRepo(ctx context.Context, repo string) ([]*object.Tree, error)
	GetBlobsByRepo(ctx context.Context, repo string) ([]*object.Blob, error)
	GetTagsByRepo(ctx context.Context, repo string) ([]*object.Tag, error)
	GetObjCount(ctx context.Context, repo string) (uint64, error)
	HasCommit(ctx context.Context, repo string, oid plumbing.Hash) (bool, error)

	// GetTreeByPath resolves the tree at a slash-separated path below the
	// given commit's root tree.
	GetTreeByPath(ctx context.Context, repo string, refCommit plumbing.Hash, path string) (*object.Tree, error)

	GetRefs(ctx context.Context, path string) ([]*Ref, error)
	SaveRef(ctx context.Context, ref *Ref) error
	DoRefUpdate(ctx context.Context, path string, cmd *RefCommand) (*Ref, error)

	GetOpenMR(ctx context.Context, path string) (*MergeRequest, error)
	SaveMR(ctx context.Context, mr *MergeRequest) error
	UpdateMRStatus(ctx context.Context, id int64, status MergeRequestStatus) error
	// MergeMR adopts the staged mega-trees of an open request, advances
	// the root ref and marks the request merged.
	MergeMR(ctx context.Context, id int64) error

	// RewriteAncestors stages, under the given merge request, a new tree
	// row for every ancestor of path up to root, each re-linked to its
	// just-rewritten child.
	RewriteAncestors(ctx context.Context, mr *MergeRequest, path string, newHash plumbing.Hash) error

	Close() error
}

type mysqlStore struct {
	db    *sql.DB
	cache CacheDB

	refLocks sync.Map // ref path/name -> *sync.Mutex
}

var (
	_ Storage = &mysqlStore{}
)

func NewStorage(cfg *mysql.Config, cache CacheDB) (Storage, error) {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("new connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxIdleConns(25)
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(5 * time.Minute)
	s := &mysqlStore{db: db, cache: cache}
	return s, nil
}

func (s *mysqlStore) Close() error {
	return s.db.Close()
}

// lockRef serializes ref writes per name.
func (s *mysqlStore) lockRef(path, name string) func() {
	v, _ := s.refLocks.LoadOrStore(path+"\x00"+name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
