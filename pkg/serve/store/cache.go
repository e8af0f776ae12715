// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/dgraph-io/ristretto/v2"
)

func cacheKey(repo string, oid plumbing.Hash) string {
	return fmt.Sprintf("%s/%s", repo, oid)
}

// CacheDB keeps recently-decoded objects in front of the database.
type CacheDB interface {
	Commit(ctx context.Context, repo string, oid plumbing.Hash) (*object.Commit, error)
	Tree(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tree, error)
	Tag(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tag, error)
	Store(ctx context.Context, repo string, a any) error
}

type cacheDB struct {
	*ristretto.Cache[string, any]
}

func NewCacheDB(numCounters int64, maxCost int64, bufferItems int64) (CacheDB, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: numCounters,
		MaxCost:     maxCost << 30,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("unable initialize memory cache, error: %w", err)
	}
	return &cacheDB{Cache: c}, nil
}

func (d *cacheDB) Commit(ctx context.Context, repo string, oid plumbing.Hash) (*object.Commit, error) {
	if o, ok := d.Get(cacheKey(repo, oid)); ok {
		if c, ok := o.(*object.Commit); ok {
			return c, nil
		}
	}
	return nil, plumbing.NoSuchObject(oid)
}

func (d *cacheDB) Tree(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tree, error) {
	if o, ok := d.Get(cacheKey(repo, oid)); ok {
		if t, ok := o.(*object.Tree); ok {
			return t, nil
		}
	}
	return nil, plumbing.NoSuchObject(oid)
}

func (d *cacheDB) Tag(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tag, error) {
	if o, ok := d.Get(cacheKey(repo, oid)); ok {
		if t, ok := o.(*object.Tag); ok {
			return t, nil
		}
	}
	return nil, plumbing.NoSuchObject(oid)
}

var (
	ErrUncacheableObject = errors.New("uncacheable object")
)

func (d *cacheDB) Store(ctx context.Context, repo string, a any) error {
	switch v := a.(type) {
	case *object.Commit:
		_ = d.Set(cacheKey(repo, v.Hash), v, 1)
	case *object.Tree:
		d.SetWithTTL(cacheKey(repo, v.Hash), v, 1, time.Hour*24)
	case *object.Tag:
		_ = d.Set(cacheKey(repo, v.Hash), v, 1)
	default:
		return ErrUncacheableObject
	}
	return nil
}

// nopCache is used when no cache budget was configured.
type nopCache struct{}

func (nopCache) Commit(ctx context.Context, repo string, oid plumbing.Hash) (*object.Commit, error) {
	return nil, plumbing.NoSuchObject(oid)
}

func (nopCache) Tree(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tree, error) {
	return nil, plumbing.NoSuchObject(oid)
}

func (nopCache) Tag(ctx context.Context, repo string, oid plumbing.Hash) (*object.Tag, error) {
	return nil, plumbing.NoSuchObject(oid)
}

func (nopCache) Store(ctx context.Context, repo string, a any) error {
	return nil
}

// NewNopCache returns a CacheDB that caches nothing.
func NewNopCache() CacheDB {
	return nopCache{}
}
