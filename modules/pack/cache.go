// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/antgroup/mono/modules/object"
	"github.com/antgroup/mono/modules/plumbing"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

const (
	cacheNumCounters = 1 << 20
	cacheBufferItems = 64
)

// resolvedCache holds fully-resolved objects during one pack decode, keyed
// by object name and by pack offset. A size-bounded hot layer keeps recent
// bodies in memory; every body is also written through to a spill
// directory so evicted objects stay resolvable. The spill subdirectory is
// exclusively owned by this decode; concurrent decoders get disjoint
// UUID-named subdirectories.
type resolvedCache struct {
	hot     *ristretto.Cache[string, []byte]
	dir     string
	clean   bool
	offsets map[int64]plumbing.Hash
	metrics *decodeMetrics
	high    int64
}

const defaultCacheBytes = 4 << 30

func newResolvedCache(maxBytes int64, root string, clean bool) (*resolvedCache, error) {
	if maxBytes <= 0 {
		maxBytes = defaultCacheBytes
	}
	hot, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cacheNumCounters,
		MaxCost:     maxBytes,
		BufferItems: cacheBufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable initialize resolved cache, error: %w", err)
	}
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		hot.Close()
		return nil, fmt.Errorf("create spill dir error: %w", err)
	}
	return &resolvedCache{
		hot:     hot,
		dir:     dir,
		clean:   clean,
		offsets: make(map[int64]plumbing.Hash),
		metrics: getDefaultDecodeMetrics(),
	}, nil
}

func (c *resolvedCache) spillPath(oid plumbing.Hash) string {
	return filepath.Join(c.dir, oid.String())
}

// put records a resolved object under its name and pack offset. Bodies are
// stored with a one-byte kind prefix so delta application can recover the
// base type after a round trip through disk.
func (c *resolvedCache) put(oid plumbing.Hash, offset int64, t object.ObjectType, body []byte) error {
	c.offsets[offset] = oid
	blob := make([]byte, 0, len(body)+1)
	blob = append(blob, byte(t))
	blob = append(blob, body...)
	if _, err := os.Stat(c.spillPath(oid)); os.IsNotExist(err) {
		if err := os.WriteFile(c.spillPath(oid), blob, 0644); err != nil {
			return fmt.Errorf("spill object '%s' error: %w", oid, err)
		}
		c.metrics.spilledObjects.Inc()
	}
	_ = c.hot.Set(oid.String(), blob, int64(len(blob)))
	c.observe()
	return nil
}

func (c *resolvedCache) get(oid plumbing.Hash) (object.ObjectType, []byte, bool) {
	if blob, ok := c.hot.Get(oid.String()); ok && len(blob) > 0 {
		return object.ObjectType(blob[0]), blob[1:], true
	}
	blob, err := os.ReadFile(c.spillPath(oid))
	if err != nil || len(blob) == 0 {
		return object.InvalidObject, nil, false
	}
	return object.ObjectType(blob[0]), blob[1:], true
}

func (c *resolvedCache) getByOffset(offset int64) (plumbing.Hash, object.ObjectType, []byte, bool) {
	oid, ok := c.offsets[offset]
	if !ok {
		return plumbing.ZeroHash, object.InvalidObject, nil, false
	}
	t, body, ok := c.get(oid)
	return oid, t, body, ok
}

func (c *resolvedCache) observe() {
	m := c.hot.Metrics
	resident := int64(m.CostAdded()) - int64(m.CostEvicted())
	c.metrics.cacheBytes.Set(float64(resident))
	if resident > c.high {
		c.high = resident
		c.metrics.cacheHighWater.Set(float64(resident))
	}
}

// close releases the hot layer and, when configured, removes the spill
// subdirectory.
func (c *resolvedCache) close() error {
	c.hot.Close()
	c.metrics.cacheBytes.Set(0)
	if c.clean {
		return os.RemoveAll(c.dir)
	}
	return nil
}
