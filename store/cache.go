// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	MemoryHits  uint64
	BadgerHits  uint64
	Misses      uint64
	Computes    uint64
	MemoryItems int
}

// reachabilityCache is the two-tier cache behind the Store's
// CacheReachability/GetCachedReachability surface.
//
// Description:
//
//	Values are opaque byte blobs. Tier one is an in-process LRU; tier
//	two is the badger database under the shared cache prefix, so entries
//	survive restarts but die with the snapshot (Save wipes the prefix).
//	getOrCompute deduplicates concurrent computations for the same key
//	through singleflight: one goroutine computes, the rest wait for its
//	result.
//
// Thread Safety: safe for concurrent use.
type reachabilityCache struct {
	mem    *lru.Cache[string, []byte]
	db     *db
	group  singleflight.Group
	logger *slog.Logger

	memoryHits uint64
	badgerHits uint64
	misses     uint64
	computes   uint64
}

func newReachabilityCache(d *db, memoryEntries int, logger *slog.Logger) (*reachabilityCache, error) {
	if memoryEntries <= 0 {
		memoryEntries = 1024
	}
	mem, err := lru.New[string, []byte](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("create cache memory tier: %w", err)
	}
	return &reachabilityCache{
		mem:    mem,
		db:     d,
		logger: logger,
	}, nil
}

func cacheKey(key string) []byte {
	return []byte(cachePrefix + key)
}

// get checks the memory tier, then badger. A badger hit is promoted into
// the memory tier.
func (c *reachabilityCache) get(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok := c.mem.Get(key); ok {
		atomic.AddUint64(&c.memoryHits, 1)
		return data, true, nil
	}

	var data []byte
	err := c.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		atomic.AddUint64(&c.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry %s: %w", key, err)
	}

	atomic.AddUint64(&c.badgerHits, 1)
	c.mem.Add(key, data)
	return data, true, nil
}

// set writes both tiers. The badger write wins on failure semantics: a
// failed disk write fails the set even though the memory tier may
// already hold the value.
func (c *reachabilityCache) set(ctx context.Context, key string, data []byte) error {
	c.mem.Add(key, data)
	err := c.db.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(cacheKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// getOrCompute returns the cached value for key, computing and caching
// it on a miss. Concurrent callers for one key share a single compute.
func (c *reachabilityCache) getOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, ok, err := c.get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return data, nil
	}

	result, err, shared := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another goroutine may have
		// populated the entry between our miss and this call.
		if data, ok, err := c.get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return data, nil
		}

		atomic.AddUint64(&c.computes, 1)
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.set(ctx, key, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("reachability computation deduplicated",
			slog.String("key", key))
	}
	return result.([]byte), nil
}

// clear drops both tiers.
func (c *reachabilityCache) clear(ctx context.Context) error {
	c.mem.Purge()
	if err := c.db.deletePrefix(ctx, []byte(cachePrefix)); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// stats returns a point-in-time view of the counters.
func (c *reachabilityCache) stats() CacheStats {
	return CacheStats{
		MemoryHits:  atomic.LoadUint64(&c.memoryHits),
		BadgerHits:  atomic.LoadUint64(&c.badgerHits),
		Misses:      atomic.LoadUint64(&c.misses),
		Computes:    atomic.LoadUint64(&c.computes),
		MemoryItems: c.mem.Len(),
	}
}
