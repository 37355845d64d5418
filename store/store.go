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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/drift/callgraph"
)

var tracer = otel.Tracer("drift.store")

// Badger key layout. The snapshot lives under one key so the transaction
// commit is the atomic replace; cache entries share a prefix so Save can
// wipe them wholesale.
const (
	snapshotKey = "snapshot/current"
	cachePrefix = "cache/"
)

// Store persists call-graph snapshots and serves indexed lookups over the
// loaded graph.
//
// Description:
//
//	Store owns the single persisted snapshot and the reachability cache
//	scoped to it. Open is idempotent: it creates the directory and
//	database when absent and reuses them when present. Save atomically
//	replaces the snapshot and clears the cache; Load returns nil for "no
//	snapshot" (including unrecognized snapshot versions) and an error
//	only for genuine I/O or corruption faults.
//
// Thread Safety:
//
//	Safe for concurrent use. Save must be externally serialized
//	(single-writer discipline); readers are always safe.
type Store struct {
	cfg    Config
	db     *db
	cache  *reachabilityCache
	logger *slog.Logger

	mu         sync.RWMutex
	graph      *callgraph.CallGraph
	snapshotID string
	closed     bool

	stale atomic.Bool
}

// Open initializes a Store per cfg.
//
// Errors:
//   - config validation failures (missing path for a persistent store)
//   - badger open failures
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}
	cfg = cfg.withDefaults()

	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := newReachabilityCache(d, cfg.CacheMemoryEntries, cfg.Logger)
	if err != nil {
		d.close()
		return nil, err
	}

	return &Store{
		cfg:    cfg,
		db:     d,
		cache:  cache,
		logger: cfg.Logger,
	}, nil
}

// Close releases the database. Operations after Close return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save persists a frozen graph as the current snapshot, then clears the
// reachability cache.
//
// Description:
//
//	The snapshot is written in one badger transaction; the commit is the
//	atomic replace, so a crash mid-save leaves the previous snapshot
//	intact and visible. Cache invalidation follows the commit: cached
//	reachability results are only valid against the snapshot they were
//	computed from.
//
// Errors:
//   - ErrClosed, ErrNilGraph, ErrNotFrozen
//   - wrapped serialization or badger errors
func (s *Store) Save(ctx context.Context, g *callgraph.CallGraph) error {
	ctx, span := tracer.Start(ctx, "Store.Save")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if g == nil {
		return ErrNilGraph
	}
	if !g.Frozen() {
		return ErrNotFrozen
	}

	snapshot := g.Export()
	snapshot.ID = uuid.NewString()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	span.SetAttributes(
		attribute.Int("store.snapshot_bytes", len(data)),
		attribute.Int("store.functions", g.Size()),
	)

	start := time.Now()
	err = s.db.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := s.cache.clear(ctx); err != nil {
		// The snapshot is already committed; a failed cache wipe must
		// not be reported as a failed save. Stale entries are keyed to
		// the old snapshot and will be overwritten on next use.
		s.logger.Warn("cache invalidation after save failed",
			slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.graph = g
	s.snapshotID = snapshot.ID
	s.mu.Unlock()
	s.stale.Store(false)

	s.logger.Info("call graph snapshot saved",
		slog.String("snapshot_id", snapshot.ID),
		slog.Int("functions", g.Size()),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Load returns the persisted graph, or nil when no usable snapshot
// exists.
//
// Description:
//
//	"No usable snapshot" covers both a missing key and an unrecognized
//	snapshot version; the latter is logged at Warn and treated as absent
//	so the caller rebuilds instead of migrating. Corruption of a
//	recognized snapshot (malformed JSON) and I/O faults are real errors.
func (s *Store) Load(ctx context.Context) (*callgraph.CallGraph, error) {
	ctx, span := tracer.Start(ctx, "Store.Load")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot callgraph.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	g, err := callgraph.FromSnapshot(&snapshot)
	if errors.Is(err, callgraph.ErrSnapshotVersion) {
		s.logger.Warn("persisted snapshot has unrecognized version, treating as absent",
			slog.String("version", snapshot.Version),
			slog.String("snapshot_id", snapshot.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}

	s.mu.Lock()
	s.graph = g
	s.snapshotID = snapshot.ID
	s.mu.Unlock()

	s.logger.Debug("call graph snapshot loaded",
		slog.String("snapshot_id", snapshot.ID),
		slog.Int("functions", g.Size()))
	return g, nil
}

// Graph returns the graph from the last Save or Load, or nil.
func (s *Store) Graph() *callgraph.CallGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// SnapshotID returns the id of the current snapshot, empty when none.
func (s *Store) SnapshotID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotID
}

// GetFunction looks an id up in the loaded graph. Nil when no graph is
// loaded or the id is unknown; never an error.
func (s *Store) GetFunction(id string) *callgraph.FunctionNode {
	g := s.Graph()
	if g == nil {
		return nil
	}
	fn, ok := g.Function(id)
	if !ok {
		return nil
	}
	return fn
}

// GetFunctionsInFile returns the loaded graph's functions in file, sorted
// by start line. Empty when no graph is loaded.
func (s *Store) GetFunctionsInFile(file string) []*callgraph.FunctionNode {
	g := s.Graph()
	if g == nil {
		return nil
	}
	return g.FunctionsInFile(file)
}

// GetFunctionAtLine returns the smallest function covering (file, line),
// or nil when none does.
func (s *Store) GetFunctionAtLine(file string, line int) *callgraph.FunctionNode {
	g := s.Graph()
	if g == nil {
		return nil
	}
	return g.FunctionAtLine(file, line)
}

// CacheReachability stores an opaque JSON-serializable value under key,
// scoped to the current snapshot.
func (s *Store) CacheReachability(ctx context.Context, key string, value any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value %s: %w", key, err)
	}
	return s.cache.set(ctx, key, data)
}

// GetCachedReachability fetches a cached value into dest. Returns false
// with a nil error on a miss.
func (s *Store) GetCachedReachability(ctx context.Context, key string, dest any) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	data, ok, err := s.cache.get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return true, nil
}

// GetOrComputeReachability returns the cached value for key, computing
// and caching it on a miss. Concurrent calls for the same key are
// deduplicated: one computation runs, everyone gets its result.
func (s *Store) GetOrComputeReachability(ctx context.Context, key string, dest any, compute func(ctx context.Context) (any, error)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := s.cache.getOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return nil
}

// ClearCache drops every cached reachability entry.
func (s *Store) ClearCache(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.cache.clear(ctx)
}

// CacheStats returns reachability cache effectiveness counters.
func (s *Store) CacheStats() CacheStats {
	return s.cache.stats()
}

// MarkStale records that the working tree has drifted from the persisted
// snapshot. Used by the staleness watcher; Save resets it.
func (s *Store) MarkStale() {
	s.stale.Store(true)
}

// IsStale reports whether a rebuild has been signalled since the last
// Save.
func (s *Store) IsStale() bool {
	return s.stale.Load()
}
