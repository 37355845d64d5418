// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists call-graph snapshots in embedded BadgerDB and
// serves indexed lookups plus a snapshot-scoped reachability cache.
//
// # Persistence model
//
// One versioned JSON snapshot lives under a single key; the badger
// transaction commit is the atomic replace, so readers only ever observe
// fully-written snapshots. Reachability cache entries are subordinate to
// the snapshot: every Save wipes them, since cached results are only
// valid against the graph they were computed from.
//
// # Thread Safety
//
// Store is safe for concurrent use. Save must still be externally
// serialized by the caller (single-writer discipline); concurrent
// readers are always safe.
package store

import "errors"

// Sentinel errors for store operations.
var (
	// ErrClosed is returned by every operation after Close().
	ErrClosed = errors.New("store is closed")

	// ErrNilGraph is returned by Save for a nil graph.
	ErrNilGraph = errors.New("cannot save nil graph")

	// ErrNotFrozen is returned by Save for a graph that was not
	// finalized; only frozen graphs are immutable enough to persist.
	ErrNotFrozen = errors.New("cannot save unfrozen graph")
)
