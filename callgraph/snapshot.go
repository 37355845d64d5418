// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"fmt"
	"sort"
	"time"
)

// Snapshot is the serializable form of a frozen CallGraph.
//
// Description:
//
//	Snapshot carries everything needed to reconstruct a read-only graph:
//	the versioned format marker, the function arena, the insertion order
//	(map order is not stable across serialization), the derived index
//	slices, and the stats block. The Store persists this shape as JSON.
//
// Compatibility:
//
//	Version must equal SnapshotVersion for FromSnapshot to accept it.
//	There is no migration path; an old snapshot is treated as absent and
//	forces a rebuild.
type Snapshot struct {
	// Version is the snapshot format marker, always SnapshotVersion
	// for snapshots produced by this package.
	Version string `json:"version"`

	// ID identifies this particular snapshot instance. Assigned by the
	// Store at save time; empty for in-memory exports.
	ID string `json:"id,omitempty"`

	// BuiltAt is the graph freeze timestamp.
	BuiltAt time.Time `json:"builtAt"`

	// Functions is the full arena keyed by node id.
	Functions map[string]*FunctionNode `json:"functions"`

	// Order lists node ids in insertion order.
	Order []string `json:"order"`

	// EntryPoints and DataAccessors are the derived index slices.
	EntryPoints   []string `json:"entryPoints,omitempty"`
	DataAccessors []string `json:"dataAccessors,omitempty"`

	// Stats is the stats block computed at freeze.
	Stats GraphStats `json:"stats"`
}

// Export produces the serializable snapshot of a frozen graph.
//
// The snapshot shares FunctionNode pointers with the graph; it is a view,
// not a deep copy. Callers must not mutate either side.
func (g *CallGraph) Export() *Snapshot {
	return &Snapshot{
		Version:       SnapshotVersion,
		BuiltAt:       g.builtAt,
		Functions:     g.functions,
		Order:         g.order,
		EntryPoints:   g.entryPoints,
		DataAccessors: g.dataAccessors,
		Stats:         g.stats,
	}
}

// FromSnapshot reconstructs a frozen CallGraph.
//
// Errors:
//   - ErrSnapshotVersion (wrapped with the offending value) when the
//     version marker is not SnapshotVersion. Callers that want
//     "unknown version means no data" semantics check for this sentinel.
//
// A snapshot whose Order is missing ids present in Functions (hand-edited
// or truncated data) is repaired by appending the missing ids; the graph
// stays usable.
func FromSnapshot(s *Snapshot) (*CallGraph, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrSnapshotVersion)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotVersion, s.Version)
	}

	g := &CallGraph{
		functions:     s.Functions,
		entryPoints:   s.EntryPoints,
		dataAccessors: s.DataAccessors,
		stats:         s.Stats,
		builtAt:       s.BuiltAt,
		frozen:        true,
	}
	if g.functions == nil {
		g.functions = make(map[string]*FunctionNode)
	}

	seen := make(map[string]bool, len(s.Order))
	for _, id := range s.Order {
		if _, ok := g.functions[id]; ok && !seen[id] {
			g.order = append(g.order, id)
			seen[id] = true
		}
	}
	var missing []string
	for id := range g.functions {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	g.order = append(g.order, missing...)

	return g, nil
}
