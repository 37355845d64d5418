// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callgraph provides the canonical call-graph data model and the
// builder that assembles it from normalized extraction results.
//
// Nodes are functions/methods keyed by a stable id; call edges and reverse
// edges store id references rather than nested pointers, so cyclic call
// structures are plain id lookups and every traversal carries its own
// visited set.
//
// # Ownership Model
//
// The graph owns its FunctionNode values exclusively:
//   - Nodes MUST NOT be mutated after Build returns
//   - Callers receive pointers into the arena for efficiency, read-only
//
// # Thread Safety
//
// CallGraph is NOT safe for concurrent use while mutable. It is designed
// for single-writer access inside Builder.Build, then read-only access
// after Freeze(). A frozen graph can be read from any number of
// goroutines.
//
// # Lifecycle
//
// A graph is produced atomically by one Build call over a closed set of
// previously-registered files. There is no incremental in-place mutation:
// a changed codebase triggers a full rebuild and a replacement snapshot.
package callgraph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	// Once Freeze() is called the graph is read-only.
	ErrGraphFrozen = errors.New("call graph is frozen and cannot be modified")

	// ErrDuplicateFunction is returned when adding a function whose id
	// already exists in the graph.
	ErrDuplicateFunction = errors.New("duplicate function id")

	// ErrInvalidFunction is returned when attempting to add a nil node.
	ErrInvalidFunction = errors.New("invalid function node")

	// ErrMaxFunctionsExceeded is returned when the graph has reached its
	// configured maximum function capacity.
	ErrMaxFunctionsExceeded = errors.New("maximum function count exceeded")

	// ErrBuildCancelled is returned (inside BuildResult errors) when a
	// build is cancelled via context.
	ErrBuildCancelled = errors.New("build cancelled")

	// ErrSnapshotVersion is returned when restoring a snapshot whose
	// format version is not recognized.
	ErrSnapshotVersion = errors.New("unrecognized snapshot version")
)
