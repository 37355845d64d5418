// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reachability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/drift/callgraph"
)

// CodePathsToData walks inverse call edges from every direct accessor of
// a table up to the entry points that can reach it.
//
// Description:
//
//	For each function holding a direct access point on table (and field,
//	when given), a breadth-first walk over CalledBy edges finds every
//	entry point within the depth bound. One shortest path is reported per
//	(accessor, entry point) pair, up to WithMaxPaths paths in total.
//	An accessor with no inbound edges that is not itself an entry point
//	contributes zero paths; that reports unreachable or dead code, not an
//	error.
//
// Outputs:
//
//	*CodePaths - never nil. A table nobody accesses yields
//	TotalAccessors=0 with empty slices.
//	error - only context cancellation.
func (e *Engine) CodePathsToData(ctx context.Context, table, field string, opts ...QueryOption) (*CodePaths, error) {
	start := time.Now()
	ctx, span := startQuerySpan(ctx, "CodePathsToData", table)
	defer span.End()

	o := defaultQueryOptions()
	for _, opt := range opts {
		opt(&o)
	}

	result := &CodePaths{Table: table, Field: field}
	entrySeen := make(map[string]bool)

	for _, accessorID := range e.graph.DataAccessors() {
		fn, ok := e.graph.Function(accessorID)
		if !ok || !accessesTarget(fn, table, field) {
			continue
		}
		result.TotalAccessors++

		if len(result.AccessPaths) >= o.maxPaths {
			continue
		}

		paths, err := e.pathsToEntryPoints(ctx, accessorID, o.maxDepth, o.maxPaths-len(result.AccessPaths))
		if err != nil {
			return result, err
		}
		for _, p := range paths {
			if !entrySeen[p.EntryPointID] {
				entrySeen[p.EntryPointID] = true
				result.EntryPoints = append(result.EntryPoints, p.EntryPointID)
			}
		}
		result.AccessPaths = append(result.AccessPaths, paths...)
	}

	sort.Strings(result.EntryPoints)

	recordQueryMetrics(ctx, "inverse", time.Since(start), len(result.AccessPaths))
	return result, nil
}

// accessesTarget reports whether fn holds a direct access point on the
// table, narrowed to field when field is non-empty.
func accessesTarget(fn *callgraph.FunctionNode, table, field string) bool {
	for _, access := range fn.DataAccess {
		if access.Table != table {
			continue
		}
		if field == "" {
			return true
		}
		for _, f := range access.Fields {
			if f == field {
				return true
			}
		}
	}
	return false
}

// pathsToEntryPoints walks CalledBy edges upward from accessorID and
// returns one shortest path per entry point reached, at most limit paths.
func (e *Engine) pathsToEntryPoints(ctx context.Context, accessorID string, maxDepth, limit int) ([]AccessPath, error) {
	var paths []AccessPath

	visited := map[string]bool{accessorID: true}
	parent := make(map[string]string) // child -> the callee it was reached from
	queue := []bfsItem{{id: accessorID, depth: 0}}

	steps := 0
	for len(queue) > 0 && len(paths) < limit {
		steps++
		if steps%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return paths, fmt.Errorf("inverse reachability from %s: %w", accessorID, ctx.Err())
			default:
			}
		}

		item := queue[0]
		queue = queue[1:]

		fn, ok := e.graph.Function(item.id)
		if !ok {
			continue
		}

		if e.graph.IsEntryPoint(item.id) {
			paths = append(paths, AccessPath{
				EntryPointID: item.id,
				AccessorID:   accessorID,
				Path:         e.inversePath(parent, accessorID, item.id),
				Depth:        item.depth,
			})
			if len(paths) >= limit {
				break
			}
		}

		if maxDepth >= 0 && item.depth >= maxDepth {
			continue
		}
		for _, call := range fn.CalledBy {
			if visited[call.CallerID] {
				continue
			}
			visited[call.CallerID] = true
			parent[call.CallerID] = item.id
			queue = append(queue, bfsItem{id: call.CallerID, depth: item.depth + 1})
		}
	}

	return paths, nil
}

// inversePath reconstructs the qualified-name chain from an entry point
// down to the accessor by walking the upward parent map.
func (e *Engine) inversePath(parent map[string]string, accessorID, entryID string) []string {
	var names []string
	for id := entryID; ; {
		if fn, ok := e.graph.Function(id); ok {
			names = append(names, fn.QualifiedName)
		}
		if id == accessorID {
			break
		}
		next, ok := parent[id]
		if !ok {
			break
		}
		id = next
	}
	return names
}

// CallPath composes a forward location query with the inverse view of one
// table: which data at table does the code at (file, line) reach, and
// which entry points can reach that table.
//
// No covering function yields a result with only the Inverse side filled.
func (e *Engine) CallPath(ctx context.Context, file string, line int, table string, opts ...QueryOption) (*CallPathResult, error) {
	result := &CallPathResult{}

	fn := e.graph.FunctionAtLine(file, line)
	if fn != nil {
		result.FunctionID = fn.ID
		forward, err := e.ReachableDataFromFunction(ctx, fn.ID, append(opts, WithTables(table))...)
		if err != nil {
			return result, err
		}
		result.Forward = forward
	}

	inverse, err := e.CodePathsToData(ctx, table, "", opts...)
	if err != nil {
		return result, err
	}
	result.Inverse = inverse

	return result, nil
}
