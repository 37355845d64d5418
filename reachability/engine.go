// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reachability answers data-reachability questions over a frozen
// call graph: what data can this code reach (forward), and what code can
// reach this data (inverse).
//
// All queries are pure reads. Identical graph and identical inputs always
// produce identical outputs; edge visitation follows insertion order and
// every aggregate is sorted before return.
package reachability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/drift/callgraph"
)

// contextCheckInterval controls how often traversal loops poll ctx.Done().
const contextCheckInterval = 100

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger. Defaults to slog.Default().
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine runs reachability queries over one frozen CallGraph.
//
// Description:
//
//	Engine is stateless beyond its graph and classifier references; it
//	holds no caches and no traversal state between calls. Every query
//	carries its own visited set, so cyclic graphs terminate and
//	concurrent queries never interfere.
//
// Thread Safety:
//
//	Safe for concurrent use, provided the graph is frozen.
type Engine struct {
	graph      *callgraph.CallGraph
	classifier FieldClassifier
	logger     *slog.Logger
}

// NewEngine creates an Engine over a frozen graph.
//
// classifier may be nil, in which case no query reports sensitive fields.
func NewEngine(graph *callgraph.CallGraph, classifier FieldClassifier, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:      graph,
		classifier: classifier,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// bfsItem is one queued node during forward traversal.
type bfsItem struct {
	id    string
	depth int
}

// ReachableDataFromFunction walks forward over call edges from id and
// collects every data access point encountered.
//
// Description:
//
//	Breadth-first over Calls edges. Depth 0 is the function itself; each
//	function is visited at most once, first (shortest) depth winning.
//	WithMaxDepth bounds expansion; WithTables filters the returned
//	entries post-traversal without pruning the walk.
//
// Outputs:
//
//	*DataReachability - never nil. Unknown ids yield the zero result with
//	the id echoed, not an error.
//	error - only context cancellation.
//
// Complexity: O(V + E) over the subgraph within the depth bound.
func (e *Engine) ReachableDataFromFunction(ctx context.Context, id string, opts ...QueryOption) (*DataReachability, error) {
	start := time.Now()
	ctx, span := startQuerySpan(ctx, "ReachableDataFromFunction", id)
	defer span.End()

	o := defaultQueryOptions()
	for _, opt := range opts {
		opt(&o)
	}

	result := &DataReachability{FunctionID: id}
	origin, ok := e.graph.Function(id)
	if !ok {
		recordQueryMetrics(ctx, "forward", time.Since(start), 0)
		return result, nil
	}

	visited := map[string]bool{id: true}
	parent := make(map[string]string)
	queue := []bfsItem{{id: id, depth: 0}}
	var collected []ReachableAccess

	steps := 0
	for len(queue) > 0 {
		steps++
		if steps%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("forward reachability from %s: %w", id, ctx.Err())
			default:
			}
		}

		item := queue[0]
		queue = queue[1:]

		fn, ok := e.graph.Function(item.id)
		if !ok {
			continue
		}

		result.FunctionsTraversed++
		if item.depth > result.MaxDepth {
			result.MaxDepth = item.depth
		}

		if len(fn.DataAccess) > 0 {
			path := e.namePath(parent, origin.ID, item.id)
			for _, access := range fn.DataAccess {
				collected = append(collected, ReachableAccess{
					Access:     access,
					FunctionID: item.id,
					Depth:      item.depth,
					Path:       path,
				})
			}
		}

		if o.maxDepth >= 0 && item.depth >= o.maxDepth {
			continue
		}
		for _, call := range fn.Calls {
			if !call.Resolved || visited[call.CalleeID] {
				continue
			}
			visited[call.CalleeID] = true
			parent[call.CalleeID] = item.id
			queue = append(queue, bfsItem{id: call.CalleeID, depth: item.depth + 1})
		}
	}

	result.ReachableAccess = filterAccess(collected, o.tables)
	result.Tables = distinctTables(result.ReachableAccess)
	result.SensitiveFields = e.classifyFields(result.ReachableAccess)

	recordQueryMetrics(ctx, "forward", time.Since(start), len(result.ReachableAccess))
	return result, nil
}

// ReachableDataAt resolves (file, line) to the smallest covering function
// and delegates to ReachableDataFromFunction. No covering function yields
// an empty result, not an error.
func (e *Engine) ReachableDataAt(ctx context.Context, file string, line int, opts ...QueryOption) (*DataReachability, error) {
	fn := e.graph.FunctionAtLine(file, line)
	if fn == nil {
		e.logger.Debug("no function covers location",
			slog.String("file", file),
			slog.Int("line", line))
		return &DataReachability{}, nil
	}
	return e.ReachableDataFromFunction(ctx, fn.ID, opts...)
}

// namePath reconstructs the qualified-name chain from origin to target by
// walking the BFS parent map, origin first.
func (e *Engine) namePath(parent map[string]string, originID, targetID string) []string {
	var ids []string
	for id := targetID; ; {
		ids = append(ids, id)
		if id == originID {
			break
		}
		prev, ok := parent[id]
		if !ok {
			break
		}
		id = prev
	}

	names := make([]string, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if fn, ok := e.graph.Function(ids[i]); ok {
			names = append(names, fn.QualifiedName)
		}
	}
	return names
}

// filterAccess applies the post-traversal table filter.
func filterAccess(entries []ReachableAccess, tables []string) []ReachableAccess {
	if len(tables) == 0 {
		return entries
	}
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	var out []ReachableAccess
	for _, entry := range entries {
		if allowed[entry.Access.Table] {
			out = append(out, entry)
		}
	}
	return out
}

// distinctTables returns the sorted distinct table names of entries.
func distinctTables(entries []ReachableAccess) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, entry := range entries {
		if entry.Access.Table != "" && !seen[entry.Access.Table] {
			seen[entry.Access.Table] = true
			tables = append(tables, entry.Access.Table)
		}
	}
	sort.Strings(tables)
	return tables
}

// classifyFields maps every (table, field) pair of the returned accesses
// through the classifier and aggregates hits.
func (e *Engine) classifyFields(entries []ReachableAccess) []SensitiveField {
	if e.classifier == nil {
		return nil
	}

	type agg struct {
		field SensitiveField
		paths map[string]bool
	}
	byKey := make(map[string]*agg)

	for _, entry := range entries {
		pathKey := fmt.Sprint(entry.Path)
		for _, field := range entry.Access.Fields {
			sens, ok := e.classifier.Classify(entry.Access.Table, field)
			if !ok {
				continue
			}
			key := entry.Access.Table + "\x00" + field
			a := byKey[key]
			if a == nil {
				a = &agg{
					field: SensitiveField{
						Table:       entry.Access.Table,
						Field:       field,
						Sensitivity: sens,
					},
					paths: make(map[string]bool),
				}
				byKey[key] = a
			}
			a.field.AccessCount++
			a.paths[pathKey] = true
		}
	}

	out := make([]SensitiveField, 0, len(byKey))
	for _, a := range byKey {
		a.field.PathCount = len(a.paths)
		out = append(out, a.field)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Field < out[j].Field
	})
	return out
}
