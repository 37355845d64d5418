// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathfind provides general-purpose path and connectivity queries
// over a frozen call graph: shortest path, bounded all-paths enumeration,
// reachable sets and caller sets.
//
// All queries are pure reads over an immutable graph and safe to run
// concurrently. Unknown ids yield empty results, never errors.
package pathfind

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/drift/callgraph"
)

var tracer = otel.Tracer("drift.pathfind")

// contextCheckInterval controls how often search loops poll ctx.Done().
const contextCheckInterval = 100

// Unbounded marks a depth or path limit as unlimited.
const Unbounded = -1

// DefaultMaxPaths bounds AllPaths enumeration when no explicit limit is
// given; exhaustive simple-path enumeration is exponential on dense graphs.
const DefaultMaxPaths = 100

// Option configures a single query.
type Option func(*options)

type options struct {
	maxDepth   int
	maxPaths   int
	transitive bool
}

func defaultOptions() options {
	return options{
		maxDepth: Unbounded,
		maxPaths: DefaultMaxPaths,
	}
}

// WithMaxDepth bounds search depth. Negative means unbounded (default).
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		o.maxDepth = depth
	}
}

// WithMaxPaths bounds the number of paths AllPaths enumerates.
// Non-positive values fall back to DefaultMaxPaths.
func WithMaxPaths(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPaths = n
		}
	}
}

// WithTransitive makes Callers return the full transitive caller closure
// instead of the default one-hop set.
func WithTransitive() Option {
	return func(o *options) {
		o.transitive = true
	}
}

// Path is an ordered node chain from a source to a target.
type Path struct {
	// Nodes holds function ids, source first, target last.
	Nodes []string `json:"nodes"`

	// Depth is len(Nodes)-1, the number of edges walked.
	Depth int `json:"depth"`
}

// AllPathsResult is the AllPaths output.
type AllPathsResult struct {
	// Paths holds the enumerated simple paths, in discovery order.
	Paths []Path `json:"paths"`

	// NodesVisited counts DFS expansions, for diagnostics.
	NodesVisited int `json:"nodesVisited"`

	// Truncated is true when enumeration stopped at the path limit.
	Truncated bool `json:"truncated"`
}

// Finder runs path queries over one frozen CallGraph.
//
// Thread Safety: safe for concurrent use, provided the graph is frozen.
type Finder struct {
	graph *callgraph.CallGraph
}

// NewFinder creates a Finder over a frozen graph.
func NewFinder(graph *callgraph.CallGraph) *Finder {
	return &Finder{graph: graph}
}

// ShortestPath returns a shortest call path from fromID to toID.
//
// Description:
//
//	Breadth-first over Calls edges. fromID == toID yields the explicit
//	identity path: one node, depth 0, never nil. Unreachable or unknown
//	ids yield nil with a nil error.
func (f *Finder) ShortestPath(ctx context.Context, fromID, toID string) (*Path, error) {
	ctx, span := startSpan(ctx, "ShortestPath", fromID)
	defer span.End()

	if _, ok := f.graph.Function(fromID); !ok {
		return nil, nil
	}
	if _, ok := f.graph.Function(toID); !ok {
		return nil, nil
	}
	if fromID == toID {
		return &Path{Nodes: []string{fromID}, Depth: 0}, nil
	}

	visited := map[string]bool{fromID: true}
	parent := make(map[string]string)
	queue := []string{fromID}

	steps := 0
	for len(queue) > 0 {
		steps++
		if steps%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("shortest path %s -> %s: %w", fromID, toID, ctx.Err())
			default:
			}
		}

		id := queue[0]
		queue = queue[1:]

		fn, ok := f.graph.Function(id)
		if !ok {
			continue
		}
		for _, call := range fn.Calls {
			if !call.Resolved || visited[call.CalleeID] {
				continue
			}
			visited[call.CalleeID] = true
			parent[call.CalleeID] = id
			if call.CalleeID == toID {
				return reconstruct(parent, fromID, toID), nil
			}
			queue = append(queue, call.CalleeID)
		}
	}
	return nil, nil
}

// reconstruct builds the path fromID..toID out of a BFS parent map.
func reconstruct(parent map[string]string, fromID, toID string) *Path {
	var rev []string
	for id := toID; ; {
		rev = append(rev, id)
		if id == fromID {
			break
		}
		prev, ok := parent[id]
		if !ok {
			break
		}
		id = prev
	}

	nodes := make([]string, len(rev))
	for i, id := range rev {
		nodes[len(rev)-1-i] = id
	}
	return &Path{Nodes: nodes, Depth: len(nodes) - 1}
}

// AllPaths enumerates simple paths from fromID to toID.
//
// Description:
//
//	Depth-first enumeration of paths without node repeats, which
//	guarantees termination on cyclic graphs. Stops at WithMaxPaths found
//	paths or WithMaxDepth edges per path. NodesVisited reports the number
//	of expansions for diagnostics.
//
// Outputs:
//
//	*AllPathsResult - never nil; empty Paths for unknown ids or when no
//	path exists.
func (f *Finder) AllPaths(ctx context.Context, fromID, toID string, opts ...Option) (*AllPathsResult, error) {
	ctx, span := startSpan(ctx, "AllPaths", fromID)
	defer span.End()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	result := &AllPathsResult{}
	if _, ok := f.graph.Function(fromID); !ok {
		return result, nil
	}
	if _, ok := f.graph.Function(toID); !ok {
		return result, nil
	}

	onPath := map[string]bool{fromID: true}
	stack := []string{fromID}

	var walk func(id string) error
	walk = func(id string) error {
		result.NodesVisited++
		if result.NodesVisited%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("all paths %s -> %s: %w", fromID, toID, ctx.Err())
			default:
			}
		}

		if id == toID {
			nodes := make([]string, len(stack))
			copy(nodes, stack)
			result.Paths = append(result.Paths, Path{Nodes: nodes, Depth: len(nodes) - 1})
			if len(result.Paths) >= o.maxPaths {
				result.Truncated = true
			}
			return nil
		}
		if o.maxDepth >= 0 && len(stack)-1 >= o.maxDepth {
			return nil
		}

		fn, ok := f.graph.Function(id)
		if !ok {
			return nil
		}
		for _, call := range fn.Calls {
			if result.Truncated {
				return nil
			}
			if !call.Resolved || onPath[call.CalleeID] {
				continue
			}
			onPath[call.CalleeID] = true
			stack = append(stack, call.CalleeID)
			err := walk(call.CalleeID)
			stack = stack[:len(stack)-1]
			delete(onPath, call.CalleeID)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(fromID); err != nil {
		return result, err
	}
	return result, nil
}

// ReachableFunctions returns the forward closure from fromID, origin
// included, sorted. Unknown ids yield an empty set.
func (f *Finder) ReachableFunctions(ctx context.Context, fromID string, opts ...Option) ([]string, error) {
	ctx, span := startSpan(ctx, "ReachableFunctions", fromID)
	defer span.End()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if _, ok := f.graph.Function(fromID); !ok {
		return nil, nil
	}
	return f.closure(ctx, fromID, o.maxDepth, false)
}

// Callers returns the functions that call toID: the one-hop set by
// default, the transitive closure with WithTransitive(). The target
// itself is not included. Sorted; unknown ids yield an empty set.
func (f *Finder) Callers(ctx context.Context, toID string, opts ...Option) ([]string, error) {
	ctx, span := startSpan(ctx, "Callers", toID)
	defer span.End()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fn, ok := f.graph.Function(toID)
	if !ok {
		return nil, nil
	}

	if !o.transitive {
		seen := make(map[string]bool)
		var out []string
		for _, call := range fn.CalledBy {
			if !seen[call.CallerID] {
				seen[call.CallerID] = true
				out = append(out, call.CallerID)
			}
		}
		sort.Strings(out)
		return out, nil
	}

	closure, err := f.closure(ctx, toID, o.maxDepth, true)
	if err != nil {
		return nil, err
	}
	// Drop the origin from the caller set.
	out := closure[:0]
	for _, id := range closure {
		if id != toID {
			out = append(out, id)
		}
	}
	return out, nil
}

// IsConnected reports whether any call path leads from a to b. Cheaper
// than ShortestPath: plain BFS existence with no parent bookkeeping.
func (f *Finder) IsConnected(ctx context.Context, a, b string) (bool, error) {
	ctx, span := startSpan(ctx, "IsConnected", a)
	defer span.End()

	if _, ok := f.graph.Function(a); !ok {
		return false, nil
	}
	if _, ok := f.graph.Function(b); !ok {
		return false, nil
	}
	if a == b {
		return true, nil
	}

	visited := map[string]bool{a: true}
	queue := []string{a}
	steps := 0
	for len(queue) > 0 {
		steps++
		if steps%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return false, fmt.Errorf("connectivity %s -> %s: %w", a, b, ctx.Err())
			default:
			}
		}

		id := queue[0]
		queue = queue[1:]
		fn, ok := f.graph.Function(id)
		if !ok {
			continue
		}
		for _, call := range fn.Calls {
			if !call.Resolved || visited[call.CalleeID] {
				continue
			}
			if call.CalleeID == b {
				return true, nil
			}
			visited[call.CalleeID] = true
			queue = append(queue, call.CalleeID)
		}
	}
	return false, nil
}

// closure runs a bounded BFS from id, forward over Calls or backward over
// CalledBy, and returns the sorted visited set including id.
func (f *Finder) closure(ctx context.Context, id string, maxDepth int, backward bool) ([]string, error) {
	type item struct {
		id    string
		depth int
	}

	visited := map[string]bool{id: true}
	queue := []item{{id: id, depth: 0}}
	out := []string{id}

	steps := 0
	for len(queue) > 0 {
		steps++
		if steps%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return out, fmt.Errorf("closure from %s: %w", id, ctx.Err())
			default:
			}
		}

		cur := queue[0]
		queue = queue[1:]
		if maxDepth >= 0 && cur.depth >= maxDepth {
			continue
		}

		fn, ok := f.graph.Function(cur.id)
		if !ok {
			continue
		}

		var next []string
		if backward {
			for _, call := range fn.CalledBy {
				next = append(next, call.CallerID)
			}
		} else {
			for _, call := range fn.Calls {
				if call.Resolved {
					next = append(next, call.CalleeID)
				}
			}
		}

		for _, nid := range next {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			out = append(out, nid)
			queue = append(queue, item{id: nid, depth: cur.depth + 1})
		}
	}

	sort.Strings(out)
	return out, nil
}

func startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Finder."+op,
		trace.WithAttributes(
			attribute.String("pathfind.operation", op),
			attribute.String("pathfind.function_id", id),
		),
	)
}
