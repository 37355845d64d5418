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

	"github.com/AleutianAI/drift/extract"
)

// SnapshotVersion identifies the persisted snapshot format. Load-side code
// treats any other value as "no snapshot".
const SnapshotVersion = "drift-callgraph/v1"

// AccessOperation classifies what a data access point does to its table.
type AccessOperation string

// Access operations.
const (
	AccessRead    AccessOperation = "read"
	AccessWrite   AccessOperation = "write"
	AccessDelete  AccessOperation = "delete"
	AccessUnknown AccessOperation = "unknown"
)

// normalizeOperation maps arbitrary input to a known AccessOperation.
func normalizeOperation(op AccessOperation) AccessOperation {
	switch op {
	case AccessRead, AccessWrite, AccessDelete:
		return op
	default:
		return AccessUnknown
	}
}

// DataAccessPoint is one located operation on named fields of a table or
// collection, supplied by an external boundary scanner.
//
// Points are attached to their owning FunctionNode by line-range
// containment during build; the core never derives them itself.
type DataAccessPoint struct {
	// ID identifies the point within its producer's scope.
	ID string `json:"id"`

	// Table is the table/collection name.
	Table string `json:"table"`

	// Fields lists the accessed field names. May be empty when the
	// scanner could not narrow the access.
	Fields []string `json:"fields,omitempty"`

	// Operation is read/write/delete/unknown.
	Operation AccessOperation `json:"operation"`

	// File, Line, Column locate the access. Line is 1-indexed.
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`

	// Context is the surrounding source text, for display.
	Context string `json:"context,omitempty"`

	// IsRawSQL is true when the access was found in a raw SQL string
	// rather than an ORM call.
	IsRawSQL bool `json:"isRawSql,omitempty"`

	// Confidence is the scanner's certainty in [0,1].
	Confidence float64 `json:"confidence"`
}

// CallSite is one directed call edge.
//
// Invariant: Resolved implies CalleeID is non-empty, present in the graph's
// function map, and the callee's CalledBy holds a matching reverse entry.
type CallSite struct {
	// CallerID is the id of the calling function.
	CallerID string `json:"callerId"`

	// CalleeID is the id of the resolved callee. Empty when unresolved.
	CalleeID string `json:"calleeId,omitempty"`

	// CalleeName is the textual callee name from extraction.
	CalleeName string `json:"calleeName"`

	// Receiver is the receiver expression for method calls, if any.
	Receiver string `json:"receiver,omitempty"`

	// File, Line, Column locate the call site.
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`

	// ArgumentCount is the argument count at the site.
	ArgumentCount int `json:"argumentCount"`

	// Resolved is true when CalleeID points at a known function.
	Resolved bool `json:"resolved"`

	// Candidates lists the ids that matched when resolution was
	// ambiguous. The chosen callee is Candidates[0] when resolution
	// picked from an ambiguous set.
	Candidates []string `json:"candidates,omitempty"`

	// Confidence expresses resolution certainty in [0,1]. Zero when
	// unresolved. Downstream consumers discount low-confidence edges
	// rather than treating the graph as ground truth.
	Confidence float64 `json:"confidence"`

	// Reason names the resolution tier that matched:
	// "same-class-method", "same-file", "imported". Empty when unresolved.
	Reason string `json:"resolutionReason,omitempty"`
}

// FunctionNode is one function or method in the graph.
//
// Owned exclusively by its CallGraph; immutable once Build returns.
type FunctionNode struct {
	// ID is the stable node id: file + ":" + qualified name + ":" +
	// start line. Stable across identical rebuilds, not across renames.
	ID string `json:"id"`

	// Name is the bare function name.
	Name string `json:"name"`

	// QualifiedName includes the owning class, e.g. "UserService.findById".
	QualifiedName string `json:"qualifiedName"`

	// File is the defining file, relative to the repo root.
	File string `json:"file"`

	// StartLine and EndLine bound the declaration, 1-indexed inclusive.
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`

	// Language is the source language.
	Language extract.Language `json:"language"`

	// Parameters lists declared parameters.
	Parameters []extract.ParameterInfo `json:"parameters,omitempty"`

	// ReturnType is the declared return type, if known.
	ReturnType string `json:"returnType,omitempty"`

	IsExported    bool `json:"isExported,omitempty"`
	IsAsync       bool `json:"isAsync,omitempty"`
	IsConstructor bool `json:"isConstructor,omitempty"`
	IsStatic      bool `json:"isStatic,omitempty"`
	IsMethod      bool `json:"isMethod,omitempty"`

	// ClassName is the owning class for methods.
	ClassName string `json:"className,omitempty"`

	// Decorators holds raw decorator/annotation text.
	Decorators []string `json:"decorators,omitempty"`

	// Calls are the outgoing call edges, in extraction order.
	Calls []CallSite `json:"calls,omitempty"`

	// CalledBy are the reverse edges, appended in resolution order.
	CalledBy []CallSite `json:"calledBy,omitempty"`

	// DataAccess holds the directly-owned access points.
	DataAccess []DataAccessPoint `json:"dataAccess,omitempty"`
}

// FunctionID derives the stable node id for a function.
func FunctionID(file, qualifiedName string, startLine int) string {
	return fmt.Sprintf("%s:%s:%d", file, qualifiedName, startLine)
}

// GraphStats summarizes a built graph.
//
// Invariant: ResolvedCallSites + UnresolvedCallSites == TotalCallSites.
type GraphStats struct {
	TotalFunctions      int `json:"totalFunctions"`
	TotalCallSites      int `json:"totalCallSites"`
	ResolvedCallSites   int `json:"resolvedCallSites"`
	UnresolvedCallSites int `json:"unresolvedCallSites"`

	// ByLanguage counts functions per canonical language name.
	ByLanguage map[string]int `json:"byLanguage,omitempty"`
}

// CallGraphOption configures a CallGraph at construction time.
type CallGraphOption func(*CallGraph)

// WithMaxFunctions caps the arena size; AddFunction returns
// ErrMaxFunctionsExceeded past the cap. Zero means unbounded.
func WithMaxFunctions(n int) CallGraphOption {
	return func(g *CallGraph) {
		g.maxFunctions = n
	}
}

// CallGraph is the arena of FunctionNodes plus the derived index slices.
//
// Description:
//
//	CallGraph stores every function keyed by stable id. Call edges reference
//	ids, never nested nodes, so cycles cost nothing structurally. The graph
//	is mutable only between NewCallGraph and Freeze; Builder.Build performs
//	the whole mutation internally and hands out only frozen graphs.
//
// Thread Safety:
//
//	Not safe for concurrent use before Freeze(). Safe for unlimited
//	concurrent reads afterwards.
type CallGraph struct {
	functions map[string]*FunctionNode

	// order preserves insertion order for deterministic iteration;
	// map iteration order is not stable in Go.
	order []string

	// entryPoints and dataAccessors are subsets of the arena's keys.
	entryPoints   []string
	dataAccessors []string

	stats   GraphStats
	builtAt time.Time

	maxFunctions int
	frozen       bool
}

// NewCallGraph creates an empty, mutable CallGraph.
func NewCallGraph(opts ...CallGraphOption) *CallGraph {
	g := &CallGraph{
		functions: make(map[string]*FunctionNode),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddFunction inserts a node into the arena.
//
// Errors:
//   - ErrGraphFrozen after Freeze()
//   - ErrInvalidFunction for a nil node or empty id
//   - ErrDuplicateFunction when the id already exists
//   - ErrMaxFunctionsExceeded past the configured cap
func (g *CallGraph) AddFunction(fn *FunctionNode) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if fn == nil || fn.ID == "" {
		return ErrInvalidFunction
	}
	if _, exists := g.functions[fn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, fn.ID)
	}
	if g.maxFunctions > 0 && len(g.functions) >= g.maxFunctions {
		return ErrMaxFunctionsExceeded
	}

	g.functions[fn.ID] = fn
	g.order = append(g.order, fn.ID)
	return nil
}

// Freeze finalizes the graph: computes stats, sorts the derived index
// slices for deterministic output, and flips the graph read-only.
// Idempotent.
func (g *CallGraph) Freeze() {
	if g.frozen {
		return
	}

	stats := GraphStats{
		TotalFunctions: len(g.functions),
		ByLanguage:     make(map[string]int),
	}
	for _, id := range g.order {
		fn := g.functions[id]
		stats.ByLanguage[string(fn.Language)]++
		stats.TotalCallSites += len(fn.Calls)
		for _, c := range fn.Calls {
			if c.Resolved {
				stats.ResolvedCallSites++
			} else {
				stats.UnresolvedCallSites++
			}
		}
	}
	g.stats = stats

	sort.Strings(g.entryPoints)
	sort.Strings(g.dataAccessors)

	g.builtAt = time.Now().UTC()
	g.frozen = true
}

// Frozen reports whether the graph is read-only.
func (g *CallGraph) Frozen() bool {
	return g.frozen
}

// Function returns the node for an id, or nil, false when unknown.
func (g *CallGraph) Function(id string) (*FunctionNode, bool) {
	fn, ok := g.functions[id]
	return fn, ok
}

// Size returns the number of functions in the arena.
func (g *CallGraph) Size() int {
	return len(g.functions)
}

// FunctionIDs returns every node id in insertion order. The returned slice
// is shared; callers must not modify it.
func (g *CallGraph) FunctionIDs() []string {
	return g.order
}

// EntryPoints returns the ids of derived entry points, sorted after
// Freeze(). Shared slice; do not modify.
func (g *CallGraph) EntryPoints() []string {
	return g.entryPoints
}

// IsEntryPoint reports whether id was derived as an entry point.
func (g *CallGraph) IsEntryPoint(id string) bool {
	for _, ep := range g.entryPoints {
		if ep == id {
			return true
		}
	}
	return false
}

// DataAccessors returns the ids of functions holding at least one direct
// data access point, sorted after Freeze(). Shared slice; do not modify.
func (g *CallGraph) DataAccessors() []string {
	return g.dataAccessors
}

// Stats returns the graph statistics computed at Freeze().
func (g *CallGraph) Stats() GraphStats {
	return g.stats
}

// BuiltAt returns the freeze timestamp (UTC). Zero before Freeze().
func (g *CallGraph) BuiltAt() time.Time {
	return g.builtAt
}

func (g *CallGraph) markEntryPoint(id string) {
	if g.frozen {
		return
	}
	for _, ep := range g.entryPoints {
		if ep == id {
			return
		}
	}
	g.entryPoints = append(g.entryPoints, id)
}

func (g *CallGraph) markDataAccessor(id string) {
	if g.frozen {
		return
	}
	for _, da := range g.dataAccessors {
		if da == id {
			return
		}
	}
	g.dataAccessors = append(g.dataAccessors, id)
}

// FunctionsInFile returns the nodes defined in file, sorted by start line.
func (g *CallGraph) FunctionsInFile(file string) []*FunctionNode {
	var out []*FunctionNode
	for _, id := range g.order {
		if fn := g.functions[id]; fn.File == file {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartLine < out[j].StartLine
	})
	return out
}

// FunctionAtLine returns the smallest function in file whose line range
// covers line, or nil when no function covers it.
func (g *CallGraph) FunctionAtLine(file string, line int) *FunctionNode {
	var best *FunctionNode
	for _, id := range g.order {
		fn := g.functions[id]
		if fn.File != file || line < fn.StartLine || line > fn.EndLine {
			continue
		}
		if best == nil || fn.EndLine-fn.StartLine < best.EndLine-best.StartLine {
			best = fn
		}
	}
	return best
}
