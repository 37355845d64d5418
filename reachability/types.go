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
	"github.com/AleutianAI/drift/callgraph"
)

// Sensitivity labels a classified (table, field) pair, e.g. "pii",
// "credentials", "financial". The label vocabulary belongs to the
// injected classifier, not to this package.
type Sensitivity string

// FieldClassifier decides whether a (table, field) pair is sensitive.
//
// The engine takes a classifier by injection; there is no process-wide
// default. Classification pattern tables are a downstream concern.
type FieldClassifier interface {
	// Classify returns the sensitivity label for a field and true, or
	// ok=false when the field carries no classification.
	Classify(table, field string) (Sensitivity, bool)
}

// StaticFieldClassifier is a map-backed FieldClassifier keyed by
// "table.field". Mostly useful for tests and small fixed rule sets.
type StaticFieldClassifier map[string]Sensitivity

// Classify implements FieldClassifier.
func (c StaticFieldClassifier) Classify(table, field string) (Sensitivity, bool) {
	s, ok := c[table+"."+field]
	return s, ok
}

// QueryOption configures a single reachability query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	maxDepth int
	tables   []string
	maxPaths int
}

// Unbounded marks a query depth as unlimited.
const Unbounded = -1

// DefaultMaxPaths bounds inverse-path enumeration when the caller gives
// no explicit limit.
const DefaultMaxPaths = 50

func defaultQueryOptions() queryOptions {
	return queryOptions{
		maxDepth: Unbounded,
		maxPaths: DefaultMaxPaths,
	}
}

// WithMaxDepth bounds traversal depth. Zero restricts a forward query to
// the origin function itself. Negative means unbounded (the default).
func WithMaxDepth(depth int) QueryOption {
	return func(o *queryOptions) {
		o.maxDepth = depth
	}
}

// WithTables filters the returned access entries to the named tables.
// The filter applies to results only; it never prunes the traversal.
func WithTables(tables ...string) QueryOption {
	return func(o *queryOptions) {
		o.tables = tables
	}
}

// WithMaxPaths bounds the number of access paths an inverse query
// returns. Non-positive values fall back to DefaultMaxPaths.
func WithMaxPaths(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.maxPaths = n
		}
	}
}

// ReachableAccess is one data access point found by forward traversal.
type ReachableAccess struct {
	// Access is the access point as attached during build.
	Access callgraph.DataAccessPoint `json:"access"`

	// FunctionID owns the access point.
	FunctionID string `json:"functionId"`

	// Depth is the call distance from the query origin; 0 means the
	// origin itself owns the access.
	Depth int `json:"depth"`

	// Path is the qualified-name call chain from the origin to the
	// owning function, origin first.
	Path []string `json:"path"`
}

// SensitiveField aggregates classified fields across all returned
// accesses of one query.
type SensitiveField struct {
	Table       string      `json:"table"`
	Field       string      `json:"field"`
	Sensitivity Sensitivity `json:"sensitivity"`

	// AccessCount is the number of returned access entries touching the
	// field; PathCount the number of distinct call paths among them.
	AccessCount int `json:"accessCount"`
	PathCount   int `json:"pathCount"`
}

// DataReachability is the forward query result: what data can this
// function reach.
//
// A query against an unknown function id yields the zero result with the
// id echoed back, never an error.
type DataReachability struct {
	// FunctionID is the query origin.
	FunctionID string `json:"functionId"`

	// Tables lists the distinct tables of the returned accesses, sorted.
	Tables []string `json:"tables"`

	// ReachableAccess lists every returned access with depth and path.
	ReachableAccess []ReachableAccess `json:"reachableAccess"`

	// SensitiveFields aggregates classifier hits over the returned
	// accesses, sorted by table then field.
	SensitiveFields []SensitiveField `json:"sensitiveFields"`

	// FunctionsTraversed counts visited functions, origin included.
	FunctionsTraversed int `json:"functionsTraversed"`

	// MaxDepth is the deepest level the traversal actually reached.
	MaxDepth int `json:"maxDepth"`
}

// AccessPath is one inverse path from an entry point down to a data
// accessor.
type AccessPath struct {
	// EntryPointID and AccessorID bound the path.
	EntryPointID string `json:"entryPointId"`
	AccessorID   string `json:"accessorId"`

	// Path is the qualified-name chain, entry point first, accessor last.
	Path []string `json:"path"`

	// Depth is the call distance between the two ends.
	Depth int `json:"depth"`
}

// CodePaths is the inverse query result: what code can reach this data.
type CodePaths struct {
	// Table and Field echo the query target; Field may be empty.
	Table string `json:"table"`
	Field string `json:"field,omitempty"`

	// TotalAccessors counts functions with a matching direct access
	// point, whether or not any entry point reaches them.
	TotalAccessors int `json:"totalAccessors"`

	// EntryPoints lists the distinct entry points that reach any
	// matching accessor, sorted.
	EntryPoints []string `json:"entryPoints"`

	// AccessPaths holds up to the configured limit of ordered paths.
	// An accessor nothing calls contributes zero paths; that signals
	// unreachable or dead code, not an error.
	AccessPaths []AccessPath `json:"accessPaths"`
}

// CallPathResult composes a forward location query with the inverse view
// of one table.
type CallPathResult struct {
	// FunctionID is the function resolved from the queried location.
	// Empty when no function covers the location.
	FunctionID string `json:"functionId,omitempty"`

	// Forward holds the location's reachability filtered to the table.
	Forward *DataReachability `json:"forward,omitempty"`

	// Inverse holds the table's code paths.
	Inverse *CodePaths `json:"inverse,omitempty"`
}
