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
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/AleutianAI/drift/extract"
)

// contextCheckInterval controls how often long loops poll ctx.Done().
const contextCheckInterval = 100

// defaultEntryPointPatterns match decorator/annotation text of externally
// invokable functions (HTTP handlers, CLI commands, scheduled jobs).
// Matching is case-insensitive substring. HTTP verbs are anchored as
// "@verb(" so route decorators like "@Get('/users')" match while
// unrelated annotations like "@Getter" do not. The list is heuristic and
// replaceable via WithEntryPointPatterns.
var defaultEntryPointPatterns = []string{
	"route", "controller", "handler", "middleware", "request",
	"@get(", "@post(", "@put(", "@patch(", "@delete(", "@head(", "@options(",
	"command", "cli",
	"cron", "schedule", "job", "task",
	"listener", "subscribe", "consumer",
	"websocket", "rpc",
}

// Resolution tier names carried on CallSite.Reason.
const (
	reasonSameClass = "same-class-method"
	reasonSameFile  = "same-file"
	reasonImported  = "imported"
)

// Resolution tier confidences. Name-based matching without type
// information is inherently uncertain; these values rank the tiers, they
// do not claim calibrated probabilities.
const (
	confidenceSameClass = 0.9
	confidenceSameFile  = 0.8
	confidenceImported  = 0.7
)

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEntryPointPatterns replaces the default decorator patterns used for
// entry-point derivation. Patterns are matched case-insensitively as
// substrings of decorator text.
func WithEntryPointPatterns(patterns ...string) BuilderOption {
	return func(b *Builder) {
		b.patterns = patterns
	}
}

// WithGraphOptions forwards options to the CallGraph the builder creates.
func WithGraphOptions(opts ...CallGraphOption) BuilderOption {
	return func(b *Builder) {
		b.graphOpts = opts
	}
}

// WithProgress installs a callback invoked per build phase with the count
// of processed and total files. Used by long-running pipelines for
// progress reporting; must be fast and must not retain the arguments.
func WithProgress(fn func(stage string, done, total int)) BuilderOption {
	return func(b *Builder) {
		b.progress = fn
	}
}

// Builder assembles a CallGraph from registered extraction results and
// data-access points.
//
// Description:
//
//	Builder accumulates per-file inputs via AddFile and AddDataAccess, in
//	any order and any number of times, then assembles everything in one
//	Build call. Cross-file call resolution only sees files registered
//	before Build runs; registering files after a build has no effect on
//	graphs already produced.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Callers feed one builder from one
//	goroutine; the produced graph is then safe to share.
//
// Example:
//
//	b := callgraph.NewBuilder()
//	for _, r := range results {
//	    b.AddFile(r)
//	}
//	b.AddDataAccess("src/user-repo.ts", points)
//	res := b.Build(ctx)
//	if res.Incomplete {
//	    return ErrBuildCancelled
//	}
//	g := res.Graph
type Builder struct {
	files     map[string]*extract.FileResult
	fileOrder []string
	access    map[string][]DataAccessPoint

	patterns  []string
	graphOpts []CallGraphOption
	logger    *slog.Logger
	progress  func(stage string, done, total int)
}

// NewBuilder creates a Builder with default options.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		files:    make(map[string]*extract.FileResult),
		access:   make(map[string][]DataAccessPoint),
		patterns: defaultEntryPointPatterns,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddFile registers one file's extraction result.
//
// A nil result or a result with an empty File path is ignored.
// Registering the same path again replaces the earlier result; the
// file keeps its original position in registration order.
func (b *Builder) AddFile(result *extract.FileResult) {
	if result == nil || result.File == "" {
		return
	}
	if _, exists := b.files[result.File]; !exists {
		b.fileOrder = append(b.fileOrder, result.File)
	}
	b.files[result.File] = result
}

// AddDataAccess registers externally-scanned data access points for a
// file. Repeated calls append. Points are attached to owning functions by
// line containment during Build.
func (b *Builder) AddDataAccess(file string, points []DataAccessPoint) {
	if file == "" || len(points) == 0 {
		return
	}
	b.access[file] = append(b.access[file], points...)
}

// buildState is the per-run working set. A fresh state per Build keeps
// the builder reusable for idempotent rebuilds.
type buildState struct {
	graph  *CallGraph
	result *BuildResult

	// byFile holds nodes per file in registration order.
	byFile map[string][]*FunctionNode

	// byName indexes nodes per file under Name, QualifiedName and, for
	// constructors, the owning class name.
	byName map[string]map[string][]*FunctionNode

	// classMethods indexes methods per file per class per bare name.
	classMethods map[string]map[string]map[string][]*FunctionNode

	// bindings maps per file each import binding to the registered file
	// it resolved to. Unresolvable specifiers are absent.
	bindings map[string]map[string]string

	// topLevelCalls holds per file the calls outside every function
	// body, used for entry-point derivation.
	topLevelCalls map[string][]extract.CallInfo
}

// Build assembles, resolves and freezes the graph.
//
// Description:
//
//	Build runs in phases: collect nodes, resolve import bindings, extract
//	call edges, attach data access points, derive entry points, finalize.
//	Malformed input never aborts the run; problems accumulate in
//	BuildResult.FileErrors with the graph built from whatever was usable.
//
// Inputs:
//
//	ctx - cancellation only; checked between phases and every
//	      contextCheckInterval files.
//
// Outputs:
//
//	*BuildResult - never nil. Graph is nil only when Incomplete is true.
//
// Complexity: O(files + functions + calls) time; resolution lookups are
// map-backed.
func (b *Builder) Build(ctx context.Context) *BuildResult {
	start := time.Now()
	ctx, span := startBuildSpan(ctx, len(b.fileOrder))
	defer span.End()

	st := &buildState{
		graph:         NewCallGraph(b.graphOpts...),
		result:        &BuildResult{},
		byFile:        make(map[string][]*FunctionNode),
		byName:        make(map[string]map[string][]*FunctionNode),
		classMethods:  make(map[string]map[string]map[string][]*FunctionNode),
		bindings:      make(map[string]map[string]string),
		topLevelCalls: make(map[string][]extract.CallInfo),
	}

	phases := []struct {
		name string
		run  func(ctx context.Context, st *buildState) error
	}{
		{"collect", b.collectFunctions},
		{"imports", b.resolveImports},
		{"resolve", b.extractEdges},
		{"data-access", b.attachDataAccess},
		{"entry-points", b.deriveEntryPoints},
	}

	for _, phase := range phases {
		if err := phase.run(ctx, st); err != nil {
			st.result.Incomplete = true
			st.result.Graph = nil
			duration := time.Since(start)
			st.result.Stats.DurationMicro = duration.Microseconds()
			setBuildSpanResult(span, 0, 0, true)
			recordBuildMetrics(ctx, duration, 0, 0, false)
			b.logger.Warn("call graph build cancelled",
				slog.String("phase", phase.name),
				slog.String("error", err.Error()))
			return st.result
		}
	}

	st.graph.Freeze()
	st.result.Graph = st.graph

	duration := time.Since(start)
	st.result.Stats.DurationMicro = duration.Microseconds()
	st.result.Stats.FilesProcessed = len(b.fileOrder)

	stats := st.graph.Stats()
	setBuildSpanResult(span, stats.TotalFunctions, stats.TotalCallSites, false)
	recordBuildMetrics(ctx, duration, stats.TotalFunctions, stats.TotalCallSites, true)

	b.logger.Info("call graph built",
		slog.Int("files", len(b.fileOrder)),
		slog.Int("functions", stats.TotalFunctions),
		slog.Int("call_sites", stats.TotalCallSites),
		slog.Int("resolved", stats.ResolvedCallSites),
		slog.Int("entry_points", len(st.graph.EntryPoints())),
		slog.Int("file_errors", len(st.result.FileErrors)),
		slog.Duration("duration", duration))

	return st.result
}

// collectFunctions creates a node per extracted function and fills the
// per-file indexes. Malformed entries are defaulted, never rejected.
func (b *Builder) collectFunctions(ctx context.Context, st *buildState) error {
	total := len(b.fileOrder)
	for i, file := range b.fileOrder {
		if i%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
			default:
			}
		}

		result := b.files[file]
		lang := result.Language
		if lang == extract.LanguageUnknown {
			lang = extract.LanguageFromPath(file)
		}

		if n := len(result.Errors); n > 0 {
			st.result.FileErrors = append(st.result.FileErrors, FileError{
				File:  file,
				Stage: "collect",
				Err:   fmt.Errorf("extraction reported %d parse errors", n),
			})
		}

		for _, info := range result.Functions {
			fn := normalizeFunction(info, file, lang)
			if err := st.graph.AddFunction(fn); err != nil {
				st.result.FileErrors = append(st.result.FileErrors, FileError{
					File:  file,
					Stage: "collect",
					Err:   err,
				})
				continue
			}
			st.result.Stats.FunctionsCreated++
			st.index(fn)
		}

		if b.progress != nil {
			b.progress("collect", i+1, total)
		}
	}
	return nil
}

// normalizeFunction builds a FunctionNode from extraction data, defaulting
// whatever is missing or inconsistent.
func normalizeFunction(info extract.FunctionInfo, file string, lang extract.Language) *FunctionNode {
	name := info.Name
	if name == "" {
		name = "(anonymous)"
	}
	qualified := info.QualifiedName
	if qualified == "" {
		if info.ClassName != "" {
			qualified = info.ClassName + "." + name
		} else {
			qualified = name
		}
	}
	startLine := info.StartLine
	if startLine < 1 {
		startLine = 1
	}
	endLine := info.EndLine
	if endLine < startLine {
		endLine = startLine
	}

	return &FunctionNode{
		ID:            FunctionID(file, qualified, startLine),
		Name:          name,
		QualifiedName: qualified,
		File:          file,
		StartLine:     startLine,
		EndLine:       endLine,
		Language:      lang,
		Parameters:    info.Parameters,
		ReturnType:    info.ReturnType,
		IsExported:    info.IsExported,
		IsAsync:       info.IsAsync,
		IsConstructor: info.IsConstructor,
		IsStatic:      info.IsStatic,
		IsMethod:      info.IsMethod,
		ClassName:     info.ClassName,
		Decorators:    info.Decorators,
	}
}

// index registers fn in the per-file lookup tables.
func (st *buildState) index(fn *FunctionNode) {
	st.byFile[fn.File] = append(st.byFile[fn.File], fn)

	names := st.byName[fn.File]
	if names == nil {
		names = make(map[string][]*FunctionNode)
		st.byName[fn.File] = names
	}
	names[fn.Name] = append(names[fn.Name], fn)
	if fn.QualifiedName != fn.Name {
		names[fn.QualifiedName] = append(names[fn.QualifiedName], fn)
	}
	// Constructors answer to the class name, so `new UserService()`
	// resolves to UserService.constructor.
	if fn.IsConstructor && fn.ClassName != "" && fn.ClassName != fn.Name {
		names[fn.ClassName] = append(names[fn.ClassName], fn)
	}

	if fn.ClassName != "" {
		classes := st.classMethods[fn.File]
		if classes == nil {
			classes = make(map[string]map[string][]*FunctionNode)
			st.classMethods[fn.File] = classes
		}
		methods := classes[fn.ClassName]
		if methods == nil {
			methods = make(map[string][]*FunctionNode)
			classes[fn.ClassName] = methods
		}
		methods[fn.Name] = append(methods[fn.Name], fn)
	}
}

// resolveImports maps each file's import bindings to registered files.
// Specifiers that do not resolve to a registered file (external packages,
// stdlib modules) are simply absent from the binding table.
func (b *Builder) resolveImports(ctx context.Context, st *buildState) error {
	for i, file := range b.fileOrder {
		if i%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
			default:
			}
		}

		result := b.files[file]
		for _, imp := range result.Imports {
			target := b.resolveImportTarget(file, imp.Source)
			if target == "" {
				continue
			}
			bindings := st.bindings[file]
			if bindings == nil {
				bindings = make(map[string]string)
				st.bindings[file] = bindings
			}
			for _, name := range imp.Named {
				bindings[name] = target
			}
			if imp.Default != "" {
				bindings[imp.Default] = target
			}
			if imp.Namespace != "" {
				bindings[imp.Namespace] = target
			}
			if len(imp.Named) == 0 && imp.Default == "" && imp.Namespace == "" {
				// `import db` style: the module itself is the binding.
				bindings[path.Base(strings.ReplaceAll(imp.Source, ".", "/"))] = target
			}
		}
	}
	return nil
}

// resolveImportTarget maps a module specifier to a registered file path.
//
// Relative specifiers resolve against the importing file's directory;
// bare dotted specifiers (Python style) resolve as path fragments. The
// match strips known extensions and accepts directory index files.
func (b *Builder) resolveImportTarget(fromFile, source string) string {
	if source == "" {
		return ""
	}

	var spec string
	if strings.HasPrefix(source, ".") && strings.ContainsAny(source, "/\\") {
		spec = path.Join(path.Dir(fromFile), source)
	} else if strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../") || source == "." {
		spec = path.Join(path.Dir(fromFile), source)
	} else {
		spec = strings.ReplaceAll(source, ".", "/")
	}
	spec = strings.TrimPrefix(spec, "/")
	if spec == "" {
		return ""
	}

	for _, file := range b.fileOrder {
		base := trimSourceExt(file)
		if base == spec || strings.HasSuffix(base, "/"+spec) {
			return file
		}
		if base == spec+"/index" || strings.HasSuffix(base, "/"+spec+"/index") {
			return file
		}
	}
	return ""
}

// trimSourceExt drops the final extension from a source path.
func trimSourceExt(file string) string {
	if idx := strings.LastIndex(file, "."); idx > strings.LastIndex(file, "/") {
		return file[:idx]
	}
	return file
}

// extractEdges turns every call site into a CallSite on its owning
// function, resolving callees by decreasing specificity, and appends the
// symmetric reverse edge for each resolved call. Calls outside every
// function body are kept aside for entry-point derivation.
func (b *Builder) extractEdges(ctx context.Context, st *buildState) error {
	total := len(b.fileOrder)
	for i, file := range b.fileOrder {
		if i%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
			default:
			}
		}

		result := b.files[file]
		for _, call := range result.Calls {
			caller := smallestCover(st.byFile[file], call.Line)
			if caller == nil {
				st.topLevelCalls[file] = append(st.topLevelCalls[file], call)
				continue
			}

			site := b.resolveCall(st, file, caller, call)
			caller.Calls = append(caller.Calls, site)
			st.result.Stats.CallSitesCreated++

			if site.Resolved {
				if callee, ok := st.graph.Function(site.CalleeID); ok {
					callee.CalledBy = append(callee.CalledBy, site)
				}
			}
		}

		if b.progress != nil {
			b.progress("resolve", i+1, total)
		}
	}
	return nil
}

// smallestCover returns the function whose line range covers line with
// the tightest span, or nil.
func smallestCover(fns []*FunctionNode, line int) *FunctionNode {
	var best *FunctionNode
	for _, fn := range fns {
		if line < fn.StartLine || line > fn.EndLine {
			continue
		}
		if best == nil || fn.EndLine-fn.StartLine < best.EndLine-best.StartLine {
			best = fn
		}
	}
	return best
}

// resolveCall matches one textual call reference against the graph.
//
// Tiers, most specific first:
//  1. same-class method through an own-instance receiver (this/self)
//  2. same-file function or method by name
//  3. cross-file function through a tracked import binding
//
// Ambiguity within the winning tier is broken by registration order, with
// all matches recorded on Candidates.
func (b *Builder) resolveCall(st *buildState, file string, caller *FunctionNode, call extract.CallInfo) CallSite {
	site := CallSite{
		CallerID:      caller.ID,
		CalleeName:    call.CalleeName,
		Receiver:      call.Receiver,
		File:          file,
		Line:          call.Line,
		Column:        call.Column,
		ArgumentCount: call.ArgumentCount,
	}
	if call.CalleeName == "" {
		return site
	}

	var (
		matches    []*FunctionNode
		confidence float64
		reason     string
	)

	if isOwnInstance(call.Receiver) && caller.ClassName != "" {
		if classes := st.classMethods[file]; classes != nil {
			matches = classes[caller.ClassName][call.CalleeName]
		}
		confidence, reason = confidenceSameClass, reasonSameClass
	}

	if len(matches) == 0 {
		if names := st.byName[file]; names != nil {
			matches = names[call.CalleeName]
		}
		confidence, reason = confidenceSameFile, reasonSameFile
	}

	if len(matches) == 0 {
		matches = b.resolveImported(st, file, call)
		confidence, reason = confidenceImported, reasonImported
	}

	if len(matches) == 0 {
		return site
	}

	site.Resolved = true
	site.CalleeID = matches[0].ID
	site.Confidence = confidence
	site.Reason = reason
	if len(matches) > 1 {
		site.Candidates = make([]string, len(matches))
		for i, m := range matches {
			site.Candidates[i] = m.ID
		}
		st.result.Stats.AmbiguousResolutions++
	}
	return site
}

// isOwnInstance reports whether a receiver expression denotes the calling
// object itself.
func isOwnInstance(receiver string) bool {
	return receiver == "this" || receiver == "self"
}

// resolveImported looks the callee up through the caller file's import
// bindings: the binding is the receiver's root segment for method calls,
// otherwise the callee name itself.
func (b *Builder) resolveImported(st *buildState, file string, call extract.CallInfo) []*FunctionNode {
	bindings := st.bindings[file]
	if bindings == nil {
		return nil
	}

	binding := call.CalleeName
	if call.Receiver != "" {
		binding = rootSegment(call.Receiver)
	}
	target, ok := bindings[binding]
	if !ok {
		return nil
	}

	names := st.byName[target]
	if names == nil {
		return nil
	}
	var matches []*FunctionNode
	for _, fn := range names[call.CalleeName] {
		// Only exported definitions are visible across files; class
		// methods surface through their class, not bare names.
		if fn.IsExported || fn.IsConstructor || fn.IsMethod {
			matches = append(matches, fn)
		}
	}
	return matches
}

// rootSegment returns the first dotted segment of a receiver expression.
func rootSegment(receiver string) string {
	if idx := strings.Index(receiver, "."); idx >= 0 {
		return receiver[:idx]
	}
	return receiver
}

// attachDataAccess merges registered access points onto the function whose
// line range covers them, smallest span winning, and marks accessors.
func (b *Builder) attachDataAccess(ctx context.Context, st *buildState) error {
	n := 0
	for file, points := range b.access {
		n++
		if n%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
			default:
			}
		}

		fns := st.byFile[file]
		for _, point := range points {
			point.Operation = normalizeOperation(point.Operation)
			if point.File == "" {
				point.File = file
			}

			owner := smallestCover(fns, point.Line)
			if owner == nil {
				st.result.Stats.AccessPointsOrphaned++
				b.logger.Debug("data access point outside any function",
					slog.String("file", file),
					slog.Int("line", point.Line),
					slog.String("table", point.Table))
				continue
			}

			owner.DataAccess = append(owner.DataAccess, point)
			st.graph.markDataAccessor(owner.ID)
			st.result.Stats.AccessPointsAttached++
		}
	}
	return nil
}

// deriveEntryPoints marks functions that look externally invokable:
// exported functions whose decorator text matches the configured
// patterns, or targets of a module-level top-level invocation.
// Approximate; consumers treat the set as a starting heuristic, not
// ground truth.
func (b *Builder) deriveEntryPoints(ctx context.Context, st *buildState) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
	default:
	}

	for _, id := range st.graph.FunctionIDs() {
		fn, _ := st.graph.Function(id)
		if fn.IsExported && b.matchesEntryPattern(fn.Decorators) {
			st.graph.markEntryPoint(id)
		}
	}

	for file, calls := range st.topLevelCalls {
		names := st.byName[file]
		if names == nil {
			continue
		}
		for _, call := range calls {
			for _, fn := range names[call.CalleeName] {
				st.graph.markEntryPoint(fn.ID)
			}
		}
	}
	return nil
}

func (b *Builder) matchesEntryPattern(decorators []string) bool {
	for _, d := range decorators {
		lower := strings.ToLower(d)
		for _, p := range b.patterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}
