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
	"testing"

	"github.com/AleutianAI/drift/extract"
)

// testFunc builds a minimal FunctionInfo.
func testFunc(name string, start, end int) extract.FunctionInfo {
	return extract.FunctionInfo{
		Name:      name,
		StartLine: start,
		EndLine:   end,
	}
}

// testCall builds a plain CallInfo at a line.
func testCall(callee string, line int) extract.CallInfo {
	return extract.CallInfo{CalleeName: callee, Line: line}
}

func buildFixture(t *testing.T) *BuildResult {
	t.Helper()

	b := NewBuilder()

	controller := &extract.FileResult{
		File:     "src/controller.ts",
		Language: extract.LanguageTypeScript,
		Functions: []extract.FunctionInfo{
			{
				Name:       "handleRequest",
				StartLine:  3,
				EndLine:    10,
				IsExported: true,
				Decorators: []string{"@Get('/users/:id')"},
			},
		},
		Calls: []extract.CallInfo{
			testCall("findUser", 5),
			testCall("unknownFn", 6),
		},
		Imports: []extract.ImportInfo{
			{Source: "./service", Named: []string{"findUser"}, Line: 1},
		},
	}

	service := &extract.FileResult{
		File:     "src/service.ts",
		Language: extract.LanguageTypeScript,
		Functions: []extract.FunctionInfo{
			{Name: "findUser", StartLine: 1, EndLine: 10, IsExported: true},
			testFunc("helper", 12, 20),
			{
				Name: "load", QualifiedName: "Repo.load",
				ClassName: "Repo", IsMethod: true,
				StartLine: 22, EndLine: 30,
			},
			{
				Name: "fetch", QualifiedName: "Repo.fetch",
				ClassName: "Repo", IsMethod: true,
				StartLine: 32, EndLine: 40,
			},
		},
		Calls: []extract.CallInfo{
			testCall("helper", 5),
			{CalleeName: "load", Receiver: "this", Line: 35, IsMethodCall: true},
		},
	}

	script := &extract.FileResult{
		File:     "scripts/run.py",
		Language: extract.LanguagePython,
		Functions: []extract.FunctionInfo{
			testFunc("main", 1, 5),
		},
		Calls: []extract.CallInfo{
			testCall("main", 7), // module level, outside every function
		},
	}

	b.AddFile(controller)
	b.AddFile(service)
	b.AddFile(script)
	b.AddDataAccess("src/service.ts", []DataAccessPoint{
		{ID: "dap-1", Table: "users", Fields: []string{"email", "ssn"}, Operation: AccessRead, Line: 25, Confidence: 0.9},
	})

	return b.Build(context.Background())
}

func TestBuildResolutionTiers(t *testing.T) {
	res := buildFixture(t)
	if res.Incomplete {
		t.Fatal("build reported incomplete")
	}
	g := res.Graph
	if !g.Frozen() {
		t.Fatal("built graph is not frozen")
	}

	handler, ok := g.Function(FunctionID("src/controller.ts", "handleRequest", 3))
	if !ok {
		t.Fatal("handleRequest not in graph")
	}
	if len(handler.Calls) != 2 {
		t.Fatalf("handleRequest calls = %d, want 2", len(handler.Calls))
	}

	t.Run("imported", func(t *testing.T) {
		site := handler.Calls[0]
		if !site.Resolved {
			t.Fatal("findUser call not resolved")
		}
		want := FunctionID("src/service.ts", "findUser", 1)
		if site.CalleeID != want {
			t.Errorf("calleeId = %q, want %q", site.CalleeID, want)
		}
		if site.Reason != "imported" || site.Confidence != 0.7 {
			t.Errorf("reason/confidence = %q/%v, want imported/0.7", site.Reason, site.Confidence)
		}
	})

	t.Run("unresolved", func(t *testing.T) {
		site := handler.Calls[1]
		if site.Resolved || site.CalleeID != "" || site.Confidence != 0 {
			t.Errorf("unknownFn site = %+v, want unresolved", site)
		}
	})

	t.Run("same file", func(t *testing.T) {
		findUser, _ := g.Function(FunctionID("src/service.ts", "findUser", 1))
		if len(findUser.Calls) != 1 {
			t.Fatalf("findUser calls = %d, want 1", len(findUser.Calls))
		}
		site := findUser.Calls[0]
		if !site.Resolved || site.Reason != "same-file" || site.Confidence != 0.8 {
			t.Errorf("helper site = %+v, want same-file/0.8", site)
		}
	})

	t.Run("same class", func(t *testing.T) {
		fetch, _ := g.Function(FunctionID("src/service.ts", "Repo.fetch", 32))
		if len(fetch.Calls) != 1 {
			t.Fatalf("Repo.fetch calls = %d, want 1", len(fetch.Calls))
		}
		site := fetch.Calls[0]
		if !site.Resolved || site.Reason != "same-class-method" || site.Confidence != 0.9 {
			t.Errorf("load site = %+v, want same-class-method/0.9", site)
		}
		if site.CalleeID != FunctionID("src/service.ts", "Repo.load", 22) {
			t.Errorf("load calleeId = %q", site.CalleeID)
		}
	})
}

func TestBuildStatsInvariant(t *testing.T) {
	stats := buildFixture(t).Graph.Stats()

	if stats.ResolvedCallSites+stats.UnresolvedCallSites != stats.TotalCallSites {
		t.Errorf("resolved %d + unresolved %d != total %d",
			stats.ResolvedCallSites, stats.UnresolvedCallSites, stats.TotalCallSites)
	}
	if stats.TotalFunctions != 6 {
		t.Errorf("totalFunctions = %d, want 6", stats.TotalFunctions)
	}
	if stats.TotalCallSites != 4 {
		t.Errorf("totalCallSites = %d, want 4 (module-level call is not an edge)", stats.TotalCallSites)
	}
	if stats.UnresolvedCallSites != 1 {
		t.Errorf("unresolvedCallSites = %d, want 1", stats.UnresolvedCallSites)
	}
	if stats.ByLanguage["typescript"] != 5 || stats.ByLanguage["python"] != 1 {
		t.Errorf("byLanguage = %v", stats.ByLanguage)
	}
}

func TestReverseEdgeSymmetry(t *testing.T) {
	g := buildFixture(t).Graph

	for _, id := range g.FunctionIDs() {
		fn, _ := g.Function(id)
		for _, site := range fn.Calls {
			if !site.Resolved {
				continue
			}
			callee, ok := g.Function(site.CalleeID)
			if !ok {
				t.Fatalf("resolved callee %q missing from graph", site.CalleeID)
			}
			found := false
			for _, rev := range callee.CalledBy {
				if rev.CallerID == fn.ID && rev.Line == site.Line {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("callee %q has no reverse edge for caller %q line %d",
					site.CalleeID, fn.ID, site.Line)
			}
		}
	}
}

func TestBuildIdempotence(t *testing.T) {
	first := buildFixture(t)
	second := buildFixture(t)

	if first.Graph.Size() != second.Graph.Size() {
		t.Errorf("sizes differ: %d vs %d", first.Graph.Size(), second.Graph.Size())
	}
	a, b := first.Graph.Stats(), second.Graph.Stats()
	if a.TotalFunctions != b.TotalFunctions ||
		a.TotalCallSites != b.TotalCallSites ||
		a.ResolvedCallSites != b.ResolvedCallSites ||
		a.UnresolvedCallSites != b.UnresolvedCallSites {
		t.Errorf("stats differ: %+v vs %+v", a, b)
	}
	if len(first.Graph.EntryPoints()) != len(second.Graph.EntryPoints()) {
		t.Errorf("entry point counts differ")
	}
	for i, id := range first.Graph.FunctionIDs() {
		if second.Graph.FunctionIDs()[i] != id {
			t.Fatalf("function order differs at %d: %q vs %q", i, id, second.Graph.FunctionIDs()[i])
		}
	}
}

func TestEntryPointDerivation(t *testing.T) {
	g := buildFixture(t).Graph

	handlerID := FunctionID("src/controller.ts", "handleRequest", 3)
	mainID := FunctionID("scripts/run.py", "main", 1)

	if !g.IsEntryPoint(handlerID) {
		t.Error("decorated handler not derived as entry point")
	}
	if !g.IsEntryPoint(mainID) {
		t.Error("top-level invoked function not derived as entry point")
	}
	if got := len(g.EntryPoints()); got != 2 {
		t.Errorf("entry points = %d (%v), want 2", got, g.EntryPoints())
	}
}

func TestEntryPointRequiresExport(t *testing.T) {
	b := NewBuilder()
	b.AddFile(&extract.FileResult{
		File: "src/private.ts",
		Functions: []extract.FunctionInfo{
			{
				Name: "internalHandler", StartLine: 1, EndLine: 8,
				Decorators: []string{"@Get('/internal')"},
			},
			{
				Name: "publicHandler", StartLine: 10, EndLine: 18,
				IsExported: true,
				Decorators: []string{"@Get('/public')"},
			},
		},
	})
	g := b.Build(context.Background()).Graph

	if g.IsEntryPoint(FunctionID("src/private.ts", "internalHandler", 1)) {
		t.Error("unexported decorated function derived as entry point")
	}
	if !g.IsEntryPoint(FunctionID("src/private.ts", "publicHandler", 10)) {
		t.Error("exported decorated function not derived as entry point")
	}
}

func TestEntryPointPatternAnchoring(t *testing.T) {
	b := NewBuilder()
	b.AddFile(&extract.FileResult{
		File: "src/model.ts",
		Functions: []extract.FunctionInfo{
			{
				Name: "getName", StartLine: 1, EndLine: 4, IsExported: true,
				Decorators: []string{"@Getter"},
			},
			{
				Name: "purge", StartLine: 6, EndLine: 12, IsExported: true,
				Decorators: []string{"@DeleteDeprecated"},
			},
		},
	})
	g := b.Build(context.Background()).Graph

	if got := g.EntryPoints(); len(got) != 0 {
		t.Errorf("non-route annotations matched as entry points: %v", got)
	}
}

func TestDataAccessMerge(t *testing.T) {
	g := buildFixture(t).Graph

	loadID := FunctionID("src/service.ts", "Repo.load", 22)
	load, _ := g.Function(loadID)
	if len(load.DataAccess) != 1 {
		t.Fatalf("Repo.load dataAccess = %d, want 1", len(load.DataAccess))
	}
	if load.DataAccess[0].Table != "users" {
		t.Errorf("table = %q, want users", load.DataAccess[0].Table)
	}
	if load.DataAccess[0].File != "src/service.ts" {
		t.Errorf("file not defaulted onto point: %q", load.DataAccess[0].File)
	}

	if len(g.DataAccessors()) != 1 || g.DataAccessors()[0] != loadID {
		t.Errorf("dataAccessors = %v, want [%s]", g.DataAccessors(), loadID)
	}
}

func TestDataAccessSmallestCover(t *testing.T) {
	b := NewBuilder()
	b.AddFile(&extract.FileResult{
		File: "src/nested.py",
		Functions: []extract.FunctionInfo{
			testFunc("outer", 1, 50),
			testFunc("inner", 10, 20),
		},
	})
	b.AddDataAccess("src/nested.py", []DataAccessPoint{
		{ID: "p1", Table: "orders", Operation: AccessWrite, Line: 15},
		{ID: "p2", Table: "orders", Operation: AccessWrite, Line: 40},
		{ID: "p3", Table: "orders", Operation: AccessWrite, Line: 99},
	})

	res := b.Build(context.Background())
	g := res.Graph

	inner, _ := g.Function(FunctionID("src/nested.py", "inner", 10))
	outer, _ := g.Function(FunctionID("src/nested.py", "outer", 1))
	if len(inner.DataAccess) != 1 || inner.DataAccess[0].ID != "p1" {
		t.Errorf("inner owns %v, want [p1]", inner.DataAccess)
	}
	if len(outer.DataAccess) != 1 || outer.DataAccess[0].ID != "p2" {
		t.Errorf("outer owns %v, want [p2]", outer.DataAccess)
	}
	if res.Stats.AccessPointsOrphaned != 1 {
		t.Errorf("orphaned = %d, want 1", res.Stats.AccessPointsOrphaned)
	}
}

func TestBuildDefensiveOnMalformedInput(t *testing.T) {
	b := NewBuilder()
	b.AddFile(nil)
	b.AddFile(&extract.FileResult{}) // empty path, ignored
	b.AddFile(&extract.FileResult{
		File: "src/broken.js",
		Functions: []extract.FunctionInfo{
			{Name: "", StartLine: -3, EndLine: -9},
			{Name: "ok", StartLine: 30, EndLine: 10}, // inverted range
		},
		Errors: []extract.ParseError{{Message: "unexpected token", Line: 2}},
	})
	b.AddDataAccess("", nil)
	b.AddDataAccess("src/missing.js", []DataAccessPoint{{Table: "t", Line: 1}})

	res := b.Build(context.Background())
	if res.Incomplete {
		t.Fatal("defensive build reported incomplete")
	}
	g := res.Graph
	if g.Size() != 2 {
		t.Fatalf("size = %d, want 2", g.Size())
	}

	anon, ok := g.Function(FunctionID("src/broken.js", "(anonymous)", 1))
	if !ok {
		t.Fatal("anonymous function not defaulted into graph")
	}
	if anon.StartLine != 1 || anon.EndLine != 1 {
		t.Errorf("anonymous range = %d..%d, want 1..1", anon.StartLine, anon.EndLine)
	}

	okFn, _ := g.Function(FunctionID("src/broken.js", "ok", 30))
	if okFn.EndLine != 30 {
		t.Errorf("inverted range not clamped: end = %d", okFn.EndLine)
	}

	if !res.HasErrors() {
		t.Error("parse errors not surfaced in FileErrors")
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder()
	b.AddFile(&extract.FileResult{
		File:      "a.go",
		Functions: []extract.FunctionInfo{testFunc("A", 1, 5)},
	})

	res := b.Build(ctx)
	if !res.Incomplete {
		t.Fatal("cancelled build not marked incomplete")
	}
	if res.Graph != nil {
		t.Error("cancelled build returned a graph")
	}
}

func TestFrozenGraphRejectsMutation(t *testing.T) {
	g := buildFixture(t).Graph
	err := g.AddFunction(&FunctionNode{ID: "x"})
	if err != ErrGraphFrozen {
		t.Errorf("AddFunction on frozen graph = %v, want ErrGraphFrozen", err)
	}
}

func TestFunctionLookups(t *testing.T) {
	g := buildFixture(t).Graph

	t.Run("functions in file sorted", func(t *testing.T) {
		fns := g.FunctionsInFile("src/service.ts")
		if len(fns) != 4 {
			t.Fatalf("len = %d, want 4", len(fns))
		}
		for i := 1; i < len(fns); i++ {
			if fns[i-1].StartLine > fns[i].StartLine {
				t.Errorf("not sorted by start line at %d", i)
			}
		}
	})

	t.Run("function at line smallest cover", func(t *testing.T) {
		fn := g.FunctionAtLine("src/service.ts", 25)
		if fn == nil || fn.QualifiedName != "Repo.load" {
			t.Errorf("line 25 -> %v, want Repo.load", fn)
		}
		if g.FunctionAtLine("src/service.ts", 999) != nil {
			t.Error("uncovered line should yield nil")
		}
		if g.FunctionAtLine("nope.ts", 1) != nil {
			t.Error("unknown file should yield nil")
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := buildFixture(t).Graph

	restored, err := FromSnapshot(g.Export())
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if restored.Size() != g.Size() {
		t.Errorf("size = %d, want %d", restored.Size(), g.Size())
	}
	if len(restored.EntryPoints()) != len(g.EntryPoints()) {
		t.Errorf("entry points differ")
	}
	if len(restored.DataAccessors()) != len(g.DataAccessors()) {
		t.Errorf("data accessors differ")
	}
	if !restored.Frozen() {
		t.Error("restored graph not frozen")
	}
	for i, id := range g.FunctionIDs() {
		if restored.FunctionIDs()[i] != id {
			t.Fatalf("order differs at %d", i)
		}
	}
}

func TestSnapshotVersionMismatch(t *testing.T) {
	s := buildFixture(t).Graph.Export()
	s.Version = "drift-callgraph/v0"

	if _, err := FromSnapshot(s); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := FromSnapshot(nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
}
