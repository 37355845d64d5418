// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathfind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/drift/callgraph"
	"github.com/AleutianAI/drift/extract"
)

// diamondGraph builds start -> {midA, midB, target} with midA and midB
// both calling target, plus an isolated function and a three-node chain.
func diamondGraph(t *testing.T) *callgraph.CallGraph {
	t.Helper()

	b := callgraph.NewBuilder()
	b.AddFile(&extract.FileResult{
		File: "src/flow.ts",
		Functions: []extract.FunctionInfo{
			{Name: "start", StartLine: 1, EndLine: 10},
			{Name: "midA", StartLine: 12, EndLine: 20},
			{Name: "midB", StartLine: 22, EndLine: 30},
			{Name: "target", StartLine: 32, EndLine: 40},
			{Name: "isolated", StartLine: 42, EndLine: 50},
		},
		Calls: []extract.CallInfo{
			{CalleeName: "midA", Line: 3},
			{CalleeName: "midB", Line: 4},
			{CalleeName: "target", Line: 5},
			{CalleeName: "target", Line: 15},
			{CalleeName: "target", Line: 25},
		},
	})
	b.AddFile(&extract.FileResult{
		File: "src/chain.ts",
		Functions: []extract.FunctionInfo{
			{Name: "one", StartLine: 1, EndLine: 10},
			{Name: "two", StartLine: 12, EndLine: 20},
			{Name: "three", StartLine: 22, EndLine: 30},
		},
		Calls: []extract.CallInfo{
			{CalleeName: "two", Line: 5},
			{CalleeName: "three", Line: 15},
		},
	})

	res := b.Build(context.Background())
	require.False(t, res.Incomplete)
	return res.Graph
}

func flowID(name string, line int) string {
	return callgraph.FunctionID("src/flow.ts", name, line)
}

func chainID(name string, line int) string {
	return callgraph.FunctionID("src/chain.ts", name, line)
}

func TestShortestPath(t *testing.T) {
	f := NewFinder(diamondGraph(t))
	ctx := context.Background()

	t.Run("direct edge wins", func(t *testing.T) {
		p, err := f.ShortestPath(ctx, flowID("start", 1), flowID("target", 32))
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, []string{flowID("start", 1), flowID("target", 32)}, p.Nodes)
		assert.Equal(t, 1, p.Depth)
	})

	t.Run("identity", func(t *testing.T) {
		p, err := f.ShortestPath(ctx, flowID("start", 1), flowID("start", 1))
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, []string{flowID("start", 1)}, p.Nodes)
		assert.Zero(t, p.Depth)
	})

	t.Run("chain", func(t *testing.T) {
		p, err := f.ShortestPath(ctx, chainID("one", 1), chainID("three", 22))
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 2, p.Depth)
	})

	t.Run("unreachable", func(t *testing.T) {
		p, err := f.ShortestPath(ctx, flowID("start", 1), flowID("isolated", 42))
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown id", func(t *testing.T) {
		p, err := f.ShortestPath(ctx, "missing:fn:1", flowID("target", 32))
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestAllPaths(t *testing.T) {
	f := NewFinder(diamondGraph(t))
	ctx := context.Background()

	t.Run("enumerates every simple path", func(t *testing.T) {
		result, err := f.AllPaths(ctx, flowID("start", 1), flowID("target", 32))
		require.NoError(t, err)
		assert.Len(t, result.Paths, 3)
		assert.False(t, result.Truncated)

		for _, p := range result.Paths {
			assert.Equal(t, flowID("start", 1), p.Nodes[0])
			assert.Equal(t, flowID("target", 32), p.Nodes[len(p.Nodes)-1])
			assert.Equal(t, len(p.Nodes)-1, p.Depth)
		}
	})

	t.Run("max paths truncates", func(t *testing.T) {
		result, err := f.AllPaths(ctx, flowID("start", 1), flowID("target", 32),
			WithMaxPaths(1))
		require.NoError(t, err)
		assert.Len(t, result.Paths, 1)
		assert.True(t, result.Truncated)
	})

	t.Run("max depth prunes", func(t *testing.T) {
		result, err := f.AllPaths(ctx, flowID("start", 1), flowID("target", 32),
			WithMaxDepth(1))
		require.NoError(t, err)
		require.Len(t, result.Paths, 1)
		assert.Equal(t, 1, result.Paths[0].Depth)
	})

	t.Run("no path", func(t *testing.T) {
		result, err := f.AllPaths(ctx, flowID("isolated", 42), flowID("target", 32))
		require.NoError(t, err)
		assert.Empty(t, result.Paths)
	})
}

func TestReachableFunctions(t *testing.T) {
	f := NewFinder(diamondGraph(t))
	ctx := context.Background()

	t.Run("full closure includes origin", func(t *testing.T) {
		ids, err := f.ReachableFunctions(ctx, flowID("start", 1))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			flowID("start", 1), flowID("midA", 12),
			flowID("midB", 22), flowID("target", 32),
		}, ids)
		assert.NotContains(t, ids, flowID("isolated", 42))
	})

	t.Run("depth bound", func(t *testing.T) {
		ids, err := f.ReachableFunctions(ctx, chainID("one", 1), WithMaxDepth(1))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{chainID("one", 1), chainID("two", 12)}, ids)
	})

	t.Run("unknown id", func(t *testing.T) {
		ids, err := f.ReachableFunctions(ctx, "missing:fn:1")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestCallers(t *testing.T) {
	f := NewFinder(diamondGraph(t))
	ctx := context.Background()

	t.Run("one hop", func(t *testing.T) {
		ids, err := f.Callers(ctx, flowID("target", 32))
		require.NoError(t, err)
		assert.Equal(t, []string{
			flowID("midA", 12), flowID("midB", 22), flowID("start", 1),
		}, ids)
	})

	t.Run("transitive excludes target", func(t *testing.T) {
		ids, err := f.Callers(ctx, chainID("three", 22), WithTransitive())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{chainID("one", 1), chainID("two", 12)}, ids)
	})

	t.Run("no callers", func(t *testing.T) {
		ids, err := f.Callers(ctx, flowID("start", 1))
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestIsConnected(t *testing.T) {
	f := NewFinder(diamondGraph(t))
	ctx := context.Background()

	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"forward", flowID("start", 1), flowID("target", 32), true},
		{"not backward", flowID("target", 32), flowID("start", 1), false},
		{"isolated", flowID("start", 1), flowID("isolated", 42), false},
		{"identity", flowID("midA", 12), flowID("midA", 12), true},
		{"unknown", "missing:fn:1", flowID("target", 32), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.IsConnected(ctx, tc.a, tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
