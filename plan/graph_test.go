// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFn(context.Context, []interface{}) (interface{}, error) { return nil, nil }

func buildLinearGraph() *Graph {
	g := newGraph()
	for i := 1; i <= 4; i++ {
		g.addNode(TaskSpec{Name: "t", Fn: noopFn}, newHandle("t", i))
	}
	g.addEdge(1, 2)
	g.addEdge(1, 3)
	g.addEdge(2, 4)
	g.addEdge(3, 4)
	return g
}

func TestParseTraversal(t *testing.T) {
	tr, err := ParseTraversal("")
	require.NoError(t, err)
	assert.Equal(t, Inorder, tr)

	tr, err = ParseTraversal("bfs")
	require.NoError(t, err)
	assert.Equal(t, BFS, tr)

	tr, err = ParseTraversal("dfs")
	require.NoError(t, err)
	assert.Equal(t, DFS, tr)

	_, err = ParseTraversal("nonsense")
	assert.Error(t, err)
}

func TestGraphInorder(t *testing.T) {
	g := buildLinearGraph()
	order, err := g.order(Inorder)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, order)
}

// precedes reports whether a appears before b in order.
func precedes(order []int, a, b int) bool {
	ia, ib := -1, -1
	for i, v := range order {
		if v == a {
			ia = i
		}
		if v == b {
			ib = i
		}
	}
	return ia < ib
}

func TestGraphBFSRespectsDependencies(t *testing.T) {
	g := buildLinearGraph()
	order, err := g.order(BFS)
	require.NoError(t, err)
	require.Len(t, order, 4)
	assert.True(t, precedes(order, 1, 2))
	assert.True(t, precedes(order, 1, 3))
	assert.True(t, precedes(order, 2, 4))
	assert.True(t, precedes(order, 3, 4))
}

// spec.md:223's worked example for this exact graph (1->2, 1->3,
// 2->4, 3->4): dfs yields [1,2,4,3] or [1,3,4,2] depending on
// out-edge order. Pushing successors in reverse sorted order explores
// the lowest-numbered edge first, which for this graph's
// submission-order edges gives [1,2,4,3].
func TestGraphDFSExploresLowestOutEdgeFirst(t *testing.T) {
	g := buildLinearGraph()
	order, err := g.order(DFS)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 3}, order)
}

func TestGraphWriteGraph(t *testing.T) {
	g := buildLinearGraph()
	var b strings.Builder
	g.WriteGraph(&b)
	out := b.String()
	assert.Contains(t, out, "tasks:")
	assert.Contains(t, out, "dependencies:")
	assert.Contains(t, out, "4:")
}
