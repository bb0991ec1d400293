// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/quildtide/dtask/dtaskerr"
)

// Traversal selects the order in which the static planner walks the
// task DAG (spec.md §4.4(e)).
type Traversal int

const (
	Inorder Traversal = iota
	BFS
	DFS
)

func ParseTraversal(s string) (Traversal, error) {
	switch s {
	case "", "inorder":
		return Inorder, nil
	case "bfs":
		return BFS, nil
	case "dfs":
		return DFS, nil
	default:
		return 0, dtaskerr.New(dtaskerr.InvalidTraversal, "unrecognized traversal option %q", s)
	}
}

// node is a single vertex in the static task DAG: a recorded
// submission plus its predecessor and successor edges. Vertex ids are
// 1-based submission order, matching spec.md's "breadth-first from
// vertex 1".
type node struct {
	id     int
	spec   TaskSpec
	handle *Handle
	preds  map[int]bool
	succs  map[int]bool
}

// Graph is the integer-indexed DAG built by the recorder in static
// mode. Edges always go from an older submission to a younger one, so
// the graph is acyclic by construction (spec.md §9).
type Graph struct {
	nodes []*node // nodes[i] has id i+1
}

func newGraph() *Graph { return &Graph{} }

// addNode appends a new vertex for spec/handle and returns its id.
func (g *Graph) addNode(spec TaskSpec, handle *Handle) int {
	id := len(g.nodes) + 1
	g.nodes = append(g.nodes, &node{id: id, spec: spec, handle: handle, preds: map[int]bool{}, succs: map[int]bool{}})
	return id
}

// addEdge records a dependency from pred to succ (pred < succ always).
func (g *Graph) addEdge(pred, succ int) {
	if pred == succ {
		return
	}
	p, s := g.nodes[pred-1], g.nodes[succ-1]
	if s.preds[pred] {
		return // duplicate edges are elided
	}
	s.preds[pred] = true
	p.succs[succ] = true
}

func (g *Graph) len() int { return len(g.nodes) }

func (g *Graph) node(id int) *node { return g.nodes[id-1] }

// order returns the vertex ids of g in traversal order t.
func (g *Graph) order(t Traversal) ([]int, error) {
	switch t {
	case Inorder:
		return g.inorder(), nil
	case BFS:
		return g.bfs(), nil
	case DFS:
		return g.dfs(), nil
	default:
		return nil, dtaskerr.New(dtaskerr.InvalidTraversal, "unrecognized traversal %d", t)
	}
}

func (g *Graph) inorder() []int {
	ids := make([]int, g.len())
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

// bfs walks the DAG breadth-first from vertex 1, following out-edges; a
// vertex is emitted on first discovery. Bigslice-style graphs are not
// necessarily (weakly) connected from a single root, so bfs seeds its
// frontier with every vertex that has no predecessors, vertex 1 first.
func (g *Graph) bfs() []int {
	seen := make(map[int]bool, g.len())
	var order []int
	var frontier []int
	for _, n := range g.nodes {
		if len(n.preds) == 0 {
			frontier = append(frontier, n.id)
		}
	}
	for len(frontier) > 0 {
		var next []int
		for _, id := range frontier {
			if seen[id] {
				continue
			}
			seen[id] = true
			order = append(order, id)
			succs := sortedKeys(g.node(id).succs)
			next = append(next, succs...)
		}
		frontier = next
	}
	// Any vertex unreachable from a root (shouldn't occur given acyclic
	// submission-order edges, but guarded for robustness) is appended
	// in submission order.
	for _, n := range g.nodes {
		if !seen[n.id] {
			seen[n.id] = true
			order = append(order, n.id)
		}
	}
	return order
}

// dfs performs a naive depth-first walk: a vertex is emitted as soon
// as it is popped, with no gate on its predecessors having run first
// (spec.md §4.4(e)/§8 scenario 5's worked example requires emitting a
// vertex after only one of its two parents has been visited, which a
// readiness-gated walk can never produce). Vertices are pushed in
// reverse successor order so the lowest-numbered out-edge is explored
// first, matching spec.md:223's "[1,2,4,3] or [1,3,4,2] depending on
// out-edge order" — for this graph's submission-order edges that
// yields [1,2,4,3]. Bigslice-style graphs are not necessarily
// connected from a single root, so dfs seeds its stack with every
// vertex that has no predecessors, vertex 1 first (mirrors bfs).
func (g *Graph) dfs() []int {
	visited := make(map[int]bool, g.len())
	var order []int
	var roots []int
	for _, n := range g.nodes {
		if len(n.preds) == 0 {
			roots = append(roots, n.id)
		}
	}
	var stack []int
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)
		succs := sortedKeys(g.node(id).succs)
		for i := len(succs) - 1; i >= 0; i-- {
			if !visited[succs[i]] {
				stack = append(stack, succs[i])
			}
		}
	}
	// Any vertex unreachable from a root (shouldn't occur given acyclic
	// submission-order edges, but guarded for robustness) is appended
	// in submission order.
	for _, n := range g.nodes {
		if !visited[n.id] {
			visited[n.id] = true
			order = append(order, n.id)
		}
	}
	return order
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// String returns a schematic dump of the graph, grounded in bigslice's
// Task.GraphString debug helper.
func (g *Graph) String() string {
	var b bytes.Buffer
	g.WriteGraph(&b)
	return b.String()
}

// WriteGraph writes a tab-separated dump of vertices and edges to w.
func (g *Graph) WriteGraph(w io.Writer) {
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "tasks:")
	for _, n := range g.nodes {
		fmt.Fprintf(&tw, "\t%d\t%s\t%s\n", n.id, n.spec.Name, n.handle.id)
	}
	tw.Flush()
	fmt.Fprintln(&tw, "dependencies:")
	for _, n := range g.nodes {
		for _, p := range sortedKeys(n.preds) {
			fmt.Fprintf(&tw, "\t%d:\t%d\n", n.id, p)
		}
	}
	tw.Flush()
}
