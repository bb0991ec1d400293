// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStatic() (*Static, *space, *space) {
	sp0 := NewSpace("space0")
	sp1 := NewSpace("space1")
	p0 := NewProcessor("p0", CPU, sp0)
	p1 := NewProcessor("p1", CPU, sp1)
	p2 := NewProcessor("p2", GPU, sp1)
	topo := NewStatic()
	topo.AddWorker("w0", p0, p2)
	topo.AddWorker("w1", p1)
	return topo, sp0, sp1
}

func TestStaticWorkersAndProcessors(t *testing.T) {
	topo, _, _ := buildStatic()
	assert.Equal(t, []string{"w0", "w1"}, topo.Workers())
	assert.Len(t, topo.Processors("w0"), 2)
	assert.Len(t, topo.Processors("w1"), 1)
}

func TestCPUProcessorsFiltersNonCPU(t *testing.T) {
	topo, sp0, sp1 := buildStatic()
	procs, spaces := CPUProcessors(topo, AllScope())
	require.Len(t, procs, 2)
	for _, p := range procs {
		assert.Equal(t, CPU, p.Kind())
	}
	ids := map[string]bool{}
	for _, sp := range spaces {
		ids[sp.ID()] = true
	}
	assert.True(t, ids[sp0.ID()])
	assert.True(t, ids[sp1.ID()])
}

func TestScopeConstrain(t *testing.T) {
	topo, _, _ := buildStatic()
	p0 := topo.Processors("w0")[0]
	p1 := topo.Processors("w1")[0]

	all := AllScope()
	single := SingleScope(p0)

	result, ok := all.Constrain(single)
	require.True(t, ok)
	assert.True(t, result.Contains(p0))
	assert.False(t, result.Contains(p1))

	disjoint := NewScope(p1)
	_, ok = single.Constrain(disjoint)
	assert.False(t, ok, "disjoint scopes must fail to intersect")
}

func TestScopeFilter(t *testing.T) {
	topo, _, _ := buildStatic()
	procs := topo.Processors("w0")
	scope := SingleScope(procs[0])
	filtered := scope.Filter(procs)
	require.Len(t, filtered, 1)
	assert.Equal(t, procs[0].ID(), filtered[0].ID())
}
