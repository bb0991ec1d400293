// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quildtide/dtask/access"
	"github.com/quildtide/dtask/alias"
	"github.com/quildtide/dtask/exec"
	"github.com/quildtide/dtask/topology"
)

func twoCPUProcs() (*topology.Static, topology.Space, topology.Space) {
	sp0 := topology.NewSpace("space0")
	sp1 := topology.NewSpace("space1")
	p0 := topology.NewProcessor("p0", topology.CPU, sp0)
	p1 := topology.NewProcessor("p1", topology.CPU, sp1)
	topo := topology.NewStatic()
	topo.AddWorker("w0", p0)
	topo.AddWorker("w1", p1)
	return topo, sp0, sp1
}

func runPlan(t *testing.T, r *Recorder, topo topology.Topology, oracle alias.Oracle, x exec.Executor) {
	t.Helper()
	planner := NewPlanner(topo, oracle, x, topology.AllScope(), Inorder, r)
	require.NoError(t, planner.Plan(context.Background()))
	require.NoError(t, x.Wait(context.Background()))
}

func TestPlannerRoundRobinPlacement(t *testing.T) {
	topo, _, _ := twoCPUProcs()
	oracle := alias.NewInMemory()
	x := exec.NewLocal()
	r := NewRecorder(Static, true, oracle, nil, topology.AllScope())

	seenSpaces := map[string]int{}
	track := func(context.Context, []interface{}) (interface{}, error) {
		return nil, nil
	}
	for i := 0; i < 4; i++ {
		_, err := r.Enqueue(TaskSpec{Name: "indep", Fn: track})
		require.NoError(t, err)
	}

	planner := NewPlanner(topo, oracle, x, topology.AllScope(), Inorder, r)
	require.NoError(t, planner.Plan(context.Background()))
	require.NoError(t, x.Wait(context.Background()))

	for _, h := range r.Handles() {
		sp := planner.current[interface{}(h)]
		seenSpaces[sp.ID()]++
	}
	assert.Equal(t, 2, seenSpaces["space0"], "round-robin placement must alternate evenly across 4 independent tasks on 2 processors")
	assert.Equal(t, 2, seenSpaces["space1"], "round-robin placement must alternate evenly across 4 independent tasks on 2 processors")
}

func TestPlannerSynthesizesCopyInAcrossSpaces(t *testing.T) {
	topo, sp0, _ := twoCPUProcs()
	oracle := alias.NewInMemory()
	v := new(int)
	oracle.Place(v, sp0)
	x := exec.NewLocal()
	r := NewRecorder(Static, true, oracle, nil, topology.AllScope())

	// First task (round-robin -> p0/space0) writes v; it should need no
	// copy since v already lives in space0.
	_, err := r.Enqueue(TaskSpec{Name: "writer0", Fn: echoFn, Args: []interface{}{access.Out(v)}})
	require.NoError(t, err)
	// Second task (round-robin -> p1/space1) also writes v; since
	// writer0 left it in space0, this requires a copy-in to space1.
	_, err = r.Enqueue(TaskSpec{Name: "writer1", Fn: echoFn, Args: []interface{}{access.Out(v)}})
	require.NoError(t, err)

	runPlan(t, r, topo, oracle, x)
	assert.EqualValues(t, 1, oracle.Moved(), "crossing from space0 to space1 must synthesize exactly one copy-in")
}

func TestPlannerNoCopyWhenSameSpace(t *testing.T) {
	sp0 := topology.NewSpace("space0")
	p0 := topology.NewProcessor("p0", topology.CPU, sp0)
	topo := topology.NewStatic()
	topo.AddWorker("w0", p0)

	oracle := alias.NewInMemory()
	v := new(int)
	oracle.Place(v, sp0)
	x := exec.NewLocal()
	r := NewRecorder(Static, true, oracle, nil, topology.AllScope())

	_, err := r.Enqueue(TaskSpec{Name: "writer0", Fn: echoFn, Args: []interface{}{access.Out(v)}})
	require.NoError(t, err)
	_, err = r.Enqueue(TaskSpec{Name: "writer1", Fn: echoFn, Args: []interface{}{access.Out(v)}})
	require.NoError(t, err)

	runPlan(t, r, topo, oracle, x)
	assert.EqualValues(t, 0, oracle.Moved(), "a single-processor topology never needs a copy")
}

func TestPlannerWritebackToOrigin(t *testing.T) {
	topo, sp0, _ := twoCPUProcs()
	oracle := alias.NewInMemory()
	v := new(int)
	oracle.Place(v, sp0)
	x := exec.NewLocal()
	r := NewRecorder(Static, true, oracle, nil, topology.AllScope())

	// Two writes in a row force the second to round-robin onto space1,
	// leaving v resident away from its origin (space0) at region close.
	_, err := r.Enqueue(TaskSpec{Name: "w0", Fn: echoFn, Args: []interface{}{access.Out(v)}})
	require.NoError(t, err)
	_, err = r.Enqueue(TaskSpec{Name: "w1", Fn: echoFn, Args: []interface{}{access.Out(v)}})
	require.NoError(t, err)

	runPlan(t, r, topo, oracle, x)

	sp, ok := oracle.SpaceOf(v)
	require.True(t, ok)
	assert.Equal(t, sp0.ID(), sp.ID(), "an externally-seeded value written elsewhere must be copied back to its origin space")
}

func TestPlannerNoWritesNeedNoWriteback(t *testing.T) {
	topo, sp0, _ := twoCPUProcs()
	oracle := alias.NewInMemory()
	v := new(int)
	oracle.Place(v, sp0)
	x := exec.NewLocal()
	r := NewRecorder(Static, true, oracle, nil, topology.AllScope())

	_, err := r.Enqueue(TaskSpec{Name: "r0", Fn: echoFn, Args: []interface{}{access.In(v)}})
	require.NoError(t, err)
	_, err = r.Enqueue(TaskSpec{Name: "r1", Fn: echoFn, Args: []interface{}{access.In(v)}})
	require.NoError(t, err)

	runPlan(t, r, topo, oracle, x)
	assert.EqualValues(t, 0, oracle.Moved(), "read-only values never need a copy-in")
}
