// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package alias

import (
	"context"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quildtide/dtask/topology"
)

func twoSpaces() (topology.Space, topology.Space, topology.Processor, topology.Processor) {
	sp0 := topology.NewSpace("a")
	sp1 := topology.NewSpace("b")
	p0 := topology.NewProcessor("p0", topology.CPU, sp0)
	p1 := topology.NewProcessor("p1", topology.CPU, sp1)
	return sp0, sp1, p0, p1
}

func TestInMemorySpansAndSpaceOf(t *testing.T) {
	sp0, _, _, _ := twoSpaces()
	m := NewInMemory()
	v := new(int)
	m.Place(v, sp0)

	sp, ok := m.SpaceOf(v)
	require.True(t, ok)
	assert.Equal(t, sp0, sp)

	spans, err := m.Spans(v, nil)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, sp0, spans[0].Space())
}

func TestInMemorySpansUnknownValue(t *testing.T) {
	m := NewInMemory()
	_, err := m.Spans(new(int), nil)
	assert.Error(t, err)
}

func TestInMemoryMayAlias(t *testing.T) {
	m := NewInMemory()
	sp0, _, _, _ := twoSpaces()
	root := new(int)
	m.Place(root, sp0)

	whole, err := m.Spans(root, nil)
	require.NoError(t, err)
	a, err := m.Spans(root, "fieldA")
	require.NoError(t, err)
	b, err := m.Spans(root, "fieldB")
	require.NoError(t, err)

	assert.True(t, m.MayAlias(whole[0], a[0]), "a whole-value access must alias any sub-access of the same root")
	assert.True(t, m.MayAlias(a[0], a[0]), "a span must alias itself")
	assert.False(t, m.MayAlias(a[0], b[0]), "disjoint named sub-accesses of the same root must not alias")
}

func TestIdentitySpanFallback(t *testing.T) {
	type val struct{ x int }
	v1 := &val{x: 1}
	v2 := &val{x: 1}
	s1 := IdentitySpan(v1)
	s2 := IdentitySpan(v2)
	s1again := IdentitySpan(v1)
	assert.True(t, MayAliasIdentity(s1, s1again))
	assert.False(t, MayAliasIdentity(s1, s2), "distinct values must not alias under identity comparison even if structurally equal")
}

func TestInMemoryMoveAndCopyTo(t *testing.T) {
	sp0, sp1, p0, p1 := twoSpaces()
	m := NewInMemory()
	v := new(int)
	m.Place(v, sp0)

	ctx := context.Background()
	moved, err := m.Move(ctx, p0, p1, v)
	require.NoError(t, err)
	assert.Equal(t, v, moved)
	sp, ok := m.SpaceOf(v)
	require.True(t, ok)
	assert.Equal(t, sp1, sp)
	assert.EqualValues(t, 1, m.Moved())

	err = m.CopyTo(ctx, Slot{Space: sp0, Value: v}, Slot{Space: sp1, Value: v})
	require.NoError(t, err)
}

func TestInMemoryFuzzedValues(t *testing.T) {
	sp0, _, _, _ := twoSpaces()
	m := NewInMemory()
	fz := fuzz.New().NilChance(0)
	var xs []int
	fz.NumElements(8, 8)
	fz.Fuzz(&xs)
	for i := range xs {
		m.Place(&xs[i], sp0)
		sp, ok := m.SpaceOf(&xs[i])
		require.True(t, ok)
		assert.Equal(t, sp0, sp)
	}
}
