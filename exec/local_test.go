// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quildtide/dtask/topology"
)

func TestLocalRunsInDependencyOrder(t *testing.T) {
	x := NewLocal()
	ctx := context.Background()
	scope := topology.AllScope()

	var order []string
	t1 := NewTask("t1", func(context.Context) error {
		order = append(order, "t1")
		return nil
	}, nil, scope)
	t2 := NewTask("t2", func(context.Context) error {
		order = append(order, "t2")
		return nil
	}, []*Task{t1}, scope)

	require.NoError(t, x.Enqueue(ctx, t1))
	require.NoError(t, x.Enqueue(ctx, t2))
	require.NoError(t, x.Wait(ctx))

	assert.Equal(t, []string{"t1", "t2"}, order)
	assert.Equal(t, Ok, t1.State())
	assert.Equal(t, Ok, t2.State())
}

func TestLocalSurfacesFirstFailure(t *testing.T) {
	x := NewLocal()
	ctx := context.Background()
	scope := topology.AllScope()

	boom := errors.New("boom")
	t1 := NewTask("fails", func(context.Context) error { return boom }, nil, scope)
	t2 := NewTask("downstream", func(context.Context) error { return nil }, []*Task{t1}, scope)

	require.NoError(t, x.Enqueue(ctx, t1))
	require.NoError(t, x.Enqueue(ctx, t2))

	err := x.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, Err, t1.State())
	assert.Equal(t, Err, t2.State(), "a task whose dependency failed must itself end in Err")
}

func TestTaskWaitStateRespectsContext(t *testing.T) {
	t1 := NewTask("never", func(context.Context) error {
		select {}
	}, nil, topology.AllScope())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := t1.WaitState(ctx, Ok)
	assert.Error(t, err)
}
