// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec defines the task-execution contract the scheduler core
// consumes (spec.md §6's "Executor contract") and a local, in-process
// reference executor that honours each task's syncdeps set. The real
// executor — the thing that actually runs task bodies across a
// cluster — is an external collaborator; this package's Local
// implementation exists so the core (and its tests) have something
// concrete to dispatch to, the way bigslice's own test suite runs
// against a Local executor before reaching for bigmachine.
package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"

	"github.com/quildtide/dtask/topology"
)

// State is a task's position in its lifecycle.
type State int

const (
	Init State = iota
	Waiting
	Running
	Ok
	Err
	Lost
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Ok:
		return "ok"
	case Err:
		return "err"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Task is a single unit of work submitted to the executor. Deps holds
// the task's syncdeps: every task in Deps must reach state Ok before
// Task may begin running.
type Task struct {
	// Name identifies the task in logs and graph dumps.
	Name string
	// Fn is the task body. Copy tasks synthesized by the planner and
	// user tasks rewritten by it both end up here.
	Fn func(ctx context.Context) error
	// Deps are this task's syncdeps.
	Deps []*Task
	// Scope restricts the task to a single processor, as assigned by
	// the placement planner.
	Scope topology.Scope

	mu    sync.Mutex
	cond  *ctxsync.Cond
	state State
	err   error
}

// NewTask returns a Task ready for submission.
func NewTask(name string, fn func(context.Context) error, deps []*Task, scope topology.Scope) *Task {
	t := &Task{Name: name, Fn: fn, Deps: deps, Scope: scope, state: Init}
	t.cond = ctxsync.NewCond(&t.mu)
	return t
}

func (t *Task) Lock()   { t.mu.Lock() }
func (t *Task) Unlock() { t.mu.Unlock() }

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set transitions the task to state s, waking any waiters. Callers
// must not hold the task's lock.
func (t *Task) Set(s State) {
	t.mu.Lock()
	t.state = s
	t.cond.Broadcast()
	t.mu.Unlock()
}

// setErr transitions the task to Err, recording err.
func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.state = Err
	t.err = err
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Err returns the error the task failed with, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task's state changes, or ctx is done. Callers
// must hold the task's lock (see Lock); Wait releases it while
// blocked, per the usual condition-variable contract.
func (t *Task) Wait(ctx context.Context) error {
	return t.cond.Wait(ctx)
}

// WaitState blocks until the task reaches at least state want, or ctx
// is done.
func (t *Task) WaitState(ctx context.Context, want State) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.state < want {
		if err := t.cond.Wait(ctx); err != nil {
			return t.state, err
		}
	}
	return t.state, nil
}

func (t *Task) String() string { return fmt.Sprintf("task(%s)", t.Name) }

// Executor is the narrow interface the core consumes from the
// (excluded) task execution engine.
type Executor interface {
	// Enqueue submits t for execution. Enqueue does not block for t to
	// complete; callers observe completion through t's state.
	Enqueue(ctx context.Context, t *Task) error
	// Wait blocks until every task previously Enqueued on this executor
	// has reached a terminal state, returning the first failure, if
	// any. Corresponds to the region driver's barrier (spec.md §4.5).
	Wait(ctx context.Context) error
}
