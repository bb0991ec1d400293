// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

// Local is an in-process Executor that runs task bodies directly,
// scheduling each task once every task in its Deps has reached Ok. Its
// scheduling loop is the same waitlist-and-readiness scheme bigslice's
// own evaluator (exec.Eval / exec.state) uses to drive a task DAG to
// completion, adapted from a partitioned-dependency model to dtask's
// flat syncdeps sets. Fan-out and first-error collection are delegated
// to an errgroup.Group, the way the teacher's own region-closing code
// fans a barrier out across outstanding work.
type Local struct {
	g errgroup.Group
}

// NewLocal returns a ready Local executor.
func NewLocal() *Local { return &Local{} }

// Enqueue runs t in its own goroutine once its dependencies are
// satisfied. It returns immediately; failures surface through Wait.
func (x *Local) Enqueue(ctx context.Context, t *Task) error {
	x.g.Go(func() error { return x.run(ctx, t) })
	return nil
}

func (x *Local) run(ctx context.Context, t *Task) error {
	for _, dep := range t.Deps {
		state, err := dep.WaitState(ctx, Ok)
		if err != nil {
			t.setErr(err)
			return err
		}
		if state != Ok {
			err := errTaskLost(dep)
			t.setErr(err)
			return err
		}
	}
	t.Set(Waiting)
	t.Set(Running)
	log.Printf("dtask/exec: running %s", t)
	if err := t.Fn(ctx); err != nil {
		t.setErr(err)
		return err
	}
	t.Set(Ok)
	return nil
}

// Wait blocks until every enqueued task has reached a terminal state,
// returning the first failure observed, if any.
func (x *Local) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- x.g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type depFailedError struct{ t *Task }

func (e depFailedError) Error() string { return "dtask/exec: dependency " + e.t.Name + " did not complete" }

func errTaskLost(t *Task) error { return depFailedError{t} }
