// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dtask

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"

	"github.com/quildtide/dtask/alias"
	"github.com/quildtide/dtask/dtaskerr"
	"github.com/quildtide/dtask/exec"
	"github.com/quildtide/dtask/plan"
	"github.com/quildtide/dtask/topology"
)

// Region is the live scope a WithRegion body submits tasks into. It
// wraps the dependency recorder (C3); task placement (C4) happens only
// once the body returns and the region is about to close.
type Region struct {
	rec *plan.Recorder
}

// Submit enqueues a task. args are the task's positional arguments,
// each either a plain value (defaulting to In) or one built with
// In/Out/InOut/Deps. scope restricts where the task may run; pass
// topology.AllScope() to leave it unconstrained. fn receives the
// (possibly copy-in-rewritten) argument values and returns the task's
// result, which later tasks may reference by passing the returned
// handle as an argument.
func (r *Region) Submit(name string, fn func(ctx context.Context, args []interface{}) (interface{}, error), scope topology.Scope, args ...interface{}) (*plan.Handle, error) {
	return r.rec.Enqueue(plan.TaskSpec{Name: name, Fn: fn, Args: args, Scope: scope})
}

// Handle re-exports plan.Handle so callers of the root package never
// need to import dtask/plan directly for the common case.
type Handle = plan.Handle

type regionConfig struct {
	static     bool
	traversal  plan.Traversal
	aliasing   bool
	localScope topology.Scope
	placeScope topology.Scope
	status     *status.Group
}

// RegionOption configures WithRegion. The defaults match spec.md §6:
// static planning, inorder traversal, aliasing enabled.
type RegionOption func(*regionConfig)

// WithStatic selects static (plan-at-close) or dynamic (dispatch
// immediately) mode.
func WithStatic(static bool) RegionOption {
	return func(c *regionConfig) { c.static = static }
}

// WithTraversal selects the static planner's DAG walk order: "inorder"
// (default), "bfs", or "dfs".
func WithTraversal(name string) RegionOption {
	return func(c *regionConfig) {
		t, err := plan.ParseTraversal(name)
		if err != nil {
			c.traversal = invalidTraversal
			return
		}
		c.traversal = t
	}
}

// invalidTraversal is never a value plan.ParseTraversal can return; it
// marks a deferred WithTraversal failure so construction stays
// side-effect-free until WithRegion actually validates options.
const invalidTraversal plan.Traversal = -1

// WithAliasing enables or disables the alias oracle; disabling it
// falls back to value-identity comparison (spec.md §4.2).
func WithAliasing(aliasing bool) RegionOption {
	return func(c *regionConfig) { c.aliasing = aliasing }
}

// WithLocalScope restricts dynamic-mode submissions to the given
// worker scope (spec.md §4.3's scope constraint). Defaults to
// unconstrained.
func WithLocalScope(s topology.Scope) RegionOption {
	return func(c *regionConfig) { c.localScope = s }
}

// WithPlacementScope restricts which processors the static planner may
// round-robin across. Defaults to unconstrained.
func WithPlacementScope(s topology.Scope) RegionOption {
	return func(c *regionConfig) { c.placeScope = s }
}

// WithStatusGroup reports region progress into g, the way bigslice's
// exec.Eval reports into a *status.Group.
func WithStatusGroup(g *status.Group) RegionOption {
	return func(c *regionConfig) { c.status = g }
}

// WithRegion opens a scoping region, collects the submissions body
// makes, and — in static mode — runs the placement & copy planner at
// close before waiting for every outstanding submission (user task or
// synthesized copy) to complete. It returns body's return value, or
// the first failure encountered at any stage (spec.md §4.5).
func WithRegion(
	ctx context.Context,
	topo topology.Topology,
	oracle alias.Oracle,
	executor exec.Executor,
	body func(*Region) (interface{}, error),
	opts ...RegionOption,
) (interface{}, error) {
	cfg := regionConfig{static: true, traversal: plan.Inorder, aliasing: true, localScope: topology.AllScope(), placeScope: topology.AllScope()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.traversal == invalidTraversal {
		return nil, dtaskerr.New(dtaskerr.InvalidTraversal, "unrecognized traversal option")
	}

	mode := plan.Dynamic
	if cfg.static {
		mode = plan.Static
	}
	rec := plan.NewRecorder(mode, cfg.aliasing, oracle, executor, cfg.localScope)
	region := &Region{rec: rec}

	if cfg.status != nil {
		cfg.status.Printf("dtask: region opened (static=%v traversal=%v aliasing=%v)", cfg.static, cfg.traversal, cfg.aliasing)
	}
	log.Printf("dtask: region opened (static=%v traversal=%v aliasing=%v)", cfg.static, cfg.traversal, cfg.aliasing)

	result, err := body(region)
	if err != nil {
		return nil, err
	}

	if cfg.static {
		planner := plan.NewPlanner(topo, oracle, executor, cfg.placeScope, cfg.traversal, rec)
		if err := planner.Plan(ctx); err != nil {
			return nil, err
		}
	}

	if err := executor.Wait(ctx); err != nil {
		return nil, dtaskerr.Wrap(dtaskerr.UserTaskFailure, err, "region: a task failed")
	}
	if cfg.status != nil {
		cfg.status.Printf("dtask: region closed")
	}
	return result, nil
}
