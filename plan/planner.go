// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"

	"github.com/quildtide/dtask/access"
	"github.com/quildtide/dtask/alias"
	"github.com/quildtide/dtask/dtaskerr"
	"github.com/quildtide/dtask/exec"
	"github.com/quildtide/dtask/topology"
)

// ownership tracks, for one tracked key, the most recent writer (the
// owner) and the set of tasks that have read it since. A write counts
// as a read of itself for the purposes of subsequent read-after-write
// queries (spec.md §4.4(f)7).
//
// Ownership is tracked per value identity rather than per sub-span:
// two disjoint sub-accesses of the same compound value share one
// owner/reader set. This over-synchronizes compound values with
// independent sub-regions (the same conservative trade spec.md §4.2
// explicitly allows for the alias oracle itself — false positives only
// cost parallelism, never correctness) in exchange for a planner that
// fits in one straightforward pass; see DESIGN.md.
type ownership struct {
	owner   *Handle
	readers map[*Handle]bool
}

func (o *ownership) writeDeps() []*Handle {
	seen := map[*Handle]bool{}
	var out []*Handle
	if o.owner != nil {
		seen[o.owner] = true
		out = append(out, o.owner)
	}
	for h := range o.readers {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func (o *ownership) readDeps() []*Handle {
	if o.owner == nil {
		return nil
	}
	return []*Handle{o.owner}
}

type slotKey struct {
	space topology.Space
	key   interface{}
}

// Planner implements C4: it walks the static task DAG in the chosen
// order, assigning tasks to processors round-robin, synthesizing
// copy-in tasks when an argument is not already resident on the
// task's assigned space, and emitting writeback copies for any value
// that ends the region somewhere other than where it started.
type Planner struct {
	topo      topology.Topology
	oracle    alias.Oracle
	executor  exec.Executor
	scope     topology.Scope
	traversal Traversal
	recorder  *Recorder

	procs  []topology.Processor
	spaces []topology.Space

	origin   map[interface{}]topology.Space
	current  map[interface{}]topology.Space
	external map[interface{}]bool // true for values seeded from outside the region (writeback-eligible)
	values   map[interface{}]interface{} // key -> the real value the oracle addresses storage with
	own      map[interface{}]*ownership
	slots    map[slotKey]interface{}
}

// NewPlanner returns a Planner that will walk r's graph once Plan is called.
func NewPlanner(topo topology.Topology, oracle alias.Oracle, executor exec.Executor, scope topology.Scope, traversal Traversal, r *Recorder) *Planner {
	return &Planner{
		topo: topo, oracle: oracle, executor: executor, scope: scope, traversal: traversal, recorder: r,
		origin: map[interface{}]topology.Space{}, current: map[interface{}]topology.Space{},
		external: map[interface{}]bool{}, values: map[interface{}]interface{}{},
		own: map[interface{}]*ownership{}, slots: map[slotKey]interface{}{},
	}
}

// Plan runs the full C4 pipeline: processor enumeration, initial
// locality, the task walk, and writeback.
func (p *Planner) Plan(ctx context.Context) error {
	p.procs, p.spaces = topology.CPUProcessors(p.topo, p.scope)
	if len(p.procs) == 0 {
		return fmt.Errorf("dtask/plan: no CPU processors available in scope")
	}
	p.seedLocality()

	order, err := p.recorder.Graph().order(p.traversal)
	if err != nil {
		return err
	}

	procIdx := 0
	for _, id := range order {
		n := p.recorder.Graph().node(id)
		if err := p.walk(ctx, n, procIdx); err != nil {
			return err
		}
		procIdx = (procIdx + 1) % len(p.procs)
	}
	return p.writeback(ctx)
}

// seedLocality records the origin/current space of every value already
// known to the oracle when the region opened (spec.md §4.4(c)). Values
// never mentioned to the oracle (e.g. compound sub-values, or task
// results, which only acquire a space once their producing task is
// walked) are seeded lazily as they're encountered.
func (p *Planner) seedLocality() {
	for _, h := range p.recorder.Handles() {
		n := p.recorder.Graph().node(h.VertexID())
		for _, raw := range n.spec.Args {
			a := access.Unwrap(raw)
			key, spansBase, skip := resolveKey(a.Value)
			if skip {
				continue
			}
			if _, ok := p.origin[key]; ok {
				continue
			}
			if sp, ok := p.oracle.SpaceOf(spansBase); ok {
				p.origin[key] = sp
				p.current[key] = sp
				p.external[key] = true
				p.values[key] = spansBase
			}
		}
	}
}

func (p *Planner) ownershipOf(key interface{}) *ownership {
	o := p.own[key]
	if o == nil {
		o = &ownership{readers: map[*Handle]bool{}}
		p.own[key] = o
	}
	return o
}

func firstProcessor(sp topology.Space) (topology.Processor, bool) {
	procs := sp.Processors()
	if len(procs) == 0 {
		return nil, false
	}
	return procs[0], true
}

// allocateSlot ensures value has a resident copy in targetSpace,
// performing the synchronous Move that is the slot's allocation
// (spec.md §4.4(d)) if it is not already resident there. It is lazy:
// it runs the first time a (space, key) pair is actually needed by the
// task walk, rather than as a separate eager pre-pass, since which
// pairs are needed is only known once round-robin placement has
// assigned tasks to processors.
func (p *Planner) allocateSlot(ctx context.Context, targetSpace topology.Space, targetProc topology.Processor, key, value interface{}) (interface{}, error) {
	sk := slotKey{targetSpace, key}
	if v, ok := p.slots[sk]; ok {
		return v, nil
	}
	if cur, ok := p.oracle.SpaceOf(value); ok && cur == targetSpace {
		p.slots[sk] = value
		return value, nil
	}
	fromProc := targetProc
	if cur, ok := p.oracle.SpaceOf(value); ok {
		if fp, ok2 := firstProcessor(cur); ok2 {
			fromProc = fp
		}
	}
	moved, err := p.oracle.Move(ctx, fromProc, targetProc, value)
	if err != nil {
		return nil, err
	}
	p.slots[sk] = moved
	return moved, nil
}

// walk implements spec.md §4.4(f) for a single task.
func (p *Planner) walk(ctx context.Context, n *node, procIdx int) error {
	ourProc := p.procs[procIdx]
	ourSpace, ok := firstProcessorSpace(ourProc)
	if !ok {
		return dtaskerr.New(dtaskerr.PlacementAssertion, "processor %s exposes no memory space", ourProc.ID())
	}

	handle := n.handle
	rewritten := make([]interface{}, len(n.spec.Args))
	for i, raw := range n.spec.Args {
		a := access.Unwrap(raw)
		rewritten[i] = a.Value
		key, spansBase, skip := resolveKey(a.Value)
		if skip {
			// a.Value is another task's not-yet-started result. Its
			// producer is still picked up as a syncdep below (keyed by
			// the handle itself), but copy-in synthesis needs a
			// concrete value to hand the oracle and there isn't one
			// yet, so a task-result argument always runs wherever its
			// producer happened to land; see DESIGN.md.
			continue
		}
		writer, err := p.recorder.hasWritedepAt(key, handle)
		if err != nil {
			return err
		}
		if !writer {
			continue // no copy needed; A is left in place
		}
		src, known := p.current[key]
		if !known {
			// The producing task for this key has not yet been walked
			// (possible for non-topological bfs/dfs discovery orders on
			// diamond-shaped graphs). Best effort: treat it as already
			// local, since its real space will be pinned down once its
			// producing task is walked and downstream syncdeps still
			// enforce correct run-time ordering.
			p.current[key] = ourSpace
			src = ourSpace
		}
		if src != ourSpace {
			newVal, err := p.allocateSlot(ctx, ourSpace, ourProc, key, spansBase)
			if err != nil {
				return err
			}
			o := p.ownershipOf(key)
			deps := toTasks(o.writeDeps())
			copyName := fmt.Sprintf("copy-in(%s<-%s,%s)", ourSpace.ID(), src.ID(), handle)
			copyTask := exec.NewTask(copyName, func(ctx context.Context) error {
				return p.oracle.CopyTo(ctx, alias.Slot{Space: ourSpace, Value: newVal}, alias.Slot{Space: src, Value: spansBase})
			}, deps, topology.SingleScope(ourProc))
			copyHandle := newHandle(copyName, 0)
			copyHandle.setTask(copyTask)
			log.Printf("dtask/plan: synthesizing %s", copyName)
			if err := p.executor.Enqueue(ctx, copyTask); err != nil {
				return err
			}
			o.owner = copyHandle
			o.readers = map[*Handle]bool{}
			p.current[key] = ourSpace
			p.values[key] = newVal
			rewritten[i] = newVal
		} else {
			rewritten[i] = spansBase
		}
	}

	for i, raw := range n.spec.Args {
		a := access.Unwrap(raw)
		key, _, skip := resolveKey(a.Value)
		if skip || !a.Tag.Write {
			continue
		}
		if p.current[key] != ourSpace {
			return dtaskerr.New(dtaskerr.PlacementAssertion, "task %s: argument %d resides in %s, not target space %s", handle, i, spaceID(p.current[key]), ourSpace.ID())
		}
	}

	var syncdeps []*Handle
	seen := map[*Handle]bool{}
	addAll := func(hs []*Handle) {
		for _, h := range hs {
			if !seen[h] {
				seen[h] = true
				syncdeps = append(syncdeps, h)
			}
		}
	}
	for _, raw := range n.spec.Args {
		a := access.Unwrap(raw)
		// key alone (no span resolution) is enough here: an argument
		// that is itself an unstarted task handle still needs its
		// producing task as a syncdep, even though its spans can't be
		// probed yet.
		key, _, _ := resolveKey(a.Value)
		o := p.ownershipOf(key)
		if a.Tag.Write {
			addAll(o.writeDeps())
		} else if a.Tag.Read {
			addAll(o.readDeps())
		}
	}

	task := exec.NewTask(handle.String(), func(ctx context.Context) error {
		resolved := make([]interface{}, len(rewritten))
		for i, v := range rewritten {
			resolved[i] = resolveHandle(v)
		}
		result, err := n.spec.Fn(ctx, resolved)
		if err != nil {
			return err
		}
		handle.Start(result)
		return nil
	}, toTasks(syncdeps), topology.SingleScope(ourProc))
	handle.setTask(task)

	for _, raw := range n.spec.Args {
		a := access.Unwrap(raw)
		key, _, _ := resolveKey(a.Value)
		o := p.ownershipOf(key)
		if a.Tag.Write {
			o.owner = handle
			o.readers = map[*Handle]bool{handle: true}
		} else if a.Tag.Read {
			o.readers[handle] = true
		}
	}
	selfOwn := p.ownershipOf(interface{}(handle))
	selfOwn.owner = handle
	selfOwn.readers = map[*Handle]bool{handle: true}
	p.origin[interface{}(handle)] = ourSpace
	p.current[interface{}(handle)] = ourSpace

	log.Printf("dtask/plan: placing %s on %s (%s)", handle, ourProc.ID(), ourSpace.ID())
	return p.executor.Enqueue(ctx, task)
}

// writeback implements spec.md §4.4(g): every externally-seeded value
// written during the region is copied back to its origin space if it
// no longer resides there.
func (p *Planner) writeback(ctx context.Context) error {
	for key, isExternal := range p.external {
		if !isExternal {
			continue
		}
		if !p.recorder.hasWritedep(key) {
			continue
		}
		origin, cur := p.origin[key], p.current[key]
		if origin == cur {
			continue
		}
		proc, ok := firstProcessor(origin)
		if !ok {
			return dtaskerr.New(dtaskerr.PlacementAssertion, "origin space %s exposes no processor for writeback", origin.ID())
		}
		o := p.ownershipOf(key)
		deps := toTasks(o.writeDeps())
		// p.values[key] addresses both ends: the reference in-memory
		// oracle's Move/CopyTo never change a value's representation,
		// only its recorded home space, so the same handle serves as
		// both the origin and current slot's Value.
		val := p.values[key]
		name := fmt.Sprintf("copy-out(%s<-%s)", origin.ID(), cur.ID())
		t := exec.NewTask(name, func(ctx context.Context) error {
			return p.oracle.CopyTo(ctx, alias.Slot{Space: origin, Value: val}, alias.Slot{Space: cur, Value: val})
		}, deps, topology.SingleScope(proc))
		log.Printf("dtask/plan: synthesizing %s", name)
		if err := p.executor.Enqueue(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func toTasks(hs []*Handle) []*exec.Task {
	out := make([]*exec.Task, 0, len(hs))
	for _, h := range hs {
		if t := h.Task(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func firstProcessorSpace(p topology.Processor) (topology.Space, bool) {
	spaces := p.Spaces()
	if len(spaces) == 0 {
		return nil, false
	}
	return spaces[0], true
}

func spaceID(sp topology.Space) string {
	if sp == nil {
		return "<unknown>"
	}
	return sp.ID()
}
