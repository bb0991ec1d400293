// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package topology defines the processor/memory-space discovery
// contract the scheduler core consumes (spec.md §6's "Topology
// contract"), plus a small in-memory implementation suitable for
// single-process callers and tests. Processor discovery itself —
// machine allocation, health checks, RPC — is deliberately out of
// scope for the core, the way grailbio/bigmachine owns that for
// bigslice.
package topology

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/once"
)

// Kind classifies a processor. Only CPU is handled by the placement
// planner; any other kind is silently filtered out with a one-shot
// warning (spec.md §7).
type Kind int

const (
	CPU Kind = iota
	GPU
	Other
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return "other"
	}
}

// Processor is a single place a task can run. Every processor is
// attached to one or more memory spaces it can directly access.
type Processor interface {
	ID() string
	Kind() Kind
	Spaces() []Space
}

// Space is a memory space: a capability-bearing handle identifying
// where data physically resides. Every space exposes the processors
// that can directly access it.
type Space interface {
	ID() string
	Processors() []Processor
}

// Topology enumerates workers and their processors. It is the narrow
// external contract consumed from the (excluded) topology/processor
// discovery service.
type Topology interface {
	// Workers lists the ids of all known workers.
	Workers() []string
	// Processors lists the processors available on a worker.
	Processors(worker string) []Processor
}

// Scope restricts execution to a set of processors. The zero Scope
// contains no processor; AllScope is the unconstrained scope (matches
// every processor). Constrain computes set
// intersection, returning ok=false when the result is empty — the
// spec's "invalid marker".
type Scope struct {
	// all, when true, means the scope is unconstrained.
	all   bool
	procs map[string]Processor
}

// AllScope returns the unconstrained scope.
func AllScope() Scope { return Scope{all: true} }

// SingleScope restricts execution to exactly one processor.
func SingleScope(p Processor) Scope {
	return Scope{procs: map[string]Processor{p.ID(): p}}
}

// NewScope restricts execution to exactly the given processors.
func NewScope(procs ...Processor) Scope {
	m := make(map[string]Processor, len(procs))
	for _, p := range procs {
		m[p.ID()] = p
	}
	return Scope{procs: m}
}

// Constrain computes the intersection of s and o. If either is
// unconstrained, the other is returned unchanged. ok is false iff the
// intersection is empty, signalling an incompatible scope.
func (s Scope) Constrain(o Scope) (result Scope, ok bool) {
	switch {
	case s.all:
		return o, true
	case o.all:
		return s, true
	}
	m := make(map[string]Processor)
	for id, p := range s.procs {
		if _, in := o.procs[id]; in {
			m[id] = p
		}
	}
	if len(m) == 0 {
		return Scope{}, false
	}
	return Scope{procs: m}, true
}

// Contains reports whether p is within s.
func (s Scope) Contains(p Processor) bool {
	if s.all {
		return true
	}
	_, ok := s.procs[p.ID()]
	return ok
}

// Filter returns the subset of procs contained in s.
func (s Scope) Filter(procs []Processor) []Processor {
	if s.all {
		return procs
	}
	out := procs[:0:0]
	for _, p := range procs {
		if s.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

var nonCPUWarn once.Map

// CPUProcessors enumerates every CPU-kind processor visible in topo,
// restricted to scope, and the distinct memory spaces they expose.
// Non-CPU processors are dropped with a one-shot warning deduplicated
// across the process, matching spec.md §7's policy.
func CPUProcessors(topo Topology, scope Scope) (procs []Processor, spaces []Space) {
	seen := make(map[string]bool)
	for _, w := range topo.Workers() {
		for _, p := range scope.Filter(topo.Processors(w)) {
			if p.Kind() != CPU {
				_ = nonCPUWarn.Do("non-cpu-processor-filtered", func() error {
					log.Error.Printf("dtask/topology: filtering non-CPU processor %s (kind %s); "+
						"heterogeneous scheduling is not supported", p.ID(), p.Kind())
					return nil
				})
				continue
			}
			procs = append(procs, p)
			for _, sp := range p.Spaces() {
				if !seen[sp.ID()] {
					seen[sp.ID()] = true
					spaces = append(spaces, sp)
				}
			}
		}
	}
	return procs, spaces
}

// Static is a fixed, in-memory Topology useful for tests and
// single-process callers: every worker is simply a named bag of
// processors.
type Static struct {
	mu      sync.Mutex
	workers map[string][]Processor
	order   []string
}

// NewStatic returns an empty Static topology.
func NewStatic() *Static {
	return &Static{workers: make(map[string][]Processor)}
}

// AddWorker registers procs under worker.
func (s *Static) AddWorker(worker string, procs ...Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[worker]; !ok {
		s.order = append(s.order, worker)
	}
	s.workers[worker] = append(s.workers[worker], procs...)
}

func (s *Static) Workers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Static) Processors(worker string) []Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Processor(nil), s.workers[worker]...)
}

// space is the Static topology's Space implementation.
type space struct {
	id    string
	procs []Processor
}

func NewSpace(id string) *space { return &space{id: id} }

func (sp *space) ID() string { return sp.id }
func (sp *space) Processors() []Processor {
	return append([]Processor(nil), sp.procs...)
}
func (sp *space) addProcessor(p Processor) { sp.procs = append(sp.procs, p) }

// processor is the Static topology's Processor implementation.
type processor struct {
	id     string
	kind   Kind
	spaces []Space
}

// NewProcessor returns a processor of the given kind and id,
// attached to spaces. It registers itself on each space in turn.
func NewProcessor(id string, kind Kind, spaces ...*space) *processor {
	p := &processor{id: id, kind: kind}
	for _, sp := range spaces {
		sp.addProcessor(p)
		p.spaces = append(p.spaces, sp)
	}
	return p
}

func (p *processor) ID() string      { return p.id }
func (p *processor) Kind() Kind       { return p.kind }
func (p *processor) Spaces() []Space { return append([]Space(nil), p.spaces...) }

func (p *processor) String() string { return fmt.Sprintf("%s(%s)", p.id, p.kind) }
