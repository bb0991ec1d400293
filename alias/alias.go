// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package alias implements the alias oracle (spec.md §4.2, C2): given
// a value, it enumerates the memory spans backing it, and given two
// spans, it conservatively decides whether they may overlap. It also
// defines the data-move contract the planner consumes to physically
// relocate values between memory spaces (spec.md §6's "Data-move
// contract"); the actual transfer implementation is an external
// collaborator, but a simple in-memory Oracle (InMemory) is provided for tests and
// single-process callers, the way bigmachine/testsystem stands in for
// a real cluster in bigslice's own tests.
package alias

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"

	"github.com/quildtide/dtask/topology"
)

// Span is an abstract identifier for a contiguous region of
// addressable storage within one memory space. Two spans may alias
// iff they refer to overlapping storage; the relation is symmetric and
// reflexive but not necessarily transitive.
type Span struct {
	id    uuid.UUID
	space topology.Space
	// root identifies the top-level value this span was derived from,
	// so that Oracle implementations can group sub-region spans of a
	// single compound value together.
	root interface{}
	// selector is nil for a whole-value span, or the sub-selector the
	// span was restricted to (see dtask.Deps).
	selector interface{}
}

// NewSpan allocates a fresh span over root (optionally restricted to
// selector) backed by space. Two spans are considered the same region
// only when constructed to describe the same (root, selector) pair by
// the same Oracle; Oracle.MayAlias, not span equality, is what
// determines overlap.
func NewSpan(space topology.Space, root, selector interface{}) Span {
	return Span{id: uuid.New(), space: space, root: root, selector: selector}
}

func (s Span) Space() topology.Space { return s.space }
func (s Span) Root() interface{}     { return s.root }
func (s Span) Selector() interface{} { return s.selector }

func (s Span) String() string {
	if s.selector == nil {
		return fmt.Sprintf("span(%s)", s.id)
	}
	return fmt.Sprintf("span(%s)[%v]", s.id, s.selector)
}

// Slot is a per-(space, value) handle to storage holding a copy of a
// value within that space.
type Slot struct {
	Space topology.Space
	Value interface{}
}

// Oracle is the external alias/data-move contract the planner
// consumes (spec.md §6). False negatives from MayAlias are forbidden
// (they would violate the ordering invariant); false positives are
// allowed and only cost parallelism.
type Oracle interface {
	// Spans enumerates the storage regions backing v. When selector is
	// non-nil, Spans restricts the result to the named sub-region.
	// Values whose spans cannot yet be determined (unstarted task
	// handles) must not be probed; callers are responsible for skipping
	// them rather than calling Spans.
	Spans(v interface{}, selector interface{}) ([]Span, error)
	// MayAlias conservatively tests whether a and b may refer to
	// overlapping storage. Must be symmetric.
	MayAlias(a, b Span) bool
	// Move synchronously transfers v from fromProc to toProc, returning
	// the space-local copy. Used during remote-slot allocation.
	Move(ctx context.Context, fromProc, toProc topology.Processor, v interface{}) (interface{}, error)
	// CopyTo copies the value in src into dst. Used as the body of
	// synthesized copy tasks.
	CopyTo(ctx context.Context, dst, src Slot) error
	// SpaceOf reports the memory space currently backing v, if known.
	SpaceOf(v interface{}) (topology.Space, bool)
}

// IdentitySpan is the single-span view used when aliasing analysis is
// disabled (spec.md §4.2: "identity of the value itself plays the role
// of a single span"). Two values alias under IdentitySpan iff they are
// the same value.
func IdentitySpan(v interface{}) Span {
	return Span{root: v}
}

// MayAliasIdentity implements the aliasing-disabled comparison: two
// identity spans alias iff their roots are the same value (compared by
// the same identity rule C3 uses for its access log).
func MayAliasIdentity(a, b Span) bool {
	return a.root == b.root
}

// InMemory is a single-process Oracle backed by an explicit registry
// of spans and slot contents. It never returns false negatives because
// it treats any two spans sharing a root as potentially aliasing unless
// both carry selectors and those selectors differ — a conservative (if
// coarse) rule appropriate for a reference implementation.
type InMemory struct {
	mu      sync.Mutex
	homes   map[interface{}]topology.Space // value identity -> origin space
	moved   int64
	storage map[storageKey]interface{}
}

type storageKey struct {
	space topology.Space
	root  interface{}
}

// NewInMemory returns an empty in-memory oracle.
func NewInMemory() *InMemory {
	return &InMemory{homes: make(map[interface{}]topology.Space), storage: make(map[storageKey]interface{})}
}

// Place registers v as currently residing in space. Callers use this
// to seed the oracle with the initial locality of region inputs.
func (m *InMemory) Place(v interface{}, space topology.Space) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.homes[v] = space
	m.storage[storageKey{space, v}] = v
}

func (m *InMemory) SpaceOf(v interface{}) (topology.Space, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.homes[v]
	return sp, ok
}

func (m *InMemory) Spans(v interface{}, selector interface{}) ([]Span, error) {
	m.mu.Lock()
	sp, ok := m.homes[v]
	m.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.NotExist, "alias: no known location for value")
	}
	return []Span{NewSpan(sp, v, selector)}, nil
}

// MayAlias treats two spans as aliasing iff they share a root and
// either carries no selector (a whole-value access subsumes every
// sub-access) or both name the same selector.
func (m *InMemory) MayAlias(a, b Span) bool {
	if a.root != b.root {
		return false
	}
	if a.selector == nil || b.selector == nil {
		return true
	}
	return a.selector == b.selector
}

func (m *InMemory) Move(ctx context.Context, fromProc, toProc topology.Processor, v interface{}) (interface{}, error) {
	atomic.AddInt64(&m.moved, 1)
	var dst topology.Space
	for _, sp := range toProc.Spaces() {
		dst = sp
		break
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage[storageKey{dst, v}] = v
	m.homes[v] = dst
	return v, nil
}

func (m *InMemory) CopyTo(ctx context.Context, dst, src Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.storage[storageKey{src.Space, src.Value}]
	if !ok {
		val = src.Value
	}
	m.storage[storageKey{dst.Space, dst.Value}] = val
	m.homes[dst.Value] = dst.Space
	return nil
}

// Moved returns the number of synchronous Move calls made so far,
// exposed for tests that assert on slot-allocation counts.
func (m *InMemory) Moved() int64 { return atomic.LoadInt64(&m.moved) }
