// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package plan implements the dependency recorder (spec.md §4.3, C3)
// and the placement & copy planner (spec.md §4.4, C4) — together the
// hardest ~70% of the scheduler core.
package plan

import (
	"context"
	"sync"

	"github.com/grailbio/base/log"

	"github.com/quildtide/dtask/access"
	"github.com/quildtide/dtask/alias"
	"github.com/quildtide/dtask/dtaskerr"
	"github.com/quildtide/dtask/exec"
	"github.com/quildtide/dtask/topology"
)

// Mode selects whether the recorder buffers tasks for a deferred
// placement pass (Static) or forwards them to the executor as soon as
// their syncdeps are known (Dynamic).
type Mode int

const (
	Static Mode = iota
	Dynamic
)

// TaskSpec is a single task submission: a function, its positional
// arguments (each normalized through access.Unwrap), and, for dynamic
// mode, the scope the caller wants the task constrained to.
type TaskSpec struct {
	Name  string
	Fn    func(ctx context.Context, args []interface{}) (interface{}, error)
	Args  []interface{}
	Scope topology.Scope
}

// AccessEntry is one resolved (read, write, spans) triple in a task's
// dependency record (spec.md §3). Selector is non-nil when the entry
// came from a sub-access of a compound (Deps) argument.
type AccessEntry struct {
	Read, Write bool
	Spans       []alias.Span
	Selector    interface{}
}

// DependencyRecord is the ordered list of AccessEntry for one task,
// including the synthetic (true,true) entry for its own result.
type DependencyRecord struct {
	Entries []AccessEntry
}

// logEntry is one ((read,write),task) pair in a per-value access log.
type logEntry struct {
	tag      access.Tag
	spans    []alias.Span
	selector interface{}
	handle   *Handle
}

type valueLog struct {
	entries []logEntry
}

type probe struct {
	tag      access.Tag
	selector interface{}
}

func probesFor(a access.Access) []probe {
	if len(a.Subs) == 0 {
		return []probe{{tag: a.Tag}}
	}
	out := make([]probe, len(a.Subs))
	for i, s := range a.Subs {
		out[i] = probe{tag: s.Tag, selector: s.Selector}
	}
	return out
}

// Recorder implements C3: for each submitted task it computes
// predecessor edges against every previously recorded access, and
// either buffers the task (Static) or forwards it to the executor with
// a concrete syncdeps set (Dynamic).
type Recorder struct {
	mode       Mode
	aliasing   bool
	oracle     alias.Oracle
	executor   exec.Executor // dynamic mode only
	localScope topology.Scope

	mu      sync.Mutex
	log     map[interface{}]*valueLog
	graph   *Graph // static mode only
	records map[*Handle]*DependencyRecord
	order   []*Handle
}

// NewRecorder returns a Recorder operating in mode, using oracle for
// span resolution (ignored when aliasing is false). executor and
// localScope are only consulted in Dynamic mode.
func NewRecorder(mode Mode, aliasing bool, oracle alias.Oracle, executor exec.Executor, localScope topology.Scope) *Recorder {
	r := &Recorder{
		mode:       mode,
		aliasing:   aliasing,
		oracle:     oracle,
		executor:   executor,
		localScope: localScope,
		log:        make(map[interface{}]*valueLog),
		records:    make(map[*Handle]*DependencyRecord),
	}
	if mode == Static {
		r.graph = newGraph()
	}
	return r
}

// Graph returns the DAG built so far. Only meaningful in Static mode.
func (r *Recorder) Graph() *Graph { return r.graph }

// HasWritedep reports whether any task anywhere in the region writes v
// (spec.md §4.4(a)'s has_writedep(v)).
func (r *Recorder) HasWritedep(v interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _, _ := resolveKey(v)
	return r.hasWritedep(key)
}

// HasWritedepAt reports whether any task at or before h writes v
// (spec.md §4.4(a)'s has_writedep(v, T)).
func (r *Recorder) HasWritedepAt(v interface{}, h *Handle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _, _ := resolveKey(v)
	return r.hasWritedepAt(key, h)
}

// IsWritedep reports whether h itself writes v (spec.md §4.4(a)'s is_writedep(v, T)).
func (r *Recorder) IsWritedep(v interface{}, h *Handle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _, _ := resolveKey(v)
	return r.isWritedep(key, h)
}

// Handles returns every handle recorded so far, in submission order.
func (r *Recorder) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, len(r.order))
	copy(out, r.order)
	return out
}

// Record returns the dependency record for h.
func (r *Recorder) Record(h *Handle) *DependencyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[h]
}

// hasWritedep reports whether any task anywhere in the region writes
// the value identified by key (spec.md §4.4(a)).
func (r *Recorder) hasWritedep(key interface{}) bool {
	vl := r.log[key]
	if vl == nil {
		return false
	}
	for _, e := range vl.entries {
		if e.tag.Write {
			return true
		}
	}
	return false
}

// hasWritedepAt reports whether any task at or before h in submission
// order writes the value identified by key, where h's own write (if
// any) counts. It is a fatal internal error for h to be absent from
// key's access log entirely.
func (r *Recorder) hasWritedepAt(key interface{}, h *Handle) (bool, error) {
	vl := r.log[key]
	if vl == nil {
		return false, dtaskerr.New(dtaskerr.MissingTaskInLog, "task %s: value has no access log entries", h)
	}
	present, writer := false, false
	for _, e := range vl.entries {
		if e.handle == h {
			present = true
		}
		if e.tag.Write && e.handle.VertexID() <= h.VertexID() {
			writer = true
		}
	}
	if !present {
		return false, dtaskerr.New(dtaskerr.MissingTaskInLog, "task %s: not present in value's access log", h)
	}
	return writer, nil
}

// isWritedep reports whether h itself writes the value identified by key.
func (r *Recorder) isWritedep(key interface{}, h *Handle) (bool, error) {
	vl := r.log[key]
	if vl == nil {
		return false, dtaskerr.New(dtaskerr.MissingTaskInLog, "task %s: value has no access log entries", h)
	}
	for _, e := range vl.entries {
		if e.handle == h {
			return e.tag.Write, nil
		}
	}
	return false, dtaskerr.New(dtaskerr.MissingTaskInLog, "task %s: not present in value's access log", h)
}

// resolveHandle substitutes an unstarted-or-started task handle with
// its underlying result. Callers only invoke it from inside a task's
// Fn wrapper, which by construction only runs once every syncdep
// (including the handle's producing task) has completed, so Started
// is guaranteed true for any *Handle reachable here.
func resolveHandle(v interface{}) interface{} {
	if h, ok := v.(*Handle); ok {
		if result, started := h.Started(); started {
			return result
		}
	}
	return v
}

// resolveKey determines the dependency-log key for an argument value,
// plus the value span resolution should be computed against, and
// whether span resolution must be skipped entirely (spec.md §4.2:
// unstarted task handles must not be probed).
// A *Handle argument is always keyed by the handle itself, never by its
// eventual result: the task's own synthetic self-entry (see Enqueue) is
// logged under the handle, and later submissions may race a dynamic-mode
// task's completion, so resolving to the result's identity only once
// started would split one value's access history across two keys.
func resolveKey(v interface{}) (key interface{}, spansBase interface{}, skipSpans bool) {
	if h, ok := v.(*Handle); ok {
		if result, started := h.Started(); started {
			return h, result, false
		}
		return h, nil, true
	}
	return identityOf(v), v, false
}

// mayConflict decides whether a newly-probed sub-access and a
// previously-logged entry under the same key touch overlapping
// storage. Two whole-value accesses under the same key always
// conflict; two sub-accesses defer to the alias oracle (or identity
// comparison, when aliasing is disabled); anything with unresolved
// spans is treated conservatively as conflicting, since false
// negatives would violate spec.md invariant 4.
func (r *Recorder) mayConflict(newSel interface{}, newSpans []alias.Span, logged logEntry) bool {
	if newSel == nil && logged.selector == nil {
		return true
	}
	if len(newSpans) == 0 || len(logged.spans) == 0 {
		return true
	}
	for _, sa := range newSpans {
		for _, sb := range logged.spans {
			if r.aliasing {
				if r.oracle.MayAlias(sa, sb) {
					return true
				}
			} else if alias.MayAliasIdentity(sa, sb) {
				return true
			}
		}
	}
	return false
}

// Enqueue computes the dependency record for spec, adds predecessor
// edges against every previously-recorded access, and either buffers
// the task (Static) or forwards it to the executor (Dynamic).
func (r *Recorder) Enqueue(spec TaskSpec) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vertexID := len(r.order) + 1
	handle := newHandle(spec.Name, vertexID)
	record := &DependencyRecord{}
	preds := make(map[*Handle]bool)

	for _, raw := range spec.Args {
		a := access.Unwrap(raw)
		if !a.Valid() {
			return nil, dtaskerr.New(dtaskerr.InvalidAccess, "task %q: Deps argument contains a nested Deps", spec.Name)
		}
		key, spansBase, skipSpans := resolveKey(a.Value)
		vl := r.log[key]
		if vl == nil {
			vl = &valueLog{}
			r.log[key] = vl
		}
		for _, pr := range probesFor(a) {
			var spans []alias.Span
			switch {
			case skipSpans:
				// leave spans nil; C3 defers span computation until
				// the handle starts.
			case r.aliasing:
				sp, err := r.oracle.Spans(spansBase, pr.selector)
				if err != nil {
					return nil, err
				}
				spans = sp
			default:
				spans = []alias.Span{alias.IdentitySpan(key)}
			}
			record.Entries = append(record.Entries, AccessEntry{Read: pr.tag.Read, Write: pr.tag.Write, Spans: spans, Selector: pr.selector})

			for _, logged := range vl.entries {
				conflict := pr.tag.Write || (pr.tag.Read && logged.tag.Write)
				if conflict && r.mayConflict(pr.selector, spans, logged) {
					preds[logged.handle] = true
				}
			}
			vl.entries = append(vl.entries, logEntry{tag: pr.tag, spans: spans, selector: pr.selector, handle: handle})
		}
	}

	// Synthetic (T,T) self-entry for the task's own result. Per
	// spec.md §9's open question, its spans are deliberately not
	// recorded: later consumers that pass this handle as an unstarted
	// argument synchronize through owner-based tracking of this log
	// entry, not through span overlap.
	record.Entries = append(record.Entries, AccessEntry{Read: true, Write: true})
	r.log[interface{}(handle)] = &valueLog{entries: []logEntry{{tag: access.InOutTag, handle: handle}}}

	r.records[handle] = record
	r.order = append(r.order, handle)

	switch r.mode {
	case Static:
		r.graph.addNode(spec, handle)
		for pred := range preds {
			r.graph.addEdge(pred.VertexID(), vertexID)
		}
	case Dynamic:
		scope, ok := spec.Scope.Constrain(r.localScope)
		if !ok {
			return nil, dtaskerr.New(dtaskerr.IncompatibleScope, "task %q: scope incompatible with local worker", spec.Name)
		}
		var deps []*exec.Task
		for pred := range preds {
			if t := pred.Task(); t != nil {
				deps = append(deps, t)
			}
		}
		task := exec.NewTask(spec.Name, func(ctx context.Context) error {
			resolved := make([]interface{}, len(spec.Args))
			for i, raw := range spec.Args {
				resolved[i] = resolveHandle(access.Unwrap(raw).Value)
			}
			result, err := spec.Fn(ctx, resolved)
			if err != nil {
				return err
			}
			handle.Start(result)
			return nil
		}, deps, scope)
		handle.setTask(task)
		log.Printf("dtask/plan: dispatching %s with %d syncdeps", handle, len(deps))
		if err := r.executor.Enqueue(context.Background(), task); err != nil {
			return nil, err
		}
	}
	return handle, nil
}
