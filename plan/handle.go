// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quildtide/dtask/exec"
)

// Handle is a task handle: an opaque, equality-comparable identity for
// a submitted computation (spec.md §3). Handles are always used by
// pointer, which gives them identity comparison for free. A Handle may
// be unstarted (its output not yet materialized) or started (its
// output is addressable as result).
type Handle struct {
	id   uuid.UUID
	name string
	// vertexID is this task's position in submission order, 1-based.
	// It is also the static-mode DAG vertex id.
	vertexID int

	mu      sync.Mutex
	started bool
	result  interface{}
	task    *exec.Task
}

func newHandle(name string, vertexID int) *Handle {
	return &Handle{id: uuid.New(), name: name, vertexID: vertexID}
}

// Name returns the task's submitted name, for logging and graph dumps.
func (h *Handle) Name() string { return h.name }

// VertexID returns the task's submission-order index.
func (h *Handle) VertexID() int { return h.vertexID }

// Start marks the handle as started, materializing result as the data
// object later arguments resolve to when they reference this handle.
func (h *Handle) Start(result interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	h.result = result
}

// Started reports whether the task has started, and if so its result.
func (h *Handle) Started() (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.started
}

// Task returns the underlying execution task, once the planner (or, in
// dynamic mode, the recorder) has built one.
func (h *Handle) Task() *exec.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task
}

func (h *Handle) setTask(t *exec.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task = t
}

// String formats the handle for log lines and graph dumps: the
// submitted name and vertex id for readability, plus the generated id
// (mirroring alias.Span.String()) so that two tasks submitted under
// the same free-text name remain distinguishable.
func (h *Handle) String() string { return fmt.Sprintf("%s#%d(%s)", h.name, h.vertexID, h.id) }
