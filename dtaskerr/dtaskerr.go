// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dtaskerr defines the error kinds the scheduler core raises
// (spec.md §7), layered on top of github.com/grailbio/base/errors. It
// is split out from the root dtask package so that dtask's
// subpackages (topology, alias, plan, exec) can all raise scheduler
// errors without importing the root package and creating an import
// cycle with plan, which the root package depends on to implement
// WithRegion.
package dtaskerr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind identifies the class of scheduling failure.
type Kind int

const (
	// InvalidAccess: a Deps contained a non-tag (nested Deps) element.
	InvalidAccess Kind = iota
	// IncompatibleScope: a dynamic-mode task's scope could not be
	// intersected with the local worker's scope.
	IncompatibleScope
	// InvalidTraversal: the traversal option named an unrecognized order.
	InvalidTraversal
	// MissingTaskInLog: has_writedep/is_writedep was asked about a task
	// that never appears in the value's access log. Always a bug in the
	// planner, never a caller mistake.
	MissingTaskInLog
	// PlacementAssertion: after rewriting, an argument a task writes
	// does not reside in the task's target space. Always a bug.
	PlacementAssertion
	// UserTaskFailure: a task run by the external executor failed.
	UserTaskFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidAccess:
		return "invalid access"
	case IncompatibleScope:
		return "incompatible scope"
	case InvalidTraversal:
		return "invalid traversal"
	case MissingTaskInLog:
		return "missing task in log"
	case PlacementAssertion:
		return "placement assertion"
	case UserTaskFailure:
		return "user task failure"
	default:
		return "unknown"
	}
}

// Fatal reports whether k always indicates an internal invariant
// violation rather than a recoverable, caller-triggerable condition.
func (k Kind) Fatal() bool {
	return k == MissingTaskInLog || k == PlacementAssertion
}

// Error is the error type the scheduler returns. It carries a Kind so
// callers can switch on the class of failure, and wraps the underlying
// github.com/grailbio/base/errors.Error for message composition and
// (for fatal kinds) the Fatal marker the rest of the grailbio toolchain
// checks for with errors.Is.
type Error struct {
	Kind Kind
	Err  *errors.Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dtask: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a scheduler Error of the given kind with a formatted
// message.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	var base *errors.Error
	if kind.Fatal() {
		base = errors.E(errors.Fatal, msg)
	} else {
		base = errors.E(msg)
	}
	return &Error{Kind: kind, Err: base}
}

// Wrap builds a scheduler Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	var base *errors.Error
	if kind.Fatal() {
		base = errors.E(errors.Fatal, cause, msg)
	} else {
		base = errors.E(cause, msg)
	}
	return &Error{Kind: kind, Err: base}
}

// Is reports whether err is a scheduler Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
