// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dtask

import "github.com/quildtide/dtask/dtaskerr"

// Kind identifies the class of scheduling failure. See dtaskerr.Kind
// for the full taxonomy; it is aliased here so callers of the root
// package need not import the internal dtaskerr package directly.
type Kind = dtaskerr.Kind

const (
	InvalidAccess      = dtaskerr.InvalidAccess
	IncompatibleScope  = dtaskerr.IncompatibleScope
	InvalidTraversal   = dtaskerr.InvalidTraversal
	MissingTaskInLog   = dtaskerr.MissingTaskInLog
	PlacementAssertion = dtaskerr.PlacementAssertion
	UserTaskFailure    = dtaskerr.UserTaskFailure
)

// Error is the error type returned by the scheduler.
type Error = dtaskerr.Error

// Is reports whether err is a scheduler Error of kind k.
func Is(err error, k Kind) bool { return dtaskerr.Is(err, k) }
