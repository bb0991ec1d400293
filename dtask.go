// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dtask implements a data-dependency task scheduler: callers
// submit an unordered stream of tasks whose arguments carry read/write
// access annotations, and the scheduler produces an execution plan
// that preserves the sequential semantics of the submissions, inserts
// data-movement operations between memory spaces as needed, and
// assigns tasks to processors.
//
// The package mirrors the shape of bigslice: a small root package
// exposes the caller-facing API (access tags and region scoping) while
// the dependency analysis and placement machinery lives in the
// dtask/plan subpackage, and task execution is delegated to the
// dtask/exec subpackage.
package dtask

import "github.com/quildtide/dtask/access"

// Tag, Access and SubAccess are aliased from dtask/access so that
// dtask/plan can build TaskSpecs directly from access.Access without
// importing this root package (which depends on dtask/plan).
type (
	Tag       = access.Tag
	Access    = access.Access
	SubAccess = access.SubAccess
)

var (
	Ignored  = access.Ignored
	InTag    = access.InTag
	OutTag   = access.OutTag
	InOutTag = access.InOutTag
)

// In tags x as read-only.
func In(x interface{}) Access { return access.In(x) }

// Out tags x as write-only.
func Out(x interface{}) Access { return access.Out(x) }

// InOut tags x as read and written.
func InOut(x interface{}) Access { return access.InOut(x) }

// Deps builds a compound access over x, restricting aliasing analysis
// to the sub-regions named by ds.
func Deps(x interface{}, ds ...Access) Access { return access.Deps(x, ds...) }
