// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package access implements the access model (spec.md §4.1, C1): it
// wraps raw arguments with read/write intent and describes compound
// accesses over named sub-regions. It is split out from the root
// dtask package (which re-exports it) so that dtask/plan can build
// TaskSpecs out of Access values without importing the root package,
// which itself depends on dtask/plan to implement WithRegion.
package access

// Tag is a read/write access annotation on a single argument. The four
// tags are Ignored (unused), In, Out, and InOut.
type Tag struct {
	Read, Write bool
}

var (
	// Ignored marks an argument as neither read nor written.
	Ignored = Tag{Read: false, Write: false}
	// InTag marks an argument as read-only. It is the default for
	// arguments submitted without an explicit tag.
	InTag = Tag{Read: true, Write: false}
	// OutTag marks an argument as write-only.
	OutTag = Tag{Read: false, Write: true}
	// InOutTag marks an argument as both read and written.
	InOutTag = Tag{Read: true, Write: true}
)

// SubAccess pairs a sub-selector (a field name, slice index, or other
// selector meaningful to the alias oracle) with the tag under which it
// is accessed. SubAccesses only ever appear inside a compound Access
// produced by Deps; a SubAccess built from a nested Deps (Invalid set)
// is a usage error, rejected at submission time with InvalidAccess.
type SubAccess struct {
	Selector interface{}
	Tag      Tag
	Invalid  bool
}

// Access wraps a value with read/write intent. Compound accesses
// additionally carry an ordered list of sub-accesses restricting
// aliasing analysis to portions of the base value.
type Access struct {
	Value interface{}
	Tag   Tag
	Subs  []SubAccess
}

// In tags x as read-only.
func In(x interface{}) Access { return Access{Value: x, Tag: InTag} }

// Out tags x as write-only.
func Out(x interface{}) Access { return Access{Value: x, Tag: OutTag} }

// InOut tags x as read and written.
func InOut(x interface{}) Access { return Access{Value: x, Tag: InOutTag} }

// Deps builds a compound access over x, restricting aliasing analysis
// to the sub-regions named by ds. Each d in ds must itself have been
// built by In, Out, or InOut applied to a sub-selector; a d built by
// Deps (i.e. one that is itself compound) is a usage error and causes
// Valid to report false.
func Deps(x interface{}, ds ...Access) Access {
	subs := make([]SubAccess, len(ds))
	for i, d := range ds {
		subs[i] = SubAccess{Selector: d.Value, Tag: d.Tag, Invalid: len(d.Subs) != 0}
	}
	return Access{Value: x, Tag: InOutTag, Subs: subs}
}

// Unwrap normalizes x into an Access, applying the default In tag if x
// was not already tagged. It is the entry point C3 uses to interpret
// a positional argument.
func Unwrap(x interface{}) Access {
	if a, ok := x.(Access); ok {
		return a
	}
	return Access{Value: x, Tag: InTag}
}

// Valid reports whether a compound access is well-formed: every
// sub-access was built from a simple (non-compound) tag constructor.
// Simple accesses (no Subs) are always valid.
func (a Access) Valid() bool {
	for _, s := range a.Subs {
		if s.Invalid {
			return false
		}
	}
	return true
}
