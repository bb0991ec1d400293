// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import "reflect"

// identityOf returns a comparable key standing in for the pointer
// identity of v, as required by spec.md's "identity-keyed maps" design
// note: two structurally-equal arguments passed by the user must be
// distinguished, so equality must track the underlying storage, not
// Go's interface equality (which for non-pointer kinds would compare
// structurally).
//
// Reference-like values (pointers, slices, maps, channels, funcs) are
// keyed by their runtime address. Everything else — scalars, plain
// structs passed by value — is keyed by the interface value itself,
// which for a bare scalar is the best identity available short of
// requiring callers to box it themselves. *Handle task references never
// reach identityOf: resolveKey keys them by the handle pointer directly.
func identityOf(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer, reflect.Func:
		return rv.Pointer()
	case reflect.Slice:
		if rv.Len() == 0 {
			// A nil or empty slice has no stable backing array; fall
			// back to the header itself so two independently-allocated
			// empty slices are not conflated.
			return v
		}
		return rv.Pointer()
	default:
		return v
	}
}
