// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dtaskerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndIs(t *testing.T) {
	err := New(InvalidAccess, "bad arg %d", 3)
	require.Error(t, err)
	assert.True(t, Is(err, InvalidAccess))
	assert.False(t, Is(err, UserTaskFailure))
	assert.Contains(t, err.Error(), "invalid access")
}

func TestFatalKinds(t *testing.T) {
	assert.True(t, MissingTaskInLog.Fatal())
	assert.True(t, PlacementAssertion.Fatal())
	assert.False(t, InvalidAccess.Fatal())
	assert.False(t, UserTaskFailure.Fatal())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(UserTaskFailure, cause, "task failed")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestKindString(t *testing.T) {
	for _, k := range []Kind{InvalidAccess, IncompatibleScope, InvalidTraversal, MissingTaskInLog, PlacementAssertion, UserTaskFailure} {
		assert.NotEqual(t, "unknown", k.String())
	}
	assert.Equal(t, "unknown", Kind(999).String())
}
