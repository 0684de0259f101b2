// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries the given oops code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, mustOops(t, err).Code())
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	kv := mustOops(t, err).Context()
	if assert.Contains(t, kv, key) {
		assert.Equal(t, value, kv[key])
	}
}

// AssertPublicMessage asserts the caller-facing message attached with oops.Public.
func AssertPublicMessage(t *testing.T, err error, want string) {
	t.Helper()
	mustOops(t, err)
	assert.Equal(t, want, oops.GetPublic(err, ""))
}
