// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBzero(t *testing.T) {
	b := []byte{1, 2, 3}
	require.False(t, CtIsZero(b))
	ExplicitBzero(b)
	require.True(t, CtIsZero(b))
	require.True(t, CtEqual([]byte{0, 0, 0}, b))
}

func TestLeftPad(t *testing.T) {
	require.Equal(t, []byte{0, 0, 7}, LeftPad([]byte{7}, 3))
	require.Equal(t, []byte{1, 2, 3, 4}, LeftPad([]byte{1, 2, 3, 4}, 3))
}
