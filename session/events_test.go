// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcher(t *testing.T) {
	require := require.New(t)

	var d Dispatcher[int]
	var got []string

	a := d.Add(func(v int) { got = append(got, "a") })
	b := d.Add(func(v int) { got = append(got, "b") })
	d.Add(func(v int) {
		got = append(got, "c")
		// Listeners may modify the registry while being dispatched.
		d.Remove(a)
	})
	require.Equal(3, d.Len())

	d.Dispatch(1)
	require.Equal([]string{"a", "b", "c"}, got)
	require.Equal(2, d.Len())

	got = nil
	require.True(d.Remove(b))
	require.False(d.Remove(b))
	d.Dispatch(2)
	require.Equal([]string{"c"}, got)
}
