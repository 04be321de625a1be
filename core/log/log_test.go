// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestFileBackend(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "transport.log")
	b, err := New(f, "info", false)
	require.NoError(err)

	l := b.GetLogger("session")
	l.Debugf("not written")
	l.Noticef("ticket pool refilled: %d", 4)
	require.True(b.IsEnabledFor(logging.INFO, "session"))
	require.False(b.IsEnabledFor(logging.DEBUG, "session"))
	require.NoError(b.Rotate())
	require.NoError(b.Close())

	raw, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(raw), "session: ticket pool refilled: 4")
	require.NotContains(string(raw), "not written")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New("", "LOUD", false)
	require.Error(t, err)
	require.False(t, ValidLevel("LOUD"))
	require.True(t, ValidLevel("debug"))

	b := NewDiscard()
	b.GetLogger("x").Error("dropped")
	require.Error(t, b.SetModuleLevel("x", "LOUD"))
}

func TestModuleLevel(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "transport.log")
	b, err := New(f, "WARNING", false)
	require.NoError(err)
	require.NoError(b.SetModuleLevel("handshake", "debug"))

	require.True(b.IsEnabledFor(logging.DEBUG, "handshake"))
	require.False(b.IsEnabledFor(logging.DEBUG, "rpc"))

	require.NoError(b.Rotate())
	require.True(b.IsEnabledFor(logging.DEBUG, "handshake"))

	b.GetLogger("handshake").Debugf("proof verified")
	b.GetLogger("rpc").Debugf("call queued")
	require.NoError(b.Close())

	raw, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(raw), "handshake: proof verified")
	require.NotContains(string(raw), "call queued")
}
