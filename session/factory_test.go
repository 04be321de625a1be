// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/wire/channel"
	"github.com/cipherlane/transport/internal/wiretest"
)

func TestFactory(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	servers := make(map[string]*wiretest.Server)
	f := NewFactory(&Options{}, func(o *Options) (channel.Channel, error) {
		srv := wiretest.NewServer()
		servers[o.Host] = srv
		return wiretest.NewChannel(srv), nil
	})
	defer f.Close()

	a, err := f.Get("a.example.org")
	require.NoError(err)
	again, err := f.Get("a.example.org")
	require.NoError(err)
	require.Same(a, again)

	b, err := f.Get("b.example.org:8443")
	require.NoError(err)
	require.NotSame(a, b)
	require.Equal("b.example.org:8443", b.Host())
	require.Equal(2, f.Len())
	require.Len(servers, 2)

	_, err = f.Get("not a host")
	require.ErrorIs(err, failure.InvalidHost)

	_, err = a.ConnectECDHE(ctx, nil, "")
	require.NoError(err)
	ping(t, a)

	// A destroyed Manager is replaced.
	a.Destroy()
	fresh, err := f.Get("a.example.org")
	require.NoError(err)
	require.NotSame(a, fresh)

	require.True(f.Remove("a.example.org"))
	require.False(f.Remove("a.example.org"))
	_, err = fresh.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.Destroyed)

	f.Close()
	require.Zero(f.Len())
	_, err = b.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.Destroyed)
}
