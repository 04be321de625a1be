// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/wire/channel"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/rpc"
	"github.com/cipherlane/transport/core/wire/ticket"
)

func TestValidateHost(t *testing.T) {
	require := require.New(t)

	for in, want := range map[string]string{
		"example.org":       "example.org",
		"example.org:8443":  "example.org:8443",
		"127.0.0.1":         "127.0.0.1",
		"[::1]:443":         "[::1]:443",
		"bücher.example":    "xn--bcher-kva.example",
		"bücher.example:80": "xn--bcher-kva.example:80",
	} {
		got, err := ValidateHost(in)
		require.NoError(err, in)
		require.Equal(want, got, in)
	}

	for _, in := range []string{"", "bad host", "example.org:1:2"} {
		_, err := ValidateHost(in)
		require.ErrorIs(err, failure.InvalidHost, in)
	}
}

func TestOptionsDefaults(t *testing.T) {
	require := require.New(t)

	o := &Options{Host: "example.org"}
	require.NoError(o.FixupAndValidate())
	require.Equal(channel.AJAX, o.Channel)
	require.Equal("https://example.org/api", o.URL)
	require.Equal(handshake.DefaultAgent(), o.Agent)
	require.Equal(channel.DefaultRequestTimeout, o.RequestTimeout)
	require.Equal(rpc.DefaultMinTickets, o.MinTickets)
	require.Equal(handshake.DefaultTicketRequestCount, o.TicketRequestCount)
	require.Equal(ticket.DefaultMaxTickets, o.MaxTickets)
	require.Equal(ticket.DefaultTTLMargin, o.TTLMargin)
	require.Equal(DefaultRefreshInterval, o.RefreshInterval)
	require.Equal(DefaultRetryDelay, o.RetryDelay)
	require.Equal(DefaultReconnectPerMinute, o.ReconnectPerMinute)
	require.NotNil(o.Provider)
	require.NotNil(o.LogBackend)

	o = &Options{Host: "example.org:8443", Channel: channel.WebSocketKind, URL: ""}
	require.NoError(o.FixupAndValidate())
	require.Equal("wss://example.org:8443/ws", o.URL)

	o = &Options{Host: "example.org", URL: "http://127.0.0.1:1/rpc"}
	require.NoError(o.FixupAndValidate())
	require.Equal("http://127.0.0.1:1/rpc", o.URL)
}

func TestOptionsInvalid(t *testing.T) {
	for name, o := range map[string]*Options{
		"channel":       {Host: "example.org", Channel: "pigeon"},
		"negative":      {Host: "example.org", MinTickets: -1},
		"timeout":       {Host: "example.org", RequestTimeout: -time.Second},
		"min above max": {Host: "example.org", MinTickets: 10, MaxTickets: 5},
		"request":       {Host: "example.org", TicketRequestCount: 60, MaxTickets: 50},
	} {
		require.ErrorIs(t, o.FixupAndValidate(), failure.InvalidParams, name)
	}

	_, err := New(&Options{Host: "bad host"}, nil)
	require.ErrorIs(t, err, failure.InvalidHost)
}
