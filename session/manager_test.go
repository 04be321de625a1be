// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/wire/channel"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/internal/wiretest"
)

const testHost = "example.org"

func newTestManager(t *testing.T, srv *wiretest.Server, opts *Options) (*Manager, *wiretest.Channel) {
	if opts == nil {
		opts = &Options{}
	}
	opts.Host = testHost
	ch := wiretest.NewChannel(srv)
	m, err := New(opts, ch)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m, ch
}

func ping(t *testing.T, m *Manager) {
	ctx := context.Background()
	f, err := m.Call(ctx, "ping", nil)
	require.NoError(t, err)
	res, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", res)
}

func TestManagerECDHE(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, ch := newTestManager(t, wiretest.NewServer(), nil)
	require.ErrorIs(m.VerifyConnection(ctx), failure.SessionNotEstablished)
	require.False(m.IsConnected())

	var connected []ConnectedEvent
	m.Events.Connected.Add(func(ev ConnectedEvent) { connected = append(connected, ev) })

	r, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)
	require.Equal(handshake.ModeECDHE, r.Mode)
	require.True(m.IsConnected())
	require.Empty(m.Username())
	require.Len(connected, 1)
	require.IsType(&handshake.EcdheInfo{}, m.ConnectionInfo())
	require.Positive(m.Tickets())

	ping(t, m)

	// A healthy session needs no round trip to verify.
	sent := ch.Sent()
	require.NoError(m.VerifyConnection(ctx))
	require.NoError(m.VerifyConnection(ctx))
	require.Equal(sent, ch.Sent())
}

func TestManagerRPCError(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	srv.Handle("fail", func(interface{}) (interface{}, error) {
		return nil, &wiretest.Error{Code: 42, Message: "nope"}
	})
	m, _ := newTestManager(t, srv, nil)
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)

	f, err := m.Call(ctx, "fail", nil)
	require.NoError(err)
	_, err = f.Wait(ctx)
	require.ErrorIs(err, failure.RPCError)

	// RPC errors leave the session alone.
	require.True(m.IsConnected())
	ping(t, m)
}

func TestManagerCallPlain(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, _ := newTestManager(t, wiretest.NewServer(), nil)
	f, err := m.CallPlain(ctx, "ping", nil)
	require.NoError(err)
	res, err := f.Wait(ctx)
	require.NoError(err)
	require.Equal("pong", res)

	_, err = m.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.SessionNotEstablished)
}

func TestManagerConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	const (
		calls   = 4
		latency = 200 * time.Millisecond
	)

	m, ch := newTestManager(t, wiretest.NewServer(), &Options{RefreshInterval: time.Hour})
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(t, err)
	ch.SetLatency(latency)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := m.Call(ctx, "ping", nil)
			if !assert.NoError(t, err) {
				return
			}
			res, err := f.Wait(ctx)
			assert.NoError(t, err)
			assert.Equal(t, "pong", res)
		}()
	}
	wg.Wait()

	// The calls share the channel instead of queueing behind each other.
	require.Greater(t, ch.MaxInFlight(), 1)
	require.Less(t, time.Since(start), calls*latency)
}

func TestManagerConnectionRepair(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, ch := newTestManager(t, wiretest.NewServer(), nil)
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)

	var lost []error
	m.Events.SessionLost.Add(func(ev SessionLostEvent) { lost = append(lost, ev.Err) })

	ch.FailWith(failure.NotConnected)
	_, err = m.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.NotConnected)
	require.False(m.IsConnected())
	require.Len(lost, 1)

	// Further failures while disconnected are not reported again.
	require.ErrorIs(m.VerifyConnection(ctx), failure.NotConnected)
	require.Len(lost, 1)

	ch.FailWith(nil)
	ping(t, m)
	require.True(m.IsConnected())
}

func TestManagerSessionRestore(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	srv.AddUser("alice", "hunter2")
	m, _ := newTestManager(t, srv, &Options{RestorableSession: true})

	r, err := m.ConnectSRP(ctx, "alice", "hunter2", nil)
	require.NoError(err)
	require.Equal("alice", m.Username())
	require.NotEmpty(r.SessionID)
	require.NotNil(r.SessionKey)

	var lost []error
	m.Events.SessionLost.Add(func(ev SessionLostEvent) { lost = append(lost, ev.Err) })

	// A server restart invalidates the tickets but not the session.
	srv.ForgetTickets()
	_, err = m.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.InvalidTicketAlert)
	require.Len(lost, 1)
	require.False(m.IsConnected())

	ping(t, m)
	require.True(m.IsConnected())
	info, ok := m.ConnectionInfo().(*handshake.SessionInfo)
	require.True(ok)
	require.Equal(r.SessionID, info.SessionID)
	require.Equal("alice", info.Username)

	// The session also restores into a fresh Manager.
	m2, _ := newTestManager(t, srv, nil)
	_, err = m2.ConnectSession(ctx, r.SessionID, r.SessionKey)
	require.NoError(err)
	require.Equal("alice", m2.Username())
	ping(t, m2)
}

func TestManagerSessionNotRestorable(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	srv.AddUser("alice", "hunter2")

	// An anonymous session is repaired by logging in again.
	m, _ := newTestManager(t, srv, nil)
	_, err := m.ConnectECDHE(ctx, nil, "solution")
	require.NoError(err)
	logins := srv.Stats().Logins

	srv.ForgetTickets()
	_, err = m.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.InvalidTicketAlert)
	require.False(m.IsConnected())

	ping(t, m)
	require.True(m.IsConnected())
	require.Equal(logins+1, srv.Stats().Logins)
	info, ok := m.ConnectionInfo().(*handshake.EcdheInfo)
	require.True(ok)
	require.Equal("solution", info.Solution)

	// A password login needs the password again.
	m2, _ := newTestManager(t, srv, nil)
	_, err = m2.ConnectSRP(ctx, "alice", "hunter2", nil)
	require.NoError(err)

	srv.ForgetTickets()
	_, err = m2.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.InvalidTicketAlert)
	_, err = m2.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.SessionNotEstablished)
	require.ErrorIs(m2.VerifyConnection(ctx), failure.SessionNotEstablished)

	_, err = m2.Relogin(ctx, "hunter2")
	require.NoError(err)
	ping(t, m2)
}

func TestManagerRelogin(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	srv.AddUser("alice", "hunter2")
	srv.AddUser("bob", "swordfish")
	m, _ := newTestManager(t, srv, nil)

	_, err := m.Relogin(ctx, "")
	require.ErrorIs(err, failure.SessionNotEstablished)

	_, err = m.ConnectSRP(ctx, "alice", "hunter2", nil)
	require.NoError(err)

	_, err = m.ConnectSRP(ctx, "bob", "swordfish", nil)
	require.ErrorIs(err, failure.CannotReloginUserMismatch)
	require.Equal("alice", m.Username())
	require.True(m.IsConnected())

	r, err := m.Relogin(ctx, "hunter2")
	require.NoError(err)
	require.Equal("alice", r.Username)
	ping(t, m)

	// Not restorable, so the password is required.
	_, err = m.Relogin(ctx, "wrong")
	require.ErrorIs(err, failure.ServerAlert)
}

func TestManagerRefreshTickets(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	m, _ := newTestManager(t, srv, &Options{RefreshInterval: time.Hour})
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)

	before, requests := m.Tickets(), srv.Stats().TicketRequests
	require.NoError(m.RefreshTickets(ctx))
	require.Equal(before-1+m.opts.TicketRequestCount, m.Tickets())
	require.Equal(requests+1, srv.Stats().TicketRequests)
}

func TestManagerRefreshWorker(t *testing.T) {
	ctx := context.Background()

	srv := wiretest.NewServer()
	m, _ := newTestManager(t, srv, &Options{
		MinTickets:         30,
		TicketRequestCount: 20,
		MaxTickets:         50,
		RefreshInterval:    10 * time.Millisecond,
	})
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Tickets() >= 30
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerRefreshBackoff(t *testing.T) {
	ctx := context.Background()

	srv := wiretest.NewServer()
	m, ch := newTestManager(t, srv, &Options{
		MinTickets:         30,
		TicketRequestCount: 20,
		MaxTickets:         50,
		RefreshInterval:    time.Hour,
		RetryDelay:         10 * time.Millisecond,
	})

	// Start the refresh loop by hand, once the channel is broken.
	m.refreshOnce.Do(func() {})
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(t, err)
	ch.FailWith(failure.FrameMacMismatch)
	m.Go(m.refreshWorker)

	// Integrity failures are not transient, and are still retried well
	// before the refresh interval.
	require.Eventually(t, func() bool {
		return ch.Attempts() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	ch.FailWith(nil)
	require.Eventually(t, func() bool {
		return m.Tickets() >= 30
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerDestroyDuringRefresh(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, ch := newTestManager(t, wiretest.NewServer(), &Options{
		MinTickets:         30,
		TicketRequestCount: 20,
		MaxTickets:         50,
		RefreshInterval:    time.Hour,
	})
	m.refreshOnce.Do(func() {})
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)

	ch.SetLatency(time.Minute)
	m.Go(m.refreshWorker)
	require.Eventually(func() bool {
		return ch.InFlight() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The refresh is abandoned rather than waited for.
	start := time.Now()
	m.Destroy()
	require.Less(time.Since(start), 5*time.Second)
	require.Zero(ch.InFlight())
	require.Zero(m.Tickets())
}

func TestManagerDestroy(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m, _ := newTestManager(t, wiretest.NewServer(), nil)
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)

	disconnected := 0
	m.Events.Disconnected.Add(func(DisconnectedEvent) { disconnected++ })

	m.Destroy()
	m.Destroy()
	require.Equal(1, disconnected)
	require.False(m.IsConnected())
	require.Zero(m.Tickets())

	_, err = m.Call(ctx, "ping", nil)
	require.ErrorIs(err, failure.Destroyed)
	_, err = m.CallPlain(ctx, "ping", nil)
	require.ErrorIs(err, failure.Destroyed)
	_, err = m.ConnectECDHE(ctx, nil, "")
	require.ErrorIs(err, failure.Destroyed)
}

func newWSManager(t *testing.T, ws *wiretest.WSServer) *Manager {
	m, err := New(&Options{
		Host:         testHost,
		URL:          ws.WSURL(),
		Channel:      channel.WebSocketKind,
		PingInterval: -1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func TestManagerWebSocket(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	ws := wiretest.NewWSServer(srv)
	t.Cleanup(ws.Close)

	m := newWSManager(t, ws)
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)
	require.True(m.IsConnected())
	ping(t, m)

	ids := srv.PushChannels()
	require.Len(ids, 1)

	events := make(chan NotificationEvent, 1)
	m.Events.Notification.Add(func(ev NotificationEvent) { events <- ev })
	require.NoError(ws.Push(ids[0], "message", "hello"))

	select {
	case ev := <-events:
		require.Equal(ids[0], ev.ChannelID)
		require.Equal("message", ev.Type)
		require.Equal("hello", ev.Data)
	case <-time.After(5 * time.Second):
		require.FailNow("no notification")
	}

	m.Destroy()
	require.Empty(srv.PushChannels())
}

func TestManagerWebSocketReconnect(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := wiretest.NewServer()
	ws := wiretest.NewWSServer(srv)
	t.Cleanup(ws.Close)

	m := newWSManager(t, ws)
	_, err := m.ConnectECDHE(ctx, nil, "")
	require.NoError(err)

	lost := make(chan error, 1)
	m.Events.SessionLost.Add(func(ev SessionLostEvent) { lost <- ev.Err })

	ws.DropAll()
	select {
	case err = <-lost:
		require.ErrorIs(err, failure.WebSocketDisconnected)
	case <-time.After(5 * time.Second):
		require.FailNow("no SessionLost event")
	}
	require.False(m.IsConnected())

	// The next call reconnects and authorizes a new push channel.
	ping(t, m)
	require.True(m.IsConnected())
	require.Len(srv.PushChannels(), 2)
}
