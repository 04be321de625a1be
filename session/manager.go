// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package session implements the session manager: it owns the channel, logs
// in, tracks the connection and session state, repairs them when they are
// lost and keeps the ticket pool topped up in the background.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"gopkg.in/op/go-logging.v1"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/retry"
	"github.com/cipherlane/transport/core/utils"
	"github.com/cipherlane/transport/core/wire/channel"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/rpc"
	"github.com/cipherlane/transport/core/wire/ticket"
	"github.com/cipherlane/transport/core/worker"
	"github.com/cipherlane/transport/internal/instrument"
)

const (
	// TicketTestMethod is called to check that the tickets are still
	// accepted.  Any response, including an RPC error, proves they are.
	TicketTestMethod = "ping"

	authorizePushMethod   = "authorizeWebSocket"
	unauthorizePushMethod = "unauthorizeWebSocket"
	pushKeySize           = 32

	// maxLoginLegs bounds the round trips of a single login.
	maxLoginLegs = 4
)

// Manager is one logical session with a server.
type Manager struct {
	worker.Worker

	log          *logging.Logger
	refreshLog   *logging.Logger
	handshakeLog *logging.Logger
	rpcLog       *logging.Logger
	opts         Options
	provider     provider.Provider

	ch    channel.Channel
	ws    channel.WebSocket
	ownCh bool

	// connMu serializes opening the WebSocket.
	connMu sync.Mutex

	pool *ticket.Pool

	// exchangeMu is held for writing by logins, which run on auth, by
	// WebSocket reconnects and by the teardown.  Every other batch runs on a
	// conduit of its own and holds it for reading.  It guards sessionID and
	// sessionKey.
	exchangeMu sync.RWMutex
	auth       *conduit
	sessionID  string
	sessionKey *provider.PrivateKey

	pushMu  sync.Mutex
	pushKey []byte
	pushID  uint64

	activeMu sync.Mutex
	active   map[*conduit]struct{}

	flagsMu            sync.Mutex
	channelsConnected  bool
	sessionChecked     bool
	sessionEstablished bool
	destroyed          bool
	lost               []error

	result atomic.Pointer[handshake.Result]

	repair      singleflight.Group
	reconnect   *rate.Limiter
	refreshOnce sync.Once
	destroyOnce sync.Once

	// Events are the dispatchers listeners register with.
	Events Events
}

// New creates a Manager.  A nil ch selects the channel opts describe, which
// the Manager then owns and closes on Destroy.
func New(opts *Options, ch channel.Channel) (*Manager, error) {
	o := *opts
	if err := o.FixupAndValidate(); err != nil {
		return nil, err
	}

	m := &Manager{
		log:          o.LogBackend.GetLogger("session"),
		refreshLog:   o.LogBackend.GetLogger("session/refresh"),
		handshakeLog: o.LogBackend.GetLogger("handshake"),
		rpcLog:       o.LogBackend.GetLogger("rpc"),
		opts:         o,
		provider:     o.Provider,
		pool:         ticket.New(o.Provider, o.MaxTickets, o.TTLMargin),
		active:       make(map[*conduit]struct{}),
		reconnect:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(o.ReconnectPerMinute)), o.ReconnectPerMinute),
	}
	auth, err := m.newConduit()
	if err != nil {
		return nil, err
	}
	m.auth = auth

	if ch == nil {
		if ch, err = newChannel(&o); err != nil {
			return nil, err
		}
		m.ownCh = true
	}
	m.ch = ch
	if ws, ok := ch.(channel.WebSocket); ok {
		m.ws = ws
		ws.OnDisconnect(m.onChannelLost)
	}
	return m, nil
}

func newChannel(o *Options) (channel.Channel, error) {
	switch o.Channel {
	case channel.WebSocketKind:
		c, err := channel.NewWebSocket(&channel.WebSocketConfig{
			URL:            o.URL,
			PingInterval:   o.PingInterval,
			PingTimeout:    o.PingTimeout,
			RequestTimeout: o.RequestTimeout,
			Log:            o.LogBackend.GetLogger("channel/ws"),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := channel.NewHTTP(&channel.HTTPConfig{
			URL:     o.URL,
			Timeout: o.RequestTimeout,
			Log:     o.LogBackend.GetLogger("channel/http"),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Host returns the validated host of the Manager.
func (m *Manager) Host() string {
	return m.opts.Host
}

// IsConnected returns true iff the channel, the session and the session
// check are all good and the Manager was not destroyed.
func (m *Manager) IsConnected() bool {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	return m.channelsConnected && m.sessionChecked && m.sessionEstablished && !m.destroyed
}

func (m *Manager) isDestroyed() bool {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	return m.destroyed
}

// ConnectionInfo returns the details of the current login, or nil.
func (m *Manager) ConnectionInfo() handshake.ConnectionInfo {
	if r := m.result.Load(); r != nil {
		return r.Info
	}
	return nil
}

// Username returns the authenticated user, if any.
func (m *Manager) Username() string {
	return handshake.Username(m.ConnectionInfo())
}

// Tickets returns the number of tickets in the pool.
func (m *Manager) Tickets() int {
	return m.pool.Count()
}

func (m *Manager) request() *channel.Request {
	return &channel.Request{ContentType: channel.DefaultContentType, KeepAlive: true}
}

// roundTrip sends the pending batch of c and processes the reply.  Calls the
// reply did not answer are failed with NoResponse.
func (m *Manager) roundTrip(ctx context.Context, c *conduit) error {
	out := c.endpoint.Flush()
	if len(out) == 0 {
		return nil
	}
	reply, err := m.ch.Send(ctx, out, m.request())
	if err == nil {
		err = c.endpoint.Process(reply)
	}
	if err != nil {
		c.endpoint.FailAll(err)
		m.noteFailure(err)
		return err
	}
	c.endpoint.FailAll(failure.NoResponse)

	m.flagsMu.Lock()
	m.channelsConnected = true
	m.flagsMu.Unlock()
	return nil
}

// noteFailure updates the state flags after a failed batch.
func (m *Manager) noteFailure(err error) {
	var fe *failure.Error
	lost := false

	m.flagsMu.Lock()
	switch {
	case failure.ShouldTriggerRepair(err):
		lost = m.sessionEstablished
		m.sessionEstablished = false
		m.sessionChecked = false
	case errors.As(err, &fe):
		if fe.Scope == failure.ScopeNet || fe.IsFatalFrameError() {
			lost = m.channelsConnected
			m.channelsConnected = false
			m.sessionChecked = false
		}
	case errors.Is(err, context.Canceled):
	default:
		lost = m.channelsConnected
		m.channelsConnected = false
	}
	if m.destroyed {
		lost = false
	}
	if lost {
		m.log.Warningf("Session lost: %v", err)
		m.lost = append(m.lost, err)
	}
	m.flagsMu.Unlock()
}

// dispatchLost delivers the SessionLost events queued by noteFailure.  It
// must be called without exchangeMu held, so that listeners may call back
// into the Manager.
func (m *Manager) dispatchLost() {
	m.flagsMu.Lock()
	errs := m.lost
	m.lost = nil
	m.flagsMu.Unlock()

	for _, err := range errs {
		m.Events.SessionLost.Dispatch(SessionLostEvent{Err: err})
	}
}

func (m *Manager) onChannelLost(err error) {
	m.flagsMu.Lock()
	lost := m.channelsConnected && !m.destroyed
	m.channelsConnected = false
	m.sessionChecked = false
	m.flagsMu.Unlock()

	if lost {
		m.log.Warningf("Channel lost: %v", err)
		m.Events.SessionLost.Dispatch(SessionLostEvent{Err: failure.WebSocketDisconnected.Wrap(err)})
	}
}

// connectChannel opens the WebSocket if there is one.
func (m *Manager) connectChannel(ctx context.Context) error {
	if m.ws == nil {
		return nil
	}
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.ws.IsConnected() {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	m.flagsMu.Lock()
	m.channelsConnected = true
	m.sessionChecked = false
	m.flagsMu.Unlock()
	return nil
}

// call issues one call in a batch of its own.  exchangeMu must be held,
// for reading at least.
func (m *Manager) call(ctx context.Context, method string, params interface{}, plain bool) (*rpc.Future, error) {
	c, err := m.newConduit()
	if err != nil {
		return nil, err
	}
	defer m.track(c)()

	f, err := c.endpoint.Call(ctx, method, params, plain)
	if err != nil {
		c.endpoint.Flush()
		m.noteFailure(err)
		instrument.Call(false)
		return nil, err
	}
	if err = m.roundTrip(ctx, c); err != nil {
		instrument.Call(false)
		return nil, err
	}
	_, err = f.Wait(ctx)
	instrument.Call(err == nil)
	return f, nil
}

// Call verifies the connection, repairing it if needed, and performs an
// encrypted call.  Transport failures are returned; RPC failures settle the
// Future.  Calls run concurrently, each on tickets of its own.
func (m *Manager) Call(ctx context.Context, method string, params interface{}) (*rpc.Future, error) {
	defer m.dispatchLost()
	if err := m.VerifyConnection(ctx); err != nil {
		return nil, err
	}
	m.exchangeMu.RLock()
	defer m.exchangeMu.RUnlock()
	if m.isDestroyed() {
		return nil, failure.Destroyed
	}
	return m.call(ctx, method, params, false)
}

// CallPlain performs a plaintext call.  It needs no session.
func (m *Manager) CallPlain(ctx context.Context, method string, params interface{}) (*rpc.Future, error) {
	defer m.dispatchLost()
	m.exchangeMu.RLock()
	defer m.exchangeMu.RUnlock()
	if m.isDestroyed() {
		return nil, failure.Destroyed
	}
	if err := m.connectChannel(ctx); err != nil {
		return nil, err
	}
	return m.call(ctx, method, params, true)
}

// VerifyConnection repairs the connection and the session if they are
// flagged as lost.  Concurrent callers share one repair.
func (m *Manager) VerifyConnection(ctx context.Context) error {
	if m.isDestroyed() {
		return failure.Destroyed
	}
	if m.result.Load() == nil {
		return failure.SessionNotEstablished
	}
	if m.IsConnected() {
		return nil
	}
	defer m.dispatchLost()
	_, err, _ := m.repair.Do("verify", func() (interface{}, error) {
		return nil, m.repairAll(ctx)
	})
	return err
}

func (m *Manager) repairAll(ctx context.Context) error {
	m.flagsMu.Lock()
	connected, established := m.channelsConnected, m.sessionEstablished
	m.flagsMu.Unlock()

	if !connected {
		if err := m.checkConnectionAndRepairIfNeeded(ctx); err != nil {
			return err
		}
	}
	if !established {
		if err := m.reestablish(ctx); err != nil {
			return err
		}
	}
	return m.checkSessionAndRepairIfNeeded(ctx)
}

func (m *Manager) checkConnectionAndRepairIfNeeded(ctx context.Context) error {
	m.flagsMu.Lock()
	connected := m.channelsConnected
	m.flagsMu.Unlock()
	if connected {
		return nil
	}
	if !m.reconnect.Allow() {
		return failure.NotConnected.WithMessage("reconnect rate limited")
	}
	instrument.SessionRepair("connection")

	if m.ws != nil {
		// Batches in flight on the old connection are drained first.
		m.exchangeMu.Lock()
		defer m.exchangeMu.Unlock()

		if m.ws.IsConnected() {
			m.ws.Disconnect()
		}
		m.log.Debugf("Reconnecting the WebSocket.")
		return m.connectChannel(ctx)
	}

	m.exchangeMu.RLock()
	defer m.exchangeMu.RUnlock()

	m.log.Debugf("Checking the channel with a plaintext %s.", TicketTestMethod)
	f, err := m.call(ctx, TicketTestMethod, nil, true)
	if err != nil {
		return err
	}
	if _, err = f.Wait(ctx); err != nil && !errors.Is(err, failure.RPCError) {
		return err
	}
	return nil
}

func (m *Manager) checkSessionAndRepairIfNeeded(ctx context.Context) error {
	m.flagsMu.Lock()
	checked := m.sessionChecked
	m.flagsMu.Unlock()
	if checked {
		return nil
	}

	if m.ws != nil {
		return m.authorizePush(ctx)
	}

	m.exchangeMu.RLock()
	f, err := m.call(ctx, TicketTestMethod, nil, false)
	m.exchangeMu.RUnlock()
	if err != nil {
		return err
	}
	if _, err = f.Wait(ctx); err != nil && !errors.Is(err, failure.RPCError) {
		return err
	}
	m.flagsMu.Lock()
	m.sessionChecked = true
	m.flagsMu.Unlock()
	return nil
}

func (m *Manager) restorable() bool {
	m.exchangeMu.RLock()
	defer m.exchangeMu.RUnlock()
	return m.sessionKey != nil && m.sessionID != ""
}

// reestablish replaces a lost session.  Restorable sessions are restored
// and anonymous logins repeated.  Every other login needs credentials the
// Manager does not keep, so it is left to Relogin.
func (m *Manager) reestablish(ctx context.Context) error {
	if m.restorable() {
		return m.restoreSession(ctx)
	}
	info, ok := m.ConnectionInfo().(*handshake.EcdheInfo)
	if !ok {
		return failure.SessionNotEstablished.WithMessage("session is not restorable")
	}

	instrument.SessionRepair("login")
	m.log.Infof("Logging in anonymously again.")
	_, err := m.ConnectECDHE(ctx, nil, info.Solution)
	return err
}

// restoreSession replaces a lost session with a restored one, which is only
// possible after a restorable login.
func (m *Manager) restoreSession(ctx context.Context) error {
	m.exchangeMu.RLock()
	id, key := m.sessionID, m.sessionKey.Clone()
	m.exchangeMu.RUnlock()
	if id == "" || key == nil {
		return failure.SessionNotEstablished.WithMessage("session is not restorable")
	}
	defer key.Zero()

	instrument.SessionRepair("session")
	m.log.Infof("Restoring session %s.", id)
	m.pool.Clear()
	_, err := m.login(ctx, key, func(e *handshake.Engine) error { return e.Session(id, key) })
	return err
}

// login runs a login to completion on the auth conduit.  restoreKey is the
// session key of a session restore.
func (m *Manager) login(ctx context.Context, restoreKey *provider.PrivateKey, start func(*handshake.Engine) error) (*handshake.Result, error) {
	defer m.dispatchLost()
	if m.isDestroyed() {
		return nil, failure.Destroyed
	}

	m.exchangeMu.Lock()
	m.flagsMu.Lock()
	stale := !m.sessionEstablished
	m.flagsMu.Unlock()
	if stale {
		m.pool.Clear()
	}
	r, err := m.loginLocked(ctx, start)
	if err == nil {
		m.adopt(r, restoreKey)
	}
	m.exchangeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if m.ws != nil {
		if err = m.authorizePush(ctx); err != nil {
			m.log.Warningf("Failed to authorize notifications: %v", err)
		}
	}
	m.refreshOnce.Do(func() {
		m.Go(m.refreshWorker)
	})
	m.Events.Connected.Dispatch(ConnectedEvent{Info: r.Info})
	return r, nil
}

func (m *Manager) loginLocked(ctx context.Context, start func(*handshake.Engine) error) (*handshake.Result, error) {
	a := m.auth
	if err := m.connectChannel(ctx); err != nil {
		return nil, err
	}
	if err := start(a.engine); err != nil {
		a.engine.Reset(false)
		a.endpoint.Flush()
		return nil, err
	}
	for legs := 0; !a.engine.Done(); legs++ {
		if legs == maxLoginLegs || a.layer.Pending() == 0 {
			a.engine.Reset(false)
			a.endpoint.Flush()
			return nil, failure.InvalidHandshakeState.WithMessage("login stalled after %d round trips", legs)
		}
		if err := m.roundTrip(ctx, a); err != nil {
			a.engine.Reset(false)
			return nil, err
		}
	}
	if err := a.engine.Err(); err != nil {
		return nil, err
	}
	return a.engine.Result(), nil
}

// adopt makes r the current session.  exchangeMu must be held.
func (m *Manager) adopt(r *handshake.Result, restoreKey *provider.PrivateKey) {
	key := r.SessionKey
	if key == nil {
		key = restoreKey
	}
	if key != nil {
		m.sessionKey.Zero()
		m.sessionKey = key.Clone()
		m.sessionID = r.SessionID
	}
	if r.Username != "" {
		m.auth.engine.SetExpectedUsername(r.Username)
	}
	m.result.Store(r)

	m.flagsMu.Lock()
	m.channelsConnected = true
	m.sessionEstablished = true
	m.sessionChecked = m.ws == nil
	m.flagsMu.Unlock()
}

// ConnectECDHE logs in anonymously.  A nil key selects an ephemeral key.
func (m *Manager) ConnectECDHE(ctx context.Context, key *provider.PrivateKey, solution string) (*handshake.Result, error) {
	return m.login(ctx, nil, func(e *handshake.Engine) error { return e.ECDHE(key, solution) })
}

// ConnectECDHEX logs in with a long term key.
func (m *Manager) ConnectECDHEX(ctx context.Context, key *provider.PrivateKey, solution string) (*handshake.Result, error) {
	return m.login(ctx, nil, func(e *handshake.Engine) error { return e.ECDHEX(key, solution) })
}

// ConnectSRP logs in with a password.
func (m *Manager) ConnectSRP(ctx context.Context, username, password string, props map[string]interface{}) (*handshake.Result, error) {
	return m.login(ctx, nil, func(e *handshake.Engine) error { return e.SRP(username, "", password, props) })
}

// ConnectKey logs in with a registered key.
func (m *Manager) ConnectKey(ctx context.Context, key *provider.PrivateKey, props map[string]interface{}) (*handshake.Result, error) {
	return m.login(ctx, nil, func(e *handshake.Engine) error { return e.Key(key, props) })
}

// ConnectSession restores a session minted by an earlier restorable login.
func (m *Manager) ConnectSession(ctx context.Context, sessionID string, key *provider.PrivateKey) (*handshake.Result, error) {
	return m.login(ctx, key, func(e *handshake.Engine) error { return e.Session(sessionID, key) })
}

// Relogin logs in again as the current user.  Restorable sessions are
// restored; otherwise SRP needs the password and anonymous logins are
// repeated.  The new login must authenticate the same user.
func (m *Manager) Relogin(ctx context.Context, password string) (*handshake.Result, error) {
	r := m.result.Load()
	if r == nil {
		return nil, failure.SessionNotEstablished
	}
	restorable := m.restorable()

	switch info := r.Info.(type) {
	case *handshake.SrpInfo:
		if password != "" || !restorable {
			return m.login(ctx, nil, func(e *handshake.Engine) error { return e.SRP(info.Username, info.Host, password, nil) })
		}
	case *handshake.KeyInfo, *handshake.SessionInfo:
		if !restorable {
			return nil, failure.InvalidParams.WithMessage("%s login is not restorable", info.Mode())
		}
	case *handshake.EcdheInfo:
		return m.ConnectECDHE(ctx, nil, info.Solution)
	case *handshake.EcdhexInfo:
		return nil, failure.InvalidParams.WithMessage("ecdhex relogin needs the identity key")
	default:
		panic("BUG: session: unknown ConnectionInfo")
	}

	if err := m.restoreSession(ctx); err != nil {
		return nil, err
	}
	return m.result.Load(), nil
}

// authorizePush registers a fresh notification key with the server and
// subscribes to the channel id it returns.
func (m *Manager) authorizePush(ctx context.Context) error {
	key, err := m.provider.RandomBytes(pushKeySize)
	if err != nil {
		return err
	}

	m.exchangeMu.RLock()
	defer m.exchangeMu.RUnlock()

	f, err := m.call(ctx, authorizePushMethod, map[string]interface{}{"key": hex.EncodeToString(key)}, false)
	if err != nil {
		return err
	}
	var res struct {
		ChannelID uint64 `codec:"wsChannelId"`
	}
	if err = f.Decode(ctx, &res); err != nil {
		return err
	}
	if res.ChannelID == 0 {
		return failure.MalformedResult.WithMessage("missing wsChannelId")
	}

	m.pushMu.Lock()
	if m.pushID != 0 {
		m.ws.Unsubscribe(m.pushID)
	}
	m.pushKey, m.pushID = key, res.ChannelID
	m.ws.Subscribe(res.ChannelID, m.pushHandler(res.ChannelID, key))
	m.pushMu.Unlock()
	m.log.Debugf("Notifications authorized on channel %d.", res.ChannelID)

	m.flagsMu.Lock()
	m.sessionChecked = true
	m.flagsMu.Unlock()
	return nil
}

func (m *Manager) pushHandler(channelID uint64, key []byte) channel.NotificationHandler {
	return func(payload []byte) {
		b, err := m.provider.AEADOpen(key, payload, nil)
		if err != nil {
			m.log.Warningf("Dropping notification on channel %d: %v", channelID, err)
			return
		}
		var n struct {
			Type string      `codec:"type"`
			Data interface{} `codec:"data"`
		}
		if err = rpc.DecodeJSON(b, &n); err != nil {
			m.log.Warningf("Dropping malformed notification on channel %d: %v", channelID, err)
			return
		}
		m.Events.Notification.Dispatch(NotificationEvent{ChannelID: channelID, Type: n.Type, Data: n.Data})
	}
}

// RefreshTickets performs a ticket only handshake that replenishes the pool.
func (m *Manager) RefreshTickets(ctx context.Context) error {
	defer m.dispatchLost()
	m.exchangeMu.RLock()
	defer m.exchangeMu.RUnlock()

	c, err := m.newConduit()
	if err != nil {
		return err
	}
	defer m.track(c)()

	if err = c.endpoint.RequestTickets(ctx, m.opts.TicketRequestCount); err != nil {
		m.noteFailure(err)
		return err
	}
	return m.roundTrip(ctx, c)
}

func (m *Manager) needsTickets() bool {
	m.flagsMu.Lock()
	ok := m.sessionEstablished && !m.destroyed
	m.flagsMu.Unlock()
	return ok && m.pool.ShouldAskForNewTickets(m.opts.MinTickets)
}

// refreshWorker keeps the pool topped up.  Failed refreshes are retried
// with backoff whatever the failure.
func (m *Manager) refreshWorker() {
	backoff := &retry.Backoff{
		BaseDelay: m.opts.RetryDelay,
		MaxDelay:  retry.DefaultMaxDelay,
		Jitter:    retry.DefaultJitter,
	}
	defer m.refreshLog.Debugf("Terminating gracefully.")

	for {
		delay := m.opts.RefreshInterval
		if m.needsTickets() {
			m.refreshLog.Debugf("Refreshing tickets, %d left.", m.pool.Count())
			if err := m.RefreshTickets(m.Context()); err != nil {
				if m.Context().Err() != nil {
					return
				}
				delay = backoff.Next()
				if retry.IsTransientError(err) {
					m.refreshLog.Warningf("Ticket refresh failed, retrying in %v: %v", delay, err)
				} else {
					m.refreshLog.Errorf("Ticket refresh failed, retrying in %v: %v", delay, err)
				}
			} else {
				backoff.Reset()
			}
		}
		if !m.Sleep(delay) {
			return
		}
	}
}

// Destroy tears the session down.  It is best effort and idempotent: the
// refresh loop is stopped, the notification channel is unauthorized if
// possible, pending calls fail with Destroyed and the key material is wiped.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(m.destroy)
}

func (m *Manager) destroy() {
	m.flagsMu.Lock()
	m.destroyed = true
	m.flagsMu.Unlock()

	m.Halt()

	m.flagsMu.Lock()
	usable := m.channelsConnected && m.sessionEstablished
	m.flagsMu.Unlock()

	m.exchangeMu.RLock()
	m.pushMu.Lock()
	if m.ws != nil && m.pushID != 0 {
		if usable {
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.RequestTimeout)
			if _, err := m.call(ctx, unauthorizePushMethod, map[string]interface{}{"wsChannelId": m.pushID}, false); err != nil {
				m.log.Debugf("Ignoring unauthorize failure: %v", err)
			}
			cancel()
		}
		m.ws.Unsubscribe(m.pushID)
	}
	utils.ExplicitBzero(m.pushKey)
	m.pushKey, m.pushID = nil, 0
	m.pushMu.Unlock()
	m.exchangeMu.RUnlock()

	m.flagsMu.Lock()
	m.channelsConnected = false
	m.sessionChecked = false
	m.sessionEstablished = false
	m.flagsMu.Unlock()

	m.failActive(failure.Destroyed)
	if m.ownCh {
		if err := m.ch.Close(); err != nil {
			m.log.Debugf("Ignoring close failure: %v", err)
		}
	}

	m.exchangeMu.Lock()
	m.auth.endpoint.FailAll(failure.Destroyed)
	m.auth.engine.Reset(false)
	m.pool.Clear()
	m.sessionKey.Zero()
	m.sessionKey, m.sessionID = nil, ""
	m.exchangeMu.Unlock()

	m.log.Debugf("Destroyed.")
	m.Events.Disconnected.Dispatch(DisconnectedEvent{})
}
