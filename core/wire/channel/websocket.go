// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/log"
	"github.com/cipherlane/transport/core/worker"
)

// Envelope kinds.  Every WebSocket message is [kind:u8][id:u64 BE][payload].
// For notifications the id is the channel id the payload was pushed to.
const (
	EnvelopeRequest      byte = 1
	EnvelopeResponse     byte = 2
	EnvelopeNotification byte = 3

	EnvelopeHeaderSize = 9
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPingTimeout  = 10 * time.Second
)

var errMalformedEnvelope = errors.New("channel: malformed envelope")

// Seal builds an envelope.
func Seal(kind byte, id uint64, payload []byte) []byte {
	b := make([]byte, EnvelopeHeaderSize+len(payload))
	b[0] = kind
	binary.BigEndian.PutUint64(b[1:EnvelopeHeaderSize], id)
	copy(b[EnvelopeHeaderSize:], payload)
	return b
}

// Open splits an envelope.
func Open(b []byte) (kind byte, id uint64, payload []byte, err error) {
	if len(b) < EnvelopeHeaderSize {
		return 0, 0, nil, errMalformedEnvelope
	}
	return b[0], binary.BigEndian.Uint64(b[1:EnvelopeHeaderSize]), b[EnvelopeHeaderSize:], nil
}

// WebSocketConfig is the WebSocketChannel configuration.
type WebSocketConfig struct {
	URL    string
	Header http.Header

	// PingInterval is the keep-alive period; a negative value disables the
	// keep-alive.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Dialer is optional.
	Dialer *websocket.Dialer

	// Log is optional.
	Log *logging.Logger
}

type reply struct {
	payload []byte
	err     error
}

// wsConn is one live connection and the goroutines serving it.
type wsConn struct {
	worker.Worker

	conn    *websocket.Conn
	writeMu sync.Mutex
	pongCh  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

func (c *wsConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.closed)
		c.conn.Close()
	})
}

func (c *wsConn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

// WebSocketChannel multiplexes request/response pairs and server pushes over
// a single WebSocket.
type WebSocketChannel struct {
	sync.Mutex

	log    *logging.Logger
	cfg    WebSocketConfig
	dialer *websocket.Dialer

	conn   *wsConn
	closed bool
	nextID uint64

	waitersMu sync.Mutex
	waiters   map[uint64]chan reply

	subsMu       sync.RWMutex
	subs         map[uint64]NotificationHandler
	onDisconnect []func(error)
}

// NewWebSocket creates a WebSocketChannel.  It does not connect.
func NewWebSocket(cfg *WebSocketConfig) (*WebSocketChannel, error) {
	if cfg.URL == "" {
		return nil, failure.InvalidParams.WithMessage("channel: missing URL")
	}
	c := &WebSocketChannel{
		log:     cfg.Log,
		cfg:     *cfg,
		dialer:  cfg.Dialer,
		waiters: make(map[uint64]chan reply),
		subs:    make(map[uint64]NotificationHandler),
	}
	if c.log == nil {
		c.log = log.NewDiscard().GetLogger("channel/ws")
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.cfg.PingInterval == 0 {
		c.cfg.PingInterval = DefaultPingInterval
	}
	if c.cfg.PingTimeout <= 0 {
		c.cfg.PingTimeout = DefaultPingTimeout
	}
	if c.cfg.RequestTimeout <= 0 {
		c.cfg.RequestTimeout = DefaultRequestTimeout
	}
	return c, nil
}

// Connect dials the peer.  It is a no-op when already connected.
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		return failure.ChannelClosed
	}
	if c.conn != nil {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			c.log.Debugf("Dial %s failed: %v (%s)", c.cfg.URL, err, resp.Status)
		}
		return failure.NotConnected.Wrap(err)
	}
	wc := &wsConn{
		conn:   conn,
		pongCh: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case wc.pongCh <- struct{}{}:
		default:
		}
		return nil
	})
	c.conn = wc

	wc.Go(func() { c.readLoop(wc) })
	if c.cfg.PingInterval > 0 {
		wc.Go(func() { c.keepAlive(wc) })
	}
	c.log.Debugf("Connected to %s.", c.cfg.URL)
	return nil
}

// IsConnected implements WebSocket.
func (c *WebSocketChannel) IsConnected() bool {
	c.Lock()
	defer c.Unlock()
	return c.conn != nil
}

// Disconnect closes the connection without firing the disconnect callbacks.
func (c *WebSocketChannel) Disconnect() error {
	c.Lock()
	wc := c.conn
	c.conn = nil
	c.Unlock()

	if wc == nil {
		return nil
	}
	c.teardown(wc, failure.WebSocketDisconnected)
	return nil
}

// Close implements Channel.
func (c *WebSocketChannel) Close() error {
	c.Lock()
	c.closed = true
	c.Unlock()
	return c.Disconnect()
}

func (c *WebSocketChannel) teardown(wc *wsConn, err error) {
	wc.writeMu.Lock()
	_ = wc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	wc.writeMu.Unlock()
	wc.shutdown(err)
	wc.Halt()
	c.failWaiters(err)
}

// drop handles a connection that died on its own.
func (c *WebSocketChannel) drop(wc *wsConn, err error) {
	wc.shutdown(err)
	wc.Halt()

	c.Lock()
	current := c.conn == wc
	if current {
		c.conn = nil
	}
	c.Unlock()
	if !current {
		return
	}

	c.log.Warningf("Connection lost: %v", err)
	c.failWaiters(failure.WebSocketDisconnected.Wrap(err))

	c.subsMu.RLock()
	fns := append([]func(error){}, c.onDisconnect...)
	c.subsMu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *WebSocketChannel) failWaiters(err error) {
	c.waitersMu.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint64]chan reply)
	c.waitersMu.Unlock()

	for _, ch := range waiters {
		ch <- reply{err: err}
	}
}

func (c *WebSocketChannel) readLoop(wc *wsConn) {
	for {
		typ, msg, err := wc.conn.ReadMessage()
		if err != nil {
			select {
			case <-wc.closed:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Debugf("Peer closed the connection.")
				}
				go c.drop(wc, err)
			}
			return
		}
		if typ != websocket.BinaryMessage {
			c.log.Debugf("Ignoring message of type %d.", typ)
			continue
		}
		kind, id, payload, err := Open(msg)
		if err != nil {
			c.log.Warningf("Dropping message: %v", err)
			continue
		}
		switch kind {
		case EnvelopeResponse:
			c.waitersMu.Lock()
			ch, ok := c.waiters[id]
			delete(c.waiters, id)
			c.waitersMu.Unlock()
			if !ok {
				c.log.Debugf("Dropping response for unknown id %d.", id)
				continue
			}
			ch <- reply{payload: payload}
		case EnvelopeNotification:
			c.subsMu.RLock()
			fn := c.subs[id]
			c.subsMu.RUnlock()
			if fn == nil {
				c.log.Debugf("Dropping notification for channel %d.", id)
				continue
			}
			fn(payload)
		default:
			c.log.Debugf("Ignoring envelope kind %d.", kind)
		}
	}
}

func (c *WebSocketChannel) keepAlive(wc *wsConn) {
	for {
		if !wc.Sleep(c.cfg.PingInterval) {
			return
		}
		ctx, cancel := context.WithTimeout(wc.Context(), c.cfg.PingTimeout)
		err := c.ping(ctx, wc)
		cancel()
		if err != nil {
			select {
			case <-wc.HaltCh():
				return
			default:
			}
			c.log.Warningf("Keep-alive failed: %v", err)
			go c.drop(wc, err)
			return
		}
	}
}

func (c *WebSocketChannel) current() (*wsConn, error) {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return nil, failure.ChannelClosed
	}
	if c.conn == nil {
		return nil, failure.NotConnected
	}
	return c.conn, nil
}

// Ping implements WebSocket.
func (c *WebSocketChannel) Ping(ctx context.Context) error {
	wc, err := c.current()
	if err != nil {
		return err
	}
	return c.ping(ctx, wc)
}

func (c *WebSocketChannel) ping(ctx context.Context, wc *wsConn) error {
	select {
	case <-wc.pongCh:
	default:
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.PingTimeout)
	}
	wc.writeMu.Lock()
	err := wc.conn.WriteControl(websocket.PingMessage, nil, deadline)
	wc.writeMu.Unlock()
	if err != nil {
		return failure.WebSocketDisconnected.Wrap(err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-wc.pongCh:
		return nil
	case <-wc.closed:
		return failure.WebSocketDisconnected
	case <-ctx.Done():
		return failure.NoResponse.Wrap(ctx.Err())
	case <-timer.C:
		return failure.NoResponse
	}
}

// Send implements Channel.  Only the payload travels; Request options that
// have no WebSocket meaning are ignored.
func (c *WebSocketChannel) Send(ctx context.Context, data []byte, _ *Request) ([]byte, error) {
	wc, err := c.current()
	if err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&c.nextID, 1)
	ch := make(chan reply, 1)
	c.waitersMu.Lock()
	c.waiters[id] = ch
	c.waitersMu.Unlock()
	forget := func() {
		c.waitersMu.Lock()
		delete(c.waiters, id)
		c.waitersMu.Unlock()
	}

	if err = wc.write(Seal(EnvelopeRequest, id, data)); err != nil {
		forget()
		go c.drop(wc, err)
		return nil, failure.WebSocketDisconnected.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if len(r.payload) == 0 {
			return nil, failure.NoResponse
		}
		return r.payload, nil
	case <-ctx.Done():
		forget()
		return nil, failure.NoResponse.Wrap(ctx.Err())
	}
}

// Subscribe implements WebSocket.
func (c *WebSocketChannel) Subscribe(channelID uint64, fn NotificationHandler) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[channelID] = fn
}

// Unsubscribe implements WebSocket.
func (c *WebSocketChannel) Unsubscribe(channelID uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, channelID)
}

// OnDisconnect implements WebSocket.
func (c *WebSocketChannel) OnDisconnect(fn func(error)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}
