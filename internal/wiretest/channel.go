// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wiretest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/wire/channel"
)

// Channel is an in memory channel.Channel talking to a Server.
type Channel struct {
	sync.Mutex

	srv      *Server
	fail     error
	sent     int
	attempts int
	latency  time.Duration

	inFlight, maxInFlight int
}

// NewChannel creates a Channel bound to srv.
func NewChannel(srv *Server) *Channel {
	return &Channel{srv: srv}
}

// FailWith makes every following Send return err; nil restores service.
func (c *Channel) FailWith(err error) {
	c.Lock()
	defer c.Unlock()
	c.fail = err
}

// SetLatency delays every following Send by d before the Server sees it.
func (c *Channel) SetLatency(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.latency = d
}

// InFlight returns the number of Sends currently in progress.
func (c *Channel) InFlight() int {
	c.Lock()
	defer c.Unlock()
	return c.inFlight
}

// MaxInFlight returns the highest number of Sends ever in progress at once.
func (c *Channel) MaxInFlight() int {
	c.Lock()
	defer c.Unlock()
	return c.maxInFlight
}

// Attempts returns the number of Sends, failed ones included.
func (c *Channel) Attempts() int {
	c.Lock()
	defer c.Unlock()
	return c.attempts
}

// Sent returns the number of batches delivered to the Server.
func (c *Channel) Sent() int {
	c.Lock()
	defer c.Unlock()
	return c.sent
}

// Send implements channel.Channel.
func (c *Channel) Send(ctx context.Context, data []byte, _ *channel.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.Lock()
	fail, latency := c.fail, c.latency
	c.attempts++
	if fail == nil {
		c.sent++
		c.inFlight++
		if c.inFlight > c.maxInFlight {
			c.maxInFlight = c.inFlight
		}
	}
	c.Unlock()
	if fail != nil {
		return nil, fail
	}
	defer func() {
		c.Lock()
		c.inFlight--
		c.Unlock()
	}()

	if latency > 0 {
		t := time.NewTimer(latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	reply, err := c.srv.Exchange(data)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, failure.NoResponse
	}
	return reply, nil
}

// Close implements channel.Channel.
func (c *Channel) Close() error {
	return nil
}

// NewHTTPServer serves srv over HTTP, one batch per POST.
func NewHTTPServer(srv *Server) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reply, err := srv.Exchange(body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", channel.DefaultContentType)
		w.Write(reply)
	}))
}

// WSServer serves a Server over WebSocket and can push notifications.
type WSServer struct {
	*httptest.Server

	srv      *Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]*sync.Mutex
	noPongs bool
}

// NewWSServer starts a WSServer.
func NewWSServer(srv *Server) *WSServer {
	ws := &WSServer{
		srv:   srv,
		conns: make(map[*websocket.Conn]*sync.Mutex),
	}
	ws.Server = httptest.NewServer(http.HandlerFunc(ws.serve))
	return ws
}

// WSURL returns the ws:// URL of the server.
func (ws *WSServer) WSURL() string {
	return "ws" + strings.TrimPrefix(ws.Server.URL, "http")
}

// SuppressPongs makes connections accepted afterwards ignore pings.
func (ws *WSServer) SuppressPongs() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.noPongs = true
}

// Connections returns the number of open connections.
func (ws *WSServer) Connections() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

// DropAll closes every connection from the server side.
func (ws *WSServer) DropAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for conn := range ws.conns {
		conn.Close()
	}
}

// Push seals a notification and writes it to every connection.
func (ws *WSServer) Push(channelID uint64, typ string, data interface{}) error {
	payload, err := ws.srv.Notification(channelID, typ, data)
	if err != nil {
		return err
	}
	msg := channel.Seal(channel.EnvelopeNotification, channelID, payload)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	for conn, wmu := range ws.conns {
		wmu.Lock()
		err = conn.WriteMessage(websocket.BinaryMessage, msg)
		wmu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (ws *WSServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wmu := new(sync.Mutex)

	ws.mu.Lock()
	ws.conns[conn] = wmu
	if ws.noPongs {
		conn.SetPingHandler(func(string) error { return nil })
	}
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		delete(ws.conns, conn)
		ws.mu.Unlock()
		conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		kind, id, payload, err := channel.Open(msg)
		if err != nil || kind != channel.EnvelopeRequest {
			continue
		}
		reply, err := ws.srv.Exchange(payload)
		if err != nil {
			return
		}
		wmu.Lock()
		err = conn.WriteMessage(websocket.BinaryMessage, channel.Seal(channel.EnvelopeResponse, id, reply))
		wmu.Unlock()
		if err != nil {
			return
		}
	}
}
