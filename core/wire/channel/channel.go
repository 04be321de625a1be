// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package channel provides the byte transports the session runs over.
package channel

import (
	"context"
	"time"
)

// Kind selects a channel implementation.
type Kind string

const (
	// AJAX sends each batch as an HTTP request.
	AJAX Kind = "ajax"

	// WebSocketKind multiplexes batches and push notifications over one
	// WebSocket.
	WebSocketKind Kind = "websocket"
)

const (
	// DefaultContentType is the content type of a batch.
	DefaultContentType = "application/octet-stream"

	// DefaultRequestTimeout bounds a single round trip.
	DefaultRequestTimeout = 30 * time.Second

	// MaxReplySize bounds a reply body.
	MaxReplySize = 64 << 20
)

// Request carries the per-send options.
type Request struct {
	Path        string
	Headers     map[string]string
	ContentType string
	IsGet       bool
	KeepAlive   bool
}

// Channel is a request/response byte transport.
type Channel interface {
	// Send delivers data and returns the peer's reply.
	Send(ctx context.Context, data []byte, req *Request) ([]byte, error)

	// Close releases the channel.
	Close() error
}

// NotificationHandler receives the payloads pushed to a channel id.
type NotificationHandler func(payload []byte)

// WebSocket is a Channel with a persistent connection and server push.
type WebSocket interface {
	Channel

	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Ping performs a ping/pong round trip.
	Ping(ctx context.Context) error

	Subscribe(channelID uint64, fn NotificationHandler)
	Unsubscribe(channelID uint64)

	// OnDisconnect registers fn to be called when the connection drops
	// for any reason other than Disconnect or Close.
	OnDisconnect(fn func(error))
}
