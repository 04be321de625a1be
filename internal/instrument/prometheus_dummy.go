// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build nometrics

// Package instrument holds the transport's prometheus metrics.  This build
// records nothing.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Init does nothing.
func Init(reg prometheus.Registerer) {}

// Serve returns a server that is never started.
func Serve(addr string) *http.Server {
	return &http.Server{Addr: addr}
}

// FrameSent does nothing.
func FrameSent(contentType string) {}

// FrameReceived does nothing.
func FrameReceived(contentType string) {}

// FrameIntegrityFailure does nothing.
func FrameIntegrityFailure() {}

// Handshake does nothing.
func Handshake(mode string, ok bool) {}

// TicketsAvailable does nothing.
func TicketsAvailable(n int) {}

// TicketUsed does nothing.
func TicketUsed() {}

// SessionRepair does nothing.
func SessionRepair(kind string) {}

// Call does nothing.
func Call(ok bool) {}
