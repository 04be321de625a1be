// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !nometrics

// Package instrument holds the transport's prometheus metrics.
package instrument

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherlane_frames_sent_total",
			Help: "Number of record layer frames sent",
		},
		[]string{"content_type"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherlane_frames_received_total",
			Help: "Number of record layer frames received",
		},
		[]string{"content_type"},
	)
	frameIntegrityFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherlane_frame_integrity_failures_total",
			Help: "Number of frames rejected by a header tag or MAC check",
		},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherlane_handshakes_total",
			Help: "Number of completed handshakes by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	ticketsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cipherlane_tickets_available",
			Help: "Number of unused session tickets in the pool",
		},
	)
	ticketsUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherlane_tickets_used_total",
			Help: "Number of session tickets consumed",
		},
	)
	sessionRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherlane_session_repairs_total",
			Help: "Number of connection and session repairs",
		},
		[]string{"kind"},
	)
	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherlane_calls_total",
			Help: "Number of RPC calls by outcome",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

// Init registers the metrics with reg.  A nil reg selects the default
// prometheus registerer.  Only the first call has an effect.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			framesSent,
			framesReceived,
			frameIntegrityFailures,
			handshakes,
			ticketsAvailable,
			ticketsUsed,
			sessionRepairs,
			calls,
		)
	})
}

// Serve registers the metrics with the default registerer and exposes them
// on addr under /metrics.
func Serve(addr string) *http.Server {
	Init(nil)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}

// FrameSent counts an outbound frame.
func FrameSent(contentType string) {
	framesSent.With(prometheus.Labels{"content_type": contentType}).Inc()
}

// FrameReceived counts an inbound frame.
func FrameReceived(contentType string) {
	framesReceived.With(prometheus.Labels{"content_type": contentType}).Inc()
}

// FrameIntegrityFailure counts a frame that failed authentication.
func FrameIntegrityFailure() {
	frameIntegrityFailures.Inc()
}

// Handshake counts a finished handshake.
func Handshake(mode string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	handshakes.With(prometheus.Labels{"mode": mode, "outcome": outcome}).Inc()
}

// TicketsAvailable records the size of the ticket pool.
func TicketsAvailable(n int) {
	ticketsAvailable.Set(float64(n))
}

// TicketUsed counts a consumed ticket.
func TicketUsed() {
	ticketsUsed.Inc()
}

// SessionRepair counts a repair of the given kind ("connection", "session",
// "login").
func SessionRepair(kind string) {
	sessionRepairs.With(prometheus.Labels{"kind": kind}).Inc()
}

// Call counts a finished RPC call.
func Call(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	calls.With(prometheus.Labels{"outcome": outcome}).Inc()
}
