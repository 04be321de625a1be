// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/log"
	"github.com/cipherlane/transport/core/wire/channel"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/rpc"
	"github.com/cipherlane/transport/core/wire/ticket"
)

const (
	DefaultRefreshInterval    = 10 * time.Second
	DefaultRetryDelay         = 1 * time.Second
	DefaultReconnectPerMinute = 6
)

// Options configures a Manager.
type Options struct {
	// Host is the server host name, optionally with a port.
	Host string

	// URL is the channel endpoint.  It defaults to https://<Host>/api for
	// AJAX and wss://<Host>/ws for WebSocket.
	URL string

	// Channel defaults to channel.AJAX.
	Channel channel.Kind

	// Agent defaults to handshake.DefaultAgent().
	Agent string

	RequestTimeout time.Duration

	// RestorableSession makes SRP and Key logins mint a session key.
	RestorableSession bool

	// MinTickets is the pool size below which calls and the refresh loop
	// ask for more tickets.
	MinTickets         int
	TicketRequestCount int
	MaxTickets         int
	TTLMargin          time.Duration

	RefreshInterval time.Duration
	RetryDelay      time.Duration

	PingInterval       time.Duration
	PingTimeout        time.Duration
	ReconnectPerMinute int

	// Provider defaults to provider.Default().
	Provider provider.Provider

	// LogBackend defaults to a disabled backend.
	LogBackend *log.Backend
}

func invalid(format string, args ...interface{}) error {
	return failure.InvalidParams.WithMessage(format, args...)
}

// ValidateHost checks that host, less an optional port, is an IP address or
// a valid IDNA host name, and returns its ASCII form.
func ValidateHost(host string) (string, error) {
	if host == "" {
		return "", failure.InvalidHost.WithMessage("empty host")
	}
	name, port := host, ""
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", failure.InvalidHost.Wrap(err)
		}
		name, port = h, p
	}
	if net.ParseIP(name) == nil {
		ascii, err := idna.Lookup.ToASCII(name)
		if err != nil {
			return "", failure.InvalidHost.Wrap(err)
		}
		name = ascii
	}
	if port != "" {
		return net.JoinHostPort(name, port), nil
	}
	return name, nil
}

// FixupAndValidate applies the defaults and validates o.
func (o *Options) FixupAndValidate() error {
	host, err := ValidateHost(o.Host)
	if err != nil {
		return err
	}
	o.Host = host

	switch o.Channel {
	case "":
		o.Channel = channel.AJAX
	case channel.AJAX, channel.WebSocketKind:
	default:
		return invalid("unknown channel %q", o.Channel)
	}
	if o.URL == "" {
		if o.Channel == channel.AJAX {
			o.URL = "https://" + o.Host + "/api"
		} else {
			o.URL = "wss://" + o.Host + "/ws"
		}
	}
	if o.Agent == "" {
		o.Agent = handshake.DefaultAgent()
	}

	for name, v := range map[string]int{
		"MinTickets":         o.MinTickets,
		"TicketRequestCount": o.TicketRequestCount,
		"MaxTickets":         o.MaxTickets,
		"ReconnectPerMinute": o.ReconnectPerMinute,
	} {
		if v < 0 {
			return invalid("%s is negative", name)
		}
	}
	for name, v := range map[string]time.Duration{
		"RequestTimeout":  o.RequestTimeout,
		"TTLMargin":       o.TTLMargin,
		"RefreshInterval": o.RefreshInterval,
		"RetryDelay":      o.RetryDelay,
		"PingTimeout":     o.PingTimeout,
	} {
		if v < 0 {
			return invalid("%s is negative", name)
		}
	}

	if o.RequestTimeout == 0 {
		o.RequestTimeout = channel.DefaultRequestTimeout
	}
	if o.MinTickets == 0 {
		o.MinTickets = rpc.DefaultMinTickets
	}
	if o.TicketRequestCount == 0 {
		o.TicketRequestCount = handshake.DefaultTicketRequestCount
	}
	if o.MaxTickets == 0 {
		o.MaxTickets = ticket.DefaultMaxTickets
	}
	if o.TTLMargin == 0 {
		o.TTLMargin = ticket.DefaultTTLMargin
	}
	if o.RefreshInterval == 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.PingInterval == 0 {
		o.PingInterval = channel.DefaultPingInterval
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = channel.DefaultPingTimeout
	}
	if o.ReconnectPerMinute == 0 {
		o.ReconnectPerMinute = DefaultReconnectPerMinute
	}

	if o.MinTickets > o.MaxTickets {
		return invalid("MinTickets %d exceeds MaxTickets %d", o.MinTickets, o.MaxTickets)
	}
	if o.TicketRequestCount > o.MaxTickets {
		return invalid("TicketRequestCount %d exceeds MaxTickets %d", o.TicketRequestCount, o.MaxTickets)
	}

	if o.Provider == nil {
		o.Provider = provider.Default()
	}
	if o.LogBackend == nil {
		o.LogBackend = log.NewDiscard()
	}
	return nil
}
