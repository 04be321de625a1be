// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel, 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the client transport configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cipherlane/transport/core/log"
	"github.com/cipherlane/transport/core/wire/channel"
	"github.com/cipherlane/transport/session"
)

const defaultLogLevel = "NOTICE"

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string

	// Modules overrides Level per module, e.g. handshake = "DEBUG".
	Modules map[string]string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch {
	case lvl == "":
		lvl = defaultLogLevel
	case !log.ValidLevel(lvl):
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.

	for module, l := range lCfg.Modules {
		if !log.ValidLevel(l) {
			return fmt.Errorf("config: Logging: Modules: '%v' level '%v' is invalid", module, l)
		}
	}
	return nil
}

// Connection is the server connection configuration.
type Connection struct {
	// Host is the server host name, optionally with a port.
	Host string

	// URL overrides the endpoint derived from Host.
	URL string

	// Channel is either "ajax" (the default) or "websocket".
	Channel string

	// Agent overrides the agent string sent on login.
	Agent string

	// RequestTimeout is the per batch timeout in milliseconds.
	RequestTimeout int

	// RestorableSession makes password and key logins restorable.
	RestorableSession bool
}

func (cCfg *Connection) validate() error {
	host, err := session.ValidateHost(cCfg.Host)
	if err != nil {
		return fmt.Errorf("config: Connection: Host '%v' is invalid: %w", cCfg.Host, err)
	}
	cCfg.Host = host

	switch channel.Kind(strings.ToLower(cCfg.Channel)) {
	case "", channel.AJAX:
		cCfg.Channel = string(channel.AJAX)
	case channel.WebSocketKind:
		cCfg.Channel = string(channel.WebSocketKind)
	default:
		return fmt.Errorf("config: Connection: Channel '%v' is invalid", cCfg.Channel)
	}
	if cCfg.RequestTimeout < 0 {
		return errors.New("config: Connection: RequestTimeout is negative")
	}
	return nil
}

// Tickets is the ticket pool configuration.  Zero values select the
// defaults.
type Tickets struct {
	// MinCount is the pool size below which more tickets are requested.
	MinCount int

	// RequestCount is the number of tickets asked for at a time.
	RequestCount int

	// MaxCount bounds the pool, evicting the oldest tickets.
	MaxCount int

	// RefreshIntervalSec is the period of the background refresh.
	RefreshIntervalSec int

	// TTLMarginSec is how long before expiry a ticket counts as stale.
	TTLMarginSec int
}

func (tCfg *Tickets) validate() error {
	for name, v := range map[string]int{
		"MinCount":           tCfg.MinCount,
		"RequestCount":       tCfg.RequestCount,
		"MaxCount":           tCfg.MaxCount,
		"RefreshIntervalSec": tCfg.RefreshIntervalSec,
		"TTLMarginSec":       tCfg.TTLMarginSec,
	} {
		if v < 0 {
			return fmt.Errorf("config: Tickets: %v is negative", name)
		}
	}
	return nil
}

// WebSocket is the WebSocket channel configuration.
type WebSocket struct {
	// PingIntervalSec is the keep-alive period, a negative value disables
	// keep-alives.
	PingIntervalSec int

	// PingTimeoutSec is how long a pong may take.
	PingTimeoutSec int

	// ReconnectPerMinute bounds the reconnect attempts.
	ReconnectPerMinute int
}

func (wCfg *WebSocket) validate() error {
	if wCfg.PingTimeoutSec < 0 {
		return errors.New("config: WebSocket: PingTimeoutSec is negative")
	}
	if wCfg.ReconnectPerMinute < 0 {
		return errors.New("config: WebSocket: ReconnectPerMinute is negative")
	}
	return nil
}

// Config is the top level client transport configuration.
type Config struct {
	Logging    *Logging
	Connection *Connection
	Tickets    *Tickets
	WebSocket  *WebSocket
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (cfg *Config) options() *session.Options {
	return &session.Options{
		Host:               cfg.Connection.Host,
		URL:                cfg.Connection.URL,
		Channel:            channel.Kind(cfg.Connection.Channel),
		Agent:              cfg.Connection.Agent,
		RequestTimeout:     time.Duration(cfg.Connection.RequestTimeout) * time.Millisecond,
		RestorableSession:  cfg.Connection.RestorableSession,
		MinTickets:         cfg.Tickets.MinCount,
		TicketRequestCount: cfg.Tickets.RequestCount,
		MaxTickets:         cfg.Tickets.MaxCount,
		TTLMargin:          secs(cfg.Tickets.TTLMarginSec),
		RefreshInterval:    secs(cfg.Tickets.RefreshIntervalSec),
		PingInterval:       secs(cfg.WebSocket.PingIntervalSec),
		PingTimeout:        secs(cfg.WebSocket.PingTimeoutSec),
		ReconnectPerMinute: cfg.WebSocket.ReconnectPerMinute,
	}
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Connection section is mandatory, everything else is optional.
	if cfg.Connection == nil {
		return errors.New("config: No Connection block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Tickets == nil {
		cfg.Tickets = &Tickets{}
	}
	if cfg.WebSocket == nil {
		cfg.WebSocket = &WebSocket{}
	}

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Connection.validate(); err != nil {
		return err
	}
	if err := cfg.Tickets.validate(); err != nil {
		return err
	}
	if err := cfg.WebSocket.validate(); err != nil {
		return err
	}

	// The cross field checks live with the options.
	if err := cfg.options().FixupAndValidate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SessionOptions returns the session.Options the configuration describes,
// with a logging backend built from the Logging section.
func (cfg *Config) SessionOptions() (*session.Options, error) {
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	for module, lvl := range cfg.Logging.Modules {
		if err = backend.SetModuleLevel(module, lvl); err != nil {
			return nil, err
		}
	}
	opts := cfg.options()
	opts.LogBackend = backend
	if err = opts.FixupAndValidate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
