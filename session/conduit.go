// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/record"
	"github.com/cipherlane/transport/core/wire/rpc"
)

// conduit is the record layer, handshake engine and call endpoint a batch
// runs on.  Conduits share nothing but the ticket pool, so batches on
// distinct conduits can be in flight at the same time.
type conduit struct {
	layer    *record.Layer
	engine   *handshake.Engine
	endpoint *rpc.Endpoint
}

func (m *Manager) newConduit() (*conduit, error) {
	o := &m.opts
	layer := record.New(o.Provider, record.Client, nil)
	engine, err := handshake.New(&handshake.Config{
		Provider:           o.Provider,
		Layer:              layer,
		Pool:               m.pool,
		Log:                m.handshakeLog,
		Host:               o.Host,
		Agent:              o.Agent,
		TicketRequestCount: o.TicketRequestCount,
		RestorableSession:  o.RestorableSession,
	})
	if err != nil {
		return nil, err
	}
	endpoint := rpc.New(&rpc.Config{
		Layer:              layer,
		Engine:             engine,
		Pool:               m.pool,
		Log:                m.rpcLog,
		MinTickets:         o.MinTickets,
		TicketRequestCount: o.TicketRequestCount,
	})
	return &conduit{layer: layer, engine: engine, endpoint: endpoint}, nil
}

// track registers c as in flight until the returned func is called, so that
// Destroy can fail its calls.
func (m *Manager) track(c *conduit) func() {
	m.activeMu.Lock()
	m.active[c] = struct{}{}
	m.activeMu.Unlock()

	return func() {
		m.activeMu.Lock()
		delete(m.active, c)
		m.activeMu.Unlock()
	}
}

func (m *Manager) failActive(err error) {
	m.activeMu.Lock()
	active := make([]*conduit, 0, len(m.active))
	for c := range m.active {
		active = append(active, c)
	}
	m.activeMu.Unlock()

	for _, c := range active {
		c.endpoint.FailAll(err)
	}
}
