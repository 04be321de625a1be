// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package rpc implements the call endpoint: it turns method calls into
// encrypted request records, performs the ticket handshake that opens each
// batch, and correlates responses with their callers by request id.
package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/log"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/record"
	"github.com/cipherlane/transport/core/wire/ticket"
)

// DefaultMinTickets is the pool size below which a batch also requests
// tickets.
const DefaultMinTickets = 5

// State is the ticket handshake state of an Endpoint.
type State int

const (
	// Idle means no ticket handshake is held by anyone.
	Idle State = iota

	// HandshakeInFlight means a ticket request was sent and the gate is
	// held until its ticket_response is processed.
	HandshakeInFlight

	// Armed means the current batch performed its ticket handshake and the
	// gate was released.
	Armed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HandshakeInFlight:
		return "handshake_in_flight"
	case Armed:
		return "armed"
	default:
		return "invalid"
	}
}

// Config is the Endpoint configuration.
type Config struct {
	Layer  *record.Layer
	Engine *handshake.Engine
	Pool   *ticket.Pool

	// Log is optional.
	Log *logging.Logger

	// MinTickets defaults to DefaultMinTickets.
	MinTickets int

	// TicketRequestCount is the number of tickets asked for when the pool
	// runs low; 0 selects the engine default.
	TicketRequestCount int
}

// Endpoint is the call endpoint.  It installs itself as the handler of its
// record.Layer.
type Endpoint struct {
	log    *logging.Logger
	layer  *record.Layer
	engine *handshake.Engine
	pool   *ticket.Pool

	minTickets   int
	requestCount int

	// gate serializes ticket handshakes.  It is a channel so that it can
	// be released from the ticket_response callback.
	gate      chan struct{}
	stateMu   sync.Mutex
	state     State
	batchOpen bool

	pendingMu sync.Mutex
	pending   map[uint64]*Future
	nextID    uint64
}

// New creates an Endpoint.
func New(cfg *Config) *Endpoint {
	e := &Endpoint{
		log:          cfg.Log,
		layer:        cfg.Layer,
		engine:       cfg.Engine,
		pool:         cfg.Pool,
		minTickets:   cfg.MinTickets,
		requestCount: cfg.TicketRequestCount,
		gate:         make(chan struct{}, 1),
		pending:      make(map[uint64]*Future),
	}
	if e.log == nil {
		e.log = log.NewDiscard().GetLogger("rpc")
	}
	if e.minTickets <= 0 {
		e.minTickets = DefaultMinTickets
	}
	e.layer.SetHandler(e)
	e.engine.OnTicketResponse(e.onTicketResponse)
	return e
}

// State returns the ticket handshake state.
func (e *Endpoint) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Call queues a request for method.  Unless forcePlain is set the first
// call of a batch performs the ticket handshake, and the request is
// encrypted.  Plaintext calls reset the cipher state and must be alone in
// their batch.
func (e *Endpoint) Call(ctx context.Context, method string, params interface{}, forcePlain bool) (*Future, error) {
	if forcePlain {
		if err := e.disarm(); err != nil {
			return nil, err
		}
	} else if err := e.arm(ctx); err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&e.nextID, 1)
	b, err := EncodeJSON(&Request{JSONRPC: Version, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, failure.InvalidParams.Wrap(err)
	}

	f := newFuture(id)
	e.pendingMu.Lock()
	e.pending[id] = f
	e.pendingMu.Unlock()

	if err = e.layer.Send(b, record.ApplicationData, forcePlain); err != nil {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
		return nil, err
	}
	e.log.Debugf("Queued %s (id %d).", method, id)
	return f, nil
}

func (e *Endpoint) disarm() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.batchOpen || e.state == HandshakeInFlight {
		return failure.InvalidHandshakeState.WithMessage("plaintext call in %s batch", e.state)
	}
	e.engine.Reset(true)
	return nil
}

func (e *Endpoint) arm(ctx context.Context) error {
	e.stateMu.Lock()
	open := e.batchOpen
	e.stateMu.Unlock()
	if open {
		return nil
	}

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.batchOpen {
		<-e.gate
		return nil
	}

	e.engine.Reset(true)
	if err := e.engine.TicketHandshake(); err != nil {
		e.layer.TakeOutput()
		<-e.gate
		return err
	}
	e.batchOpen = true

	if e.pool.ShouldAskForNewTickets(e.minTickets) {
		if err := e.engine.TicketRequest(e.requestCount); err != nil {
			e.layer.TakeOutput()
			e.batchOpen = false
			<-e.gate
			return err
		}
		e.state = HandshakeInFlight
		e.log.Debugf("Ticket handshake with ticket request, %d tickets left.", e.pool.Count())
		return nil
	}

	e.state = Armed
	<-e.gate
	return nil
}

// RequestTickets opens a batch that only performs a ticket handshake and
// asks for n tickets.  The gate is held until the ticket_response arrives or
// FailAll is called.
func (e *Endpoint) RequestTickets(ctx context.Context, n int) error {
	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.batchOpen {
		<-e.gate
		return failure.InvalidHandshakeState.WithMessage("ticket refresh in %s batch", e.state)
	}
	e.engine.Reset(true)
	err := e.engine.TicketHandshake()
	if err == nil {
		err = e.engine.TicketRequest(n)
	}
	if err != nil {
		e.layer.TakeOutput()
		<-e.gate
		return err
	}
	e.batchOpen = true
	e.state = HandshakeInFlight
	return nil
}

func (e *Endpoint) onTicketResponse() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state == HandshakeInFlight {
		e.state = Idle
		<-e.gate
	}
}

// Flush returns the outbound bytes of the current batch and closes it.
func (e *Endpoint) Flush() []byte {
	e.stateMu.Lock()
	e.batchOpen = false
	if e.state == Armed {
		e.state = Idle
	}
	e.stateMu.Unlock()

	return e.layer.TakeOutput()
}

// Process feeds a reply to the record layer.
func (e *Endpoint) Process(input []byte) error {
	return e.layer.Process(input)
}

// OnApplicationData implements record.Handler.
func (e *Endpoint) OnApplicationData(payload []byte) error {
	return e.Invoke(payload)
}

// OnHandshake implements record.Handler.
func (e *Endpoint) OnHandshake(payload []byte) error {
	return e.engine.ProcessPacket(payload)
}

// Invoke settles the future matching a decoded response.
func (e *Endpoint) Invoke(payload []byte) error {
	var resp Response
	if err := DecodeJSON(payload, &resp); err != nil {
		return failure.MalformedResult.Wrap(err)
	}

	e.pendingMu.Lock()
	f, ok := e.pending[resp.ID]
	delete(e.pending, resp.ID)
	e.pendingMu.Unlock()

	if !ok {
		e.log.Warningf("Dropping response for unknown id %d.", resp.ID)
		return nil
	}
	if resp.Error != nil {
		f.complete(nil, failure.RPCError.WithMessage("%d: %s", resp.Error.Code, resp.Error.Message).WithData(resp.Error))
		return nil
	}
	f.complete(resp.Result, nil)
	return nil
}

// FailAll fails every pending call with err and returns the endpoint to
// Idle, releasing the gate if a ticket request was in flight.
func (e *Endpoint) FailAll(err error) {
	e.stateMu.Lock()
	if e.state == HandshakeInFlight {
		<-e.gate
	}
	e.state = Idle
	e.batchOpen = false
	e.stateMu.Unlock()

	e.pendingMu.Lock()
	pending := e.pending
	e.pending = make(map[uint64]*Future)
	e.pendingMu.Unlock()

	for _, f := range pending {
		f.complete(nil, err)
	}
}

// PendingCount returns the number of unsettled calls.
func (e *Endpoint) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}
