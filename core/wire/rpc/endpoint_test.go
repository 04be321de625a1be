// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/record"
	"github.com/cipherlane/transport/core/wire/rpc"
	"github.com/cipherlane/transport/core/wire/ticket"
	"github.com/cipherlane/transport/internal/wiretest"
)

type harness struct {
	srv  *wiretest.Server
	pool *ticket.Pool
	ep   *rpc.Endpoint
}

func newHarness(t *testing.T, minTickets int) *harness {
	require := require.New(t)

	p := provider.Default()
	h := &harness{srv: wiretest.NewServer(), pool: ticket.New(p, 0, 0)}
	layer := record.New(p, record.Client, nil)
	engine, err := handshake.New(&handshake.Config{Provider: p, Layer: layer, Pool: h.pool})
	require.NoError(err)
	h.ep = rpc.New(&rpc.Config{Layer: layer, Engine: engine, Pool: h.pool, MinTickets: minTickets})

	require.NoError(engine.ECDHE(nil, ""))
	require.NoError(h.exchange())
	require.NoError(h.exchange())
	require.True(engine.Done())
	require.NoError(engine.Err())
	return h
}

func (h *harness) exchange() error {
	reply, err := h.srv.Exchange(h.ep.Flush())
	if err != nil {
		return err
	}
	return h.ep.Process(reply)
}

func TestCall(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, 0)
	before := h.pool.Count()

	f1, err := h.ep.Call(ctx, "ping", nil, false)
	require.NoError(err)
	require.Equal(rpc.Armed, h.ep.State())
	f2, err := h.ep.Call(ctx, "ping", []interface{}{1}, false)
	require.NoError(err)
	require.NotEqual(f1.ID(), f2.ID())
	require.Equal(2, h.ep.PendingCount())

	require.NoError(h.exchange())
	require.Equal(rpc.Idle, h.ep.State())
	require.True(f1.Ready())

	res, err := f1.Wait(ctx)
	require.NoError(err)
	require.Equal("pong", res)
	var s string
	require.NoError(f2.Decode(ctx, &s))
	require.Equal("pong", s)

	// Both calls shared one ticket.
	require.Equal(before-1, h.pool.Count())
	require.Equal(1, h.srv.Stats().TicketHandshakes)
	require.Equal(0, h.ep.PendingCount())
}

func TestCallRequestsTicketsWhenLow(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, handshake.DefaultTicketRequestCount+1)
	before := h.pool.Count()

	f, err := h.ep.Call(ctx, "ping", nil, false)
	require.NoError(err)
	require.Equal(rpc.HandshakeInFlight, h.ep.State())

	batch := h.ep.Flush()
	require.Equal(rpc.HandshakeInFlight, h.ep.State())

	// The next batch waits until the tickets arrive.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = h.ep.Call(short, "ping", nil, false)
	cancel()
	require.ErrorIs(err, context.DeadlineExceeded)

	reply, err := h.srv.Exchange(batch)
	require.NoError(err)
	require.NoError(h.ep.Process(reply))
	require.Equal(rpc.Idle, h.ep.State())

	res, err := f.Wait(ctx)
	require.NoError(err)
	require.Equal("pong", res)
	require.Equal(before-1+handshake.DefaultTicketRequestCount, h.pool.Count())

	_, err = h.ep.Call(ctx, "ping", nil, false)
	require.NoError(err)
	require.NoError(h.exchange())
}

func TestCallErrors(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, 0)
	h.srv.Handle("fail", func(interface{}) (interface{}, error) {
		return nil, &wiretest.Error{Code: 42, Message: "nope", Data: "detail"}
	})

	f1, err := h.ep.Call(ctx, "fail", nil, false)
	require.NoError(err)
	f2, err := h.ep.Call(ctx, "missing", nil, false)
	require.NoError(err)
	require.NoError(h.exchange())

	_, err = f1.Wait(ctx)
	require.ErrorIs(err, failure.RPCError)
	var rerr *failure.Error
	require.ErrorAs(err, &rerr)
	data, ok := rerr.Data.(*rpc.ResponseError)
	require.True(ok)
	require.Equal(int64(42), data.Code)
	require.Equal("detail", data.Data)

	_, err = f2.Wait(ctx)
	require.ErrorIs(err, failure.RPCError)
	require.Contains(err.Error(), "-32601")
}

func TestPlainCall(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, 0)
	before := h.pool.Count()

	f, err := h.ep.Call(ctx, "ping", nil, true)
	require.NoError(err)
	require.NoError(h.exchange())
	res, err := f.Wait(ctx)
	require.NoError(err)
	require.Equal("pong", res)
	require.Equal(before, h.pool.Count())

	// A plaintext call cannot join an encrypted batch.
	_, err = h.ep.Call(ctx, "ping", nil, false)
	require.NoError(err)
	_, err = h.ep.Call(ctx, "ping", nil, true)
	require.ErrorIs(err, failure.InvalidHandshakeState)
	require.NoError(h.exchange())
}

func TestFailAll(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, handshake.DefaultTicketRequestCount+1)
	f, err := h.ep.Call(ctx, "ping", nil, false)
	require.NoError(err)
	require.Equal(rpc.HandshakeInFlight, h.ep.State())
	h.ep.Flush()

	h.ep.FailAll(failure.NoResponse)
	_, err = f.Wait(ctx)
	require.ErrorIs(err, failure.NoResponse)
	require.Equal(0, h.ep.PendingCount())
	require.Equal(rpc.Idle, h.ep.State())

	// The gate was released.
	_, err = h.ep.Call(ctx, "ping", nil, false)
	require.NoError(err)
}

func TestEmptyPool(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, 0)
	h.pool.Clear()

	_, err := h.ep.Call(ctx, "ping", nil, false)
	require.ErrorIs(err, failure.TicketsCountIsEqualZero)
	require.True(failure.ShouldTriggerRepair(err))
	require.Equal(rpc.Idle, h.ep.State())
	require.Empty(h.ep.Flush())

	f, err := h.ep.Call(ctx, "ping", nil, true)
	require.NoError(err)
	require.NoError(h.exchange())
	_, err = f.Wait(ctx)
	require.NoError(err)
}

func TestInvokeUnknownID(t *testing.T) {
	h := newHarness(t, 0)
	b, err := rpc.EncodeJSON(&rpc.Response{ID: 999, Result: "late"})
	require.NoError(t, err)
	require.NoError(t, h.ep.Invoke(b))
	require.ErrorIs(t, h.ep.Invoke([]byte("{")), failure.MalformedResult)
}

func TestRequestTickets(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	h := newHarness(t, 0)
	before := h.pool.Count()

	require.NoError(h.ep.RequestTickets(ctx, 7))
	require.Equal(rpc.HandshakeInFlight, h.ep.State())
	require.NoError(h.exchange())
	require.Equal(rpc.Idle, h.ep.State())
	require.Equal(before-1+7, h.pool.Count())

	h.pool.Clear()
	require.ErrorIs(h.ep.RequestTickets(ctx, 7), failure.TicketsCountIsEqualZero)
	require.Equal(rpc.Idle, h.ep.State())
}
