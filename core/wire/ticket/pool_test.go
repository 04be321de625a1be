// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ticket

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestPool(max int) (*Pool, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	p := New(provider.Default(), max, 30*time.Second)
	p.now = clk.now
	return p, clk
}

func ids(n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, []byte(fmt.Sprintf("ticket-%02d", i)))
	}
	return out
}

func TestSingleUse(t *testing.T) {
	require := require.New(t)
	p, _ := newTestPool(0)
	master := make([]byte, 48)

	p.SaveTickets(ids(5), time.Hour, master)
	require.Equal(5, p.Count())

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		tkt, err := p.UseTicket()
		require.NoError(err)
		require.False(seen[string(tkt.ID)], "ticket %s returned twice", tkt.ID)
		seen[string(tkt.ID)] = true
		require.Equal(DeriveSecret(provider.Default(), master, tkt.ID), tkt.Secret)
	}

	_, err := p.UseTicket()
	require.ErrorIs(err, failure.TicketsCountIsEqualZero)
	require.True(failure.ShouldTriggerRepair(err))
}

func TestNewestFirstAndBound(t *testing.T) {
	require := require.New(t)
	p, _ := newTestPool(3)

	p.SaveTickets(ids(5), time.Hour, make([]byte, 48))
	require.Equal(3, p.Count())

	tkt, err := p.UseTicket()
	require.NoError(err)
	require.Equal([]byte("ticket-04"), tkt.ID)

	// ticket-00 and ticket-01 were evicted.
	_, err = p.UseTicket()
	require.NoError(err)
	tkt, err = p.UseTicket()
	require.NoError(err)
	require.Equal([]byte("ticket-02"), tkt.ID)
}

func TestExpiry(t *testing.T) {
	require := require.New(t)
	p, clk := newTestPool(0)

	p.SaveTickets(ids(2), time.Minute, make([]byte, 48))
	clk.t = clk.t.Add(2 * time.Minute)
	require.Zero(p.Count())
	_, err := p.UseTicket()
	require.ErrorIs(err, failure.TicketsCountIsEqualZero)
}

func TestShouldAskForNewTickets(t *testing.T) {
	require := require.New(t)
	p, clk := newTestPool(0)

	require.True(p.ShouldAskForNewTickets(1))

	p.SaveTickets(ids(4), 10*time.Minute, make([]byte, 48))
	require.False(p.ShouldAskForNewTickets(3))
	require.True(p.ShouldAskForNewTickets(5))

	// Within the ttl margin of the newest ticket.
	clk.t = clk.t.Add(10*time.Minute - 10*time.Second)
	require.Equal(4, p.Count())
	require.True(p.ShouldAskForNewTickets(1))

	p.Clear()
	require.Zero(p.Count())
}

func TestDeriveSecretDistinct(t *testing.T) {
	p := provider.Default()
	master := []byte("master secret of some handshake")
	a := DeriveSecret(p, master, []byte("a"))
	b := DeriveSecret(p, master, []byte("b"))
	require.Len(t, a, SecretSize)
	require.NotEqual(t, a, b)
}
