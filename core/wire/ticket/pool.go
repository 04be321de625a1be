// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package ticket implements the session ticket pool.
package ticket

import (
	"sync"
	"time"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/utils"
	"github.com/cipherlane/transport/internal/instrument"
)

const (
	// SecretSize is the size of a ticket's resumption secret.
	SecretSize = 48

	// DefaultMaxTickets bounds the pool size.
	DefaultMaxTickets = 50

	// DefaultTTLMargin is how close to expiry the newest ticket may get
	// before a refresh is requested.
	DefaultTTLMargin = 60 * time.Second

	label = "ticket"
)

// Ticket is a single use resumption credential.
type Ticket struct {
	ID      []byte
	Secret  []byte
	Created time.Time
	Expires time.Time
}

func (t *Ticket) zero() {
	utils.ExplicitBzero(t.Secret)
}

// DeriveSecret derives the resumption secret of ticket id from the master
// secret of the handshake that issued it.
func DeriveSecret(p provider.Provider, masterSecret, id []byte) []byte {
	seed := make([]byte, 0, len(label)+len(id))
	seed = append(seed, label...)
	seed = append(seed, id...)
	return p.PRF(masterSecret, seed, SecretSize)
}

// Pool is a bounded set of tickets ordered by issue time.
type Pool struct {
	sync.Mutex

	provider  provider.Provider
	tickets   []*Ticket
	max       int
	ttlMargin time.Duration

	now func() time.Time
}

// New creates an empty pool.  A non-positive max selects DefaultMaxTickets,
// a negative ttlMargin selects DefaultTTLMargin.
func New(p provider.Provider, max int, ttlMargin time.Duration) *Pool {
	if max <= 0 {
		max = DefaultMaxTickets
	}
	if ttlMargin < 0 {
		ttlMargin = DefaultTTLMargin
	}
	return &Pool{
		provider:  p,
		max:       max,
		ttlMargin: ttlMargin,
		now:       time.Now,
	}
}

// SaveTickets stores the tickets ids issued by the peer.  Each ticket's
// secret is derived from masterSecret and its id; when the pool overflows
// the oldest tickets are dropped.
func (p *Pool) SaveTickets(ids [][]byte, ttl time.Duration, masterSecret []byte) {
	p.Lock()
	defer p.Unlock()

	now := p.now()
	for _, id := range ids {
		p.tickets = append(p.tickets, &Ticket{
			ID:      append([]byte(nil), id...),
			Secret:  DeriveSecret(p.provider, masterSecret, id),
			Created: now,
			Expires: now.Add(ttl),
		})
	}
	if n := len(p.tickets) - p.max; n > 0 {
		for _, t := range p.tickets[:n] {
			t.zero()
		}
		p.tickets = append([]*Ticket(nil), p.tickets[n:]...)
	}
	instrument.TicketsAvailable(len(p.tickets))
}

// UseTicket removes and returns the newest unexpired ticket.
func (p *Pool) UseTicket() (*Ticket, error) {
	p.Lock()
	defer p.Unlock()

	p.pruneExpired()
	n := len(p.tickets)
	if n == 0 {
		instrument.TicketsAvailable(0)
		return nil, failure.TicketsCountIsEqualZero
	}
	t := p.tickets[n-1]
	p.tickets[n-1] = nil
	p.tickets = p.tickets[:n-1]

	instrument.TicketUsed()
	instrument.TicketsAvailable(len(p.tickets))
	return t, nil
}

// ShouldAskForNewTickets returns true when fewer than minCount tickets
// remain or the newest ticket expires within the ttl margin.
func (p *Pool) ShouldAskForNewTickets(minCount int) bool {
	p.Lock()
	defer p.Unlock()

	p.pruneExpired()
	n := len(p.tickets)
	if n < minCount || n == 0 {
		return true
	}
	return !p.tickets[n-1].Expires.After(p.now().Add(p.ttlMargin))
}

// Count returns the number of unexpired tickets.
func (p *Pool) Count() int {
	p.Lock()
	defer p.Unlock()

	p.pruneExpired()
	return len(p.tickets)
}

// Clear drops every ticket.
func (p *Pool) Clear() {
	p.Lock()
	defer p.Unlock()

	for _, t := range p.tickets {
		t.zero()
	}
	p.tickets = nil
	instrument.TicketsAvailable(0)
}

func (p *Pool) pruneExpired() {
	now := p.now()
	kept := p.tickets[:0]
	for _, t := range p.tickets {
		if now.Before(t.Expires) {
			kept = append(kept, t)
		} else {
			t.zero()
		}
	}
	for i := len(kept); i < len(p.tickets); i++ {
		p.tickets[i] = nil
	}
	p.tickets = kept
}
