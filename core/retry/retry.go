// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package retry provides the backoff policy used by the background ticket
// refresh loop and the connection repair logic.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/cipherlane/transport/core/failure"
)

const (
	// DefaultBaseDelay is the delay after the first failed iteration of a
	// background loop.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the backoff.
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitter is the default jitter factor (0.0 to 1.0).
	DefaultJitter = 0.2
)

// Backoff is an exponential backoff policy.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64

	attempt int
}

// NewBackoff returns a Backoff with the default parameters.
func NewBackoff() *Backoff {
	return &Backoff{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Jitter:    DefaultJitter,
	}
}

// Next returns the delay to wait before the next attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	d := Delay(b.BaseDelay, b.MaxDelay, b.Jitter, b.attempt)
	b.attempt++
	return d
}

// Reset rearms the backoff after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts returns the number of consecutive failed attempts.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Delay calculates the delay for a given retry attempt using exponential
// backoff with jitter.
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if jitter > 0 {
		r := rand.NewMath()
		delay *= 1 - jitter + r.Float64()*2*jitter
	}

	return time.Duration(delay)
}

// transientMarkers match the text of dial and socket errors that do not
// surface as net.Error.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no route to host",
	"network is unreachable",
	"unexpected eof",
}

// IsTransientError returns true if err is worth retrying as is.  Transport
// errors and timeouts are; protocol failures are not, since the session has
// to be repaired before another attempt can succeed.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Scope == failure.ScopeNet
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
