// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherlane/transport/core/failure"
)

func TestDelay(t *testing.T) {
	require := require.New(t)

	baseDelay := 100 * time.Millisecond
	maxDelay := 1 * time.Second

	t.Run("exponential growth", func(t *testing.T) {
		require.Equal(100*time.Millisecond, Delay(baseDelay, maxDelay, 0, 0))
		require.Equal(200*time.Millisecond, Delay(baseDelay, maxDelay, 0, 1))
		require.Equal(800*time.Millisecond, Delay(baseDelay, maxDelay, 0, 3))
	})

	t.Run("max delay cap", func(t *testing.T) {
		require.Equal(maxDelay, Delay(baseDelay, maxDelay, 0, 10))
	})

	t.Run("jitter range", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			d := Delay(baseDelay, maxDelay, 0.2, 0)
			require.GreaterOrEqual(d, 80*time.Millisecond)
			require.LessOrEqual(d, 120*time.Millisecond)
		}
	})
}

func TestBackoff(t *testing.T) {
	require := require.New(t)

	b := &Backoff{BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	require.Equal(time.Second, b.Next())
	require.Equal(2*time.Second, b.Next())
	require.Equal(4*time.Second, b.Next())
	require.Equal(4*time.Second, b.Next())
	require.Equal(4, b.Attempts())

	b.Reset()
	require.Equal(0, b.Attempts())
	require.Equal(time.Second, b.Next())
}

func TestIsTransientError(t *testing.T) {
	require := require.New(t)

	require.False(IsTransientError(nil))
	require.True(IsTransientError(errors.New("dial tcp 127.0.0.1:8080: connect: connection refused")))
	require.True(IsTransientError(fmt.Errorf("send: %w", errors.New("read: connection reset by peer"))))
	require.True(IsTransientError(context.DeadlineExceeded))

	require.True(IsTransientError(failure.NoResponse))
	require.True(IsTransientError(failure.NotConnected.Wrap(errors.New("tls: handshake failure"))))
	require.True(IsTransientError(fmt.Errorf("refresh: %w", failure.WebSocketDisconnected)))
	require.False(IsTransientError(failure.FrameMacMismatch))
	require.False(IsTransientError(failure.InvalidTicketAlert))
	require.False(IsTransientError(failure.Destroyed))
}

func TestNewBackoff(t *testing.T) {
	b := NewBackoff()
	d := b.Next()
	require.GreaterOrEqual(t, d, time.Duration(float64(DefaultBaseDelay)*(1-DefaultJitter)))
	require.LessOrEqual(t, d, time.Duration(float64(DefaultBaseDelay)*(1+DefaultJitter)))
	require.Equal(t, 1, b.Attempts())
}
