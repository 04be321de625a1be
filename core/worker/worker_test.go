// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	require := require.New(t)

	var w Worker
	var iterations int32

	w.Go(func() {
		for w.Sleep(time.Millisecond) {
			atomic.AddInt32(&iterations, 1)
		}
	})
	require.Eventually(func() bool { return atomic.LoadInt32(&iterations) > 0 }, time.Second, time.Millisecond)
	require.False(w.Halted())

	w.Halt()
	w.Halt()

	require.True(w.Halted())
	require.Error(w.Context().Err())
	require.False(w.Sleep(time.Hour))
	select {
	case <-w.HaltCh():
	default:
		t.Fatal("halt channel not closed")
	}

	// Nothing starts after Halt.
	var late int32
	w.Go(func() { atomic.StoreInt32(&late, 1) })
	w.Halt()
	require.Zero(atomic.LoadInt32(&late))
}
