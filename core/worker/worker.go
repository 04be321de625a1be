// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel, 2026 The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package worker provides supervised background worker tasks.
package worker

import (
	"context"
	"sync"
	"time"
)

// Worker is a set of background go routines sharing one lifetime.  The zero
// value is ready to use; Halt ends the lifetime.
type Worker struct {
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

func (w *Worker) lazyInit() {
	w.once.Do(func() {
		w.ctx, w.cancel = context.WithCancel(context.Background())
	})
}

// Go runs fn in a new go routine tracked by the Worker.  fn must return
// once HaltCh is closed.  Go after Halt does not start fn.
func (w *Worker) Go(fn func()) {
	w.lazyInit()
	if w.ctx.Err() != nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt cancels the Worker and waits for every go routine it started.  It is
// safe to call Halt more than once, but not from one of those go routines.
func (w *Worker) Halt() {
	w.lazyInit()
	w.cancel()
	w.wg.Wait()
}

// HaltCh returns a channel that is closed by Halt.
func (w *Worker) HaltCh() <-chan struct{} {
	w.lazyInit()
	return w.ctx.Done()
}

// Halted returns true once Halt has been called.
func (w *Worker) Halted() bool {
	w.lazyInit()
	return w.ctx.Err() != nil
}

// Context returns a context that is canceled by Halt.
func (w *Worker) Context() context.Context {
	w.lazyInit()
	return w.ctx
}

// Sleep blocks for d, returning false iff the Worker was halted first.
func (w *Worker) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.HaltCh():
		return false
	case <-t.C:
		return true
	}
}
