// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package rpc

import (
	"context"
	"sync"

	"github.com/cipherlane/transport/core/failure"
)

// Future is the eventual outcome of a call.
type Future struct {
	id   uint64
	once sync.Once
	done chan struct{}

	result interface{}
	err    error
}

func newFuture(id uint64) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the request id.
func (f *Future) ID() uint64 {
	return f.id
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready returns true iff the future settled.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the result and decodes it into out.
func (f *Future) Decode(ctx context.Context, out interface{}) error {
	res, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	b, err := EncodeJSON(res)
	if err != nil {
		return failure.MalformedResult.Wrap(err)
	}
	if err = DecodeJSON(b, out); err != nil {
		return failure.MalformedResult.Wrap(err)
	}
	return nil
}

// complete settles the future.  Only the first call has an effect.
func (f *Future) complete(result interface{}, err error) {
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
	})
}
