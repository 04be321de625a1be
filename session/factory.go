// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"sync"

	"github.com/cipherlane/transport/core/wire/channel"
)

// ChannelFunc builds the channel for a host.  It receives the validated
// options of the Manager being created.
type ChannelFunc func(opts *Options) (channel.Channel, error)

// Factory hands out one Manager per host.
type Factory struct {
	sync.Mutex

	base       Options
	newChannel ChannelFunc
	managers   map[string]*Manager
}

// NewFactory creates a Factory.  base is copied for every host, with Host
// replaced and URL derived again unless it is set.  A nil fn selects the
// channel the options describe.
func NewFactory(base *Options, fn ChannelFunc) *Factory {
	return &Factory{
		base:       *base,
		newChannel: fn,
		managers:   make(map[string]*Manager),
	}
}

// Get returns the live Manager of host, creating it if needed.
func (f *Factory) Get(host string) (*Manager, error) {
	key, err := ValidateHost(host)
	if err != nil {
		return nil, err
	}

	f.Lock()
	defer f.Unlock()

	if m, ok := f.managers[key]; ok && !m.isDestroyed() {
		return m, nil
	}

	opts := f.base
	opts.Host = key
	if err = opts.FixupAndValidate(); err != nil {
		return nil, err
	}
	var ch channel.Channel
	if f.newChannel != nil {
		if ch, err = f.newChannel(&opts); err != nil {
			return nil, err
		}
	}
	m, err := New(&opts, ch)
	if err != nil {
		return nil, err
	}
	f.managers[key] = m
	return m, nil
}

// Remove destroys and forgets the Manager of host.
func (f *Factory) Remove(host string) bool {
	key, err := ValidateHost(host)
	if err != nil {
		return false
	}

	f.Lock()
	m, ok := f.managers[key]
	delete(f.managers, key)
	f.Unlock()

	if ok {
		m.Destroy()
	}
	return ok
}

// Len returns the number of registered Managers.
func (f *Factory) Len() int {
	f.Lock()
	defer f.Unlock()
	return len(f.managers)
}

// Close destroys every Manager.
func (f *Factory) Close() {
	f.Lock()
	managers := f.managers
	f.managers = make(map[string]*Manager)
	f.Unlock()

	for _, m := range managers {
		m.Destroy()
	}
}
