// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"sort"
	"sync"

	"github.com/cipherlane/transport/core/wire/handshake"
)

// ListenerID identifies a listener registered with a Dispatcher.
type ListenerID uint64

// Dispatcher is a multi subscriber callback registry.  Listeners run on the
// dispatching goroutine, in registration order, without any lock held.
type Dispatcher[T any] struct {
	sync.Mutex

	next      ListenerID
	listeners map[ListenerID]func(T)
}

// Add registers fn.
func (d *Dispatcher[T]) Add(fn func(T)) ListenerID {
	d.Lock()
	defer d.Unlock()
	if d.listeners == nil {
		d.listeners = make(map[ListenerID]func(T))
	}
	d.next++
	d.listeners[d.next] = fn
	return d.next
}

// Remove unregisters a listener, returning false if it was unknown.
func (d *Dispatcher[T]) Remove(id ListenerID) bool {
	d.Lock()
	defer d.Unlock()
	if _, ok := d.listeners[id]; !ok {
		return false
	}
	delete(d.listeners, id)
	return true
}

// Len returns the number of listeners.
func (d *Dispatcher[T]) Len() int {
	d.Lock()
	defer d.Unlock()
	return len(d.listeners)
}

// Dispatch calls every listener with ev.
func (d *Dispatcher[T]) Dispatch(ev T) {
	d.Lock()
	ids := make([]ListenerID, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.listeners[id])
	}
	d.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// NotificationEvent is a server push.
type NotificationEvent struct {
	ChannelID uint64
	Type      string
	Data      interface{}
}

// SessionLostEvent reports that the connection or the session needs repair.
type SessionLostEvent struct {
	Err error
}

// ConnectedEvent reports a completed login.
type ConnectedEvent struct {
	Info handshake.ConnectionInfo
}

// DisconnectedEvent reports that the Manager was destroyed.
type DisconnectedEvent struct{}

// Events are the dispatchers of a Manager.  Notification listeners run on
// the channel's read goroutine and must not wait for calls.
type Events struct {
	Notification Dispatcher[NotificationEvent]
	SessionLost  Dispatcher[SessionLostEvent]
	Connected    Dispatcher[ConnectedEvent]
	Disconnected Dispatcher[DisconnectedEvent]
}
