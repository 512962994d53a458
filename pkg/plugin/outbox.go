// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"sync"
)

// Outbox queues encoded messages waiting to be written to one endpoint.
type Outbox struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

// Put appends b to the queue.
func (o *Outbox) Put(b []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}
	o.queue = append(o.queue, b)
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns every queued message in FIFO order.
func (o *Outbox) Drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queue
	o.queue = nil
	return q
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.queue)
}

// Notify is signalled after Put. Relays that are idle waiting for input can
// select on it to flush injections without waiting for the next message.
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}

// Close discards queued messages and rejects later ones.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.queue = nil
}
