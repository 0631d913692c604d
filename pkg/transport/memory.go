/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"context"
	"sync"

	"github.com/carverauto/racegate/pkg/models"
)

// maxFlushRounds stops Flush from spinning on a pair of nodes that answer each other forever.
const maxFlushRounds = 10000

// DropFunc decides whether a frame is lost in flight.
type DropFunc func(src, dst models.Address, payload []byte) bool

// MemoryNetwork is an in-process link. Sends are queued and delivered by Flush, so
// tests control exactly when messages arrive.
type MemoryNetwork struct {
	mu      sync.Mutex
	members map[models.Address]*MemoryTransport
	queue   []Frame
	drop    DropFunc
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		members: make(map[models.Address]*MemoryTransport),
	}
}

// Join attaches a node. Joining the same address twice returns the existing endpoint.
func (n *MemoryNetwork) Join(self models.Address) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.members[self]; ok {
		return t
	}

	t := &MemoryTransport{self: self, net: n}
	n.members[self] = t

	return t
}

// SetDrop installs a loss filter. nil delivers everything.
func (n *MemoryNetwork) SetDrop(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// Pending returns the number of queued frames.
func (n *MemoryNetwork) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.queue)
}

// Flush delivers queued frames, including those sent by handlers while flushing, until
// the queue is empty. It returns the number of handler invocations.
func (n *MemoryNetwork) Flush() int {
	delivered := 0

	for range maxFlushRounds {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return delivered
		}

		f := n.queue[0]
		n.queue = n.queue[1:]
		drop := n.drop
		targets := n.targetsLocked(f)
		n.mu.Unlock()

		for _, t := range targets {
			if drop != nil && drop(f.Src, t.self, f.Payload) {
				continue
			}

			if h := t.handler(); h != nil {
				payload := append([]byte(nil), f.Payload...)
				h(f.Src, payload)

				delivered++
			}
		}
	}

	return delivered
}

func (n *MemoryNetwork) targetsLocked(f Frame) []*MemoryTransport {
	var out []*MemoryTransport

	for addr, t := range n.members {
		if accepts(addr, f) {
			out = append(out, t)
		}
	}

	return out
}

func (n *MemoryNetwork) enqueue(src, dst models.Address, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.members[src]; !ok || t.isClosed() {
		return ErrClosed
	}

	n.queue = append(n.queue, Frame{Src: src, Dst: dst, Payload: append([]byte(nil), payload...)})

	return nil
}

// MemoryTransport is one node's endpoint on a MemoryNetwork.
type MemoryTransport struct {
	self models.Address
	net  *MemoryNetwork

	mu     sync.Mutex
	h      Handler
	closed bool
}

func (t *MemoryTransport) Start(_ context.Context, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	t.h = h

	return nil
}

func (t *MemoryTransport) handler() Handler {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	return t.h
}

func (t *MemoryTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

func (t *MemoryTransport) SendTo(dst models.Address, payload []byte) error {
	return t.net.enqueue(t.self, dst, payload)
}

func (t *MemoryTransport) Broadcast(payload []byte) error {
	return t.net.enqueue(t.self, models.Broadcast, payload)
}

// Close detaches the endpoint. Queued frames addressed to it are discarded on delivery.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	return nil
}
