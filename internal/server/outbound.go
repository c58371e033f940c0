//
// Copyright © 2017 Solus Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package server

import (
	"sync"

	"github.com/bossjones/gearman-server/internal/protocol"
)

// softOutboundLimit is the point at which a slow consumer's unbounded
// FIFO (§5) is treated as a connection-fatal condition rather than let
// to grow without bound.
const softOutboundLimit = 16384

// outboundItem is either a framed binary packet or a raw byte slice
// (used by the TEXT administrative protocol), so both share one FIFO
// and one writer goroutine per connection instead of writing to the
// socket from two goroutines at once.
type outboundItem struct {
	packet *protocol.Packet
	raw    []byte
}

// outboundQueue is the per-connection send FIFO of §4.1: a producer
// (any goroutine handling broker side effects) appends packets without
// blocking, and the connection's single writer goroutine drains them
// in order. It replaces the source's explicit PRE_FLUSH/FLUSH/
// FLUSH_DATA send-state machine: Go's blocking-write-on-a-dedicated-
// goroutine model makes partial-write bookkeeping unnecessary, per
// spec.md §9's note that non-blocking poll loops should become native
// primitives when the runtime already provides them.
type outboundQueue struct {
	mu       sync.Mutex
	items    []outboundItem
	notify   chan struct{}
	closed   bool
	overflow bool
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{notify: make(chan struct{}, 1)}
}

// push appends p to the queue and wakes the writer. It never blocks.
// A nil p is a wake-only sentinel, used by requestClose.
func (q *outboundQueue) push(p *protocol.Packet) {
	q.enqueue(outboundItem{packet: p})
}

// pushRaw appends a raw byte slice to the queue, for TEXT replies.
func (q *outboundQueue) pushRaw(b []byte) {
	q.enqueue(outboundItem{raw: b})
}

func (q *outboundQueue) enqueue(item outboundItem) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	if len(q.items) > softOutboundLimit {
		q.overflow = true
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain returns every queued item and clears the queue, along with
// whether the soft limit was exceeded.
func (q *outboundQueue) drain() ([]outboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	overflow := q.overflow
	return items, overflow
}

// close marks the queue closed; subsequent pushes are dropped.
func (q *outboundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
