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
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Shard is one of the N I/O threads of §2 and §5: it owns a disjoint
// set of connections, assigned round-robin at accept time, and its own
// "connections-to-adopt" inbox. A connection's protocol state machine
// never runs on more than one Shard at a time, because each
// Connection.serve runs for the lifetime of the socket on goroutines
// this Shard spawned and never hands off.
//
// Go's scheduler, not a manual poll loop, multiplexes the actual
// socket I/O beneath these goroutines; Shard exists to bound the
// number of independently-schedulable "threads" the operator asked
// for via --threads and to give admin/metrics something to report
// per-thread connection counts against, matching the source's thread
// model without reimplementing its non-blocking event loop.
type Shard struct {
	id     int
	server *Server

	adopt chan net.Conn
	wake  chan wakeOpcode

	mu    sync.Mutex
	conns map[*Connection]struct{}
	wg    sync.WaitGroup
}

type wakeOpcode int

const (
	wakeShutdownImmediate wakeOpcode = iota
	wakeShutdownGraceful
)

func newShard(id int, s *Server) *Shard {
	return &Shard{
		id:     id,
		server: s,
		adopt:  make(chan net.Conn, 64),
		wake:   make(chan wakeOpcode, 4),
		conns:  make(map[*Connection]struct{}),
	}
}

// run is the shard's event loop: adopt new connections and watch for a
// wakeup opcode telling it to shut down.
func (sh *Shard) run() {
	for {
		select {
		case conn := <-sh.adopt:
			sh.spawn(conn)
		case op := <-sh.wake:
			sh.handleWake(op)
			if op == wakeShutdownImmediate {
				return
			}
			if op == wakeShutdownGraceful {
				sh.waitForDrain()
				return
			}
		}
	}
}

func (sh *Shard) spawn(netConn net.Conn) {
	c := newConnection(sh, netConn)
	sh.mu.Lock()
	sh.conns[c] = struct{}{}
	sh.mu.Unlock()
	sh.wg.Add(1)
	go c.serve()
}

func (sh *Shard) forget(c *Connection) {
	sh.mu.Lock()
	_, present := sh.conns[c]
	delete(sh.conns, c)
	sh.mu.Unlock()
	if present {
		sh.wg.Done()
	}
}

func (sh *Shard) connectionCount() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.conns)
}

// handleWake acts only on an immediate shutdown: it aborts every job a
// worker connection is still holding and forces every live connection
// closed. A graceful shutdown does nothing here. Connections still
// waiting in the adopt channel are not drained.
func (sh *Shard) handleWake(op wakeOpcode) {
	if op != wakeShutdownImmediate {
		return
	}
	sh.mu.Lock()
	victims := make([]*Connection, 0, len(sh.conns))
	for c := range sh.conns {
		victims = append(victims, c)
	}
	sh.mu.Unlock()

	for _, c := range victims {
		if c.worker != nil && c.worker.Assigned != nil {
			handle := c.worker.Assigned.Handle
			sh.server.log.WithFields(log.Fields{
				"handle": handle,
			}).Warning("Aborting in-flight job on immediate shutdown")
			// §4.5: immediate shutdown calls queue_done for any job a
			// worker was running, rather than leaving it to replay and
			// be redelivered to a worker that never agreed to resume
			// mid-flight work.
			sh.server.broker.AbortJob(handle)
		}
		c.closeConn()
	}
}

// waitForDrain blocks until every connection this shard owns has
// closed on its own, implementing graceful shutdown's "wait for all
// running jobs to reach terminal status" (§4.5) at the connection
// granularity: once a worker's connection has nothing left to do the
// client side will too, because no new work is being dispatched.
func (sh *Shard) waitForDrain() {
	sh.wg.Wait()
}
