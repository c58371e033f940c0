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
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/bossjones/gearman-server/internal/broker"
	"github.com/bossjones/gearman-server/internal/protocol"
)

var connCounter uint64

// Connection is the per-socket protocol state machine of §4.1. A
// single Connection may, over its lifetime, act as a client (via
// SUBMIT_JOB/GET_STATUS), a worker (via CAN_DO), or both; the broker
// sessions are created lazily on first use.
type Connection struct {
	id     uint64
	conn   net.Conn
	reader *bufio.Reader
	out    *outboundQueue

	shard *Shard

	brk *broker.Broker
	log *log.Logger

	worker *broker.WorkerSession
	client *broker.ClientSession

	closeAfterFlush atomic.Bool
	closeOnce       sync.Once
	closed          chan struct{}
}

func newConnection(shard *Shard, conn net.Conn) *Connection {
	c := &Connection{
		id:     atomic.AddUint64(&connCounter, 1),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
		out:    newOutboundQueue(),
		shard:  shard,
		brk:    shard.server.broker,
		log:    shard.server.log,
		closed: make(chan struct{}),
	}
	return c
}

// Notify implements broker.Notifier by framing command/args as a
// response packet and handing it to this connection's outbound FIFO.
func (c *Connection) Notify(command string, args ...[]byte) {
	cmd, ok := protocol.ByName(command)
	if !ok {
		c.log.WithFields(log.Fields{"command": command}).Error("Notify with unknown command")
		return
	}
	c.out.push(protocol.NewResponse(cmd, args...))
}

// requestClose arranges for the connection to be torn down once its
// outbound FIFO has drained, implementing the "close-after-flush"
// flag of §4.1.
func (c *Connection) requestClose() {
	c.closeAfterFlush.Store(true)
	c.out.push(nil) // wake the writer even if the FIFO is otherwise empty
}

// serve runs both halves of the connection's I/O and blocks until the
// connection is done. It is invoked on its own goroutine by the owning
// Shard.
func (c *Connection) serve() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.readLoop()
	}()

	wg.Wait()
	c.teardown()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.out.notify:
		case <-c.closed:
			return
		}

		items, overflow := c.out.drain()
		if overflow {
			c.log.WithFields(log.Fields{"conn": c.id}).Warning("Outbound FIFO exceeded soft limit; closing")
			c.closeConn()
			return
		}
		if err := c.writeItems(items); err != nil {
			c.closeConn()
			return
		}
		if c.closeAfterFlush.Load() {
			remaining, _ := c.out.drain()
			_ = c.writeItems(remaining)
			c.closeConn()
			return
		}
	}
}

func (c *Connection) writeItems(items []outboundItem) error {
	for _, item := range items {
		switch {
		case item.packet != nil:
			if err := item.packet.Encode(c.conn); err != nil {
				return err
			}
		case item.raw != nil:
			if _, err := c.conn.Write(item.raw); err != nil {
				return err
			}
		default:
			// wake-only sentinel from requestClose
		}
	}
	return nil
}

func (c *Connection) readLoop() {
	for {
		first, err := c.reader.Peek(1)
		if err != nil {
			c.closeConn()
			return
		}

		if isTextCommandStart(first[0]) {
			if err := c.handleTextLine(); err != nil {
				c.closeConn()
				return
			}
			continue
		}

		pkt, err := protocol.Decode(c.reader, protocol.ArgCount)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.closeConn()
				return
			}
			// Malformed frame: the parse desynchronized the stream, so
			// per §4.1 we must close rather than try to resync.
			c.log.WithFields(log.Fields{"conn": c.id, "error": err}).Error("Frame decode error")
			c.closeConn()
			return
		}

		c.dispatch(pkt)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

// isTextCommandStart reports whether the next byte looks like the
// start of a line-based administrative command rather than a binary
// magic (whose first byte is always \0).
func isTextCommandStart(b byte) bool {
	return b != 0
}

func (c *Connection) closeConn() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.out.close()
		c.conn.Close()
	})
}

func (c *Connection) teardown() {
	if c.worker != nil {
		c.brk.WorkerDisconnected(c.worker)
	}
	if c.client != nil {
		c.brk.ClientDisconnected(c.client)
	}
	c.shard.forget(c)
}

// writeRaw enqueues a TEXT admin protocol reply on the same FIFO the
// binary protocol uses, so the two never interleave writes on the
// socket.
func (c *Connection) writeRaw(s string) {
	c.out.pushRaw([]byte(s))
}
