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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bossjones/gearman-server/internal/broker"
	"github.com/bossjones/gearman-server/internal/config"
	"github.com/bossjones/gearman-server/internal/logging"
	"github.com/bossjones/gearman-server/internal/protocol"
	"github.com/bossjones/gearman-server/internal/queue"
)

// testHarness wires a single Connection to an in-memory broker over a
// net.Pipe, without going through Bind/Serve, so dispatch logic can be
// exercised directly the way the broker package's own tests exercise
// JobAdd/GrabJob directly rather than through a real socket.
type testHarness struct {
	t       *testing.T
	clientA net.Conn
	conn    *Connection
}

func newHarness(t *testing.T) *testHarness {
	cfg := config.Default()
	cfg.Threads = 1
	cfg.QueueType = "memory"

	s := &Server{cfg: cfg, log: logging.New(0), broker: broker.New("T", queue.NewMemory(), 0, logging.New(0))}
	s.shards = []*Shard{newShard(0, s)}

	a, b := net.Pipe()
	conn := newConnection(s.shards[0], b)
	go conn.serve()

	return &testHarness{t: t, clientA: a, conn: conn}
}

func (h *testHarness) send(pkt *protocol.Packet) {
	require.NoError(h.t, pkt.Encode(h.clientA))
}

func (h *testHarness) recv() *protocol.Packet {
	h.clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := protocol.Decode(h.clientA, protocol.ArgCount)
	require.NoError(h.t, err)
	return pkt
}

func TestSubmitJobReturnsJobCreated(t *testing.T) {
	h := newHarness(t)
	defer h.clientA.Close()

	h.send(protocol.NewRequest(protocol.SubmitJob, []byte("reverse"), []byte(""), []byte("abc")))

	resp := h.recv()
	require.Equal(t, protocol.JobCreated, resp.Command)
	require.Len(t, resp.Args, 1)
	require.NotEmpty(t, resp.Args[0])
}

func TestCanDoThenGrabJobAssignsQueuedWork(t *testing.T) {
	h := newHarness(t)
	defer h.clientA.Close()

	h.send(protocol.NewRequest(protocol.CanDo, []byte("reverse")))
	h.send(protocol.NewRequest(protocol.SubmitJobBg, []byte("reverse"), []byte(""), []byte("payload")))
	// This connection is a capable worker with no NOOP pending, so the
	// submission wakes it before JOB_CREATED is queued.
	require.Equal(t, protocol.Noop, h.recv().Command)
	require.Equal(t, protocol.JobCreated, h.recv().Command)

	h.send(protocol.NewRequest(protocol.GrabJob))
	resp := h.recv()
	require.Equal(t, protocol.JobAssign, resp.Command)
	require.Equal(t, "reverse", string(resp.Args[1]))
	require.Equal(t, "payload", string(resp.Args[2]))
}

func TestGrabJobWithNoWorkReturnsNoJob(t *testing.T) {
	h := newHarness(t)
	defer h.clientA.Close()

	h.send(protocol.NewRequest(protocol.CanDo, []byte("reverse")))
	h.send(protocol.NewRequest(protocol.GrabJob))

	resp := h.recv()
	require.Equal(t, protocol.NoJob, resp.Command)
}

func TestEchoReqReturnsEchoRes(t *testing.T) {
	h := newHarness(t)
	defer h.clientA.Close()

	h.send(protocol.NewRequest(protocol.EchoReq, []byte("hello")))
	resp := h.recv()
	require.Equal(t, protocol.EchoRes, resp.Command)
	require.Equal(t, "hello", string(resp.Args[0]))
}

func TestWorkCompleteForwardsToForegroundClient(t *testing.T) {
	h := newHarness(t)
	defer h.clientA.Close()

	h.send(protocol.NewRequest(protocol.SubmitJob, []byte("reverse"), []byte(""), []byte("abc")))
	created := h.recv()
	handle := created.Args[0]

	h.send(protocol.NewRequest(protocol.CanDo, []byte("reverse")))
	h.send(protocol.NewRequest(protocol.GrabJob))
	assign := h.recv()
	require.Equal(t, protocol.JobAssign, assign.Command)

	h.send(protocol.NewRequest(protocol.WorkComplete, handle, []byte("cba")))
	resp := h.recv()
	require.Equal(t, protocol.WorkComplete, resp.Command)
	require.Equal(t, "cba", string(resp.Args[1]))
}
