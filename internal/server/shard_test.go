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
	"github.com/bossjones/gearman-server/internal/logging"
	"github.com/bossjones/gearman-server/internal/queue"
)

func newTestServer() *Server {
	return &Server{
		log:    logging.New(0),
		broker: broker.New("T", queue.NewMemory(), 0, logging.New(0)),
	}
}

func TestShardAdoptTracksConnectionCount(t *testing.T) {
	s := newTestServer()
	sh := newShard(0, s)
	go sh.run()

	a, b := net.Pipe()
	defer a.Close()

	sh.adopt <- b
	require.Eventually(t, func() bool { return sh.connectionCount() == 1 }, time.Second, 10*time.Millisecond)

	sh.wake <- wakeShutdownImmediate
	require.Eventually(t, func() bool { return sh.connectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestShardGracefulWaitsForDrain(t *testing.T) {
	s := newTestServer()
	sh := newShard(0, s)
	done := make(chan struct{})
	go func() {
		sh.run()
		close(done)
	}()

	a, b := net.Pipe()
	sh.adopt <- b
	require.Eventually(t, func() bool { return sh.connectionCount() == 1 }, time.Second, 10*time.Millisecond)

	sh.wake <- wakeShutdownGraceful

	// The shard shouldn't finish draining until the lone connection is
	// actually closed by its peer.
	select {
	case <-done:
		t.Fatal("graceful shutdown returned before the connection drained")
	case <-time.After(100 * time.Millisecond):
	}

	a.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("graceful shutdown never observed the drained connection")
	}
}
