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
	"fmt"
	"strconv"
	"strings"
)

// version is the administrative protocol's reported server version,
// independent of any Go module version.
const version = "1.0.0"

// handleTextLine reads and answers one line of the TEXT administrative
// protocol of §6: workers, status, maxqueue, shutdown, version. Unlike
// the binary protocol, each command produces exactly one textual
// reply terminated by a line the client recognizes as the end of
// output ("." on its own line for the two multi-line commands).
func (c *Connection) handleTextLine() error {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}

	fields := strings.Fields(line)
	cmd := fields[0]

	switch cmd {
	case "workers":
		c.adminWorkers()
	case "status":
		c.adminStatus()
	case "maxqueue":
		c.adminMaxQueue(fields[1:])
	case "shutdown":
		c.adminShutdown(fields[1:])
	case "version":
		c.writeRaw(version + "\n")
	default:
		c.writeRaw("ERR unknown_command " + cmd + "\n")
	}
	return nil
}

// adminWorkers reports every connection's worker session across every
// shard. Unlike ferryd's /status handler (which only ever describes
// its own process), this walks every Shard the admin connection's own
// Shard is siblings with via the shared Server.
func (c *Connection) adminWorkers() {
	var b strings.Builder
	for _, sh := range c.shard.server.shards {
		sh.mu.Lock()
		for conn := range sh.conns {
			if conn.worker == nil {
				continue
			}
			w := conn.worker
			fns := make([]string, 0, len(w.Abilities))
			for _, a := range w.Abilities {
				fns = append(fns, a.Function.Name)
			}
			fmt.Fprintf(&b, "%d %s %s : %s\n",
				conn.id, "-", w.ClientID, strings.Join(fns, " "))
		}
		sh.mu.Unlock()
	}
	b.WriteString(".\n")
	c.writeRaw(b.String())
}

// adminStatus reports every function's queue depth, running count, and
// worker count, the TEXT equivalent of §6's "status" command.
func (c *Connection) adminStatus() {
	var b strings.Builder
	for _, snap := range c.brk.Status() {
		fmt.Fprintf(&b, "%s\t%d\t%d\t%d\n", snap.Name, snap.Total, snap.Running, snap.WorkerCount)
	}
	b.WriteString(".\n")
	c.writeRaw(b.String())
}

// adminMaxQueue mutates a function's MaxQueueSize at runtime per §6.
func (c *Connection) adminMaxQueue(args []string) {
	if len(args) < 1 {
		c.writeRaw("ERR missing_function\n")
		return
	}
	max := 0
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			c.writeRaw("ERR bad_size\n")
			return
		}
		max = n
	}
	c.brk.SetMaxQueueSize(args[0], max)
	c.writeRaw("OK\n")
}

// adminShutdown implements §4.5/§6: "shutdown" stops immediately,
// aborting in-flight jobs; "shutdown graceful" waits for every shard to
// drain.
func (c *Connection) adminShutdown(args []string) {
	graceful := len(args) > 0 && args[0] == "graceful"
	c.writeRaw("OK\n")
	go c.shard.server.Shutdown(graceful)
}
