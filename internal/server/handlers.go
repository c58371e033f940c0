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
	"strconv"

	"github.com/google/uuid"

	"github.com/bossjones/gearman-server/internal/broker"
	"github.com/bossjones/gearman-server/internal/protocol"
)

// dispatch implements §4.1: route a decoded binary packet to the
// broker operation it names and enqueue whatever response that
// operation produces. Unlike ferryd's job-queue HTTP handlers, there
// is no request/response pairing at the transport level -- a single
// incoming packet can produce zero, one, or several outbound frames
// (e.g. SUBMIT_JOB to a dedup hit still only produces one JOB_CREATED,
// but WORK_COMPLETE fans out to every registered client).
func (c *Connection) dispatch(pkt *protocol.Packet) {
	switch pkt.Command {
	case protocol.CanDo:
		c.handleCanDo(pkt.Args[0], 0, false)
	case protocol.CanDoTimeout:
		timeout, _ := strconv.Atoi(string(pkt.Args[1]))
		c.handleCanDo(pkt.Args[0], timeout, true)
	case protocol.CantDo:
		c.ensureWorker()
		c.brk.CantDo(c.worker, string(pkt.Args[0]))
	case protocol.ResetAbilities:
		c.ensureWorker()
		c.brk.ResetAbilities(c.worker)

	case protocol.SubmitJob:
		c.handleSubmit(pkt.Args, broker.PriorityNormal, true)
	case protocol.SubmitJobBg:
		c.handleSubmit(pkt.Args, broker.PriorityNormal, false)
	case protocol.SubmitJobHigh:
		c.handleSubmit(pkt.Args, broker.PriorityHigh, true)
	case protocol.SubmitJobHighBg:
		c.handleSubmit(pkt.Args, broker.PriorityHigh, false)
	case protocol.SubmitJobLow:
		c.handleSubmit(pkt.Args, broker.PriorityLow, true)
	case protocol.SubmitJobLowBg:
		c.handleSubmit(pkt.Args, broker.PriorityLow, false)
	case protocol.SubmitJobSched, protocol.SubmitJobEpoch:
		// Parsed so the stream stays in sync, but scheduling itself is
		// out of scope: answer definitively rather than hang the client.
		c.Notify("ERROR", []byte("unsupported_command"), []byte(pkt.Command.String()))

	case protocol.GrabJob:
		c.handleGrab(false)
	case protocol.GrabJobUniq:
		c.handleGrab(true)
	case protocol.PreSleep:
		c.ensureWorker()
		c.brk.PreSleep(c.worker)

	case protocol.WorkData:
		c.forwardToClients(pkt.Args[0], protocol.WorkData, pkt.Args[0], pkt.Args[1])
	case protocol.WorkWarning:
		c.forwardToClients(pkt.Args[0], protocol.WorkWarning, pkt.Args[0], pkt.Args[1])
	case protocol.WorkException:
		c.handleWorkException(pkt.Args[0], pkt.Args[1])
	case protocol.WorkStatus:
		c.handleWorkStatus(pkt.Args)
	case protocol.WorkComplete:
		c.handleWorkTerminal(pkt.Args[0], pkt.Args[1], false)
	case protocol.WorkFail:
		c.handleWorkTerminal(pkt.Args[0], nil, true)

	case protocol.GetStatus:
		c.handleGetStatus(pkt.Args[0])

	case protocol.EchoReq:
		c.Notify("ECHO_RES", pkt.Args[0])

	case protocol.SetClientID:
		id := string(pkt.Args[0])
		if c.worker == nil {
			c.worker = broker.NewWorkerSession(c)
		}
		c.worker.ClientID = id

	case protocol.OptionReq:
		c.handleOptionReq(string(pkt.Args[0]))

	case protocol.AllYours:
		// No-op: this implementation has no secondary acceptor to hand
		// a listening socket to.

	default:
		c.Notify("ERROR", []byte("unknown_command"), []byte(pkt.Command.String()))
	}
}

func (c *Connection) ensureWorker() {
	if c.worker == nil {
		c.worker = broker.NewWorkerSession(c)
		c.worker.ClientID = uuid.NewString()
	}
}

func (c *Connection) ensureClient() {
	if c.client == nil {
		c.client = broker.NewClientSession(c)
		c.client.ClientID = uuid.NewString()
	}
}

func (c *Connection) handleCanDo(function []byte, timeout int, hasTimeout bool) {
	c.ensureWorker()
	c.brk.CanDo(c.worker, string(function), timeout, hasTimeout)
}

func (c *Connection) handleSubmit(args [][]byte, priority broker.Priority, foreground bool) {
	function := string(args[0])
	unique := string(args[1])
	data := args[2]

	var client *broker.ClientSession
	if foreground {
		c.ensureClient()
		client = c.client
	}

	job, _, err := c.brk.JobAdd(function, unique, data, priority, client)
	if err != nil {
		c.Notify("ERROR", []byte("queue_full"), []byte(err.Error()))
		return
	}
	c.Notify("JOB_CREATED", []byte(job.Handle))
}

func (c *Connection) handleGrab(uniq bool) {
	c.ensureWorker()
	result := c.brk.GrabJob(c.worker)
	if result == nil {
		c.Notify("NO_JOB")
		return
	}
	j := result.Job
	if uniq {
		c.Notify("JOB_ASSIGN_UNIQ", []byte(j.Handle), []byte(j.Function.Name), []byte(j.Unique), j.Data)
		return
	}
	c.Notify("JOB_ASSIGN", []byte(j.Handle), []byte(j.Function.Name), j.Data)
}

// forwardToClients relays a worker-originated frame to every client
// registered on handle, without mutating job state itself (used by
// WORK_DATA/WORK_WARNING, and by WORK_STATUS after the job record is
// updated). WORK_EXCEPTION goes through handleWorkException instead,
// which skips clients that did not negotiate exceptions.
func (c *Connection) forwardToClients(handle []byte, cmd protocol.Command, args ...[]byte) {
	clients := c.brk.ClientsOf(string(handle))
	for _, cl := range clients {
		cl.Conn.Notify(cmd.String(), args...)
	}
}

func (c *Connection) handleWorkException(handle, data []byte) {
	clients := c.brk.ClientsOf(string(handle))
	for _, cl := range clients {
		if !cl.WantsExceptions() {
			continue
		}
		cl.Conn.Notify("WORK_EXCEPTION", handle, data)
	}
}

func (c *Connection) handleWorkStatus(args [][]byte) {
	handle := args[0]
	numerator, _ := strconv.ParseInt(string(args[1]), 10, 64)
	denominator, _ := strconv.ParseInt(string(args[2]), 10, 64)

	if j := c.brk.UpdateStatus(string(handle), numerator, denominator); j == nil {
		return
	}
	c.forwardToClients(handle, protocol.WorkStatus, handle, args[1], args[2])
}

func (c *Connection) handleWorkTerminal(handle, data []byte, failed bool) {
	job, clients := c.brk.CompleteJob(string(handle), failed)
	if job == nil {
		return
	}
	for _, cl := range clients {
		if failed {
			cl.Conn.Notify("WORK_FAIL", handle)
		} else {
			cl.Conn.Notify("WORK_COMPLETE", handle, data)
		}
	}
}

func (c *Connection) handleGetStatus(handle []byte) {
	j := c.brk.JobByHandle(string(handle))
	if j == nil {
		c.Notify("STATUS_RES", handle, []byte("0"), []byte("0"), []byte("0"), []byte("0"))
		return
	}
	running := "0"
	if j.Worker != nil {
		running = "1"
	}
	c.Notify("STATUS_RES",
		handle,
		[]byte("1"),
		[]byte(running),
		[]byte(strconv.FormatInt(j.Numerator, 10)),
		[]byte(strconv.FormatInt(j.Denominator, 10)),
	)
}

func (c *Connection) handleOptionReq(name string) {
	switch name {
	case "exceptions":
		c.ensureClient()
		c.client.Options["exceptions"] = true
		c.Notify("OPTION_RES", []byte(name))
	default:
		c.Notify("ERROR", []byte("unknown_option"), []byte(name))
	}
}
