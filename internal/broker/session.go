//
// Copyright © 2017 Ikey Doherty <ikey@solus-project.com>
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

package broker

// Notifier is the broker's view of a connection: enough to hand it
// outbound frames without the broker package importing net or the
// protocol framing. internal/server's Connection implements this.
type Notifier interface {
	// Notify enqueues command with the given arguments on the
	// connection's outbound FIFO. It must not block.
	Notify(command string, args ...[]byte)
}

// FunctionAbility is a function a worker has declared via CAN_DO,
// together with the optional per-function timeout from CAN_DO_TIMEOUT.
type FunctionAbility struct {
	Function    *Function
	TimeoutSecs int
	HasTimeout  bool
}

// WorkerSession is the broker-side state attached to a worker
// connection: declared abilities (in declaration order, scanned by
// GRAB_JOB), the job presently assigned (if any), and the sleep/noop
// bookkeeping that drives the wake protocol of §4.3.
type WorkerSession struct {
	Conn Notifier

	ClientID string

	// Abilities is scanned in declaration order by GRAB_JOB.
	Abilities []*FunctionAbility

	Assigned *Job

	Sleeping   bool
	NoopQueued bool
}

// NewWorkerSession attaches a new, ability-less worker session to conn.
func NewWorkerSession(conn Notifier) *WorkerSession {
	return &WorkerSession{Conn: conn}
}

func (w *WorkerSession) abilityFor(f *Function) *FunctionAbility {
	for _, a := range w.Abilities {
		if a.Function == f {
			return a
		}
	}
	return nil
}

// canDo adds f to w's declared abilities (idempotent), recording an
// optional timeout.
func (w *WorkerSession) canDo(f *Function, timeoutSecs int, hasTimeout bool) {
	if a := w.abilityFor(f); a != nil {
		a.TimeoutSecs = timeoutSecs
		a.HasTimeout = hasTimeout
		return
	}
	w.Abilities = append(w.Abilities, &FunctionAbility{
		Function:    f,
		TimeoutSecs: timeoutSecs,
		HasTimeout:  hasTimeout,
	})
	f.addWorker(w)
}

// cantDo removes f from w's declared abilities.
func (w *WorkerSession) cantDo(f *Function) {
	for i, a := range w.Abilities {
		if a.Function == f {
			w.Abilities = append(w.Abilities[:i], w.Abilities[i+1:]...)
			f.removeWorker(w)
			return
		}
	}
}

// resetAbilities clears every declared ability.
func (w *WorkerSession) resetAbilities() {
	for _, a := range w.Abilities {
		a.Function.removeWorker(w)
	}
	w.Abilities = nil
}

// ClientSession is the broker-side state attached to a client
// connection: the set of jobs it wants foreground frames for, and the
// options it has negotiated via OPTION_REQ (currently only
// "exceptions").
type ClientSession struct {
	Conn Notifier

	ClientID string

	Jobs []*Job

	Options map[string]bool
}

// NewClientSession attaches a new client session to conn.
func NewClientSession(conn Notifier) *ClientSession {
	return &ClientSession{Conn: conn, Options: make(map[string]bool)}
}

// WantsExceptions reports whether this client negotiated WORK_EXCEPTION
// forwarding via OPTION_REQ "exceptions".
func (c *ClientSession) WantsExceptions() bool {
	return c.Options["exceptions"]
}
