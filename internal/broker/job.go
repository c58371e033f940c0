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

// Priority is the dispatch priority of a job, scanned HIGH to LOW on
// every GRAB_JOB per §4.3.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// priorities lists every Priority in dispatch scan order.
var priorities = [...]Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Job is the unit of work described in §3. The broker creates and frees
// every Job and indexes it by pointer in its two hash tables and the
// owning Function's priority lists. Callers outside this package get
// *Job values back from JobAdd, GrabJob and JobByHandle and read their
// fields; they change job state only through Broker methods.
type Job struct {
	Handle   string
	Unique   string
	Function *Function
	Priority Priority
	Data     []byte

	Numerator   int64
	Denominator int64

	// Clients lists every client session registered for foreground
	// progress/result frames on this job. Background submissions leave
	// this empty.
	Clients []*ClientSession

	// Worker is the session currently assigned this job, or nil while
	// queued.
	Worker *WorkerSession

	// Queued records whether queue_add was invoked (or, during replay,
	// assumed) for this job; queue_done must be called exactly once
	// for every job with Queued set.
	Queued bool

	// Ignore marks a job logically deleted but not yet reaped: it is
	// skipped and freed the next time it is taken from its priority
	// list (§4.3 Peek/Take).
	Ignore bool
}

// handleKey and uniqueKey adapt Job to the two jobHashTable indexes.
func handleKey(j *Job) []byte { return []byte(j.Handle) }
func uniqueKey(j *Job) []byte { return []byte(j.Function.Name + "\x00" + j.Unique) }

// AddClient registers cs to receive progress/result frames for j.
func (j *Job) AddClient(cs *ClientSession) {
	for _, existing := range j.Clients {
		if existing == cs {
			return
		}
	}
	j.Clients = append(j.Clients, cs)
}

// RemoveClient drops cs from j's registered clients, e.g. on disconnect.
func (j *Job) RemoveClient(cs *ClientSession) {
	for i, existing := range j.Clients {
		if existing == cs {
			j.Clients = append(j.Clients[:i], j.Clients[i+1:]...)
			return
		}
	}
}
