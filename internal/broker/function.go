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

// Function is a named capability created lazily on first reference by
// either a worker's CAN_DO or a client's SUBMIT_JOB. Once created it
// stays in the broker's registry; nothing removes it, even when it has
// no jobs and no workers.
type Function struct {
	Name string

	// MaxQueueSize caps JobTotal; 0 means unbounded.
	MaxQueueSize int

	JobTotal   int
	JobRunning int

	// jobList holds one FIFO per priority; jobCount[p] always equals
	// len(jobList[p]) per the §8 invariant.
	jobList  [3][]*Job
	jobCount [3]int

	// workers lists every worker session currently declared capable of
	// this function, in declaration order, for the NOOP wake broadcast
	// of §4.3 Enqueue.
	workers []*WorkerSession
}

func newFunction(name string) *Function {
	return &Function{Name: name}
}

// JobCount returns the number of jobs currently queued (not running) at
// priority p.
func (f *Function) JobCount(p Priority) int {
	return f.jobCount[p]
}

func (f *Function) addWorker(w *WorkerSession) {
	for _, existing := range f.workers {
		if existing == w {
			return
		}
	}
	f.workers = append(f.workers, w)
}

func (f *Function) removeWorker(w *WorkerSession) {
	for i, existing := range f.workers {
		if existing == w {
			f.workers = append(f.workers[:i], f.workers[i+1:]...)
			return
		}
	}
}

// enqueue appends j to this function's priority list and returns the
// workers that should be woken: every declared-capable worker that is
// sleeping or does not already have a NOOP pending.
func (f *Function) enqueue(j *Job) []*WorkerSession {
	p := j.Priority
	f.jobList[p] = append(f.jobList[p], j)
	f.jobCount[p]++

	var toWake []*WorkerSession
	for _, w := range f.workers {
		if w.Sleeping || !w.NoopQueued {
			toWake = append(toWake, w)
		}
	}
	return toWake
}

// requeue puts j back at the head of its original priority list,
// e.g. after a worker disconnects while holding it.
func (f *Function) requeue(j *Job) []*WorkerSession {
	p := j.Priority
	f.jobList[p] = append([]*Job{j}, f.jobList[p]...)
	f.jobCount[p]++

	var toWake []*WorkerSession
	for _, w := range f.workers {
		if w.Sleeping || !w.NoopQueued {
			toWake = append(toWake, w)
		}
	}
	return toWake
}

// peekTake scans priorities HIGH to LOW and removes and returns the head
// job, skipping (and reporting, for freeing) any job with Ignore set.
// It returns nil, nil when no job is available.
func (f *Function) peekTake() (job *Job, freed []*Job) {
	for _, p := range priorities {
		for len(f.jobList[p]) > 0 {
			head := f.jobList[p][0]
			f.jobList[p] = f.jobList[p][1:]
			f.jobCount[p]--
			if head.Ignore {
				freed = append(freed, head)
				continue
			}
			return head, freed
		}
	}
	return nil, freed
}
