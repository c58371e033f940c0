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

package broker

import "bytes"

// JobAdd implements §4.2: locate-or-create the function, deduplicate,
// and either reuse an existing job or create and enqueue a fresh one.
// client is nil for background submissions and for replay.
func (b *Broker) JobAdd(functionName, unique string, data []byte, priority Priority, client *ClientSession) (*Job, Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.lookupOrCreateFunction(functionName)

	if existing := b.dedup(f, unique, data); existing != nil {
		if client != nil {
			existing.AddClient(client)
			client.Jobs = append(client.Jobs, existing)
		}
		return existing, OutcomeExists, nil
	}

	if f.MaxQueueSize > 0 && f.JobTotal >= f.MaxQueueSize {
		return nil, OutcomeCreated, ErrJobQueueFull
	}

	job := &Job{
		Handle:   b.nextHandle(),
		Unique:   unique,
		Function: f,
		Priority: priority,
		Data:     data,
	}

	if b.replaying {
		job.Queued = true
	} else if client == nil && b.queue != nil {
		if err := b.queue.Add(job.Handle, unique, functionName, data, priority); err != nil {
			return nil, OutcomeCreated, err
		}
		if err := b.queue.Flush(); err != nil {
			// Best-effort rollback: the add already landed, but we
			// never got to commit, so don't leave a phantom record.
			_ = b.queue.Done(job.Handle, unique, functionName)
			return nil, OutcomeCreated, err
		}
		job.Queued = true
	}

	b.byHandle.Insert(job)
	if unique != "" {
		b.byUnique.Insert(job)
	}
	f.JobTotal++
	b.JobsCreated.Inc()

	if client != nil {
		job.AddClient(client)
		client.Jobs = append(client.Jobs, job)
	}

	toWake := f.enqueue(job)
	b.wake(toWake)

	return job, OutcomeCreated, nil
}

// dedup implements §4.2 step 2: unique == "" never dedups; unique ==
// "-" with non-empty data dedups on data bytes; otherwise it dedups on
// the unique bytes.
func (b *Broker) dedup(f *Function, unique string, data []byte) *Job {
	if unique == "" {
		return nil
	}
	if unique == "-" && len(data) > 0 {
		// §9 open question: this only makes sense while candidate
		// jobs' Data is still resident, which it always is in this
		// implementation (no data is ever freed mid-life).
		return b.findByData(f, data)
	}
	candidate := b.byUnique.Get([]byte(f.Name + "\x00" + unique))
	if candidate != nil && candidate.Function == f {
		return candidate
	}
	return nil
}

// findByData performs the "-" dedup path by scanning every live job of
// f, queued or already assigned to a worker: §4.2 step 2 draws no
// distinction between queued and running jobs when matching on data,
// and the parallel unique-keyed dedup path (byUnique) covers running
// jobs too since a job is never removed from byUnique until it frees.
// b.byHandle holds every live job regardless of state, so scanning it
// (filtered to f) is the all-states equivalent of byUnique's lookup.
// There is no hash index on data, so this is linear in the broker's
// total live job count; acceptable since it only triggers on the
// explicit opt-in "-" unique.
func (b *Broker) findByData(f *Function, data []byte) *Job {
	for _, j := range b.byHandle.All() {
		if j.Function == f && bytes.Equal(j.Data, data) {
			return j
		}
	}
	return nil
}

// wake sends NOOP to every worker in toWake that doesn't already have
// one pending, setting NoopQueued so repeated enqueues don't pile up
// redundant wake-ups (§4.3, §8 invariant 5).
func (b *Broker) wake(toWake []*WorkerSession) {
	for _, w := range toWake {
		if w.NoopQueued {
			continue
		}
		w.NoopQueued = true
		w.Conn.Notify("NOOP")
		b.NoopsSent.Inc()
	}
}

// GrabResult is the outcome of a GRAB_JOB[_UNIQ] request.
type GrabResult struct {
	Job *Job
}

// GrabJob implements §4.3 Peek/Take for w: it walks w's declared
// abilities in declaration order and returns the first available job
// at the highest priority, skipping and freeing any IGNOREd jobs it
// encounters along the way.
func (b *Broker) GrabJob(w *WorkerSession) *GrabResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ability := range w.Abilities {
		f := ability.Function
		if f.jobCount[PriorityHigh]+f.jobCount[PriorityNormal]+f.jobCount[PriorityLow] <= 0 {
			continue
		}
		job, freed := f.peekTake()
		for _, fj := range freed {
			b.freeJob(fj)
		}
		if job == nil {
			continue
		}
		job.Worker = w
		w.Assigned = job
		w.NoopQueued = false
		w.Sleeping = false
		f.JobRunning++
		return &GrabResult{Job: job}
	}
	return nil
}

// freeJob removes a job from both hash tables and decrements its
// function's totals. Callers must hold mu. It does not touch the
// persistent queue; callers that need Done invoked must call it
// themselves first.
func (b *Broker) freeJob(j *Job) {
	b.byHandle.Remove(j)
	if j.Unique != "" {
		b.byUnique.Remove(j)
	}
	if j.Function != nil {
		j.Function.JobTotal--
	}
}

// CompleteJob implements the WORK_COMPLETE/WORK_FAIL side effects of
// §4.1: invoke queue_done if the job was persisted, release it from its
// worker, then free it. It returns the job's registered clients so the
// caller (internal/server) can forward the terminal frame to each of
// them; a foreground client that already disconnected has been removed
// from that list, so its result is dropped.
func (b *Broker) CompleteJob(handle string, failed bool) (*Job, []*ClientSession) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j := b.byHandle.Get([]byte(handle))
	if j == nil {
		return nil, nil
	}

	if j.Worker != nil && j.Function != nil {
		j.Function.JobRunning--
	}

	if j.Queued && b.queue != nil {
		_ = b.queue.Done(j.Handle, j.Unique, j.Function.Name)
	}

	if j.Worker != nil && j.Worker.Assigned == j {
		j.Worker.Assigned = nil
	}

	if failed {
		b.JobsFailed.Inc()
	} else {
		b.JobsCompleted.Inc()
	}

	clients := j.Clients
	b.freeJob(j)
	return j, clients
}

// AbortJob implements §4.5's immediate-shutdown requirement to call
// queue_done for any job a worker was running when the process exits:
// the job cannot complete and in-memory requeue is moot since the
// process is on its way out, but the persisted record must still be
// cleared so a later restart's Replay doesn't resurrect and hand the
// same aborted work to a fresh worker that never agreed to resume it
// mid-flight. Unlike CompleteJob this never forwards a terminal frame
// to clients; the connection is being torn down regardless.
func (b *Broker) AbortJob(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j := b.byHandle.Get([]byte(handle))
	if j == nil {
		return
	}

	if j.Worker != nil && j.Function != nil {
		j.Function.JobRunning--
	}
	if j.Queued && b.queue != nil {
		_ = b.queue.Done(j.Handle, j.Unique, j.Function.Name)
	}
	if j.Worker != nil {
		j.Worker.Assigned = nil
	}
	b.freeJob(j)
}

// UpdateStatus implements WORK_STATUS's side effect on the job record
// itself, independent of forwarding the frame to clients.
func (b *Broker) UpdateStatus(handle string, numerator, denominator int64) *Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.byHandle.Get([]byte(handle))
	if j == nil {
		return nil
	}
	j.Numerator = numerator
	j.Denominator = denominator
	return j
}

// ClientsOf returns the registered clients of a job by handle, used to
// forward WORK_DATA/WARNING/EXCEPTION frames that don't otherwise
// mutate broker state.
func (b *Broker) ClientsOf(handle string) []*ClientSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.byHandle.Get([]byte(handle))
	if j == nil {
		return nil
	}
	return j.Clients
}

// RequeueWorkerJob implements §4.3 Re-queue for a worker that reported
// WORK_FAIL (when configured as non-terminal -- see spec.md §9's open
// question, currently always terminal so this path is only reached via
// WorkerDisconnected) or whose connection was lost while holding an
// assignment.
func (b *Broker) RequeueWorkerJob(w *WorkerSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requeueLocked(w)
}

func (b *Broker) requeueLocked(w *WorkerSession) {
	j := w.Assigned
	if j == nil {
		return
	}
	w.Assigned = nil
	j.Worker = nil
	if j.Function != nil {
		j.Function.JobRunning--
	}
	if j.Ignore {
		b.freeJob(j)
		return
	}
	toWake := j.Function.requeue(j)
	b.wake(toWake)
}

// WorkerDisconnected tears down a worker session: any job it was
// running is re-queued, and it is removed from every function's worker
// list so future NOOPs don't target a dead connection.
func (b *Broker) WorkerDisconnected(w *WorkerSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requeueLocked(w)
	w.resetAbilities()
}

// ClientDisconnected implements §5's cancellation rule: every job the
// client registered for foreground delivery is marked IGNORE if still
// queued (a running job is left alone; its result is simply discarded
// at completion time because the client is no longer registered), and
// the client is dropped from each job's client list.
func (b *Broker) ClientDisconnected(c *ClientSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, j := range c.Jobs {
		j.RemoveClient(c)
		if j.Worker == nil {
			j.Ignore = true
		}
	}
	c.Jobs = nil
}

// CanDo records that w declared ability for functionName (lazily
// creating the function), with an optional timeout from
// CAN_DO_TIMEOUT.
func (b *Broker) CanDo(w *WorkerSession, functionName string, timeoutSecs int, hasTimeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.lookupOrCreateFunction(functionName)
	w.canDo(f, timeoutSecs, hasTimeout)
}

// CantDo removes a previously declared ability.
func (b *Broker) CantDo(w *WorkerSession, functionName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.functions[functionName]
	if !ok {
		return
	}
	w.cantDo(f)
}

// ResetAbilities clears every ability w declared.
func (b *Broker) ResetAbilities(w *WorkerSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.resetAbilities()
}

// PreSleep marks w sleeping, per §4.1 PRE_SLEEP.
func (b *Broker) PreSleep(w *WorkerSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Sleeping = true
}
