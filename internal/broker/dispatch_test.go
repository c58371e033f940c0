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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotifier records every frame a test session receives, standing
// in for internal/server's Connection.
type fakeNotifier struct {
	frames []string
}

func (f *fakeNotifier) Notify(command string, args ...[]byte) {
	f.frames = append(f.frames, command)
}

func newTestBroker() *Broker {
	return New("T", nil, 0, nil)
}

func TestJobAddCreatesAndDispatches(t *testing.T) {
	b := newTestBroker()
	worker := NewWorkerSession(&fakeNotifier{})
	b.CanDo(worker, "reverse", 0, false)
	b.PreSleep(worker)

	job, outcome, err := b.JobAdd("reverse", "", []byte("hello"), PriorityNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "T:1", job.Handle)

	notes := worker.Conn.(*fakeNotifier)
	assert.Equal(t, []string{"NOOP"}, notes.frames)
	assert.True(t, worker.NoopQueued)

	result := b.GrabJob(worker)
	require.NotNil(t, result)
	assert.Equal(t, job, result.Job)
	assert.False(t, worker.NoopQueued)
	assert.Equal(t, 1, job.Function.JobRunning)
}

func TestUniqueDedupReturnsExistingHandle(t *testing.T) {
	b := newTestBroker()
	first, outcome, err := b.JobAdd("f", "u", []byte("A"), PriorityNormal, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	second, outcome, err := b.JobAdd("f", "u", []byte("B"), PriorityNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExists, outcome)
	assert.Same(t, first, second)
	assert.Equal(t, []byte("A"), second.Data)
	assert.Equal(t, 1, first.Function.JobTotal)
}

func TestDashUniqueDedupsOnData(t *testing.T) {
	b := newTestBroker()
	first, _, err := b.JobAdd("f", "-", []byte("payload"), PriorityNormal, nil)
	require.NoError(t, err)

	second, outcome, err := b.JobAdd("f", "-", []byte("payload"), PriorityNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExists, outcome)
	assert.Same(t, first, second)
}

func TestNoUniqueNeverDedups(t *testing.T) {
	b := newTestBroker()
	first, _, err := b.JobAdd("f", "", []byte("A"), PriorityNormal, nil)
	require.NoError(t, err)
	second, outcome, err := b.JobAdd("f", "", []byte("A"), PriorityNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, first.Function.JobTotal)
}

func TestPriorityOrdering(t *testing.T) {
	b := newTestBroker()
	w := NewWorkerSession(&fakeNotifier{})
	b.CanDo(w, "f", 0, false)

	low, _, err := b.JobAdd("f", "low", []byte("l"), PriorityLow, nil)
	require.NoError(t, err)
	normal, _, err := b.JobAdd("f", "normal", []byte("n"), PriorityNormal, nil)
	require.NoError(t, err)
	high, _, err := b.JobAdd("f", "high", []byte("h"), PriorityHigh, nil)
	require.NoError(t, err)

	r1 := b.GrabJob(w)
	require.NotNil(t, r1)
	assert.Equal(t, high, r1.Job)
	b.CompleteJob(r1.Job.Handle, false)

	r2 := b.GrabJob(w)
	require.NotNil(t, r2)
	assert.Equal(t, normal, r2.Job)
	b.CompleteJob(r2.Job.Handle, false)

	r3 := b.GrabJob(w)
	require.NotNil(t, r3)
	assert.Equal(t, low, r3.Job)
}

func TestMaxQueueSizeEnforced(t *testing.T) {
	b := newTestBroker()
	b.SetMaxQueueSize("f", 2)

	_, _, err := b.JobAdd("f", "a", []byte("1"), PriorityNormal, nil)
	require.NoError(t, err)
	_, _, err = b.JobAdd("f", "b", []byte("2"), PriorityNormal, nil)
	require.NoError(t, err)
	_, _, err = b.JobAdd("f", "c", []byte("3"), PriorityNormal, nil)
	assert.ErrorIs(t, err, ErrJobQueueFull)
}

func TestClientDisconnectIgnoresQueuedJob(t *testing.T) {
	b := newTestBroker()
	worker := NewWorkerSession(&fakeNotifier{})
	b.CanDo(worker, "f", 0, false)

	client := NewClientSession(&fakeNotifier{})
	job, _, err := b.JobAdd("f", "", []byte("data"), PriorityNormal, client)
	require.NoError(t, err)
	assert.True(t, job.Ignore == false)

	b.ClientDisconnected(client)
	assert.True(t, job.Ignore)

	// The worker's subsequent GRAB_JOB must reap the IGNOREd job and
	// report no work, per §8 scenario 4.
	result := b.GrabJob(worker)
	assert.Nil(t, result)
	assert.Equal(t, 0, job.Function.JobTotal)
}

func TestWorkerDisconnectRequeuesAssignedJob(t *testing.T) {
	b := newTestBroker()
	w1 := NewWorkerSession(&fakeNotifier{})
	w2 := NewWorkerSession(&fakeNotifier{})
	b.CanDo(w1, "f", 0, false)
	b.CanDo(w2, "f", 0, false)

	job, _, err := b.JobAdd("f", "", []byte("data"), PriorityNormal, nil)
	require.NoError(t, err)

	result := b.GrabJob(w1)
	require.NotNil(t, result)
	assert.Equal(t, job, result.Job)

	b.WorkerDisconnected(w1)
	assert.Nil(t, job.Worker)
	assert.Equal(t, 0, job.Function.JobRunning)

	result2 := b.GrabJob(w2)
	require.NotNil(t, result2)
	assert.Equal(t, job, result2.Job)
}

func TestCompleteJobInvokesDoneAndFrees(t *testing.T) {
	q := newMemoryQueueForTest()
	b := New("T", q, 0, nil)
	w := NewWorkerSession(&fakeNotifier{})
	b.CanDo(w, "f", 0, false)

	job, _, err := b.JobAdd("f", "u1", []byte("data"), PriorityNormal, nil)
	require.NoError(t, err)
	assert.True(t, job.Queued)
	assert.Equal(t, 1, q.count())

	b.GrabJob(w)
	freedJob, _ := b.CompleteJob(job.Handle, false)
	require.NotNil(t, freedJob)
	assert.Equal(t, 0, q.count())
	assert.Nil(t, b.JobByHandle(job.Handle))
}

func TestWorkStatusUpdatesNumeratorDenominator(t *testing.T) {
	b := newTestBroker()
	job, _, err := b.JobAdd("f", "", []byte("data"), PriorityNormal, nil)
	require.NoError(t, err)

	updated := b.UpdateStatus(job.Handle, 3, 10)
	require.NotNil(t, updated)
	assert.EqualValues(t, 3, job.Numerator)
	assert.EqualValues(t, 10, job.Denominator)
}

// TestNoUniqueBackgroundJobsPersistIndependently guards against the
// broker passing anything other than the job's own handle down to the
// persistent queue: two background submissions of the same function
// with no supplied unique are distinct live jobs, and both must
// persist and both must be independently completable.
func TestNoUniqueBackgroundJobsPersistIndependently(t *testing.T) {
	q := newMemoryQueueForTest()
	b := New("T", q, 0, nil)

	first, _, err := b.JobAdd("f", "", []byte("first"), PriorityNormal, nil)
	require.NoError(t, err)
	second, _, err := b.JobAdd("f", "", []byte("second"), PriorityNormal, nil)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	assert.Equal(t, 2, q.count())

	_, _ = b.CompleteJob(first.Handle, false)
	assert.Equal(t, 1, q.count())
	assert.Equal(t, []byte("second"), q.records[second.Handle])

	_, _ = b.CompleteJob(second.Handle, false)
	assert.Equal(t, 0, q.count())
}

// TestDashUniqueDedupsAgainstRunningJob exercises the "-" data dedup
// path against a job that has already been taken by a worker (and so
// is no longer in any Function.jobList), not just a still-queued one.
func TestDashUniqueDedupsAgainstRunningJob(t *testing.T) {
	b := newTestBroker()
	w := NewWorkerSession(&fakeNotifier{})
	b.CanDo(w, "f", 0, false)

	first, _, err := b.JobAdd("f", "-", []byte("payload"), PriorityNormal, nil)
	require.NoError(t, err)

	result := b.GrabJob(w)
	require.NotNil(t, result)
	assert.Equal(t, first, result.Job)

	second, outcome, err := b.JobAdd("f", "-", []byte("payload"), PriorityNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExists, outcome)
	assert.Same(t, first, second)
}

// TestAbortJobInvokesDoneWithoutRequeue exercises §4.5's immediate
// shutdown path: a running job's persisted record must be removed
// (queue_done), and the job must not reappear on a subsequent
// GrabJob the way a worker disconnect's requeue would make it.
func TestAbortJobInvokesDoneWithoutRequeue(t *testing.T) {
	q := newMemoryQueueForTest()
	b := New("T", q, 0, nil)
	w := NewWorkerSession(&fakeNotifier{})
	b.CanDo(w, "f", 0, false)

	job, _, err := b.JobAdd("f", "u1", []byte("data"), PriorityNormal, nil)
	require.NoError(t, err)
	require.Equal(t, 1, q.count())

	result := b.GrabJob(w)
	require.NotNil(t, result)
	assert.Equal(t, job, result.Job)

	b.AbortJob(job.Handle)
	assert.Equal(t, 0, q.count())
	assert.Nil(t, b.JobByHandle(job.Handle))
	assert.Nil(t, w.Assigned)

	result2 := b.GrabJob(w)
	assert.Nil(t, result2)
}

// memoryQueueForTest is a minimal PersistentQueue used only by broker's
// own tests, so this package doesn't need to import internal/queue
// (which itself imports broker) and create an import cycle. Records
// are keyed by handle, matching internal/queue's own adapters, so two
// empty-unique background jobs for the same function never collide.
type memoryQueueForTest struct {
	records map[string][]byte
}

func newMemoryQueueForTest() *memoryQueueForTest {
	return &memoryQueueForTest{records: make(map[string][]byte)}
}

func (m *memoryQueueForTest) Add(handle, unique, function string, data []byte, priority Priority) error {
	m.records[handle] = data
	return nil
}

func (m *memoryQueueForTest) Flush() error { return nil }

func (m *memoryQueueForTest) Done(handle, unique, function string) error {
	delete(m.records, handle)
	return nil
}

func (m *memoryQueueForTest) Replay(add func(unique, function string, data []byte, priority Priority) error) error {
	return nil
}

func (m *memoryQueueForTest) count() int { return len(m.records) }
