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

// Package broker implements the process-wide registry of functions,
// jobs, and worker/client sessions, and the dispatch policy that
// assigns queued jobs to sleeping workers. It is the "heart of the
// story" the way ferryd/core.Manager is for ferryd: every other
// package either feeds it protocol events or is fed responses by it.
package broker

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	// ErrJobQueueFull is returned by JobAdd when the target function's
	// MaxQueueSize has been reached.
	ErrJobQueueFull = errors.New("job queue is full for this function")

	// ErrJobUnknown is returned when a handle does not name a live job.
	ErrJobUnknown = errors.New("unknown job handle")

	// ErrFunctionUnknown is returned when a function name has never
	// been declared or submitted to.
	ErrFunctionUnknown = errors.New("unknown function")
)

// Outcome reports what JobAdd actually did, distinguishing a fresh
// creation from a dedup hit, per §4.2 step 3.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeExists
)

// Broker is the process-wide registry described in §2 and §3. Its
// exported methods are the only way any connection-handling code
// mutates shared state; in multi-threaded deployments every call is
// made while holding mu, matching §5's "single broker-level mutex
// acquired for the duration of each mutation".
type Broker struct {
	mu sync.Mutex

	functions map[string]*Function

	byHandle *jobHashTable
	byUnique *jobHashTable

	handlePrefix string
	idCounter    uint64

	// replaying is true only during the startup Replay call; jobs
	// created while it is true are marked Queued without invoking the
	// persistent queue adapter (§4.4).
	replaying bool

	queue PersistentQueue

	// jobRetries is accepted as configuration but, per spec.md §9's
	// open question, is deliberately not consulted anywhere in
	// dispatch: WORK_FAIL is terminal.
	jobRetries int

	log *log.Logger

	// Metrics sampled outside mu by internal/server's prometheus
	// collector; atomics so reading them never needs the broker lock.
	JobsCreated   atomic.Int64
	JobsCompleted atomic.Int64
	JobsFailed    atomic.Int64
	NoopsSent     atomic.Int64
}

// New constructs an empty Broker. handlePrefix is embedded in every
// issued job handle (format "<prefix>:<monotonic>") the way the
// original server embeds its own process/host identity.
func New(handlePrefix string, queue PersistentQueue, jobRetries int, logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broker{
		functions:    make(map[string]*Function),
		byHandle:     newJobHashTable(handleKey),
		byUnique:     newJobHashTable(uniqueKey),
		handlePrefix: handlePrefix,
		queue:        queue,
		jobRetries:   jobRetries,
		log:          logger,
	}
}

// lookupOrCreateFunction returns the Function named name, creating it
// lazily on first reference as §3 requires.
func (b *Broker) lookupOrCreateFunction(name string) *Function {
	if f, ok := b.functions[name]; ok {
		return f
	}
	f := newFunction(name)
	b.functions[name] = f
	return f
}

// Function returns the function named name, or nil if it has never
// been referenced.
func (b *Broker) Function(name string) *Function {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.functions[name]
}

// SetMaxQueueSize implements the "maxqueue" administrative command,
// mutating a function's cap at runtime rather than only at creation.
func (b *Broker) SetMaxQueueSize(name string, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.lookupOrCreateFunction(name)
	f.MaxQueueSize = max
}

// JobByHandle looks up a live job by its handle, for GET_STATUS.
func (b *Broker) JobByHandle(handle string) *Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byHandle.Get([]byte(handle))
}

// nextHandle issues the next monotonic job handle. Must be called with
// mu held.
func (b *Broker) nextHandle() string {
	b.idCounter++
	return fmt.Sprintf("%s:%d", b.handlePrefix, b.idCounter)
}

// SeedCounter sets the monotonic counter used for handle generation,
// e.g. from a persisted high-water mark. It must be called before
// Serve begins accepting connections.
func (b *Broker) SeedCounter(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.idCounter {
		b.idCounter = n
	}
}

// Replay invokes the persistent queue adapter's Replay operation,
// reconstructing every previously persisted job without re-persisting
// any of them, per §4.4 and §4.5.
func (b *Broker) Replay() error {
	if b.queue == nil {
		return nil
	}
	b.mu.Lock()
	b.replaying = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.replaying = false
		b.mu.Unlock()
	}()

	count := 0
	err := b.queue.Replay(func(unique, function string, data []byte, priority Priority) error {
		_, _, err := b.JobAdd(function, unique, data, priority, nil)
		if err == nil {
			count++
		}
		return err
	})
	if err != nil {
		return err
	}
	b.log.WithFields(log.Fields{"jobs": count}).Info("Replayed persisted jobs")
	return nil
}

// FunctionNames returns every function name known to the broker, for
// the "status"/"workers" administrative commands.
func (b *Broker) FunctionNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.functions))
	for name := range b.functions {
		names = append(names, name)
	}
	return names
}

// FunctionSnapshot is a point-in-time view of a function's queue depth,
// for the TEXT "status" command.
type FunctionSnapshot struct {
	Name        string
	Total       int
	Running     int
	WorkerCount int
}

// Status returns a snapshot of every known function.
func (b *Broker) Status() []FunctionSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FunctionSnapshot, 0, len(b.functions))
	for name, f := range b.functions {
		out = append(out, FunctionSnapshot{
			Name:        name,
			Total:       f.JobTotal,
			Running:     f.JobRunning,
			WorkerCount: len(f.workers),
		})
	}
	return out
}
