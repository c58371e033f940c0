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

package queue

import (
	"sync"

	"github.com/bossjones/gearman-server/internal/broker"
)

// MemoryQueue is a non-durable broker.PersistentQueue, useful for
// "--queue-type memory" test and development deployments where surviving
// a restart doesn't matter but the Add/Done bookkeeping still needs to
// be exercised. Records are keyed by the job's own handle rather than
// by (function, unique), since two background jobs for the same
// function with no supplied unique must not collide.
type MemoryQueue struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	unique   string
	function string
	data     []byte
	priority broker.Priority
}

// NewMemory constructs an empty MemoryQueue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{records: make(map[string]memoryRecord)}
}

// Add implements broker.PersistentQueue.
func (m *MemoryQueue) Add(handle, unique, function string, data []byte, priority broker.Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[handle] = memoryRecord{unique: unique, function: function, data: data, priority: priority}
	return nil
}

// Flush implements broker.PersistentQueue; there is nothing to commit.
func (m *MemoryQueue) Flush() error { return nil }

// Done implements broker.PersistentQueue.
func (m *MemoryQueue) Done(handle, unique, function string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, handle)
	return nil
}

// Replay implements broker.PersistentQueue.
func (m *MemoryQueue) Replay(add func(unique, function string, data []byte, priority broker.Priority) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if err := add(rec.unique, rec.function, rec.data, rec.priority); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of records currently held, used by tests.
func (m *MemoryQueue) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
