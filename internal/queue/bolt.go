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

// Package queue provides persistent queue adapters implementing
// broker.PersistentQueue, following the four-operation contract of
// spec.md §4.4: the broker holds one behind a stable reference and
// calls it synchronously from job lifecycle transitions.
package queue

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"

	"github.com/bossjones/gearman-server/internal/broker"
)

var jobsBucket = []byte("Jobs")

// boltRecord is what gets persisted per job, gob-encoded the way
// ferryd's jobs.JobEntry is.
type boltRecord struct {
	Unique   string
	Function string
	Data     []byte
	Priority broker.Priority
}

// BoltQueue is the default persistent queue adapter: a single BoltDB
// bucket keyed by the job's own handle. The handle is always unique
// even when the job's unique is empty, unlike "function\x00unique"
// which two background submissions of the same function would share.
type BoltQueue struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a BoltDB file at path and
// ensures the jobs bucket exists, the way jobs.NewStore does for
// ferryd's job database.
func OpenBolt(path string) (*BoltQueue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltQueue{db: db}, nil
}

func recordKey(handle string) []byte {
	return []byte(handle)
}

// Add implements broker.PersistentQueue.
func (q *BoltQueue) Add(handle, unique, function string, data []byte, priority broker.Priority) error {
	rec := boltRecord{Unique: unique, Function: function, Data: data, Priority: priority}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put(recordKey(handle), buf.Bytes())
	})
}

// Flush is a no-op: every Add already committed its own Bolt
// transaction, so there is no separate commit boundary to cross.
func (q *BoltQueue) Flush() error {
	return nil
}

// Done implements broker.PersistentQueue.
func (q *BoltQueue) Done(handle, unique, function string) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete(recordKey(handle))
	})
}

// Replay implements broker.PersistentQueue, iterating every persisted
// record and handing it to add without ever calling Add/Done itself.
func (q *BoltQueue) Replay(add func(unique, function string, data []byte, priority broker.Priority) error) error {
	return q.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(jobsBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var rec boltRecord
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
				return err
			}
			if err := add(rec.Unique, rec.Function, rec.Data, rec.Priority); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying BoltDB handle.
func (q *BoltQueue) Close() error {
	return q.db.Close()
}
