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

// PersistentQueue is the four-operation contract of §4.4. The broker
// holds a reference to one and calls it synchronously from job
// lifecycle transitions; it does not interpret how the adapter stores
// anything.
type PersistentQueue interface {
	// Add persists a freshly created, non-replay job. Called before
	// the job becomes takeable. handle is the job's own broker-issued
	// handle, always non-empty and unique even when unique is empty
	// (the common background-submission case), so adapters must key
	// their storage on handle rather than on (function, unique) alone
	// -- two background jobs for the same function with no supplied
	// unique are distinct live jobs and must not collide.
	Add(handle, unique, function string, data []byte, priority Priority) error

	// Flush commits any buffered Add calls. Called after every Add; the
	// broker treats Add+Flush as one commit boundary.
	Flush() error

	// Done removes the persisted record for a terminally completed or
	// rolled-back job, keyed the same way Add keyed it: by handle.
	Done(handle, unique, function string) error

	// Replay iterates every persisted record at startup, invoking add
	// once per record. The broker supplies add as a thin wrapper over
	// JobAdd with replay semantics; adapters must not call Add/Flush
	// themselves during Replay.
	Replay(add func(unique, function string, data []byte, priority Priority) error) error
}
