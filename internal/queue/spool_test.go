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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bossjones/gearman-server/internal/broker"
)

func TestSpoolQueueReplaysWrittenFiles(t *testing.T) {
	s, err := OpenSpool(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add("gearmand:1", "u1", "f", []byte("a"), broker.PriorityHigh))
	require.NoError(t, s.Add("gearmand:2", "u2", "f", []byte("b"), broker.PriorityLow))

	count := 0
	err = s.Replay(func(unique, function string, data []byte, priority broker.Priority) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, s.Done("gearmand:1", "u1", "f"))
	count = 0
	require.NoError(t, s.Replay(func(unique, function string, data []byte, priority broker.Priority) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

// TestSpoolQueueEmptyUniqueJobsPersistIndependently guards against
// filenames colliding when two background jobs for the same function
// submit with no unique: each must get its own file, keyed on handle,
// and Done must remove only the file for the handle it was given.
func TestSpoolQueueEmptyUniqueJobsPersistIndependently(t *testing.T) {
	s, err := OpenSpool(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add("gearmand:1", "", "f", []byte("first"), broker.PriorityNormal))
	require.NoError(t, s.Add("gearmand:2", "", "f", []byte("second"), broker.PriorityNormal))

	seen := make(map[string][]byte)
	count := 0
	err = s.Replay(func(unique, function string, data []byte, priority broker.Priority) error {
		count++
		seen[string(data)] = data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Contains(t, seen, "first")
	assert.Contains(t, seen, "second")

	require.NoError(t, s.Done("gearmand:1", "", "f"))
	count = 0
	require.NoError(t, s.Replay(func(unique, function string, data []byte, priority broker.Priority) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}
