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
	"bytes"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/radu-munteanu/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/bossjones/gearman-server/internal/broker"
)

// SpoolQueue is a directory-backed broker.PersistentQueue: one file
// per job under dir, named "<handle>.job". Jobs are keyed by their own
// broker-issued handle rather than by (function, unique), since two
// background jobs for the same function with no supplied unique must
// not collide on the same filename. It exists for operators who want
// jobs inspectable as plain files rather than opaque BoltDB pages, and
// it watches dir the way ferryd's monitor.go watches its incoming
// directory, logging a warning for every file removed from dir. The
// watch does not tell removals made by Done apart from removals made
// by anything else, so each completed job is logged too.
type SpoolQueue struct {
	dir     string
	log     *log.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup
}

type spoolRecord struct {
	Unique   string
	Function string
	Data     []byte
	Priority broker.Priority
}

// OpenSpool creates dir if needed and starts watching it.
func OpenSpool(dir string, logger *log.Logger) (*SpoolQueue, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	s := &SpoolQueue{dir: dir, log: logger, watcher: watcher, stop: make(chan struct{})}
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

func (s *SpoolQueue) watch() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.watcher.Events:
			if event.Op&fsnotify.Remove == fsnotify.Remove {
				s.log.WithFields(log.Fields{
					"path": event.Name,
				}).Warning("Spooled job file removed")
			}
		case err := <-s.watcher.Errors:
			if err != nil {
				s.log.WithFields(log.Fields{"error": err}).Error("Spool directory watch error")
			}
		case <-s.stop:
			return
		}
	}
}

func (s *SpoolQueue) pathFor(handle string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.job", sanitize(handle)))
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '/' || c == os.PathSeparator || c == 0 {
			b[i] = '_'
		}
	}
	if len(b) == 0 {
		return "_"
	}
	return string(b)
}

// Add implements broker.PersistentQueue.
func (s *SpoolQueue) Add(handle, unique, function string, data []byte, priority broker.Priority) error {
	rec := spoolRecord{Unique: unique, Function: function, Data: data, Priority: priority}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return ioutil.WriteFile(s.pathFor(handle), buf.Bytes(), 0640)
}

// Flush is a no-op: each Add already wrote and closed its file.
func (s *SpoolQueue) Flush() error { return nil }

// Done implements broker.PersistentQueue.
func (s *SpoolQueue) Done(handle, unique, function string) error {
	err := os.Remove(s.pathFor(handle))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Replay implements broker.PersistentQueue by reading every *.job file
// in dir.
func (s *SpoolQueue) Replay(add func(unique, function string, data []byte, priority broker.Priority) error) error {
	entries, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".job" {
			continue
		}
		raw, err := ioutil.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return err
		}
		var rec spoolRecord
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
			s.log.WithFields(log.Fields{"file": entry.Name(), "error": err}).Error("Skipping unreadable spool file")
			continue
		}
		if err := add(rec.Unique, rec.Function, rec.Data, rec.Priority); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the directory watch.
func (s *SpoolQueue) Close() error {
	close(s.stop)
	s.wg.Wait()
	return s.watcher.Close()
}
