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

package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/bossjones/gearman-server/internal/broker"
	"github.com/bossjones/gearman-server/internal/queue"
)

// openBoltQueueAt and its siblings adapt internal/queue's constructors
// to return broker.PersistentQueue, keeping the --queue-type switch in
// server.go free of internal/queue's concrete types.
func openBoltQueueAt(path string) (broker.PersistentQueue, error) {
	return queue.OpenBolt(path)
}

func openSpoolQueueAt(dir string, logger *log.Logger) (broker.PersistentQueue, error) {
	return queue.OpenSpool(dir, logger)
}

func newMemoryQueue() broker.PersistentQueue {
	return queue.NewMemory()
}
