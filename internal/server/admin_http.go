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
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// httpStatus is the JSON sibling of the TEXT "status" admin command,
// for operators who'd rather scrape it than open a raw socket, the way
// ferryd exposes its job state over its own local HTTP API instead of
// a bespoke line protocol.
func (s *Server) httpStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.broker.Status())
}

type httpWorker struct {
	Shard     int      `json:"shard"`
	ClientID  string   `json:"client_id"`
	Functions []string `json:"functions"`
}

// httpWorkers is the JSON sibling of the TEXT "workers" admin command.
func (s *Server) httpWorkers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var out []httpWorker
	for _, sh := range s.shards {
		sh.mu.Lock()
		for conn := range sh.conns {
			if conn.worker == nil {
				continue
			}
			fns := make([]string, 0, len(conn.worker.Abilities))
			for _, a := range conn.worker.Abilities {
				fns = append(fns, a.Function.Name)
			}
			out = append(out, httpWorker{Shard: sh.id, ClientID: conn.worker.ClientID, Functions: fns})
		}
		sh.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// httpVersion reports the broker's administrative version string,
// matching the TEXT "version" command.
func (s *Server) httpVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"version": version})
}
