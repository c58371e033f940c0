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

// Package logging sets up the broker's log destination and
// level-filtered verbosity gate (§2's "Logging + verbosity gate"
// component), the way ferryd's mainLoop configures a package-level
// logrus.Logger with a TextFormatter.
package logging

import (
	log "github.com/sirupsen/logrus"
)

// New builds a logrus.Logger whose level is derived from a repeated
// -v/--verbose count: 0 is Info, 1 is Debug, 2+ is Trace, matching the
// gate described in spec.md §2 and referenced by §7's propagation
// policy (ERROR for background housekeeping failures, FATAL for
// server-fatal conditions).
func New(verbosity int) *log.Logger {
	logger := log.New()

	form := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	}
	logger.SetFormatter(form)

	switch {
	case verbosity <= 0:
		logger.SetLevel(log.InfoLevel)
	case verbosity == 1:
		logger.SetLevel(log.DebugLevel)
	default:
		logger.SetLevel(log.TraceLevel)
	}

	return logger
}
