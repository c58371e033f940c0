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

// Package protocol implements the wire framing of spec.md §6: a
// 12-byte header (4-byte magic, 4-byte big-endian command, 4-byte
// big-endian argument-region length) followed by NUL-separated
// arguments, the last occupying the remainder of the length with no
// trailing NUL.
package protocol

// Command identifies the operation carried by a binary packet. Values
// mirror the classic Gearman wire numbering (as also seen, partially,
// in the jasonmoo-cog client library) so the framing is recognizable,
// but this server defines its own closed set.
type Command uint32

const (
	CanDo         Command = 1
	CantDo        Command = 2
	ResetAbilities Command = 3
	PreSleep      Command = 4
	_reserved5    Command = 5
	Noop          Command = 6
	SubmitJob     Command = 7
	JobCreated    Command = 8
	GrabJob       Command = 9
	NoJob         Command = 10
	JobAssign     Command = 11
	WorkStatus    Command = 12
	WorkComplete  Command = 13
	WorkFail      Command = 14
	GetStatus     Command = 15
	EchoReq       Command = 16
	EchoRes       Command = 17
	SubmitJobBg   Command = 18
	Error         Command = 19
	StatusRes     Command = 20
	SubmitJobHigh Command = 21
	SetClientID   Command = 22
	CanDoTimeout  Command = 23
	AllYours      Command = 24
	WorkException Command = 25
	OptionReq     Command = 26
	OptionRes     Command = 27
	WorkData      Command = 28
	WorkWarning   Command = 29
	GrabJobUniq   Command = 30
	JobAssignUniq Command = 31
	SubmitJobHighBg Command = 32
	SubmitJobLow  Command = 33
	SubmitJobLowBg Command = 34
	SubmitJobSched Command = 35
	SubmitJobEpoch Command = 36
)

var commandNames = map[Command]string{
	CanDo:           "CAN_DO",
	CantDo:          "CANT_DO",
	ResetAbilities:  "RESET_ABILITIES",
	PreSleep:        "PRE_SLEEP",
	Noop:            "NOOP",
	SubmitJob:       "SUBMIT_JOB",
	JobCreated:      "JOB_CREATED",
	GrabJob:         "GRAB_JOB",
	NoJob:           "NO_JOB",
	JobAssign:       "JOB_ASSIGN",
	WorkStatus:      "WORK_STATUS",
	WorkComplete:    "WORK_COMPLETE",
	WorkFail:        "WORK_FAIL",
	GetStatus:       "GET_STATUS",
	EchoReq:         "ECHO_REQ",
	EchoRes:         "ECHO_RES",
	SubmitJobBg:     "SUBMIT_JOB_BG",
	Error:           "ERROR",
	StatusRes:       "STATUS_RES",
	SubmitJobHigh:   "SUBMIT_JOB_HIGH",
	SetClientID:     "SET_CLIENT_ID",
	CanDoTimeout:    "CAN_DO_TIMEOUT",
	AllYours:        "ALL_YOURS",
	WorkException:   "WORK_EXCEPTION",
	OptionReq:       "OPTION_REQ",
	OptionRes:       "OPTION_RES",
	WorkData:        "WORK_DATA",
	WorkWarning:     "WORK_WARNING",
	GrabJobUniq:     "GRAB_JOB_UNIQ",
	JobAssignUniq:   "JOB_ASSIGN_UNIQ",
	SubmitJobHighBg: "SUBMIT_JOB_HIGH_BG",
	SubmitJobLow:    "SUBMIT_JOB_LOW",
	SubmitJobLowBg:  "SUBMIT_JOB_LOW_BG",
	SubmitJobSched:  "SUBMIT_JOB_SCHED",
	SubmitJobEpoch:  "SUBMIT_JOB_EPOCH",
}

// String implements fmt.Stringer for logging.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for c, name := range commandNames {
		m[name] = c
	}
	return m
}()

// ByName looks up a Command by its protocol keyword, e.g. "WORK_COMPLETE".
func ByName(name string) (Command, bool) {
	c, ok := commandsByName[name]
	return c, ok
}

// argCounts gives the number of NUL-separated fields each command
// carries, so Decode knows where to split the argument region. Only
// the last field may contain embedded NULs (e.g. job payload data).
var argCounts = map[Command]int{
	CanDo:           1, // function
	CantDo:          1, // function
	ResetAbilities:  0,
	PreSleep:        0,
	Noop:            0,
	SubmitJob:       3, // function, unique, data
	SubmitJobBg:     3,
	SubmitJobHigh:   3,
	SubmitJobHighBg: 3,
	SubmitJobLow:    3,
	SubmitJobLowBg:  3,
	SubmitJobSched:  8, // function, unique, minute, hour, day, month, year, data
	SubmitJobEpoch:  4, // function, unique, epoch, data
	JobCreated:      1, // handle
	GrabJob:         0,
	GrabJobUniq:     0,
	NoJob:           0,
	JobAssign:       3, // handle, function, data
	JobAssignUniq:   4, // handle, function, unique, data
	WorkStatus:      3, // handle, numerator, denominator
	WorkComplete:    2, // handle, data
	WorkFail:        1, // handle
	WorkException:   2, // handle, data
	WorkData:        2, // handle, data
	WorkWarning:     2, // handle, data
	GetStatus:       1, // handle
	StatusRes:       5, // handle, known, running, numerator, denominator
	EchoReq:         1,
	EchoRes:         1,
	Error:           2, // code, message
	SetClientID:     1,
	CanDoTimeout:    2, // function, timeout
	AllYours:        0,
	OptionReq:       1,
	OptionRes:       1,
}

// ArgCount reports how many NUL-separated fields c's argument region
// splits into.
func ArgCount(c Command) int {
	return argCounts[c]
}

const maxArgs = 8
