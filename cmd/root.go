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

package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd is the main entry point into the broker's CLI.
var RootCmd = &cobra.Command{
	Use:   "gearman-server",
	Short: "gearman-server is a distributed job queue broker",
}

// Execute runs the root command and returns any error to the caller;
// main prints it and exits non-zero.
func Execute() error {
	return RootCmd.Execute()
}
