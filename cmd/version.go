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
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the broker's release version, set at build time via
// -ldflags "-X github.com/bossjones/gearman-server/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "show version",
	Long:  "Print the broker version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gearman-server %s\n\nCopyright © 2017 Solus Project\n", Version)
		fmt.Printf("Licensed under the Apache License, Version 2.0\n")
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
