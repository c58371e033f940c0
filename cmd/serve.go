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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bossjones/gearman-server/internal/config"
	"github.com/bossjones/gearman-server/internal/logging"
	"github.com/bossjones/gearman-server/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the broker",
	Long:  "Bind every configured listener and serve client/worker connections until signaled to stop",
	Run:   runServe,
}

func init() {
	config.BindFlags(serveCmd.Flags())
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Verbose)

	srv, err := server.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to construct server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Bind(); err != nil {
		logger.WithError(err).Error("Failed to bind listeners")
		os.Exit(1)
	}

	logger.WithField("port", cfg.Port).Info("gearman-server is ready")
	if err := srv.Serve(context.Background()); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}
