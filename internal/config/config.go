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

// Package config binds the broker's administrative CLI surface
// (spec.md §6) to cobra/pflag flags, a viper-managed config file/env
// layer, and an optional development .env file, the way
// ahmedosamasayed-otlpxy layers viper over its flags and
// rcmukkamala-weather-server loads a .env before reading its settings.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the administrative surface of spec.md §6.
type Config struct {
	Threads       int
	Port          int
	ListenAddrs   []string
	Backlog       int
	JobRetries    int
	WorkerWakeup  int
	QueueType     string
	QueueDB       string
	AdminHTTPAddr string
	MetricsAddr   string
	Verbose       int
}

// Default returns the broker's out-of-the-box configuration.
func Default() Config {
	return Config{
		Threads:       4,
		Port:          4730,
		ListenAddrs:   []string{"0.0.0.0"},
		Backlog:       64,
		JobRetries:    0,
		WorkerWakeup:  0,
		QueueType:     "bolt",
		QueueDB:       "gearman-server.db",
		AdminHTTPAddr: "",
		MetricsAddr:   "",
		Verbose:       0,
	}
}

// BindFlags registers every Config field as a pflag on fs, pre-filled
// with its Default() value, the way ferryd's mainLoop wires pflag
// directly and otlpxy additionally mirrors flags into viper.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Int("threads", d.Threads, "number of I/O threads")
	fs.Int("port", d.Port, "TCP port to listen on")
	fs.StringSlice("listen", d.ListenAddrs, "addresses to bind (one listener per address)")
	fs.Int("backlog", d.Backlog, "listen() backlog")
	fs.Int("job-retries", d.JobRetries, "accepted but not consulted by dispatch, see spec.md §9")
	fs.Int("worker-wakeup", d.WorkerWakeup, "reserved for future worker-affinity wakeups")
	fs.String("queue-type", d.QueueType, "persistent queue adapter: bolt, spool, or memory")
	fs.String("queue-db", d.QueueDB, "path to the queue adapter's database file or spool directory")
	fs.String("admin-http", d.AdminHTTPAddr, "address for the read-only admin HTTP surface, empty to disable")
	fs.String("metrics-addr", d.MetricsAddr, "address for the Prometheus /metrics endpoint, empty to disable")
	fs.CountP("verbose", "v", "increase log verbosity (repeatable)")
}

// Load reads a config file (if present) and environment variables via
// viper, binds fs's flags on top (flags win), and returns the result.
// It loads a .env file first, non-fatally, purely for local
// development convenience.
func Load(fs *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEARMAND")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetConfigName("gearman-server")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gearman-server")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.Threads = v.GetInt("threads")
	cfg.Port = v.GetInt("port")
	if addrs := v.GetStringSlice("listen"); len(addrs) > 0 {
		cfg.ListenAddrs = addrs
	}
	cfg.Backlog = v.GetInt("backlog")
	cfg.JobRetries = v.GetInt("job-retries")
	cfg.WorkerWakeup = v.GetInt("worker-wakeup")
	cfg.QueueType = v.GetString("queue-type")
	cfg.QueueDB = v.GetString("queue-db")
	cfg.AdminHTTPAddr = v.GetString("admin-http")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.Verbose = v.GetInt("verbose")
	return cfg, nil
}
