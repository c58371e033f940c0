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

// Package server wires the broker to the network: TCP listeners, the
// N I/O-thread Shards of §5, and the read-only admin HTTP/TEXT
// surfaces of §6. It plays the role ferryd's own Server (server.go,
// main.go) plays for ferryd's job processor: Bind/Serve/Shutdown own the
// process lifecycle, and everything domain-specific is delegated to
// internal/broker.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bossjones/gearman-server/internal/broker"
	"github.com/bossjones/gearman-server/internal/config"
)

// queueCloser is implemented by the concrete queue adapters that hold
// an OS resource (BoltDB file handle, spool directory watch).
type queueCloser interface {
	Close() error
}

// Server owns the broker, the persistent queue adapter, every
// listening socket, and the N Shards those sockets' connections are
// round-robined across.
type Server struct {
	cfg config.Config
	log *log.Logger

	broker *broker.Broker
	queue  broker.PersistentQueue

	listeners []net.Listener
	shards    []*Shard
	nextShard uint64

	adminSrv   *http.Server
	metricsSrv *http.Server

	group *errgroup.Group
}

// New constructs a Server from cfg, installing the configured
// persistent queue adapter, but does not yet bind any sockets.
func New(cfg config.Config, logger *log.Logger) (*Server, error) {
	q, err := openQueue(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening persistent queue: %w", err)
	}

	prefix := handlePrefix()
	brk := broker.New(prefix, q, cfg.JobRetries, logger)

	if cfg.QueueType != "memory" {
		logger.WithField("dir", socketDir(cfg.QueueDB)).Debug("Persistent queue storage directory")
	}

	s := &Server{
		cfg:    cfg,
		log:    logger,
		broker: brk,
		queue:  q,
	}

	for i := 0; i < cfg.Threads; i++ {
		s.shards = append(s.shards, newShard(i, s))
	}

	return s, nil
}

func handlePrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gearmand"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// openQueue constructs the configured broker.PersistentQueue adapter.
// It is a var so tests can substitute an in-memory queue without
// touching disk.
var openQueue = func(cfg config.Config, logger *log.Logger) (broker.PersistentQueue, error) {
	switch cfg.QueueType {
	case "", "bolt":
		return newBoltAdapter(cfg.QueueDB)
	case "spool":
		return newSpoolAdapter(cfg.QueueDB, logger)
	case "memory":
		return newMemoryAdapter()
	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.QueueType)
	}
}

// Broker exposes the broker for tests and for admin handlers.
func (s *Server) Broker() *broker.Broker { return s.broker }

// Bind opens every configured listener (honoring systemd socket
// activation when LISTEN_FDS is set, per ferryd's server.go Bind), and
// replays the persistent queue so in-flight work survives a restart.
func (s *Server) Bind() error {
	if err := s.broker.Replay(); err != nil {
		return fmt.Errorf("replaying persistent queue: %w", err)
	}

	if listeners, ok := os.LookupEnv("LISTEN_FDS"); ok && listeners != "" {
		activated, err := activation.Listeners()
		if err != nil {
			return err
		}
		s.listeners = activated
		s.log.WithFields(log.Fields{"count": len(activated)}).Info("Using systemd-activated listeners")
		return nil
	}

	for _, addr := range s.cfg.ListenAddrs {
		l, err := listenTCPWithBacklog(addr, s.cfg.Port, s.cfg.Backlog)
		if err != nil {
			return fmt.Errorf("binding %s:%d: %w", addr, s.cfg.Port, err)
		}
		s.listeners = append(s.listeners, l)
		s.log.WithFields(log.Fields{"addr": l.Addr().String(), "backlog": s.cfg.Backlog}).Info("Listening")
	}
	return nil
}

// listenTCPWithBacklog binds and listens on addr:port with the given
// listen(2) backlog. net.Listen has no way to ask for anything other
// than the OS's own maximum backlog, so this builds the socket by hand
// -- the same socket/bind/listen sequence net.Listen runs internally,
// just with our own backlog argument on the final syscall -- and hands
// the resulting fd back to the standard library via net.FileListener.
func listenTCPWithBacklog(addr string, port, backlog int) (net.Listener, error) {
	domain := syscall.AF_INET
	var sa syscall.Sockaddr
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() != nil {
		var addr4 [4]byte
		if ip != nil {
			copy(addr4[:], ip.To4())
		}
		sa = &syscall.SockaddrInet4{Port: port, Addr: addr4}
	} else {
		domain = syscall.AF_INET6
		var addr16 [16]byte
		copy(addr16[:], ip.To16())
		sa = &syscall.SockaddrInet6{Port: port, Addr: addr16}
	}

	fd, err := syscall.Socket(domain, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := syscall.Bind(fd, sa); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if backlog <= 0 {
		backlog = syscall.SOMAXCONN
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	file := os.NewFile(uintptr(fd), "tcp-listener-"+addr+":"+strconv.Itoa(port))
	defer file.Close()
	return net.FileListener(file)
}

// Serve starts every Shard, begins accepting on every listener, starts
// the optional admin HTTP and metrics surfaces, and blocks until an
// OS signal or a fatal error brings it down.
func (s *Server) Serve(ctx context.Context) error {
	if len(s.listeners) == 0 {
		return errors.New("cannot serve without a bound listener")
	}

	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	for _, sh := range s.shards {
		sh := sh
		group.Go(func() error {
			sh.run()
			return nil
		})
	}

	for _, l := range s.listeners {
		l := l
		group.Go(func() error {
			return s.acceptLoop(gctx, l)
		})
	}

	if s.cfg.AdminHTTPAddr != "" {
		s.startAdminHTTP()
	}
	if s.cfg.MetricsAddr != "" {
		s.startMetrics()
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	group.Go(func() error {
		select {
		case <-sigCh:
			s.log.Warning("Received shutdown signal")
			s.Shutdown(false)
		case <-gctx.Done():
		}
		return nil
	})

	return group.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithFields(log.Fields{"error": err}).Error("Accept error")
			continue
		}
		idx := atomic.AddUint64(&s.nextShard, 1) % uint64(len(s.shards))
		s.shards[idx].adopt <- conn
	}
}

// Shutdown tears the server down, either immediately (aborting
// in-flight jobs and removing their persisted records) or gracefully
// (waiting for every connection to drain on its own), per §4.5.
func (s *Server) Shutdown(graceful bool) {
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	op := wakeShutdownImmediate
	if graceful {
		op = wakeShutdownGraceful
	}
	for _, sh := range s.shards {
		sh.wake <- op
	}
	for _, l := range s.listeners {
		_ = l.Close()
	}
	if s.adminSrv != nil {
		_ = s.adminSrv.Close()
	}
	if s.metricsSrv != nil {
		_ = s.metricsSrv.Close()
	}
	if closer, ok := s.queue.(queueCloser); ok {
		_ = closer.Close()
	}
}

func (s *Server) startAdminHTTP() {
	router := httprouter.New()
	router.GET("/status", s.httpStatus)
	router.GET("/workers", s.httpWorkers)
	router.GET("/version", s.httpVersion)
	s.adminSrv = &http.Server{Addr: s.cfg.AdminHTTPAddr, Handler: router}
	go func() {
		if err := s.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithFields(log.Fields{"error": err}).Error("Admin HTTP server failed")
		}
	}()
}

func (s *Server) startMetrics() {
	s.registerMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithFields(log.Fields{"error": err}).Error("Metrics server failed")
		}
	}()
}

func (s *Server) registerMetrics() {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gearmand_jobs_created_total",
		Help: "Jobs created since startup",
	}, func() float64 { return float64(s.broker.JobsCreated.Load()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gearmand_jobs_completed_total",
		Help: "Jobs completed since startup",
	}, func() float64 { return float64(s.broker.JobsCompleted.Load()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gearmand_jobs_failed_total",
		Help: "Jobs failed since startup",
	}, func() float64 { return float64(s.broker.JobsFailed.Load()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gearmand_noops_sent_total",
		Help: "NOOP wake-ups sent to sleeping workers since startup",
	}, func() float64 { return float64(s.broker.NoopsSent.Load()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gearmand_connections",
		Help: "Live connections across every I/O thread",
	}, func() float64 {
		total := 0
		for _, sh := range s.shards {
			total += sh.connectionCount()
		}
		return float64(total)
	})
}

func newBoltAdapter(path string) (broker.PersistentQueue, error) {
	return openBoltQueueAt(path)
}

func newSpoolAdapter(dir string, logger *log.Logger) (broker.PersistentQueue, error) {
	return openSpoolQueueAt(dir, logger)
}

func newMemoryAdapter() (broker.PersistentQueue, error) {
	return newMemoryQueue(), nil
}

// socketDir is used by administrative tooling that wants a
// predictable place to find the broker's artifacts; kept as a small
// helper rather than inlined so tests can override the queue db
// location relative to a temp dir.
func socketDir(path string) string {
	return filepath.Dir(path)
}
