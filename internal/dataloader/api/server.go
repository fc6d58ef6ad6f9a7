// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves loader progress over HTTP: a JSON stats snapshot, a
// health check and, when asked, the Prometheus registry.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mediaload/internal/dataloader/core"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/logging"
)

// Source is the loader state the server reports. core.Loader and
// core.ShardedLoader implement it.
type Source interface {
	RemainingCount() int
	Level() int
	State() core.State
	Names() []string
	Timing() decode.Timing
}

// Config of the HTTP listener. Zero timeouts take the defaults below.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Metrics mounts promhttp on /metrics.
	Metrics bool
}

// Stats is the body of GET /stats.
type Stats struct {
	State     string   `json:"state"`
	Epoch     int64    `json:"epoch"`
	Remaining int      `json:"remaining"`
	Level     int      `json:"level"`
	LastNames []string `json:"last_names,omitempty"`

	ReadMs    float64 `json:"read_ms"`
	DecodeMs  float64 `json:"decode_ms"`
	ProcessMs float64 `json:"process_ms"`

	BatchesDelivered int64   `json:"batches_delivered"`
	SamplesDelivered int64   `json:"samples_delivered"`
	ShardSkips       int64   `json:"shard_skips"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// Server reports on one loader.
type Server struct {
	src     Source
	started time.Time
	epoch   atomic.Int64
	metrics bool
	log     *zap.Logger
}

func NewServer(src Source) *Server {
	return &Server{src: src, started: time.Now(), log: logging.Named("api")}
}

// SetEpoch records the epoch the consumer is in.
func (s *Server) SetEpoch(n int64) { s.epoch.Store(n) }

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
}

// Snapshot collects the current Stats.
func (s *Server) Snapshot() Stats {
	t := s.src.Timing()
	totals := core.GetTotals()
	return Stats{
		State:            s.src.State().String(),
		Epoch:            s.epoch.Load(),
		Remaining:        s.src.RemainingCount(),
		Level:            s.src.Level(),
		LastNames:        s.src.Names(),
		ReadMs:           ms(t.ReadTime),
		DecodeMs:         ms(t.DecodeTime),
		ProcessMs:        ms(t.ProcessTime),
		BatchesDelivered: totals.Batches,
		SamplesDelivered: totals.Samples,
		ShardSkips:       totals.ShardSkips,
		UptimeSeconds:    time.Since(s.started).Seconds(),
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.log.Warn("writing stats response", zap.Error(err))
	}
}

// handleHealth reports 503 once the loader has stopped.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	switch st := s.src.State(); st {
	case core.Initialized, core.Loading:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	default:
		http.Error(w, st.String(), http.StatusServiceUnavailable)
	}
}

// ListenAndServe serves until ctx is done, then shuts the listener down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, cfg Config) error {
	s.metrics = cfg.Metrics
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  orDefault(cfg.ReadTimeout, 5*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 10*time.Second),
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("stats server listening", zap.String(logging.KeyAddr, cfg.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "stats server")
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), orDefault(cfg.ShutdownTimeout, 5*time.Second))
	defer cancel()
	if err := httpServer.Shutdown(shutCtx); err != nil {
		return errors.Wrap(err, "stats server shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "stats server")
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
