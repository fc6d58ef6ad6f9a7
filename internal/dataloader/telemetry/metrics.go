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

// Package telemetry exposes opt-in Prometheus metrics for loaders and a
// periodic log summary of loader throughput.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mediaload/internal/logging"
)

// Config controls the telemetry module.
//
// Notes:
//   - MetricsAddr, when non-empty, starts a dedicated HTTP server that serves /metrics.
//     Leave it empty when the process already exposes promhttp elsewhere.
//   - LogInterval == 0 disables the summary exporter loop.
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	MetricsAddr string        `mapstructure:"addr"`
	LogInterval time.Duration `mapstructure:"log_interval"`
}

var (
	modEnabled atomic.Bool

	// Labels are bounded: modality is one of four values, shard is a small index.
	batchesLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaload_batches_loaded_total",
		Help: "Batches decoded into the buffer by producers",
	}, []string{"modality"})
	batchesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaload_batches_delivered_total",
		Help: "Batches handed to consumers by LoadNext",
	}, []string{"modality"})
	samplesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaload_samples_delivered_total",
		Help: "Samples handed to consumers by LoadNext",
	}, []string{"modality"})
	loadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaload_load_failures_total",
		Help: "Producer load attempts that did not yield a batch, by status",
	}, []string{"modality", "status"})
	swapFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaload_swap_failures_total",
		Help: "Sink handle swaps rejected during LoadNext",
	}, []string{"modality"})
	bufferLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediaload_buffer_level",
		Help: "Filled slots waiting for the consumer",
	}, []string{"modality", "shard"})
	loadNextWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediaload_load_next_wait_seconds",
		Help:    "Time LoadNext spent waiting for a filled slot",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"modality"})
	batchDecode = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediaload_batch_decode_seconds",
		Help:    "Time spent reading and decoding one batch",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"modality"})

	// Process totals for the summary exporter.
	loadedAll    atomic.Int64
	deliveredAll atomic.Int64
	samplesAll   atomic.Int64
	failuresAll  atomic.Int64

	serverMu sync.Mutex
	server   *http.Server
)

func init() {
	prometheus.MustRegister(batchesLoaded, batchesDelivered, samplesDelivered, loadFailures,
		swapFailures, bufferLevel, loadNextWait, batchDecode)
}

// Enable configures the module. Safe to call multiple times; each call
// replaces the previous exporter loop and metrics server.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	startOrUpdateExporter(cfg)

	stopMetricsEndpoint()
	if cfg.Enabled && cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether observations are recorded.
func Enabled() bool { return modEnabled.Load() }

// ObserveBatchLoaded records one batch pushed by a producer.
func ObserveBatchLoaded(modality string, took time.Duration) {
	if !modEnabled.Load() {
		return
	}
	batchesLoaded.WithLabelValues(modality).Inc()
	batchDecode.WithLabelValues(modality).Observe(took.Seconds())
	loadedAll.Add(1)
}

// ObserveDelivered records one batch of n samples returned by LoadNext after
// waiting wait for it.
func ObserveDelivered(modality string, n int, wait time.Duration) {
	if !modEnabled.Load() || n <= 0 {
		return
	}
	batchesDelivered.WithLabelValues(modality).Inc()
	samplesDelivered.WithLabelValues(modality).Add(float64(n))
	loadNextWait.WithLabelValues(modality).Observe(wait.Seconds())
	deliveredAll.Add(1)
	samplesAll.Add(int64(n))
}

// ObserveLoadFailure records a producer attempt that ended with status.
func ObserveLoadFailure(modality, status string) {
	if !modEnabled.Load() {
		return
	}
	loadFailures.WithLabelValues(modality, status).Inc()
	failuresAll.Add(1)
}

// ObserveSwapFailure records a sink that rejected a slot handle.
func ObserveSwapFailure(modality string) {
	if !modEnabled.Load() {
		return
	}
	swapFailures.WithLabelValues(modality).Inc()
}

// SetBufferLevel publishes the ring level of one shard.
func SetBufferLevel(modality string, shard, level int) {
	if !modEnabled.Load() {
		return
	}
	bufferLevel.WithLabelValues(modality, strconv.Itoa(shard)).Set(float64(level))
}

// startMetricsEndpoint exposes /metrics on addr in a background goroutine.
func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serverMu.Lock()
	server = srv
	serverMu.Unlock()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Named("telemetry").Warn("metrics endpoint stopped", zap.String(logging.KeyAddr, addr), zap.Error(err))
		}
	}()
}

func stopMetricsEndpoint() {
	serverMu.Lock()
	srv := server
	server = nil
	serverMu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
