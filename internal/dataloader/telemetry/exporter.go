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

package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mediaload/internal/logging"
)

type point struct {
	ts        time.Time
	loaded    int64
	delivered int64
	samples   int64
	failures  int64
}

var (
	exporterMu   sync.Mutex
	exporterStop chan struct{}
	exporterDone chan struct{}
	lastPoint    point
)

// startOrUpdateExporter stops any running exporter loop and starts a new one
// when the config asks for it.
func startOrUpdateExporter(cfg Config) {
	exporterMu.Lock()
	defer exporterMu.Unlock()

	if exporterStop != nil {
		close(exporterStop)
		<-exporterDone
		exporterStop, exporterDone = nil, nil
	}
	if !cfg.Enabled || cfg.LogInterval <= 0 {
		return
	}
	lastPoint = snapshot()
	exporterStop = make(chan struct{})
	exporterDone = make(chan struct{})
	go exporterLoop(cfg.LogInterval, exporterStop, exporterDone)
}

func exporterLoop(every time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			publishSnapshot()
		case <-stop:
			return
		}
	}
}

func snapshot() point {
	return point{
		ts:        time.Now(),
		loaded:    loadedAll.Load(),
		delivered: deliveredAll.Load(),
		samples:   samplesAll.Load(),
		failures:  failuresAll.Load(),
	}
}

// publishSnapshot logs the throughput since the previous snapshot.
func publishSnapshot() {
	now := snapshot()
	prev := lastPoint
	lastPoint = now

	secs := now.ts.Sub(prev.ts).Seconds()
	if secs <= 0 {
		return
	}
	logging.Named("telemetry").Info("loader throughput",
		zap.Int64("batches_loaded", now.loaded-prev.loaded),
		zap.Int64("batches_delivered", now.delivered-prev.delivered),
		zap.Int64("samples_delivered", now.samples-prev.samples),
		zap.Int64("load_failures", now.failures-prev.failures),
		zap.Float64("samples_per_sec", float64(now.samples-prev.samples)/secs))
}
