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

package core

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Process-level counters for the end-of-run summary. They are cheap atomics
// so LoadNext can update them on every batch.
var (
	batchesDelivered atomic.Int64
	samplesDelivered atomic.Int64
	shardSkips       atomic.Int64

	// settings holds human-readable configuration captured at runtime.
	settingsMu sync.RWMutex
	settings   = make(map[string]string)
)

// RecordDelivered counts one batch of n samples handed to a consumer.
func RecordDelivered(n int) {
	batchesDelivered.Add(1)
	if n > 0 {
		samplesDelivered.Add(int64(n))
	}
}

// RecordShardSkip counts shards passed over by a ShardedLoader because they
// had nothing left.
func RecordShardSkip(n int) {
	if n > 0 {
		shardSkips.Add(int64(n))
	}
}

// SetSetting captures a configuration knob for the final summary.
func SetSetting(name string, value string) {
	settingsMu.Lock()
	settings[name] = value
	settingsMu.Unlock()
}

func SetSettingInt(name string, v int64) { SetSetting(name, fmt.Sprintf("%d", v)) }
func SetSettingDuration(name string, d time.Duration) { SetSetting(name, d.String()) }
func SetSettingBool(name string, b bool) { SetSetting(name, fmt.Sprintf("%t", b)) }

// Totals is a snapshot of the summary counters.
type Totals struct {
	Batches    int64
	Samples    int64
	ShardSkips int64
}

// GetTotals returns the current counters.
func GetTotals() Totals {
	return Totals{
		Batches:    batchesDelivered.Load(),
		Samples:    samplesDelivered.Load(),
		ShardSkips: shardSkips.Load(),
	}
}

func getSettingsSnapshot() map[string]string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}

// WriteSummary prints the run totals and captured settings as a table.
func WriteSummary(w io.Writer, elapsed time.Duration) {
	t := GetTotals()
	st := getSettingsSnapshot()
	keys := make([]string, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rate := "n/a"
	if secs := elapsed.Seconds(); secs > 0 {
		rate = fmt.Sprintf("%.1f", float64(t.Samples)/secs)
	}

	sep := strings.Repeat("-", 60)
	fmt.Fprintf(w, "[%s] Loader run summary\n", time.Now().Format(time.RFC3339))
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "%-18s %12s\n", "Metric", "Value")
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "%-18s %12d\n", "Batches", t.Batches)
	fmt.Fprintf(w, "%-18s %12d\n", "Samples", t.Samples)
	fmt.Fprintf(w, "%-18s %12d\n", "Shard skips", t.ShardSkips)
	fmt.Fprintf(w, "%-18s %12s\n", "Elapsed", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "%-18s %12s\n", "Samples/sec", rate)
	fmt.Fprintln(w, sep)

	if len(keys) > 0 {
		fmt.Fprintln(w, "Configured settings")
		fmt.Fprintln(w, sep)
		fmt.Fprintf(w, "%-30s %24s\n", "Name", "Value")
		fmt.Fprintln(w, sep)
		for _, k := range keys {
			fmt.Fprintf(w, "%-30s %24s\n", k, st[k])
		}
		fmt.Fprintln(w, sep)
	}
}

// resetTotals resets counters to zero. Intended for tests only.
func resetTotals() {
	batchesDelivered.Store(0)
	samplesDelivered.Store(0)
	shardSkips.Store(0)
}

// resetSettingsForTests clears the settings registry. Intended for tests only.
func resetSettingsForTests() {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	for k := range settings {
		delete(settings, k)
	}
}
