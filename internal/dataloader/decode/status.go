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

// Package decode turns batches of encoded samples into packed tensor data
// inside a loader slot. Each ReadAndDecode orchestrator reads one batch
// serially from its reader and decodes the samples in parallel.
package decode

import (
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of loading one batch.
type Status int

const (
	StatusOK Status = iota
	// StatusNoMoreData: fewer samples than a batch are left in the epoch.
	StatusNoMoreData
	// StatusNoFiles: the reader has nothing to serve at all.
	StatusNoFiles
	StatusDecodeFailed
	StatusNotInitialized
	StatusHostBufferSwapFailed
	StatusDeviceBufferSwapFailed
	// StatusStopped: the loader was shut down while the caller waited.
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoMoreData:
		return "no_more_data"
	case StatusNoFiles:
		return "no_files"
	case StatusDecodeFailed:
		return "decode_failed"
	case StatusNotInitialized:
		return "not_initialized"
	case StatusHostBufferSwapFailed:
		return "host_buffer_swap_failed"
	case StatusDeviceBufferSwapFailed:
		return "device_buffer_swap_failed"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Timing of the most recent batch.
type Timing struct {
	ReadTime    time.Duration
	DecodeTime  time.Duration
	ProcessTime time.Duration
}

// Stopwatch measures consecutive phases of one batch.
type Stopwatch struct {
	start time.Time
}

// StartStopwatch returns a running stopwatch.
func StartStopwatch() Stopwatch { return Stopwatch{start: time.Now()} }

// Lap returns the time since the last lap (or start) and restarts.
func (s *Stopwatch) Lap() time.Duration {
	now := time.Now()
	d := now.Sub(s.start)
	s.start = now
	return d
}

// timingCell is a mutex-guarded Timing shared by a producer and readers of
// Timing().
type timingCell struct {
	mu sync.Mutex
	t  Timing
}

func (c *timingCell) set(read, decode time.Duration) {
	c.mu.Lock()
	c.t.ReadTime, c.t.DecodeTime = read, decode
	c.mu.Unlock()
}

func (c *timingCell) get() Timing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Kind selects what happens to the encoded bytes.
type Kind int

const (
	// Auto decodes samples according to the modality.
	Auto Kind = iota
	// SkipDecode copies the encoded bytes into the slot unchanged.
	SkipDecode
)

// Config of an orchestrator. It is passed by value.
type Config struct {
	Kind Kind
	// NumThreads bounds parallel sample decodes. Zero or less means one.
	NumThreads int
}

func (c Config) threads() int {
	if c.NumThreads <= 0 {
		return 1
	}
	return c.NumThreads
}
