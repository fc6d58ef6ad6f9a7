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
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/internal/logging"
	"mediaload/pkg/memory"
)

// ShardedLoader presents several Loaders, one per shard, as a single
// sequential stream. Pulls rotate round-robin over the shards and skip
// shards that have nothing left in the epoch.
type ShardedLoader struct {
	mod   Modality
	count int
	opts  []Option
	log   *zap.Logger

	mu       sync.Mutex
	sink     Sink
	prefetch int
	shards   []*Loader
	ready    atomic.Bool

	// next is only touched by the consumer goroutine.
	next int
	last atomic.Pointer[Loader]
}

// NewShardedLoader returns an uninitialized loader over shardCount shards.
func NewShardedLoader(mod Modality, shardCount int, opts ...Option) (*ShardedLoader, error) {
	if shardCount <= 0 {
		return nil, errors.Wrapf(ErrInvalidShardCount, "shards=%d", shardCount)
	}
	log := buildOptions(opts).log
	if log == nil {
		log = logging.Named("sharded")
	}
	return &ShardedLoader{
		mod:      mod,
		count:    shardCount,
		opts:     opts,
		log:      log.With(zap.String(logging.KeyModality, mod.Name()), zap.Int(logging.KeyShards, shardCount)),
		prefetch: DefaultPrefetchDepth,
	}, nil
}

func (s *ShardedLoader) SetOutput(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *ShardedLoader) SetPrefetchDepth(n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidPrefetchDepth, "depth=%d", n)
	}
	s.mu.Lock()
	s.prefetch = n
	s.mu.Unlock()
	return nil
}

// ShardCount is the number of shards.
func (s *ShardedLoader) ShardCount() int { return s.count }

// Shards returns the per-shard loaders once initialized.
func (s *ShardedLoader) Shards() []*Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Loader(nil), s.shards...)
}

// Initialize builds one Loader per shard and initializes them concurrently.
// If any shard fails, every shard is shut down and the first error returned.
func (s *ShardedLoader) Initialize(rc reader.Config, dc decode.Config, kind memory.Kind, batchSize int, keepOriginal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Load() {
		return ErrAlreadyInitialized
	}
	if s.sink == nil {
		return ErrNoOutput
	}

	shards := make([]*Loader, s.count)
	for i := range shards {
		l := NewLoader(s.mod, s.opts...)
		l.SetOutput(s.sink)
		if err := l.SetPrefetchDepth(s.prefetch); err != nil {
			return err
		}
		shards[i] = l
	}

	var g errgroup.Group
	for i, l := range shards {
		i := i
		l := l
		shardRC := rc
		shardRC.ShardID = i
		shardRC.ShardCount = s.count
		g.Go(func() error {
			if err := l.Initialize(shardRC, dc, kind, batchSize, keepOriginal); err != nil {
				return errors.Wrapf(err, "shard %d", i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range shards {
			l.ShutDown()
		}
		return err
	}

	s.shards = shards
	s.next = 0
	s.last.Store(nil)
	s.ready.Store(true)
	s.log.Info("sharded loader initialized", zap.Int(logging.KeyCount, s.remaining()))
	return nil
}

func (s *ShardedLoader) StartLoading() error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	for i, l := range s.Shards() {
		if err := l.StartLoading(); err != nil {
			return errors.Wrapf(err, "shard %d", i)
		}
	}
	return nil
}

// LoadNext delegates to the next shard with samples left. When every shard
// is empty it reports StatusNoMoreData.
func (s *ShardedLoader) LoadNext() decode.Status {
	if !s.ready.Load() {
		return decode.StatusNotInitialized
	}
	for step := 0; step < s.count; step++ {
		l := s.shards[s.next]
		s.next = (s.next + 1) % s.count
		if l.RemainingCount() == 0 {
			RecordShardSkip(1)
			continue
		}
		s.last.Store(l)
		return l.LoadNext()
	}
	return decode.StatusNoMoreData
}

// RemainingCount is the sum over all shards.
func (s *ShardedLoader) RemainingCount() int {
	if !s.ready.Load() {
		return 0
	}
	return s.remaining()
}

func (s *ShardedLoader) remaining() int {
	n := 0
	for _, l := range s.shards {
		n += l.RemainingCount()
	}
	return n
}

// Reset resets every shard and restarts the rotation at shard 0.
func (s *ShardedLoader) Reset() error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	for i, l := range s.Shards() {
		if err := l.Reset(); err != nil {
			return errors.Wrapf(err, "shard %d", i)
		}
	}
	s.next = 0
	s.last.Store(nil)
	return nil
}

// ShutDown shuts every shard down. It is idempotent.
func (s *ShardedLoader) ShutDown() {
	shards := s.Shards()
	var wg sync.WaitGroup
	for _, l := range shards {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ShutDown()
		}()
	}
	wg.Wait()
}

// Names of the batch last delivered.
func (s *ShardedLoader) Names() []string {
	if l := s.last.Load(); l != nil {
		return l.Names()
	}
	return nil
}

func (s *ShardedLoader) Info() buffer.BatchInfo {
	if l := s.last.Load(); l != nil {
		return l.Info()
	}
	return buffer.BatchInfo{}
}

// State of the shards, which move through the lifecycle together.
func (s *ShardedLoader) State() State {
	shards := s.Shards()
	if len(shards) == 0 {
		return Uninitialized
	}
	return shards[0].State()
}

// Timing reports the slowest shard's read and decode time, since shards
// decode in parallel, and the summed process time of all shards.
func (s *ShardedLoader) Timing() decode.Timing {
	var t decode.Timing
	for _, l := range s.Shards() {
		lt := l.Timing()
		t.ReadTime = max(t.ReadTime, lt.ReadTime)
		t.DecodeTime = max(t.DecodeTime, lt.DecodeTime)
		t.ProcessTime += lt.ProcessTime
	}
	return t
}

// LastBatchPaddedSize is the common padding of every shard's last batch.
func (s *ShardedLoader) LastBatchPaddedSize() (int, error) {
	if !s.ready.Load() {
		return 0, ErrNotInitialized
	}
	padded := -1
	for i, l := range s.shards {
		p, err := l.LastBatchPaddedSize()
		if err != nil {
			return 0, err
		}
		if padded >= 0 && p != padded {
			return 0, errors.Wrapf(ErrPaddingMismatch, "shard %d pads %d, shard 0 pads %d", i, p, padded)
		}
		padded = p
	}
	return padded, nil
}

// Level is the total number of ready batches across shards.
func (s *ShardedLoader) Level() int {
	n := 0
	for _, l := range s.Shards() {
		n += l.Level()
	}
	return n
}
