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
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/internal/dataloader/telemetry"
	"mediaload/internal/logging"
	"mediaload/pkg/memory"
)

// joinPoll is how often a stopping loader re-wakes its producer while
// waiting for it to exit.
const joinPoll = 5 * time.Millisecond

// Loader owns one ring and one producer goroutine for a single shard.
//
// Lifecycle: SetOutput -> Initialize -> StartLoading -> LoadNext... ->
// Reset or ShutDown. LoadNext must only be called from one goroutine.
type Loader struct {
	id   string
	mod  Modality
	opts options
	log  *zap.Logger

	// mu serializes lifecycle calls.
	mu       sync.Mutex
	state    atomic.Int32
	sink     Sink
	prefetch int

	batch      int
	loop       bool
	shard      int
	outputSize int
	kind       memory.Kind
	orch       Orchestrator
	ring       *buffer.Ring

	running   atomic.Bool
	exhausted atomic.Bool
	remaining atomic.Int64
	loaded    atomic.Int64
	stopCh    chan struct{}
	wg        sync.WaitGroup
	stopped   uint32

	infoMu  sync.RWMutex
	info    buffer.BatchInfo
	process time.Duration
}

// NewLoader returns an uninitialized loader for mod.
func NewLoader(mod Modality, opts ...Option) *Loader {
	o := buildOptions(opts)
	id := uuid.NewString()
	base := o.log
	if base == nil {
		base = logging.Named("loader")
	}
	return &Loader{
		id:       id,
		mod:      mod,
		opts:     o,
		log:      base.With(zap.String(logging.KeyLoader, id), zap.String(logging.KeyModality, mod.Name())),
		prefetch: DefaultPrefetchDepth,
	}
}

func NewImageLoader(opts ...Option) *Loader { return NewLoader(ImageModality{}, opts...) }
func NewVideoLoader(opts ...Option) *Loader { return NewLoader(VideoModality{}, opts...) }
func NewAudioLoader(opts ...Option) *Loader { return NewLoader(AudioModality{}, opts...) }
func NewArrayLoader(opts ...Option) *Loader { return NewLoader(ArrayModality{}, opts...) }

// ID is a unique identifier of this loader instance.
func (l *Loader) ID() string { return l.id }

func (l *Loader) State() State { return State(l.state.Load()) }

// SetOutput records the sink batches are swapped into.
func (l *Loader) SetOutput(sink Sink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// SetPrefetchDepth sets the ring capacity used by the next Initialize.
func (l *Loader) SetPrefetchDepth(n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidPrefetchDepth, "depth=%d", n)
	}
	l.mu.Lock()
	l.prefetch = n
	l.mu.Unlock()
	return nil
}

// Initialize builds the orchestrator and allocates the ring. batchSize <= 0
// uses the sink's batch dimension. On failure no goroutine is running and
// the loader stays uninitialized.
func (l *Loader) Initialize(rc reader.Config, dc decode.Config, kind memory.Kind, batchSize int, keepOriginal bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != Uninitialized {
		return ErrAlreadyInitialized
	}
	if l.sink == nil {
		return ErrNoOutput
	}
	out := l.sink.Info()
	size := memory.AlignUp(out.DataSize(), 8)
	if size == 0 {
		return ErrZeroOutputSize
	}
	if batchSize <= 0 {
		batchSize = out.BatchSize()
	}
	if batchSize > out.BatchSize() {
		return errors.Wrapf(ErrBatchExceedsOutput, "batch=%d output=%d", batchSize, out.BatchSize())
	}
	out.Dims = append([]int{batchSize}, out.Dims[1:]...)
	rc.BatchCount = batchSize

	orch, err := l.mod.NewOrchestrator(rc, dc, out, keepOriginal)
	if err != nil {
		return errors.Wrapf(err, "building %s orchestrator", l.mod.Name())
	}
	alloc := l.opts.alloc
	if l.opts.shardAlloc != nil {
		alloc = l.opts.shardAlloc(rc.ShardID)
	}
	ring := buffer.NewRing(alloc)
	if err := ring.Init(kind, size, l.prefetch); err != nil {
		if rerr := orch.Release(); rerr != nil {
			l.log.Warn("releasing reader", zap.Error(rerr))
		}
		return errors.Wrap(err, "allocating batch ring")
	}
	if l.opts.crop != nil {
		if cs, ok := orch.(cropSetter); ok {
			cs.SetCropProvider(l.opts.crop)
		} else {
			l.log.Warn("modality does not support crop windows")
		}
	}

	l.batch = batchSize
	l.loop = rc.Loop
	l.shard = rc.ShardID
	l.outputSize = size
	l.kind = kind
	l.orch = orch
	l.ring = ring
	l.log = l.log.With(zap.Int(logging.KeyShard, rc.ShardID))
	l.state.Store(int32(Initialized))
	l.log.Info("loader initialized",
		zap.Int(logging.KeyBatch, batchSize),
		zap.Int("slot_size", size),
		zap.Int("prefetch", l.prefetch),
		zap.Stringer("memory", kind),
		zap.Int(logging.KeyCount, orch.Count()))
	return nil
}

// StartLoading spawns the producer goroutine.
func (l *Loader) StartLoading() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked()
}

func (l *Loader) startLocked() error {
	switch l.State() {
	case Initialized:
	case Loading:
		return ErrAlreadyLoading
	case Stopped:
		if atomic.LoadUint32(&l.stopped) == 1 {
			return errors.Wrap(ErrNotInitialized, "loader was shut down")
		}
	default:
		return ErrNotInitialized
	}
	l.remaining.Store(int64(l.orch.Count()))
	l.exhausted.Store(false)
	l.stopCh = make(chan struct{})
	l.running.Store(true)
	l.wg.Add(1)
	go l.loadRoutine(l.stopCh)
	l.state.Store(int32(Loading))
	l.log.Info("loading started", zap.Int64(logging.KeyCount, l.remaining.Load()))
	return nil
}

// loadRoutine is the producer: fill a free slot, push it, repeat.
func (l *Loader) loadRoutine(stop <-chan struct{}) {
	defer l.wg.Done()
	var info buffer.BatchInfo
	last := decode.StatusOK
	for l.running.Load() {
		slot, ok := l.ring.WriteBuffer()
		if !l.running.Load() {
			return
		}
		if !ok {
			continue
		}

		start := time.Now()
		st := l.orch.Load(slot.Handle, &info)
		if !l.running.Load() {
			return
		}
		if st != decode.StatusOK {
			if st != last {
				l.log.Info("load routine paused", zap.Stringer(logging.KeyStatus, st))
				last = st
			}
			telemetry.ObserveLoadFailure(l.mod.Name(), st.String())
			l.exhausted.Store(true)
			l.ring.UnblockReader()
			if !l.sleep(stop) {
				return
			}
			continue
		}
		if last != decode.StatusOK {
			l.log.Info("load routine resumed", zap.Stringer("after", last))
			last = decode.StatusOK
		}

		if err := slot.Handle.Sync(); err != nil {
			l.log.Error("device sync failed", zap.Error(err))
			l.ring.UnblockReader()
			if !l.sleep(stop) {
				return
			}
			continue
		}
		if err := l.ring.PushInfo(info); err != nil {
			l.log.Error("push failed", zap.Error(err))
			return
		}
		l.loaded.Add(1)
		l.exhausted.Store(false)
		telemetry.ObserveBatchLoaded(l.mod.Name(), time.Since(start))
		telemetry.SetBufferLevel(l.mod.Name(), l.shard, l.ring.Level())
	}
}

// sleep waits out the retry delay. It returns false when the loader stops.
func (l *Loader) sleep(stop <-chan struct{}) bool {
	t := time.NewTimer(l.opts.retryDelay)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// LoadNext swaps the next ready batch into the sink. It blocks until a batch
// is ready, the producer reports that no batch will come, or the loader is
// shut down.
func (l *Loader) LoadNext() decode.Status {
	switch l.State() {
	case Loading:
	case Stopped:
		if atomic.LoadUint32(&l.stopped) == 1 {
			return decode.StatusStopped
		}
		return decode.StatusNotInitialized
	default:
		return decode.StatusNotInitialized
	}
	if !l.loop && l.RemainingCount() < l.batch {
		return decode.StatusNoMoreData
	}

	wait := time.Now()
	var slot buffer.Slot
	for {
		if !l.running.Load() {
			return decode.StatusStopped
		}
		if l.exhausted.Load() && l.ring.Level() == 0 {
			return decode.StatusNoMoreData
		}
		var ok bool
		if slot, ok = l.ring.ReadBufferUntil(l.drained); ok {
			break
		}
	}
	waited := time.Since(wait)

	info, _ := l.ring.Info()
	start := time.Now()
	if err := l.sink.SwapHandle(slot.Handle); err != nil {
		l.log.Error("sink rejected batch handle", zap.Int("slot", slot.Index), zap.Error(err))
		telemetry.ObserveSwapFailure(l.mod.Name())
		if slot.Handle.Kind() == memory.Device {
			return decode.StatusDeviceBufferSwapFailed
		}
		return decode.StatusHostBufferSwapFailed
	}
	widths, heights := l.mod.ROI(info)
	if err := l.sink.UpdateROI(widths, heights); err != nil {
		l.log.Warn("roi update failed", zap.Error(err))
	}
	l.sink.SetNames(info.Names)
	process := time.Since(start)

	l.infoMu.Lock()
	l.info = info
	l.process = process
	l.infoMu.Unlock()

	l.ring.Pop()
	if !l.loop {
		l.remaining.Add(-int64(l.batch))
	}
	telemetry.ObserveDelivered(l.mod.Name(), len(info.Names), waited)
	telemetry.SetBufferLevel(l.mod.Name(), l.shard, l.ring.Level())
	RecordDelivered(len(info.Names))
	return decode.StatusOK
}

// drained reports that LoadNext should stop waiting for a batch. The ring
// evaluates it under its lock, so an exhausted flag stored before the
// producer's UnblockReader is always seen.
func (l *Loader) drained() bool {
	return l.exhausted.Load() || !l.running.Load()
}

// Reset stops the producer, drops buffered batches, starts a new epoch on
// the orchestrator and restarts loading.
func (l *Loader) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() == Uninitialized || atomic.LoadUint32(&l.stopped) == 1 {
		return ErrNotInitialized
	}
	l.stopProducer()
	l.state.Store(int32(Stopped))
	l.ring.Reset()
	l.orch.Reset()
	l.loaded.Store(0)
	l.log.Info("loader reset")
	return l.startLocked()
}

// ShutDown stops the producer and frees the ring. Further calls are no-ops.
func (l *Loader) ShutDown() {
	if !atomic.CompareAndSwapUint32(&l.stopped, 0, 1) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ring == nil {
		l.state.Store(int32(Stopped))
		return
	}
	l.ring.UnblockReader()
	l.stopProducer()
	l.ring.Reset()
	if err := l.ring.Release(); err != nil {
		l.log.Warn("releasing ring", zap.Error(err))
	}
	if err := l.orch.Release(); err != nil {
		l.log.Warn("releasing reader", zap.Error(err))
	}
	l.state.Store(int32(Stopped))
	l.log.Info("loader shut down", zap.Int64("batches_loaded", l.loaded.Load()))
}

// stopProducer clears running and joins the producer. The writer is woken
// repeatedly since a wake-up issued just before the producer starts waiting
// would be lost.
func (l *Loader) stopProducer() {
	if !l.running.Swap(false) {
		return
	}
	close(l.stopCh)
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	t := time.NewTicker(joinPoll)
	defer t.Stop()
	for {
		l.ring.UnblockWriter()
		l.ring.UnblockReader()
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}

// RemainingCount is the number of samples left in the epoch.
func (l *Loader) RemainingCount() int {
	n := l.remaining.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Names of the samples of the batch last delivered.
func (l *Loader) Names() []string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return append([]string(nil), l.info.Names...)
}

// Info is the metadata of the batch last delivered.
func (l *Loader) Info() buffer.BatchInfo {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.info.Clone()
}

// Timing combines the orchestrator's read and decode time of its last batch
// with the time LoadNext spent handing the last batch to the sink.
func (l *Loader) Timing() decode.Timing {
	var t decode.Timing
	if l.orch != nil && l.State() != Uninitialized {
		t = l.orch.Timing()
	}
	l.infoMu.RLock()
	t.ProcessTime = l.process
	l.infoMu.RUnlock()
	return t
}

func (l *Loader) LastBatchPaddedSize() (int, error) {
	if l.State() == Uninitialized {
		return 0, ErrNotInitialized
	}
	return l.orch.LastBatchPaddedSize(), nil
}

// Level is the number of ready batches in the ring.
func (l *Loader) Level() int {
	if l.State() == Uninitialized {
		return 0
	}
	return l.ring.Level()
}

// BatchSize is the number of samples per delivered batch.
func (l *Loader) BatchSize() int { return l.batch }

// Loaded is the number of batches the producer pushed since the last start.
func (l *Loader) Loaded() int64 { return l.loaded.Load() }
