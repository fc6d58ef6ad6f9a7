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

// Package core drives batch loading: a Loader runs one producer goroutine
// that decodes batches into a buffer.Ring while the caller pulls ready
// batches with LoadNext; a ShardedLoader fans pulls out over several Loaders.
package core

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

var (
	ErrNoOutput             = errors.New("loader has no output sink")
	ErrZeroOutputSize       = errors.New("output sink has zero size")
	ErrAlreadyInitialized   = errors.New("loader already initialized")
	ErrNotInitialized       = errors.New("loader not initialized")
	ErrAlreadyLoading       = errors.New("loader already loading")
	ErrInvalidPrefetchDepth = errors.New("prefetch depth must be positive")
	ErrInvalidShardCount    = errors.New("shard count must be positive")
	ErrBatchExceedsOutput   = errors.New("batch size exceeds output batch dimension")
	ErrPaddingMismatch      = errors.New("shards disagree on last batch padding")
)

// Orchestrator reads and decodes one batch per Load call into a slot.
type Orchestrator interface {
	// Count is the number of samples left in the epoch.
	Count() int
	// Reset starts a new epoch.
	Reset()
	Load(dst memory.Handle, info *buffer.BatchInfo) decode.Status
	Timing() decode.Timing
	LastBatchPaddedSize() int
	// Release frees the reader behind the orchestrator.
	Release() error
}

// cropSetter is implemented by orchestrators that attach crop windows.
type cropSetter interface {
	SetCropProvider(p decode.CropProvider)
}

// Sink is the consumer-side view a loader swaps batches into. *tensor.Tensor
// implements it.
type Sink interface {
	Info() tensor.Info
	SwapHandle(h memory.Handle) error
	UpdateROI(widths, heights []uint32) error
	SetNames(names []string)
}

// Module is the loader capability shared by Loader and ShardedLoader.
type Module interface {
	SetOutput(sink Sink)
	SetPrefetchDepth(n int) error
	Initialize(rc reader.Config, dc decode.Config, kind memory.Kind, batchSize int, keepOriginal bool) error
	StartLoading() error
	LoadNext() decode.Status
	Reset() error
	ShutDown()
	RemainingCount() int
	Level() int
	State() State
	Names() []string
	Info() buffer.BatchInfo
	Timing() decode.Timing
	LastBatchPaddedSize() (int, error)
}

var (
	_ Module = (*Loader)(nil)
	_ Module = (*ShardedLoader)(nil)
	_ Sink   = (*tensor.Tensor)(nil)
)

// State of a Loader.
type State int32

const (
	Uninitialized State = iota
	Initialized
	Loading
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Loading:
		return "loading"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultPrefetchDepth = 3
	DefaultRetryDelay    = time.Second
)

// Option configures a Loader or ShardedLoader.
type Option func(*options)

type options struct {
	retryDelay time.Duration
	alloc      *memory.Allocator
	shardAlloc func(shard int) *memory.Allocator
	log        *zap.Logger
	crop       decode.CropProvider
}

func buildOptions(opts []Option) options {
	o := options{retryDelay: DefaultRetryDelay}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithRetryDelay sets how long the producer waits after a load that did not
// yield a batch.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithAllocator sets the allocator used for ring slots. Device slots need an
// allocator backed by a memory.DeviceAllocator.
func WithAllocator(a *memory.Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithShardAllocator gives every shard of a ShardedLoader its own allocator,
// e.g. one device per shard.
func WithShardAllocator(fn func(shard int) *memory.Allocator) Option {
	return func(o *options) { o.shardAlloc = fn }
}

// WithLogger replaces the package logger.
// WithCropProvider attaches crop windows from p to every batch. Modalities
// without crop support ignore it.
func WithCropProvider(p decode.CropProvider) Option {
	return func(o *options) { o.crop = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}
