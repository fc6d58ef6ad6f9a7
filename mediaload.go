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

// Package mediaload loads batches of media samples (images, video frame
// sequences, audio clips, raw arrays) in the background and hands them to a
// single consumer one ready batch at a time.
//
//	out, _ := mediaload.NewTensor(info)
//	m, err := mediaload.NewModule(mediaload.Options{Modality: "image", Output: out, Reader: rc})
//	...
//	m.StartLoading()
//	for m.LoadNext() == mediaload.StatusOK {
//		use(out)
//	}
//	m.ShutDown()
package mediaload

import (
	"github.com/pkg/errors"

	"mediaload/internal/config"
	"mediaload/internal/dataloader/core"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

type (
	Module        = core.Module
	Loader        = core.Loader
	ShardedLoader = core.ShardedLoader
	Option        = core.Option
	Status        = decode.Status
	Timing        = decode.Timing
	ReaderConfig  = reader.Config
	Sample        = reader.Sample
	Feed          = reader.Feed
	CropProvider  = decode.CropProvider
	DecodeConfig  = decode.Config
	Tensor        = tensor.Tensor
	TensorInfo    = tensor.Info
)

const (
	StatusOK                     = decode.StatusOK
	StatusNoMoreData             = decode.StatusNoMoreData
	StatusNoFiles                = decode.StatusNoFiles
	StatusDecodeFailed           = decode.StatusDecodeFailed
	StatusNotInitialized         = decode.StatusNotInitialized
	StatusHostBufferSwapFailed   = decode.StatusHostBufferSwapFailed
	StatusDeviceBufferSwapFailed = decode.StatusDeviceBufferSwapFailed
	StatusStopped                = decode.StatusStopped
)

var (
	WithRetryDelay     = core.WithRetryDelay
	WithAllocator      = core.WithAllocator
	WithShardAllocator = core.WithShardAllocator
	WithLogger         = core.WithLogger
	WithCropProvider   = core.WithCropProvider
)

// NewFeed returns a Feed to pass as ReaderConfig.Feed with memory storage.
func NewFeed() *Feed { return reader.NewFeed() }

// NewTensor returns an output tensor of the given maximal shape.
func NewTensor(info TensorInfo) (*Tensor, error) { return tensor.New(info) }

// Options describes a module for NewModule.
type Options struct {
	// Modality is image, video, audio or array.
	Modality string
	// Shards > 1 builds a ShardedLoader.
	Shards int
	// Prefetch is the ring capacity; zero keeps the default.
	Prefetch int
	Memory   memory.Kind
	// BatchSize <= 0 uses the output's batch dimension.
	BatchSize    int
	KeepOriginal bool
	Reader       ReaderConfig
	Decode       DecodeConfig
	Output       core.Sink
	Loader       []Option
}

// NewModule builds and initializes a module. Loading starts with
// StartLoading.
func NewModule(o Options) (Module, error) {
	mod, ok := core.ModalityByName(o.Modality)
	if !ok {
		return nil, errors.Errorf("unknown modality %q", o.Modality)
	}
	var m Module
	if o.Shards > 1 {
		s, err := core.NewShardedLoader(mod, o.Shards, o.Loader...)
		if err != nil {
			return nil, err
		}
		m = s
	} else {
		m = core.NewLoader(mod, o.Loader...)
	}
	m.SetOutput(o.Output)
	if o.Prefetch > 0 {
		if err := m.SetPrefetchDepth(o.Prefetch); err != nil {
			return nil, err
		}
	}
	if err := m.Initialize(o.Reader, o.Decode, o.Memory, o.BatchSize, o.KeepOriginal); err != nil {
		return nil, err
	}
	return m, nil
}

// FromConfig builds the output tensor and an initialized module described
// by cfg. Device memory is backed by a simulated device per shard unless an
// allocator option is given.
func FromConfig(cfg *config.Config, opts ...Option) (Module, *Tensor, error) {
	info, err := cfg.TensorInfo()
	if err != nil {
		return nil, nil, err
	}
	out, err := tensor.New(info)
	if err != nil {
		return nil, nil, errors.Wrap(err, "output tensor")
	}
	rc, err := cfg.ReaderConfig()
	if err != nil {
		return nil, nil, err
	}
	loaderOpts := []Option{core.WithRetryDelay(cfg.Loader.RetryDelay)}
	if cfg.MemoryKind() == memory.Device {
		loaderOpts = append(loaderOpts, core.WithShardAllocator(func(int) *memory.Allocator {
			return memory.NewAllocator(memory.NewSimulatedDevice())
		}))
	}
	m, err := NewModule(Options{
		Modality:     cfg.Loader.Modality,
		Shards:       cfg.Loader.Shards,
		Prefetch:     cfg.Loader.Prefetch,
		Memory:       cfg.MemoryKind(),
		BatchSize:    cfg.Loader.BatchSize,
		KeepOriginal: cfg.Loader.KeepOriginal,
		Reader:       rc,
		Decode:       cfg.DecodeConfig(),
		Output:       out,
		Loader:       append(loaderOpts, opts...),
	})
	if err != nil {
		return nil, nil, err
	}
	return m, out, nil
}
