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


// Package benchmarks compares the prefetching loaders against a serial
// baseline that reads and decodes each batch on the consumer goroutine.
package benchmarks

import (
	"github.com/pkg/errors"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/core"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

// SerialLoader decodes batch n+1 only when batch n has been consumed. It
// has no ring, no producer goroutine and a single host buffer.
type SerialLoader struct {
	orch  core.Orchestrator
	out   *tensor.Tensor
	buf   []byte
	batch int
	info  buffer.BatchInfo
}

func NewSerialLoader(mod core.Modality, rc reader.Config, dc decode.Config, out *tensor.Tensor) (*SerialLoader, error) {
	info := out.Info()
	rc.BatchCount = info.BatchSize()
	orch, err := mod.NewOrchestrator(rc, dc, info, false)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s orchestrator", mod.Name())
	}
	return &SerialLoader{
		orch:  orch,
		out:   out,
		buf:   make([]byte, memory.AlignUp(info.DataSize(), 8)),
		batch: info.BatchSize(),
	}, nil
}

// LoadNext decodes the next batch straight into the output tensor.
func (s *SerialLoader) LoadNext() decode.Status {
	s.info.Reset()
	if st := s.orch.Load(memory.HostHandle(s.buf), &s.info); st != decode.StatusOK {
		return st
	}
	if err := s.out.SwapHandle(memory.HostHandle(s.buf)); err != nil {
		return decode.StatusHostBufferSwapFailed
	}
	s.out.SetNames(s.info.Names)
	return decode.StatusOK
}

func (s *SerialLoader) Reset() { s.orch.Reset() }

func (s *SerialLoader) Info() buffer.BatchInfo { return s.info }

// Close releases the reader.
func (s *SerialLoader) Close() error { return s.orch.Release() }
