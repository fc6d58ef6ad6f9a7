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

package memory

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// SimulatedDevice is a host-backed DeviceAllocator. Uploads are staged and
// only become visible after Sync, which mimics an asynchronous copy queue.
// It lets device-kind pipelines run on machines without an accelerator.
type SimulatedDevice struct {
	allocs atomic.Int64
	frees  atomic.Int64
	syncs  atomic.Int64
}

// NewSimulatedDevice returns an empty simulated device.
func NewSimulatedDevice() *SimulatedDevice { return &SimulatedDevice{} }

func (d *SimulatedDevice) Alloc(size int) (DeviceBuffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid device allocation size %d", size)
	}
	d.allocs.Add(1)
	return &simBuffer{dev: d, data: make([]byte, size)}, nil
}

// Stats returns allocation, free and sync call counts.
func (d *SimulatedDevice) Stats() (allocs, frees, syncs int64) {
	return d.allocs.Load(), d.frees.Load(), d.syncs.Load()
}

type pendingUpload struct {
	off  int
	data []byte
}

type simBuffer struct {
	dev *SimulatedDevice

	mu      sync.Mutex
	data    []byte
	pending []pendingUpload
	freed   bool
}

func (b *simBuffer) Size() int { return len(b.data) }

func (b *simBuffer) Upload(src []byte, offset int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return errors.New("upload into freed device buffer")
	}
	if offset < 0 || offset+len(src) > len(b.data) {
		return ErrOutOfRange
	}
	b.pending = append(b.pending, pendingUpload{off: offset, data: append([]byte(nil), src...)})
	return nil
}

func (b *simBuffer) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pending {
		copy(b.data[p.off:], p.data)
	}
	b.pending = b.pending[:0]
	b.dev.syncs.Add(1)
	return nil
}

func (b *simBuffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	b.freed = true
	b.pending = nil
	b.dev.frees.Add(1)
	return nil
}

// Download copies the synced contents of a simulated device handle into dst.
// It returns the number of bytes copied, or an error when h is not backed by
// a SimulatedDevice.
func Download(h Handle, dst []byte) (int, error) {
	b, ok := h.Device().(*simBuffer)
	if !ok {
		return 0, errors.New("handle is not a simulated device buffer")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return copy(dst, b.data), nil
}

// PendingUploads reports how many unsynced uploads a simulated handle holds.
func PendingUploads(h Handle) int {
	b, ok := h.Device().(*simBuffer)
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
