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

// Package memory describes the backing storage of a batch slot: either a plain
// host byte slice or a buffer owned by an accelerator runtime. Everything above
// this package moves opaque Handles around and never cares which kind it holds.
package memory

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Alignment is the byte alignment every slot size is rounded up to.
const Alignment = 256

// Kind identifies where a slot's bytes live.
type Kind int

const (
	Host Kind = iota
	Device
)

func (k Kind) String() string {
	switch k {
	case Host:
		return "host"
	case Device:
		return "device"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "host" or "device" (case-insensitive). Empty means host.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "host", "cpu":
		return Host, nil
	case "device", "gpu":
		return Device, nil
	default:
		return Host, errors.Errorf("unknown memory kind %q", s)
	}
}

// ErrDeviceUnavailable is returned when device memory is requested but no
// device runtime was supplied.
var ErrDeviceUnavailable = errors.New("device memory requested but no device allocator is configured")

// ErrOutOfRange is returned by Handle.WriteAt when the write would overflow.
var ErrOutOfRange = errors.New("write outside of buffer bounds")

// DeviceBuffer is device-resident memory. Uploads may be asynchronous; Sync
// blocks until every pending transfer into the buffer has completed.
type DeviceBuffer interface {
	Size() int
	Upload(src []byte, offset int) error
	Sync() error
	Free() error
}

// DeviceAllocator hands out DeviceBuffers.
type DeviceAllocator interface {
	Alloc(size int) (DeviceBuffer, error)
}

// Handle is a borrowed reference to one slot's memory.
type Handle struct {
	kind Kind
	host []byte
	dev  DeviceBuffer
}

// HostHandle wraps a host byte slice.
func HostHandle(b []byte) Handle { return Handle{kind: Host, host: b} }

// DeviceHandle wraps a device buffer.
func DeviceHandle(d DeviceBuffer) Handle { return Handle{kind: Device, dev: d} }

func (h Handle) Kind() Kind { return h.kind }

// Bytes returns the host slice, or nil for device handles.
func (h Handle) Bytes() []byte { return h.host }

// Device returns the device buffer, or nil for host handles.
func (h Handle) Device() DeviceBuffer { return h.dev }

// IsZero reports whether the handle references no memory at all.
func (h Handle) IsZero() bool { return h.host == nil && h.dev == nil }

func (h Handle) Size() int {
	if h.kind == Device {
		if h.dev == nil {
			return 0
		}
		return h.dev.Size()
	}
	return len(h.host)
}

// WriteAt copies p into the handle starting at off. Device handles upload.
func (h Handle) WriteAt(p []byte, off int) error {
	if off < 0 || off+len(p) > h.Size() {
		return errors.Wrapf(ErrOutOfRange, "offset=%d len=%d size=%d", off, len(p), h.Size())
	}
	if h.kind == Device {
		return h.dev.Upload(p, off)
	}
	copy(h.host[off:], p)
	return nil
}

// Sync waits for outstanding device work. It is a no-op for host memory.
func (h Handle) Sync() error {
	if h.kind != Device || h.dev == nil {
		return nil
	}
	return h.dev.Sync()
}

// AlignUp rounds n up to the next multiple of a.
func AlignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// Allocator produces Handles of either kind.
type Allocator struct {
	device DeviceAllocator
}

// NewAllocator returns an allocator. device may be nil when only host memory
// is needed.
func NewAllocator(device DeviceAllocator) *Allocator {
	return &Allocator{device: device}
}

// Alloc returns a handle of at least size bytes.
func (a *Allocator) Alloc(kind Kind, size int) (Handle, error) {
	if size <= 0 {
		return Handle{}, errors.Errorf("invalid allocation size %d", size)
	}
	aligned := AlignUp(size, Alignment)
	switch kind {
	case Host:
		return HostHandle(make([]byte, aligned)), nil
	case Device:
		if a == nil || a.device == nil {
			return Handle{}, ErrDeviceUnavailable
		}
		buf, err := a.device.Alloc(aligned)
		if err != nil {
			return Handle{}, errors.Wrapf(err, "device alloc %d bytes", aligned)
		}
		return DeviceHandle(buf), nil
	default:
		return Handle{}, errors.Errorf("unsupported memory kind %v", kind)
	}
}

// Free releases a handle. Host memory is left to the garbage collector.
func (a *Allocator) Free(h Handle) error {
	if h.kind == Device && h.dev != nil {
		return h.dev.Free()
	}
	return nil
}
