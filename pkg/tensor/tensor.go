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

// Package tensor provides the batch output a loader publishes into.
//
// A Tensor never owns its storage. Each time a batch becomes current the
// loader swaps the tensor's handle to the slot holding that batch, then
// updates the per-sample regions of interest and sample names. The previous
// handle simply goes back to the loader's slot ring.
package tensor

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"mediaload/pkg/memory"
)

// DataType is the element type of a tensor.
type DataType int

const (
	Uint8 DataType = iota
	Int16
	Float16
	Float32
)

// Size returns the element width in bytes.
func (d DataType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16, Float16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Layout names the meaning of each dimension after the batch dimension.
type Layout int

const (
	// NHWC: [batch, height, width, channels].
	NHWC Layout = iota
	// NCHW: [batch, channels, height, width].
	NCHW
	// NFHWC: [batch, frames, height, width, channels].
	NFHWC
	// NFCHW: [batch, frames, channels, height, width].
	NFCHW
	// NSC: [batch, samples, channels] for audio.
	NSC
	// NX: [batch, elements...] for raw arrays.
	NX
)

// ColorFormat of image and video tensors.
type ColorFormat int

const (
	RGB24 ColorFormat = iota
	BGR24
	U8
)

// Channels returns the channel count of the format.
func (c ColorFormat) Channels() int {
	if c == U8 {
		return 1
	}
	return 3
}

// Info describes the maximal shape of a batch.
type Info struct {
	Dims   []int
	Type   DataType
	Layout Layout
	Color  ColorFormat
	Memory memory.Kind
}

// BatchSize is the leading dimension.
func (i Info) BatchSize() int {
	if len(i.Dims) == 0 {
		return 0
	}
	return i.Dims[0]
}

// SampleElements is the element count of one sample at maximal shape.
func (i Info) SampleElements() int {
	if len(i.Dims) < 2 {
		return 0
	}
	n := 1
	for _, d := range i.Dims[1:] {
		n *= d
	}
	return n
}

// SampleSize is the byte size of one sample at maximal shape.
func (i Info) SampleSize() int { return i.SampleElements() * i.Type.Size() }

// DataSize is the byte size of the whole batch.
func (i Info) DataSize() int { return i.BatchSize() * i.SampleSize() }

// MaxWidth and MaxHeight interpret Dims according to Layout. For audio the
// width is the sample count and the height the channel count.
func (i Info) MaxWidth() int {
	switch i.Layout {
	case NHWC:
		return i.dim(2)
	case NCHW:
		return i.dim(3)
	case NFHWC:
		return i.dim(3)
	case NFCHW:
		return i.dim(4)
	case NSC:
		return i.dim(1)
	default:
		return i.SampleElements()
	}
}

func (i Info) MaxHeight() int {
	switch i.Layout {
	case NHWC:
		return i.dim(1)
	case NCHW:
		return i.dim(2)
	case NFHWC:
		return i.dim(2)
	case NFCHW:
		return i.dim(3)
	case NSC:
		return i.dim(2)
	default:
		return 1
	}
}

// Frames is the sequence length of video layouts and 1 otherwise.
func (i Info) Frames() int {
	if i.Layout == NFHWC || i.Layout == NFCHW {
		return i.dim(1)
	}
	return 1
}

// Channels is the channel count encoded in Dims.
func (i Info) Channels() int {
	switch i.Layout {
	case NHWC:
		return i.dim(3)
	case NCHW:
		return i.dim(1)
	case NFHWC:
		return i.dim(4)
	case NFCHW:
		return i.dim(2)
	case NSC:
		return i.dim(2)
	default:
		return 1
	}
}

func (i Info) dim(k int) int {
	if k < len(i.Dims) {
		return i.Dims[k]
	}
	return 0
}

// Validate rejects shapes a loader cannot size slots for.
func (i Info) Validate() error {
	if len(i.Dims) < 2 {
		return errors.Errorf("tensor needs a batch dimension and at least one sample dimension, got %v", i.Dims)
	}
	for k, d := range i.Dims {
		if d < 0 {
			return errors.Errorf("negative dimension %d at index %d", d, k)
		}
	}
	if i.Type.Size() == 0 {
		return errors.Errorf("unsupported data type %v", i.Type)
	}
	return nil
}

// ROI is a per-sample region of interest, origin at the top-left corner.
type ROI struct {
	X, Y, W, H uint32
}

// Tensor is a batch view whose storage is swapped in by a loader.
type Tensor struct {
	info Info

	mu     sync.RWMutex
	handle memory.Handle
	roi    []ROI
	names  []string
}

// New returns a tensor with the given shape. The tensor has no storage until
// its first SwapHandle.
func New(info Info) (*Tensor, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	info.Dims = append([]int(nil), info.Dims...)
	return &Tensor{info: info, roi: make([]ROI, info.BatchSize())}, nil
}

func (t *Tensor) Info() Info { return t.info }

// SwapHandle points the tensor at h. The handle must match the tensor's
// memory kind and be large enough for a full batch.
func (t *Tensor) SwapHandle(h memory.Handle) error {
	if h.IsZero() {
		return errors.New("swap to empty handle")
	}
	if h.Kind() != t.info.Memory {
		return errors.Errorf("swap handle kind %v into %v tensor", h.Kind(), t.info.Memory)
	}
	if h.Size() < t.info.DataSize() {
		return errors.Errorf("swap handle of %d bytes, tensor needs %d", h.Size(), t.info.DataSize())
	}
	t.mu.Lock()
	t.handle = h
	t.mu.Unlock()
	return nil
}

// UpdateROI sets the width and height of every sample. Slices longer than
// the batch are rejected; shorter ones clear the remaining samples.
func (t *Tensor) UpdateROI(widths, heights []uint32) error {
	if len(widths) != len(heights) {
		return errors.Errorf("roi widths (%d) and heights (%d) differ in length", len(widths), len(heights))
	}
	if len(widths) > t.info.BatchSize() {
		return errors.Errorf("roi for %d samples exceeds batch size %d", len(widths), t.info.BatchSize())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.roi {
		if i < len(widths) {
			t.roi[i] = ROI{W: widths[i], H: heights[i]}
		} else {
			t.roi[i] = ROI{}
		}
	}
	return nil
}

// SetNames records the identifiers of the samples currently held.
func (t *Tensor) SetNames(names []string) {
	t.mu.Lock()
	t.names = append(t.names[:0], names...)
	t.mu.Unlock()
}

func (t *Tensor) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.names...)
}

func (t *Tensor) ROI() []ROI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ROI(nil), t.roi...)
}

// Handle returns the handle of the current batch.
func (t *Tensor) Handle() memory.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handle
}

// Sample returns the host bytes of sample i at maximal shape, or nil when the
// tensor lives on a device or holds no batch yet.
func (t *Tensor) Sample(i int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.handle.Bytes()
	size := t.info.SampleSize()
	if b == nil || i < 0 || i >= t.info.BatchSize() || (i+1)*size > len(b) {
		return nil
	}
	return b[i*size : (i+1)*size]
}
