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

// Package buffer implements the bounded batch ring that sits between a
// loader's producer goroutine and its consumer.
//
// The ring owns a fixed set of pre-allocated slots, each large enough for one
// full batch. The producer fills the slot at the write cursor and pushes it
// together with its BatchInfo; the consumer borrows the slot at the read
// cursor and pops it when done. One slot is always kept free, so a ring of
// capacity N holds at most N-1 ready batches. A slot is never handed to the
// producer while the consumer may still be reading it.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"mediaload/pkg/memory"
)

var (
	ErrCapacityTooSmall   = errors.New("ring capacity must be at least 2")
	ErrZeroSlotSize       = errors.New("ring slot size must be positive")
	ErrAlreadyInitialized = errors.New("ring already initialized")
	ErrNotInitialized     = errors.New("ring not initialized")
	ErrFull               = errors.New("push into a full ring")
)

// Slot is one pre-allocated batch area.
type Slot struct {
	Index  int
	Handle memory.Handle
}

// Ring is a blocking single-producer, single-consumer queue of batch slots.
type Ring struct {
	alloc *memory.Allocator

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	slots       []Slot
	kind        memory.Kind
	slotSize    int
	writePtr    int
	readPtr     int
	infos       []BatchInfo
	pending     BatchInfo
	initialized bool

	// readerGen and writerGen are bumped by UnblockReader/UnblockWriter so a
	// waiter can tell a forced wake-up from a state change.
	readerGen uint64
	writerGen uint64

	// level is written under mu and read lock-free by Level.
	level     atomic.Int64
	dontBlock atomic.Bool
}

// NewRing returns an uninitialized ring that allocates slots from alloc.
// A nil allocator means host memory only.
func NewRing(alloc *memory.Allocator) *Ring {
	if alloc == nil {
		alloc = memory.NewAllocator(nil)
	}
	r := &Ring{alloc: alloc}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
	return r
}

// Init allocates capacity slots of slotSize bytes each. On failure every
// slot allocated so far is released and the ring stays uninitialized.
func (r *Ring) Init(kind memory.Kind, slotSize, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return ErrAlreadyInitialized
	}
	if capacity < 2 {
		return errors.Wrapf(ErrCapacityTooSmall, "capacity=%d", capacity)
	}
	if slotSize <= 0 {
		return errors.Wrapf(ErrZeroSlotSize, "slot size=%d", slotSize)
	}

	slots := make([]Slot, 0, capacity)
	for i := 0; i < capacity; i++ {
		h, err := r.alloc.Alloc(kind, slotSize)
		if err != nil {
			for _, s := range slots {
				_ = r.alloc.Free(s.Handle)
			}
			return errors.Wrapf(err, "allocating %v slot %d of %d", kind, i+1, capacity)
		}
		slots = append(slots, Slot{Index: i, Handle: h})
	}

	r.slots = slots
	r.kind = kind
	r.slotSize = slotSize
	r.writePtr, r.readPtr = 0, 0
	r.infos = make([]BatchInfo, 0, capacity)
	r.pending = BatchInfo{}
	r.level.Store(0)
	r.dontBlock.Store(false)
	r.initialized = true
	return nil
}

func (r *Ring) full() bool  { return r.level.Load() >= int64(len(r.slots)-1) }
func (r *Ring) empty() bool { return r.level.Load() == 0 }

// WriteBuffer returns the slot at the write cursor, blocking while the ring
// is full. ok is false when the call was released without a free slot, by
// UnblockWriter, ReleaseAllBlockedCalls or an uninitialized ring; the slot
// must not be written in that case.
func (r *Ring) WriteBuffer() (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return Slot{}, false
	}
	gen := r.writerGen
	for r.full() && !r.dontBlock.Load() && gen == r.writerGen {
		r.notFull.Wait()
	}
	if !r.initialized || r.full() {
		return Slot{}, false
	}
	return r.slots[r.writePtr], true
}

// SetInfo attaches metadata to the slot that the next Push publishes.
func (r *Ring) SetInfo(info BatchInfo) {
	r.mu.Lock()
	r.pending = info.Clone()
	r.mu.Unlock()
}

// Push publishes the slot at the write cursor together with the metadata
// given to SetInfo.
func (r *Ring) Push() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushLocked(r.pending)
}

// PushInfo attaches info and publishes the slot in one critical section.
func (r *Ring) PushInfo(info BatchInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushLocked(info.Clone())
}

func (r *Ring) pushLocked(info BatchInfo) error {
	if !r.initialized {
		return ErrNotInitialized
	}
	if r.full() {
		return ErrFull
	}
	r.infos = append(r.infos, info)
	r.pending = BatchInfo{}
	r.writePtr = (r.writePtr + 1) % len(r.slots)
	r.level.Add(1)
	r.notEmpty.Broadcast()
	return nil
}

// ReadBuffer returns the slot at the read cursor, blocking while the ring is
// empty. ok is false when the call was released with nothing to read.
func (r *Ring) ReadBuffer() (Slot, bool) {
	return r.ReadBufferUntil(nil)
}

// ReadBufferUntil is ReadBuffer that also gives up once done reports true.
// done is evaluated under the ring lock before every wait, so a condition
// published ahead of an UnblockReader call is never missed.
func (r *Ring) ReadBufferUntil(done func() bool) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return Slot{}, false
	}
	gen := r.readerGen
	for r.empty() && !r.dontBlock.Load() && gen == r.readerGen {
		if done != nil && done() {
			return Slot{}, false
		}
		r.notEmpty.Wait()
	}
	if !r.initialized || r.empty() {
		return Slot{}, false
	}
	return r.slots[r.readPtr], true
}

// Info returns the metadata of the slot at the read cursor.
func (r *Ring) Info() (BatchInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.infos) == 0 {
		return BatchInfo{}, false
	}
	return r.infos[0], true
}

// Pop releases the slot at the read cursor back to the producer. Popping an
// empty ring does nothing.
func (r *Ring) Pop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized || r.empty() {
		return
	}
	r.readPtr = (r.readPtr + 1) % len(r.slots)
	r.infos[0] = BatchInfo{}
	r.infos = r.infos[1:]
	r.level.Add(-1)
	r.notFull.Broadcast()
}

// Reset empties the ring. No goroutine may be inside Push or Pop.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePtr, r.readPtr = 0, 0
	for i := range r.infos {
		r.infos[i] = BatchInfo{}
	}
	r.infos = r.infos[:0]
	r.pending = BatchInfo{}
	r.level.Store(0)
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
}

// UnblockReader wakes a consumer waiting in ReadBuffer without changing state.
func (r *Ring) UnblockReader() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	r.readerGen++
	r.notEmpty.Broadcast()
}

// UnblockWriter wakes a producer waiting in WriteBuffer without changing state.
func (r *Ring) UnblockWriter() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	r.writerGen++
	r.notFull.Broadcast()
}

// ReleaseAllBlockedCalls makes every current and future WriteBuffer and
// ReadBuffer call return immediately. It stays in effect until the next Init.
func (r *Ring) ReleaseAllBlockedCalls() {
	r.dontBlock.Store(true)
	r.mu.Lock()
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	r.mu.Unlock()
}

// Release frees every slot and returns the ring to the uninitialized state.
func (r *Ring) Release() error {
	r.dontBlock.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	if !r.initialized {
		return nil
	}
	var firstErr error
	for _, s := range r.slots {
		if err := r.alloc.Free(s.Handle); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "freeing slot %d", s.Index)
		}
	}
	r.slots = nil
	r.infos = nil
	r.pending = BatchInfo{}
	r.writePtr, r.readPtr = 0, 0
	r.level.Store(0)
	r.initialized = false
	return firstErr
}

// Level is the number of ready batches. It is read without taking the ring
// lock and may lag a concurrent Push or Pop.
func (r *Ring) Level() int { return int(r.level.Load()) }

// Queued is the number of metadata entries waiting. It always equals Level
// when observed under the ring lock.
func (r *Ring) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.infos)
}

func (r *Ring) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Ring) SlotSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotSize
}

func (r *Ring) Kind() memory.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kind
}

// Initialized reports whether Init succeeded and Release has not run since.
func (r *Ring) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}
