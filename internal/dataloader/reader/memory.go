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

package reader

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryReader serves samples held in memory. Applications that produce
// their own data feed it with Feed, directly or through a Feed handle in
// Config. Fed samples join the listing at the next epoch boundary (Reset,
// or the wrap-around of a looping reader); an empty reader takes them at
// once.
type MemoryReader struct {
	source

	mu      sync.RWMutex
	payload map[string][]byte
	feed    *Feed
}

func NewMemoryReader() *MemoryReader {
	r := &MemoryReader{payload: make(map[string][]byte)}
	r.open = r.fetch
	return r
}

// Initialize uses cfg.Samples in the given order. Names must be unique.
func (r *MemoryReader) Initialize(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	if cfg.Feed != nil {
		r.feed = cfg.Feed
		r.feed.attach(r)
	}
	r.init(cfg, r.store(cfg.Samples))
	return nil
}

// Release detaches the reader from its Feed.
func (r *MemoryReader) Release() error {
	if r.feed != nil {
		r.feed.detach(r)
		r.feed = nil
	}
	return r.source.Release()
}

// Feed appends samples to the listing.
func (r *MemoryReader) Feed(samples []Sample) {
	r.append(r.store(samples))
}

func (r *MemoryReader) store(samples []Sample) []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, 0, len(samples))
	for _, s := range samples {
		r.payload[s.Name] = s.Data
		out = append(out, entry{Name: s.Name, Locator: s.Name})
	}
	return out
}

func (r *MemoryReader) fetch(_ context.Context, e entry) (io.ReadCloser, int, error) {
	r.mu.RLock()
	b, ok := r.payload[e.Locator]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, ErrSampleNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), len(b), nil
}

// Feed hands samples produced at runtime to every MemoryReader initialized
// with it. Each shard's reader receives the whole stream and keeps its own
// share, so one Feed serves a ShardedLoader. Samples pushed before a reader
// attaches are replayed to it.
type Feed struct {
	mu      sync.Mutex
	readers []*MemoryReader
	backlog []Sample
}

func NewFeed() *Feed { return &Feed{} }

// Push appends samples to every attached reader.
func (f *Feed) Push(samples ...Sample) {
	if len(samples) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlog = append(f.backlog, samples...)
	for _, r := range f.readers {
		r.Feed(samples)
	}
}

// Len is the number of samples pushed so far.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.backlog)
}

func (f *Feed) attach(r *MemoryReader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readers = append(f.readers, r)
	if len(f.backlog) > 0 {
		r.Feed(f.backlog)
	}
}

func (f *Feed) detach(r *MemoryReader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.readers {
		if x == r {
			f.readers = append(f.readers[:i], f.readers[i+1:]...)
			return
		}
	}
}
