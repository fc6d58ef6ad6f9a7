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

// Package sinks records what a loader delivered, batch by batch, so a run
// can be audited or replayed.
package sinks

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"mediaload/internal/dataloader/buffer"
)

// BatchRecord is one delivered batch.
type BatchRecord struct {
	Epoch   int64     `json:"epoch"`
	Batch   int64     `json:"batch"`
	Names   []string  `json:"names"`
	Widths  []uint32  `json:"roi_w,omitempty"`
	Heights []uint32  `json:"roi_h,omitempty"`
	Time    time.Time `json:"ts"`
}

// RecordFromInfo builds the record of batch number batch of epoch.
func RecordFromInfo(epoch, batch int64, info buffer.BatchInfo) BatchRecord {
	widths, heights := info.ROIWidth, info.ROIHeight
	if len(info.AudioSamples) > 0 {
		widths, heights = info.AudioSamples, info.AudioChannels
	}
	return BatchRecord{
		Epoch:   epoch,
		Batch:   batch,
		Names:   append([]string(nil), info.Names...),
		Widths:  append([]uint32(nil), widths...),
		Heights: append([]uint32(nil), heights...),
		Time:    time.Now().UTC(),
	}
}

// ManifestFileSink appends BatchRecords to a JSONL file through a 1MiB
// buffer. It is safe for concurrent use.
type ManifestFileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	path string
	n    int64

	flushEvery time.Duration
	lastFlush  time.Time
}

// NewManifestFileSink opens (or creates) path in append mode.
func NewManifestFileSink(path string) (*ManifestFileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening manifest %s", path)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	return &ManifestFileSink{
		f:          f,
		w:          w,
		enc:        json.NewEncoder(w),
		path:       path,
		flushEvery: 100 * time.Millisecond,
		lastFlush:  time.Now(),
	}, nil
}

func (s *ManifestFileSink) Path() string { return s.path }

// Written is the number of records accepted so far.
func (s *ManifestFileSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// OnBatch writes one record. Buffered data is flushed at most every 100ms.
func (s *ManifestFileSink) OnBatch(r BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("manifest sink is closed")
	}
	if err := s.enc.Encode(&r); err != nil {
		return errors.Wrap(err, "encoding batch record")
	}
	s.n++
	if time.Since(s.lastFlush) > s.flushEvery {
		s.lastFlush = time.Now()
		if err := s.w.Flush(); err != nil {
			return errors.Wrap(err, "flushing manifest")
		}
	}
	return nil
}

// Flush forces buffered records to the file.
func (s *ManifestFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the file. Further calls are no-ops.
func (s *ManifestFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	s.f = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// ReadAllManifest reads every record of a manifest file. Malformed lines
// are skipped.
func ReadAllManifest(path string) ([]BatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []BatchRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	for scanner.Scan() {
		var r BatchRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err == nil {
			out = append(out, r)
		}
	}
	return out, scanner.Err()
}
