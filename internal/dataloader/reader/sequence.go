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
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Sequence is one video sample: an ordered run of frame locators.
type Sequence struct {
	Name   string
	Frames []string
}

// SequenceSource yields frame sequences instead of single payloads.
type SequenceSource interface {
	Initialize(cfg Config) error
	Count() int
	NextSequence() (Sequence, error)
	ReadFrame(locator string) ([]byte, error)
	Reset()
	LastBatchPaddedSize() int
	SequenceLength() int
	Release() error
}

// SequenceReader builds sequences from folders of extracted frames. Every
// sub-directory of Path is one video (Path itself when it holds frames).
// A sequence takes SequenceLength frames FrameStride apart, and consecutive
// sequences start FrameStep frames apart.
type SequenceReader struct {
	catalog
	seqLen int
}

func NewSequenceReader() *SequenceReader { return &SequenceReader{} }

func (r *SequenceReader) Initialize(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	dirents, err := os.ReadDir(cfg.Path)
	if err != nil {
		return errors.Wrapf(err, "reading directory %s", cfg.Path)
	}

	var entries []entry
	if frames := filesIn(cfg.Path, dirents, cfg.Extensions); len(frames) > 0 {
		entries = sequencesOf(filepath.Base(cfg.Path), frames, cfg)
	} else {
		for _, d := range dirents {
			if !d.IsDir() {
				continue
			}
			dir := filepath.Join(cfg.Path, d.Name())
			sub, err := os.ReadDir(dir)
			if err != nil {
				return errors.Wrapf(err, "reading directory %s", dir)
			}
			entries = append(entries, sequencesOf(d.Name(), filesIn(dir, sub, cfg.Extensions), cfg)...)
		}
	}
	r.seqLen = cfg.SequenceLength
	r.init(cfg, entries)
	return nil
}

func sequencesOf(video string, frames []entry, cfg Config) []entry {
	var out []entry
	span := (cfg.SequenceLength - 1) * cfg.FrameStride
	for start := 0; start+span < len(frames); start += cfg.FrameStep {
		parts := make([]string, 0, cfg.SequenceLength)
		for k := 0; k < cfg.SequenceLength; k++ {
			parts = append(parts, frames[start+k*cfg.FrameStride].Locator)
		}
		out = append(out, entry{
			Name:    fmt.Sprintf("%s_%d", video, start),
			Locator: parts[0],
			Parts:   parts,
		})
	}
	return out
}

func (r *SequenceReader) Count() int { return r.count() }

func (r *SequenceReader) NextSequence() (Sequence, error) {
	e, ok := r.next()
	if !ok {
		return Sequence{}, ErrNoItems
	}
	return Sequence{Name: e.Name, Frames: e.Parts}, nil
}

func (r *SequenceReader) ReadFrame(locator string) ([]byte, error) {
	return os.ReadFile(locator)
}

func (r *SequenceReader) Reset() { r.reset() }

// Release is a no-op; frames are read whole and nothing stays open.
func (r *SequenceReader) Release() error { return nil }

func (r *SequenceReader) LastBatchPaddedSize() int { return r.lastBatchPadded() }

func (r *SequenceReader) SequenceLength() int { return r.seqLen }
