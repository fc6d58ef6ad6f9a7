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

package decode

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/reader"
	"mediaload/internal/logging"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

// CropProvider supplies one crop window (x, y, w, h) per sample name.
type CropProvider interface {
	Crops(names []string) [][4]float32
}

// sampleMeta is what a decoder learned about one sample.
type sampleMeta struct {
	width, height         uint32
	origWidth, origHeight uint32
	audioSamples          uint32
	audioChannels         uint32
	sampleRate            float32
}

// sampleDecoder decodes the encoded parts of one sample (one part, or one per
// video frame) into dst, the sample's area of the slot.
type sampleDecoder interface {
	decodeSample(parts [][]byte, dst []byte) (sampleMeta, error)
}

// batchSource reads the encoded parts of the next sample.
type batchSource interface {
	Count() int
	Reset()
	LastBatchPaddedSize() int
	Release() error
	readSample(scratch [][]byte) (name string, parts [][]byte, err error)
}

// readAndDecode is the shared batch pipeline behind every modality: read a
// batch serially, decode its samples in parallel, describe it in a BatchInfo.
type readAndDecode struct {
	src        batchSource
	dec        sampleDecoder
	cfg        Config
	batch      int
	sampleSize int
	audio      bool
	log        *zap.Logger

	cropMu sync.RWMutex
	crop   CropProvider

	timing timingCell
	served int

	names   []string
	parts   [][][]byte
	meta    []sampleMeta
	scratch [][]byte
}

func newReadAndDecode(modality string, src batchSource, dec sampleDecoder, cfg Config, out tensor.Info) (*readAndDecode, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if cfg.Kind == SkipDecode {
		dec = rawCopy{typeSize: 1}
	}
	b := out.BatchSize()
	if b <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", b)
	}
	return &readAndDecode{
		src:        src,
		dec:        dec,
		cfg:        cfg,
		batch:      b,
		sampleSize: out.SampleSize(),
		log:        logging.Named("decode").With(zap.String(logging.KeyModality, modality)),
		names:      make([]string, b),
		parts:      make([][][]byte, b),
		meta:       make([]sampleMeta, b),
		scratch:    make([][]byte, b),
	}, nil
}

// Count is the number of samples left in the epoch.
func (o *readAndDecode) Count() int { return o.src.Count() }

// Reset starts a new epoch on the underlying reader.
func (o *readAndDecode) Reset() {
	o.src.Reset()
	o.served = 0
}

func (o *readAndDecode) LastBatchPaddedSize() int { return o.src.LastBatchPaddedSize() }

// Release frees the reader and any client it created.
func (o *readAndDecode) Release() error { return o.src.Release() }

// Timing returns read and decode time of the last loaded batch.
func (o *readAndDecode) Timing() Timing { return o.timing.get() }

// SetCropProvider attaches crop windows to every following batch.
func (o *readAndDecode) SetCropProvider(p CropProvider) {
	o.cropMu.Lock()
	o.crop = p
	o.cropMu.Unlock()
}

// Load reads and decodes one batch into dst and describes it in info.
func (o *readAndDecode) Load(dst memory.Handle, info *buffer.BatchInfo) Status {
	avail := o.src.Count()
	if avail == 0 && o.served == 0 {
		return StatusNoFiles
	}
	if avail < o.batch {
		return StatusNoMoreData
	}
	if need := o.batch * o.sampleSize; dst.Size() < need {
		o.log.Error("slot too small for batch", zap.Int("size", dst.Size()), zap.Int("need", need))
		return StatusDecodeFailed
	}

	sw := StartStopwatch()
	for i := 0; i < o.batch; i++ {
		name, parts, err := o.src.readSample(o.parts[i])
		if err != nil {
			if errors.Is(err, reader.ErrNoItems) {
				return StatusNoMoreData
			}
			o.log.Warn("read failed", zap.Error(err))
			return StatusDecodeFailed
		}
		o.names[i], o.parts[i] = name, parts
	}
	o.served += o.batch
	readTime := sw.Lap()

	var g errgroup.Group
	g.SetLimit(o.cfg.threads())
	for i := 0; i < o.batch; i++ {
		i := i
		g.Go(func() error {
			area := o.area(dst, i)
			m, err := o.dec.decodeSample(o.parts[i], area)
			if err != nil {
				return errors.Wrapf(err, "sample %s", o.names[i])
			}
			o.meta[i] = m
			if dst.Kind() == memory.Device {
				return dst.WriteAt(area, i*o.sampleSize)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.log.Warn("decode failed", zap.Error(err))
		return StatusDecodeFailed
	}
	o.timing.set(readTime, sw.Lap())

	o.describe(info)
	return StatusOK
}

// area is where sample i is decoded: straight into host memory, or into a
// per-sample staging buffer that is uploaded afterwards.
func (o *readAndDecode) area(dst memory.Handle, i int) []byte {
	if dst.Kind() == memory.Host {
		off := i * o.sampleSize
		return dst.Bytes()[off : off+o.sampleSize]
	}
	if len(o.scratch[i]) != o.sampleSize {
		o.scratch[i] = make([]byte, o.sampleSize)
	}
	return o.scratch[i]
}

func (o *readAndDecode) describe(info *buffer.BatchInfo) {
	info.Reset()
	for i := 0; i < o.batch; i++ {
		m := o.meta[i]
		info.Names = append(info.Names, o.names[i])
		info.ROIWidth = append(info.ROIWidth, m.width)
		info.ROIHeight = append(info.ROIHeight, m.height)
		info.OriginalWidth = append(info.OriginalWidth, m.origWidth)
		info.OriginalHeight = append(info.OriginalHeight, m.origHeight)
		if o.audio {
			info.AudioSamples = append(info.AudioSamples, m.audioSamples)
			info.AudioChannels = append(info.AudioChannels, m.audioChannels)
			info.SampleRates = append(info.SampleRates, m.sampleRate)
		}
	}
	o.cropMu.RLock()
	crop := o.crop
	o.cropMu.RUnlock()
	if crop != nil {
		info.Crop = &buffer.CropInfo{Coords: crop.Crops(info.Names)}
	}
}

// readerSource adapts a reader.Reader, reusing one buffer per batch position.
type readerSource struct {
	reader.Reader
}

func (s readerSource) readSample(scratch [][]byte) (string, [][]byte, error) {
	size, err := s.Open()
	if err != nil {
		return "", scratch[:0], err
	}
	defer s.Close()

	var buf []byte
	if len(scratch) > 0 {
		buf = scratch[0]
	}
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	n := 0
	for n < size {
		m, err := s.ReadData(buf[n:])
		if err != nil {
			return "", scratch[:0], errors.Wrapf(err, "read %s", s.Path())
		}
		if m == 0 {
			break
		}
		n += m
	}
	return s.ID(), append(scratch[:0], buf[:n]), nil
}

// sequenceSource adapts a reader.SequenceSource; each part is one frame.
type sequenceSource struct {
	reader.SequenceSource
}

func (s sequenceSource) readSample(scratch [][]byte) (string, [][]byte, error) {
	seq, err := s.NextSequence()
	if err != nil {
		return "", scratch[:0], err
	}
	parts := scratch[:0]
	for _, f := range seq.Frames {
		b, err := s.ReadFrame(f)
		if err != nil {
			return "", scratch[:0], errors.Wrapf(err, "read frame %s", f)
		}
		parts = append(parts, b)
	}
	return seq.Name, parts, nil
}
