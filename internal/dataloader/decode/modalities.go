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
	"github.com/pkg/errors"

	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/tensor"
)

// ImageReadAndDecode loads batches of images into an NHWC uint8 layout.
type ImageReadAndDecode struct {
	*readAndDecode
}

func NewImageReadAndDecode(r reader.Reader, cfg Config, out tensor.Info, keepOriginal bool) (*ImageReadAndDecode, error) {
	if err := checkImageInfo(out, tensor.NHWC); err != nil {
		return nil, err
	}
	dec := imageSample{ImageDecoder{
		MaxWidth: out.MaxWidth(), MaxHeight: out.MaxHeight(),
		Color: out.Color, KeepOriginal: keepOriginal,
	}}
	o, err := newReadAndDecode("image", readerSource{r}, dec, cfg, out)
	if err != nil {
		return nil, err
	}
	return &ImageReadAndDecode{o}, nil
}

// VideoReadAndDecode loads batches of frame sequences into an NFHWC uint8
// layout. Every frame of a sequence must decode to the same size.
type VideoReadAndDecode struct {
	*readAndDecode
}

func NewVideoReadAndDecode(s reader.SequenceSource, cfg Config, out tensor.Info, keepOriginal bool) (*VideoReadAndDecode, error) {
	if err := checkImageInfo(out, tensor.NFHWC); err != nil {
		return nil, err
	}
	if s.SequenceLength() != out.Frames() {
		return nil, errors.Errorf("sequence length %d does not match %d output frames", s.SequenceLength(), out.Frames())
	}
	dec := videoSample{
		frame: ImageDecoder{
			MaxWidth: out.MaxWidth(), MaxHeight: out.MaxHeight(),
			Color: out.Color, KeepOriginal: keepOriginal,
		},
		frameSize: out.MaxWidth() * out.MaxHeight() * out.Channels(),
	}
	o, err := newReadAndDecode("video", sequenceSource{s}, dec, cfg, out)
	if err != nil {
		return nil, err
	}
	return &VideoReadAndDecode{o}, nil
}

// AudioReadAndDecode loads batches of WAV clips into an NSC float32 layout
// and reports sample counts, channels and sample rates per clip.
type AudioReadAndDecode struct {
	*readAndDecode
}

func NewAudioReadAndDecode(r reader.Reader, cfg Config, out tensor.Info) (*AudioReadAndDecode, error) {
	if out.Layout != tensor.NSC {
		return nil, errors.New("audio output must use the NSC layout")
	}
	if out.Type != tensor.Float32 {
		return nil, errors.Errorf("audio output must be float32, got %v", out.Type)
	}
	dec := audioSample{AudioDecoder{MaxSamples: out.MaxWidth(), MaxChannels: out.MaxHeight()}}
	o, err := newReadAndDecode("audio", readerSource{r}, dec, cfg, out)
	if err != nil {
		return nil, err
	}
	o.audio = true
	return &AudioReadAndDecode{o}, nil
}

// ArrayReadAndDecode copies raw sample bytes into the slot. The ROI width of
// a sample is its element count.
type ArrayReadAndDecode struct {
	*readAndDecode
}

func NewArrayReadAndDecode(r reader.Reader, cfg Config, out tensor.Info) (*ArrayReadAndDecode, error) {
	o, err := newReadAndDecode("array", readerSource{r}, rawCopy{typeSize: out.Type.Size()}, cfg, out)
	if err != nil {
		return nil, err
	}
	return &ArrayReadAndDecode{o}, nil
}

func checkImageInfo(out tensor.Info, layout tensor.Layout) error {
	if err := out.Validate(); err != nil {
		return err
	}
	if out.Layout != layout {
		return errors.Errorf("unsupported image layout %d", out.Layout)
	}
	if out.Type != tensor.Uint8 {
		return errors.Errorf("image output must be uint8, got %v", out.Type)
	}
	if out.Channels() != out.Color.Channels() {
		return errors.Errorf("output has %d channels, color format needs %d", out.Channels(), out.Color.Channels())
	}
	return nil
}

func empty(parts [][]byte) bool { return len(parts) == 0 || len(parts[0]) == 0 }

type imageSample struct{ ImageDecoder }

func (d imageSample) decodeSample(parts [][]byte, dst []byte) (sampleMeta, error) {
	if empty(parts) {
		return sampleMeta{}, nil
	}
	r, err := d.Decode(parts[0], dst)
	if err != nil {
		return sampleMeta{}, err
	}
	return sampleMeta{
		width: uint32(r.Width), height: uint32(r.Height),
		origWidth: uint32(r.OrigWidth), origHeight: uint32(r.OrigHeight),
	}, nil
}

type videoSample struct {
	frame     ImageDecoder
	frameSize int
}

func (d videoSample) decodeSample(parts [][]byte, dst []byte) (sampleMeta, error) {
	if empty(parts) {
		return sampleMeta{}, nil
	}
	var first ImageResult
	for f, p := range parts {
		area := dst[f*d.frameSize : (f+1)*d.frameSize]
		r, err := d.frame.Decode(p, area)
		if err != nil {
			return sampleMeta{}, errors.Wrapf(err, "frame %d", f)
		}
		if f == 0 {
			first = r
		} else if r.Width != first.Width || r.Height != first.Height {
			return sampleMeta{}, errors.Errorf("frame %d is %dx%d, first frame is %dx%d",
				f, r.Width, r.Height, first.Width, first.Height)
		}
	}
	return sampleMeta{
		width: uint32(first.Width), height: uint32(first.Height),
		origWidth: uint32(first.OrigWidth), origHeight: uint32(first.OrigHeight),
	}, nil
}

type audioSample struct{ AudioDecoder }

func (d audioSample) decodeSample(parts [][]byte, dst []byte) (sampleMeta, error) {
	if empty(parts) {
		return sampleMeta{}, nil
	}
	r, err := d.Decode(parts[0], dst)
	if err != nil {
		return sampleMeta{}, err
	}
	return sampleMeta{
		width: uint32(r.Samples), height: uint32(r.Channels),
		origWidth: uint32(r.Samples), origHeight: uint32(r.Channels),
		audioSamples: uint32(r.Samples), audioChannels: uint32(r.Channels),
		sampleRate: r.SampleRate,
	}, nil
}

// rawCopy copies the first part verbatim, truncated to the sample area.
type rawCopy struct{ typeSize int }

func (d rawCopy) decodeSample(parts [][]byte, dst []byte) (sampleMeta, error) {
	if empty(parts) {
		return sampleMeta{}, nil
	}
	n := copy(dst, parts[0])
	w := uint32(n / max(1, d.typeSize))
	return sampleMeta{width: w, height: 1, origWidth: uint32(len(parts[0]) / max(1, d.typeSize)), origHeight: 1}, nil
}
