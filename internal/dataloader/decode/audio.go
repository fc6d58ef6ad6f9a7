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
	"bytes"
	"encoding/binary"
	"math"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
)

// AudioDecoder decodes PCM WAV into interleaved little-endian float32 samples
// normalised to [-1, 1]. Clips longer than MaxSamples are truncated.
type AudioDecoder struct {
	MaxSamples  int
	MaxChannels int
}

// AudioResult describes the decoded clip.
type AudioResult struct {
	Samples    int
	Channels   int
	SampleRate float32
}

// Decode writes Samples*Channels float32 values at the start of dst.
func (d AudioDecoder) Decode(data []byte, dst []byte) (AudioResult, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return AudioResult{}, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return AudioResult{}, errors.Wrap(err, "decode wav")
	}
	ch := int(dec.NumChans)
	if ch == 0 {
		return AudioResult{}, errors.New("wav file reports zero channels")
	}
	if ch > d.MaxChannels {
		return AudioResult{}, errors.Errorf("wav has %d channels, at most %d fit", ch, d.MaxChannels)
	}
	n := len(buf.Data) / ch
	if n > d.MaxSamples {
		n = d.MaxSamples
	}
	if need := n * ch * 4; len(dst) < need {
		return AudioResult{}, errors.Errorf("sample area of %d bytes, audio needs %d", len(dst), need)
	}

	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return AudioResult{}, errors.Errorf("unsupported bit depth %d", depth)
	}
	scale := float32(uint64(1) << (depth - 1))
	for i, v := range buf.Data[:n*ch] {
		if depth == 8 {
			// 8-bit PCM is unsigned.
			v -= 128
		}
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(v)/scale))
	}
	return AudioResult{Samples: n, Channels: ch, SampleRate: float32(dec.SampleRate)}, nil
}
