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

package buffer

// CropInfo carries per-sample crop rectangles as x, y, w, h.
type CropInfo struct {
	Coords [][4]float32
}

// BatchInfo is the metadata that travels with one filled slot. Slices are
// indexed by sample position within the batch.
type BatchInfo struct {
	Names []string

	ROIWidth       []uint32
	ROIHeight      []uint32
	OriginalWidth  []uint32
	OriginalHeight []uint32

	AudioSamples  []uint32
	AudioChannels []uint32
	SampleRates   []float32

	Crop *CropInfo
}

// Len is the number of samples described.
func (b BatchInfo) Len() int { return len(b.Names) }

// Reset truncates every slice while keeping capacity, so a producer can
// refill the same BatchInfo batch after batch.
func (b *BatchInfo) Reset() {
	b.Names = b.Names[:0]
	b.ROIWidth = b.ROIWidth[:0]
	b.ROIHeight = b.ROIHeight[:0]
	b.OriginalWidth = b.OriginalWidth[:0]
	b.OriginalHeight = b.OriginalHeight[:0]
	b.AudioSamples = b.AudioSamples[:0]
	b.AudioChannels = b.AudioChannels[:0]
	b.SampleRates = b.SampleRates[:0]
	b.Crop = nil
}

// Clone returns a deep copy. The ring stores clones so a producer may reuse
// its scratch BatchInfo immediately after a push.
func (b BatchInfo) Clone() BatchInfo {
	out := BatchInfo{
		Names:          append([]string(nil), b.Names...),
		ROIWidth:       append([]uint32(nil), b.ROIWidth...),
		ROIHeight:      append([]uint32(nil), b.ROIHeight...),
		OriginalWidth:  append([]uint32(nil), b.OriginalWidth...),
		OriginalHeight: append([]uint32(nil), b.OriginalHeight...),
		AudioSamples:   append([]uint32(nil), b.AudioSamples...),
		AudioChannels:  append([]uint32(nil), b.AudioChannels...),
		SampleRates:    append([]float32(nil), b.SampleRates...),
	}
	if b.Crop != nil {
		out.Crop = &CropInfo{Coords: append([][4]float32(nil), b.Crop.Coords...)}
	}
	return out
}
