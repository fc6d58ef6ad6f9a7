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

package core

import (
	"mediaload/internal/dataloader/buffer"
	"mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/tensor"
)

// Modality is the per-media part of a Loader: how its orchestrator is built
// and how batch metadata maps to the sink's region of interest.
type Modality interface {
	Name() string
	NewOrchestrator(rc reader.Config, dc decode.Config, out tensor.Info, keepOriginal bool) (Orchestrator, error)
	ROI(info buffer.BatchInfo) (widths, heights []uint32)
}

// ImageModality loads still images through the image decoder.
type ImageModality struct{}

func (ImageModality) Name() string { return "image" }

func (ImageModality) NewOrchestrator(rc reader.Config, dc decode.Config, out tensor.Info, keepOriginal bool) (Orchestrator, error) {
	r, err := reader.Build(rc)
	if err != nil {
		return nil, err
	}
	o, err := decode.NewImageReadAndDecode(r, dc, out, keepOriginal)
	if err != nil {
		_ = r.Release()
		return nil, err
	}
	return o, nil
}

func (ImageModality) ROI(info buffer.BatchInfo) ([]uint32, []uint32) {
	return info.ROIWidth, info.ROIHeight
}

// VideoModality loads frame sequences.
type VideoModality struct{}

func (VideoModality) Name() string { return "video" }

func (VideoModality) NewOrchestrator(rc reader.Config, dc decode.Config, out tensor.Info, keepOriginal bool) (Orchestrator, error) {
	rc.Storage = reader.SequenceFileSystem
	if rc.SequenceLength <= 0 {
		rc.SequenceLength = out.Frames()
	}
	s, err := reader.BuildSequence(rc)
	if err != nil {
		return nil, err
	}
	o, err := decode.NewVideoReadAndDecode(s, dc, out, keepOriginal)
	if err != nil {
		_ = s.Release()
		return nil, err
	}
	return o, nil
}

func (VideoModality) ROI(info buffer.BatchInfo) ([]uint32, []uint32) {
	return info.ROIWidth, info.ROIHeight
}

// AudioModality loads WAV clips. The ROI of a clip is samples by channels.
type AudioModality struct{}

func (AudioModality) Name() string { return "audio" }

func (AudioModality) NewOrchestrator(rc reader.Config, dc decode.Config, out tensor.Info, _ bool) (Orchestrator, error) {
	r, err := reader.Build(rc)
	if err != nil {
		return nil, err
	}
	o, err := decode.NewAudioReadAndDecode(r, dc, out)
	if err != nil {
		_ = r.Release()
		return nil, err
	}
	return o, nil
}

func (AudioModality) ROI(info buffer.BatchInfo) ([]uint32, []uint32) {
	return info.AudioSamples, info.AudioChannels
}

// ArrayModality copies raw arrays.
type ArrayModality struct{}

func (ArrayModality) Name() string { return "array" }

func (ArrayModality) NewOrchestrator(rc reader.Config, dc decode.Config, out tensor.Info, _ bool) (Orchestrator, error) {
	r, err := reader.Build(rc)
	if err != nil {
		return nil, err
	}
	o, err := decode.NewArrayReadAndDecode(r, dc, out)
	if err != nil {
		_ = r.Release()
		return nil, err
	}
	return o, nil
}

func (ArrayModality) ROI(info buffer.BatchInfo) ([]uint32, []uint32) {
	return info.ROIWidth, info.ROIHeight
}

// ModalityByName returns the modality for "image", "video", "audio" or "array".
func ModalityByName(name string) (Modality, bool) {
	switch name {
	case "image":
		return ImageModality{}, true
	case "video":
		return VideoModality{}, true
	case "audio":
		return AudioModality{}, true
	case "array":
		return ArrayModality{}, true
	default:
		return nil, false
	}
}
