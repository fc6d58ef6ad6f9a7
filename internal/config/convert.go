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

package config

import (
	"strings"

	"github.com/pkg/errors"

	dldecode "mediaload/internal/dataloader/decode"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
	"mediaload/pkg/tensor"
)

func (o OutputConfig) colorFormat() (tensor.ColorFormat, error) {
	switch strings.ToLower(strings.TrimSpace(o.Color)) {
	case "", "rgb":
		return tensor.RGB24, nil
	case "bgr":
		return tensor.BGR24, nil
	case "gray", "grey", "u8":
		return tensor.U8, nil
	default:
		return tensor.RGB24, errors.Errorf("output.color: unknown color format %q", o.Color)
	}
}

// MemoryKind is the slot memory of the loader. Validate has already
// rejected unknown values.
func (c *Config) MemoryKind() memory.Kind {
	k, _ := memory.ParseKind(c.Loader.Memory)
	return k
}

// ReaderConfig maps the source and epoch settings. Shard fields are filled
// in by the loader.
func (c *Config) ReaderConfig() (reader.Config, error) {
	storage, err := reader.ParseStorage(c.Source.Type)
	if err != nil {
		return reader.Config{}, err
	}
	policy, err := reader.ParseLastBatchPolicy(c.Loader.LastBatch)
	if err != nil {
		return reader.Config{}, err
	}
	return reader.Config{
		Storage:         storage,
		Path:            c.Source.Path,
		FileListPath:    c.Source.FileList,
		Extensions:      c.Source.Extensions,
		ShardCount:      1,
		BatchCount:      c.Loader.BatchSize,
		Loop:            c.Loader.Loop,
		Shuffle:         c.Loader.Shuffle,
		Seed:            c.Loader.Seed,
		LastBatchPolicy: policy,
		StickToShard:    c.Loader.StickToShard,
		SequenceLength:  c.Loader.SequenceLength,
		FrameStep:       c.Loader.FrameStep,
		FrameStride:     c.Loader.FrameStride,
		FetchTimeout:    c.Source.FetchTimeout,
		Redis: reader.RedisConfig{
			Addr:      c.Source.Redis.Addr,
			Password:  c.Source.Redis.Password,
			DB:        c.Source.Redis.DB,
			ListKey:   c.Source.Redis.ListKey,
			KeyPrefix: c.Source.Redis.KeyPrefix,
		},
		S3: reader.S3Config{
			Bucket:          c.Source.S3.Bucket,
			Prefix:          c.Source.S3.Prefix,
			Region:          c.Source.S3.Region,
			Endpoint:        c.Source.S3.Endpoint,
			AccessKeyID:     c.Source.S3.AccessKeyID,
			SecretAccessKey: c.Source.S3.SecretAccessKey,
			ForcePathStyle:  c.Source.S3.ForcePathStyle,
		},
	}, nil
}

func (c *Config) DecodeConfig() dldecode.Config {
	kind := dldecode.Auto
	if c.Loader.SkipDecode {
		kind = dldecode.SkipDecode
	}
	return dldecode.Config{Kind: kind, NumThreads: c.Loader.DecodeThreads}
}

// TensorInfo is the output tensor shape for the configured modality.
func (c *Config) TensorInfo() (tensor.Info, error) {
	color, err := c.Output.colorFormat()
	if err != nil {
		return tensor.Info{}, err
	}
	o := c.Output
	b := c.Loader.BatchSize
	info := tensor.Info{Type: tensor.Uint8, Color: color, Memory: c.MemoryKind()}
	switch c.Loader.Modality {
	case "image":
		info.Layout = tensor.NHWC
		info.Dims = []int{b, o.Height, o.Width, color.Channels()}
	case "video":
		info.Layout = tensor.NFHWC
		info.Dims = []int{b, o.Frames, o.Height, o.Width, color.Channels()}
	case "audio":
		info.Layout = tensor.NSC
		info.Type = tensor.Float32
		info.Dims = []int{b, o.AudioSamples, o.AudioChannels}
	case "array":
		info.Layout = tensor.NX
		info.Dims = []int{b, o.Elements}
	default:
		return tensor.Info{}, errors.Errorf("unknown modality %q", c.Loader.Modality)
	}
	return info, nil
}
