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
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"mediaload/internal/dataloader/core"
	"mediaload/internal/dataloader/reader"
	"mediaload/pkg/memory"
)

// defaults lists every key so environment overrides apply even when the
// file does not mention the key.
var defaults = map[string]any{
	"loader.modality":        "image",
	"loader.shards":          1,
	"loader.batch_size":      8,
	"loader.prefetch":        core.DefaultPrefetchDepth,
	"loader.memory":          "host",
	"loader.keep_original":   false,
	"loader.skip_decode":     false,
	"loader.decode_threads":  4,
	"loader.retry_delay":     core.DefaultRetryDelay,
	"loader.loop":            false,
	"loader.shuffle":         false,
	"loader.seed":            0,
	"loader.last_batch":      "fill",
	"loader.stick_to_shard":  false,
	"loader.sequence_length": 0,
	"loader.frame_step":      0,
	"loader.frame_stride":    0,

	"source.type":          "file",
	"source.path":          "",
	"source.file_list":     "",
	"source.extensions":    reader.DefaultExtensions,
	"source.fetch_timeout": 30 * time.Second,

	"source.redis.addr":       "localhost:6379",
	"source.redis.password":   "",
	"source.redis.db":         0,
	"source.redis.list_key":   "",
	"source.redis.key_prefix": "",

	"source.s3.bucket":            "",
	"source.s3.prefix":            "",
	"source.s3.region":            "",
	"source.s3.endpoint":          "",
	"source.s3.access_key_id":     "",
	"source.s3.secret_access_key": "",
	"source.s3.force_path_style":  false,

	"output.width":          224,
	"output.height":         224,
	"output.color":          "rgb",
	"output.frames":         8,
	"output.audio_samples":  16000,
	"output.audio_channels": 1,
	"output.elements":       1024,

	"logging.level":       "info",
	"logging.format":      "console",
	"logging.output":      "stdout",
	"logging.max_size":    100,
	"logging.max_backups": 3,
	"logging.max_age":     28,
	"logging.compress":    false,

	"metrics.enabled":      false,
	"metrics.addr":         "",
	"metrics.log_interval": 10 * time.Second,

	"http.enabled":       false,
	"http.addr":          ":8090",
	"http.read_timeout":  5 * time.Second,
	"http.write_timeout": 10 * time.Second,

	"shutdown_timeout": 10 * time.Second,
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Default returns the built-in configuration. It is not validated: the
// source location has no default.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(errors.Wrap(err, "built-in defaults do not load"))
	}
	return cfg
}

// Validate rejects settings a loader could not be built from.
func (c *Config) Validate() error {
	if _, ok := core.ModalityByName(c.Loader.Modality); !ok {
		return errors.Errorf("loader.modality: unknown modality %q", c.Loader.Modality)
	}
	if c.Loader.Shards < 1 {
		return errors.Errorf("loader.shards must be at least 1, got %d", c.Loader.Shards)
	}
	if c.Loader.BatchSize < 1 {
		return errors.Errorf("loader.batch_size must be at least 1, got %d", c.Loader.BatchSize)
	}
	if c.Loader.Prefetch < 2 {
		return errors.Errorf("loader.prefetch must be at least 2, got %d", c.Loader.Prefetch)
	}
	if _, err := memory.ParseKind(c.Loader.Memory); err != nil {
		return errors.Wrap(err, "loader.memory")
	}
	if _, err := reader.ParseLastBatchPolicy(c.Loader.LastBatch); err != nil {
		return errors.Wrap(err, "loader.last_batch")
	}
	storage, err := reader.ParseStorage(c.Source.Type)
	if err != nil {
		return errors.Wrap(err, "source.type")
	}
	switch storage {
	case reader.FileSystem, reader.SequenceFileSystem:
		if c.Source.Path == "" && c.Source.FileList == "" {
			return errors.New("source.path or source.file_list is required")
		}
	case reader.Redis:
		if c.Source.Redis.ListKey == "" {
			return errors.New("source.redis.list_key is required")
		}
	case reader.S3:
		if c.Source.S3.Bucket == "" {
			return errors.New("source.s3.bucket is required")
		}
	}
	if _, err := c.Output.colorFormat(); err != nil {
		return err
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http.addr is required when http is enabled")
	}
	return nil
}
