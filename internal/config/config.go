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

// Package config loads the loader-bench configuration from a YAML file,
// MEDIALOAD_* environment variables and built-in defaults, in that order of
// increasing precedence: env beats file beats defaults.
package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"mediaload/internal/dataloader/telemetry"
	"mediaload/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g.
// MEDIALOAD_LOADER_BATCH_SIZE=16.
const EnvPrefix = "MEDIALOAD"

// Config is the full configuration of a loader process.
type Config struct {
	Loader  LoaderConfig     `mapstructure:"loader"`
	Source  SourceConfig     `mapstructure:"source"`
	Output  OutputConfig     `mapstructure:"output"`
	Logging logging.Config   `mapstructure:"logging"`
	Metrics telemetry.Config `mapstructure:"metrics"`
	HTTP    HTTPConfig       `mapstructure:"http"`

	// ShutdownTimeout bounds graceful shutdown of the stats server.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoaderConfig shapes the loader itself.
type LoaderConfig struct {
	// Modality is one of image, video, audio or array.
	Modality string `mapstructure:"modality"`
	// Shards > 1 builds a sharded loader.
	Shards        int           `mapstructure:"shards"`
	BatchSize     int           `mapstructure:"batch_size"`
	Prefetch      int           `mapstructure:"prefetch"`
	Memory        string        `mapstructure:"memory"`
	KeepOriginal  bool          `mapstructure:"keep_original"`
	SkipDecode    bool          `mapstructure:"skip_decode"`
	DecodeThreads int           `mapstructure:"decode_threads"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	Loop         bool   `mapstructure:"loop"`
	Shuffle      bool   `mapstructure:"shuffle"`
	Seed         int64  `mapstructure:"seed"`
	LastBatch    string `mapstructure:"last_batch"`
	StickToShard bool   `mapstructure:"stick_to_shard"`

	SequenceLength int `mapstructure:"sequence_length"`
	FrameStep      int `mapstructure:"frame_step"`
	FrameStride    int `mapstructure:"frame_stride"`
}

// SourceConfig selects where samples come from.
type SourceConfig struct {
	// Type is one of file, sequence, redis or s3.
	Type         string        `mapstructure:"type"`
	Path         string        `mapstructure:"path"`
	FileList     string        `mapstructure:"file_list"`
	Extensions   []string      `mapstructure:"extensions"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	Redis RedisSourceConfig `mapstructure:"redis"`
	S3    S3SourceConfig    `mapstructure:"s3"`
}

type RedisSourceConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	ListKey   string `mapstructure:"list_key"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type S3SourceConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// OutputConfig is the maximal per-sample shape of the output tensor. Which
// fields apply depends on the modality.
type OutputConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	// Color is rgb, bgr or gray.
	Color         string `mapstructure:"color"`
	Frames        int    `mapstructure:"frames"`
	AudioSamples  int    `mapstructure:"audio_samples"`
	AudioChannels int    `mapstructure:"audio_channels"`
	// Elements is the byte length of one raw array sample.
	Elements int `mapstructure:"elements"`
}

// HTTPConfig controls the stats server.
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads path (optional), applies env overrides and defaults, and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate, for callers that apply further
// overrides first.
func LoadUnvalidated(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)
	if err := readConfigFile(v); err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building config decoder")
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, path string) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.SetConfigName("mediaload")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return errors.Wrap(err, "reading config file")
}
