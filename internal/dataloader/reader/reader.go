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

// Package reader enumerates and opens the samples of one shard. A reader only
// hands out raw encoded bytes; decoding belongs to the decode package.
//
// Every source (local files, Redis, S3, in-memory) shares the same catalog
// rules: the listing is split across shards by position, each shard is padded
// to a common length, the last partial batch follows the configured policy,
// and Reset starts a new epoch, optionally reshuffling or moving to the next
// shard.
package reader

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Reader yields the encoded samples of one shard in epoch order.
type Reader interface {
	// Initialize builds the sample listing for cfg.
	Initialize(cfg Config) error
	// Count is the number of samples left in the epoch, or the shard size
	// when looping.
	Count() int
	// Open advances to the next sample and returns its size in bytes. A
	// zero size means the sample is empty and has nothing to read.
	Open() (int, error)
	// ReadData copies up to len(p) bytes of the open sample into p.
	ReadData(p []byte) (int, error)
	// Close releases the open sample.
	Close() error
	// Release closes the open sample and any client Initialize created.
	Release() error
	// ID is the short name of the last opened sample.
	ID() string
	// Path is the full locator of the last opened sample.
	Path() string
	// Reset starts a new epoch.
	Reset()
	// LastBatchPaddedSize is the number of padding samples in the last batch
	// under the Partial policy.
	LastBatchPaddedSize() int
}

var (
	ErrNoItems        = errors.New("reader has no samples")
	ErrSampleNotFound = errors.New("sample not found")
)

// Storage selects the reader implementation.
type Storage int

const (
	FileSystem Storage = iota
	SequenceFileSystem
	Redis
	S3
	Memory
)

func (s Storage) String() string {
	switch s {
	case FileSystem:
		return "file"
	case SequenceFileSystem:
		return "sequence"
	case Redis:
		return "redis"
	case S3:
		return "s3"
	case Memory:
		return "memory"
	default:
		return fmt.Sprintf("storage(%d)", int(s))
	}
}

// ParseStorage maps a configuration string to a Storage.
func ParseStorage(s string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file", "fs", "filesystem":
		return FileSystem, nil
	case "sequence", "video", "frames":
		return SequenceFileSystem, nil
	case "redis":
		return Redis, nil
	case "s3":
		return S3, nil
	case "memory", "external":
		return Memory, nil
	default:
		return FileSystem, errors.Errorf("unknown storage %q", s)
	}
}

// LastBatchPolicy decides what happens to a trailing partial batch.
type LastBatchPolicy int

const (
	// Fill pads the last batch with copies of the last sample.
	Fill LastBatchPolicy = iota
	// Drop discards the trailing partial batch.
	Drop
	// Partial pads like Fill and reports the pad count so a consumer can
	// ignore the padding.
	Partial
)

func (p LastBatchPolicy) String() string {
	switch p {
	case Fill:
		return "fill"
	case Drop:
		return "drop"
	case Partial:
		return "partial"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParseLastBatchPolicy(s string) (LastBatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fill":
		return Fill, nil
	case "drop":
		return Drop, nil
	case "partial":
		return Partial, nil
	default:
		return Fill, errors.Errorf("unknown last batch policy %q", s)
	}
}

// DefaultExtensions are the file types picked up by directory listings.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff", "webp", "wav", "bin", "raw"}

// Sample is an in-memory payload for the Memory storage.
type Sample struct {
	Name string
	Data []byte
}

// RedisConfig points at a Redis list of sample ids whose payloads live
// under KeyPrefix+id.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	ListKey   string
	KeyPrefix string
	Client    RedisClient
}

// S3Config selects objects under Bucket/Prefix.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	Client          S3API
}

// Config is passed by value to Initialize.
type Config struct {
	Storage         Storage
	Path            string
	FileListPath    string
	Extensions      []string
	ShardID         int
	ShardCount      int
	BatchCount      int
	Loop            bool
	Shuffle         bool
	Seed            int64
	LastBatchPolicy LastBatchPolicy
	StickToShard    bool

	SequenceLength int
	FrameStep      int
	FrameStride    int

	// FetchTimeout bounds a single remote fetch.
	FetchTimeout time.Duration

	Redis   RedisConfig
	S3      S3Config
	Samples []Sample
	// Feed streams samples into Memory storage after Initialize.
	Feed *Feed
}

// normalize fills defaults and rejects impossible shard settings.
func (c Config) normalize() (Config, error) {
	if c.ShardCount <= 0 {
		c.ShardCount = 1
	}
	if c.ShardID < 0 || c.ShardID >= c.ShardCount {
		return c, errors.Errorf("shard id %d out of range for %d shards", c.ShardID, c.ShardCount)
	}
	if c.BatchCount <= 0 {
		return c, errors.Errorf("batch count must be positive, got %d", c.BatchCount)
	}
	if c.Feed != nil && c.Storage != Memory {
		return c, errors.Errorf("a feed needs memory storage, got %v", c.Storage)
	}
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.SequenceLength <= 0 {
		c.SequenceLength = 1
	}
	if c.FrameStep <= 0 {
		c.FrameStep = c.SequenceLength
	}
	if c.FrameStride <= 0 {
		c.FrameStride = 1
	}
	return c, nil
}

// supported reports whether name carries one of exts. Names without an
// extension are accepted.
func supported(name string, exts []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return true
	}
	for _, e := range exts {
		if ext == strings.ToLower(strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}
