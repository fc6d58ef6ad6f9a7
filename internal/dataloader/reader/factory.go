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
	"github.com/pkg/errors"
)

// Build constructs and initializes the reader selected by cfg.Storage.
//   - FileSystem: local directory or file list
//   - Redis: list of ids + GET per payload (go-redis unless a client is injected)
//   - S3: objects under a prefix (aws-sdk-go-v2 unless a client is injected)
//   - Memory: cfg.Samples, extendable with MemoryReader.Feed
//
// Frame sequences use BuildSequence instead.
func Build(cfg Config) (Reader, error) {
	var r Reader
	switch cfg.Storage {
	case FileSystem:
		r = NewFileReader()
	case Redis:
		r = NewRedisReader()
	case S3:
		r = NewS3Reader()
	case Memory:
		r = NewMemoryReader()
	case SequenceFileSystem:
		return nil, errors.New("sequence storage yields frame sequences; use BuildSequence")
	default:
		return nil, errors.Errorf("unknown reader storage: %v", cfg.Storage)
	}
	if err := r.Initialize(cfg); err != nil {
		return nil, errors.Wrapf(err, "initializing %v reader", cfg.Storage)
	}
	return r, nil
}

// BuildSequence constructs and initializes a frame sequence reader.
func BuildSequence(cfg Config) (SequenceSource, error) {
	if cfg.Storage != SequenceFileSystem {
		return nil, errors.Errorf("storage %v does not provide frame sequences", cfg.Storage)
	}
	r := NewSequenceReader()
	if err := r.Initialize(cfg); err != nil {
		return nil, errors.Wrap(err, "initializing sequence reader")
	}
	return r, nil
}
