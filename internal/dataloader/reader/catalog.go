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
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"mediaload/internal/logging"
)

// entry is one catalog item. Parts is only used by sequence readers and
// lists the frame locators of the sequence.
type entry struct {
	Name    string
	Locator string
	Parts   []string
}

// catalog holds the shard's view of the full listing and the epoch cursor.
// All methods are safe for concurrent use.
type catalog struct {
	mu sync.Mutex

	cfg     Config
	all     []entry
	items   []entry
	shardID int
	padded  int
	cursor  int
	read    int
	rng     *rand.Rand
	log     *zap.Logger
	// stale is set when entries were appended during an epoch. The shard
	// view is rebuilt at the next epoch boundary.
	stale bool
}

func (c *catalog) init(cfg Config, all []entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	// Entries appended before init (MemoryReader.Feed) follow the listing.
	c.all = append(all, c.all...)
	c.shardID = cfg.ShardID
	c.rng = rand.New(rand.NewSource(cfg.Seed))
	c.log = logging.Named("reader").With(zap.String(logging.KeyStorage, cfg.Storage.String()))
	c.assembleLocked()
	c.cursor, c.read, c.stale = 0, 0, false
}

// assembleLocked selects this shard's entries and applies padding and the
// last-batch policy.
func (c *catalog) assembleLocked() {
	shards := c.cfg.ShardCount
	batch := c.cfg.BatchCount
	c.padded = 0
	c.items = c.items[:0]
	if len(c.all) == 0 {
		c.log.Warn("no samples found", zap.Int(logging.KeyShard, c.shardID), zap.String(logging.KeyPath, c.cfg.Path))
		return
	}

	for i, e := range c.all {
		if i%shards == c.shardID {
			c.items = append(c.items, e)
		}
	}

	// Pad every shard to the size of the largest one so shards stay in step.
	perShard := (len(c.all) + shards - 1) / shards
	last := c.all[len(c.all)-1]
	if n := len(c.items); n > 0 {
		last = c.items[n-1]
	}
	for len(c.items) < perShard {
		c.items = append(c.items, last)
	}

	if rem := len(c.items) % batch; rem != 0 {
		switch c.cfg.LastBatchPolicy {
		case Drop:
			c.items = c.items[:len(c.items)-rem]
		case Partial:
			c.padded = batch - rem
			fallthrough
		default:
			last = c.items[len(c.items)-1]
			for i := 0; i < batch-rem; i++ {
				c.items = append(c.items, last)
			}
			c.log.Debug("replicated last sample to fill the last batch",
				zap.String(logging.KeySample, last.Name), zap.Int(logging.KeyCount, batch-rem))
		}
	}

	if c.cfg.Shuffle {
		c.shuffleLocked()
	}
	c.log.Info("catalog ready",
		zap.Int(logging.KeyShard, c.shardID),
		zap.Int(logging.KeyCount, len(c.items)),
		zap.Int(logging.KeyPadded, c.padded))
}

func (c *catalog) shuffleLocked() {
	c.rng.Shuffle(len(c.items), func(i, j int) { c.items[i], c.items[j] = c.items[j], c.items[i] })
}

func (c *catalog) next() (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return entry{}, false
	}
	e := c.items[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.items)
	c.read++
	// A looping reader has no Reset; wrapping around starts its next epoch.
	if c.cursor == 0 && c.cfg.Loop && c.stale {
		c.assembleLocked()
		c.stale = false
	}
	return e, true
}

func (c *catalog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Loop {
		return len(c.items)
	}
	if n := len(c.items) - c.read; n > 0 {
		return n
	}
	return 0
}

// reset rewinds the epoch. With several shards and StickToShard unset the
// reader moves on to the next shard, so over ShardCount epochs every shard
// sees the whole dataset.
func (c *catalog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	rotate := c.cfg.ShardCount > 1 && !c.cfg.StickToShard
	if rotate {
		c.shardID = (c.shardID + 1) % c.cfg.ShardCount
	}
	if rotate || c.stale {
		c.assembleLocked()
	} else if c.cfg.Shuffle {
		c.shuffleLocked()
	}
	c.cursor, c.read, c.stale = 0, 0, false
}

func (c *catalog) lastBatchPadded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.padded
}

func (c *catalog) currentShard() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shardID
}

// append adds entries to the full listing. Before init they simply join the
// listing. Afterwards the epoch in flight keeps its order and length, and the
// entries become visible at the next epoch boundary.
func (c *catalog) append(more []entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, more...)
	if c.log == nil {
		return
	}
	if len(c.items) == 0 {
		// Nothing in flight: an empty shard picks the entries up at once.
		c.assembleLocked()
		c.cursor, c.read = 0, 0
		return
	}
	c.stale = true
}
