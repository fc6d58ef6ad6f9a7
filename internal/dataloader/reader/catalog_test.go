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
	"fmt"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memSamples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{Name: fmt.Sprintf("s%02d", i), Data: []byte{byte(i)}}
	}
	return out
}

// drain opens every remaining sample of the epoch and returns their ids.
func drain(t *testing.T, r Reader) []string {
	t.Helper()
	var ids []string
	for r.Count() > 0 {
		_, err := r.Open()
		require.NoError(t, err)
		ids = append(ids, r.ID())
		require.NoError(t, r.Close())
	}
	return ids
}

func TestCatalog_ShardingAndPadding(t *testing.T) {
	tests := []struct {
		name   string
		shard  int
		batch  int
		policy LastBatchPolicy
		want   []string
		padded int
	}{
		{"shard0 even", 0, 2, Fill, []string{"s00", "s03", "s06", "s09"}, 0},
		{"shard1 padded to shard size", 1, 2, Fill, []string{"s01", "s04", "s07", "s07"}, 0},
		{"fill last batch", 0, 3, Fill, []string{"s00", "s03", "s06", "s09", "s09", "s09"}, 0},
		{"drop last batch", 0, 3, Drop, []string{"s00", "s03", "s06"}, 0},
		{"partial last batch", 2, 3, Partial, []string{"s02", "s05", "s08", "s08", "s08", "s08"}, 2},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := NewMemoryReader()
			require.NoError(t, r.Initialize(Config{
				Storage: Memory, Samples: memSamples(10),
				ShardID: tc.shard, ShardCount: 3, BatchCount: tc.batch, LastBatchPolicy: tc.policy,
			}))
			assert.Equal(t, len(tc.want), r.Count())
			assert.Equal(t, tc.padded, r.LastBatchPaddedSize())
			assert.Equal(t, tc.want, drain(t, r))
			assert.Equal(t, 0, r.Count())
		})
	}
}

func TestCatalog_LoopKeepsCount(t *testing.T) {
	r := NewMemoryReader()
	require.NoError(t, r.Initialize(Config{Storage: Memory, Samples: memSamples(4), BatchCount: 2, Loop: true}))
	for i := 0; i < 10; i++ {
		_, err := r.Open()
		require.NoError(t, err)
		assert.Equal(t, 4, r.Count())
	}
	assert.Equal(t, "s01", r.ID(), "cursor wraps around")
}

func TestCatalog_ResetRotatesShard(t *testing.T) {
	r := NewMemoryReader()
	require.NoError(t, r.Initialize(Config{Storage: Memory, Samples: memSamples(4), ShardCount: 2, BatchCount: 1}))
	assert.Equal(t, []string{"s00", "s02"}, drain(t, r))
	r.Reset()
	assert.Equal(t, 1, r.currentShard())
	assert.Equal(t, []string{"s01", "s03"}, drain(t, r))

	stick := NewMemoryReader()
	require.NoError(t, stick.Initialize(Config{Storage: Memory, Samples: memSamples(4), ShardCount: 2, BatchCount: 1, StickToShard: true}))
	drain(t, stick)
	stick.Reset()
	assert.Equal(t, []string{"s00", "s02"}, drain(t, stick))
}

func TestCatalog_ShuffleIsPermutation(t *testing.T) {
	cfg := Config{Storage: Memory, Samples: memSamples(20), BatchCount: 4, Shuffle: true, Seed: 42}
	a, b := NewMemoryReader(), NewMemoryReader()
	require.NoError(t, a.Initialize(cfg))
	require.NoError(t, b.Initialize(cfg))
	first := drain(t, a)
	assert.Equal(t, first, drain(t, b), "same seed gives the same order")

	sorted := append([]string(nil), first...)
	sort.Strings(sorted)
	assert.Equal(t, drain(t, mustMemory(t, Config{Storage: Memory, Samples: memSamples(20), BatchCount: 4})), sorted)
	assert.NotEqual(t, sorted, first)
}

func mustMemory(t *testing.T, cfg Config) *MemoryReader {
	t.Helper()
	r := NewMemoryReader()
	require.NoError(t, r.Initialize(cfg))
	return r
}

func TestConfig_Validation(t *testing.T) {
	r := NewMemoryReader()
	assert.Error(t, r.Initialize(Config{Storage: Memory, BatchCount: 0}))
	assert.Error(t, r.Initialize(Config{Storage: Memory, BatchCount: 1, ShardID: 2, ShardCount: 2}))
}

func TestMemoryReader_FeedAndRead(t *testing.T) {
	r := NewMemoryReader()
	r.Feed([]Sample{{Name: "early", Data: []byte("e")}})
	require.NoError(t, r.Initialize(Config{Storage: Memory, Samples: []Sample{{Name: "cfg", Data: []byte("abc")}}, BatchCount: 1}))
	r.Feed([]Sample{{Name: "late", Data: []byte("zz")}})
	assert.Equal(t, 2, r.Count(), "the epoch in flight keeps its length")

	size, err := r.Open()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	buf := make([]byte, 2)
	n, err := r.ReadData(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "read is capped by the buffer")
	assert.Equal(t, "ab", string(buf))
	assert.Equal(t, []string{"early"}, drain(t, r))

	r.Reset()
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []string{"cfg", "early", "late"}, drain(t, r))
}

// Feeding mid-epoch must not reorder the samples still to come.
func TestMemoryReader_FeedKeepsShuffledEpoch(t *testing.T) {
	r := mustMemory(t, Config{Storage: Memory, Samples: memSamples(12), BatchCount: 1, Shuffle: true, Seed: 7})
	ref := mustMemory(t, Config{Storage: Memory, Samples: memSamples(12), BatchCount: 1, Shuffle: true, Seed: 7})
	want := drain(t, ref)

	var got []string
	for i := 0; i < 5; i++ {
		_, err := r.Open()
		require.NoError(t, err)
		got = append(got, r.ID())
	}
	r.Feed([]Sample{{Name: "x0", Data: []byte{1}}, {Name: "x1", Data: []byte{2}}})
	got = append(got, drain(t, r)...)
	assert.Equal(t, want, got)

	r.Reset()
	next := drain(t, r)
	assert.Len(t, next, 14)
	assert.Contains(t, next, "x0")
	assert.Contains(t, next, "x1")
}

func TestMemoryReader_LoopPicksUpFeedOnWrap(t *testing.T) {
	r := mustMemory(t, Config{Storage: Memory, Samples: memSamples(2), BatchCount: 1, Loop: true})
	_, err := r.Open()
	require.NoError(t, err)
	r.Feed([]Sample{{Name: "x", Data: []byte{9}}})
	assert.Equal(t, 2, r.Count())

	var ids []string
	for i := 0; i < 4; i++ {
		_, err := r.Open()
		require.NoError(t, err)
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"s01", "s00", "s01", "x"}, ids)
	assert.Equal(t, 3, r.Count())
}

func TestFeed_ShardsSplitTheStream(t *testing.T) {
	feed := NewFeed()
	feed.Push(Sample{Name: "f0", Data: []byte{0}})
	shards := make([]*MemoryReader, 2)
	for i := range shards {
		shards[i] = mustMemory(t, Config{Storage: Memory, BatchCount: 1, ShardID: i, ShardCount: 2, StickToShard: true, Feed: feed})
	}
	assert.Equal(t, 1, shards[0].Count(), "backlog is replayed on attach")
	assert.Equal(t, 1, shards[1].Count(), "shards are padded to the same size")

	feed.Push(Sample{Name: "f1", Data: []byte{1}}, Sample{Name: "f2", Data: []byte{2}}, Sample{Name: "f3", Data: []byte{3}})
	assert.Equal(t, 4, feed.Len())
	for _, r := range shards {
		r.Reset()
	}
	assert.Equal(t, []string{"f0", "f2"}, drain(t, shards[0]))
	assert.Equal(t, []string{"f1", "f3"}, drain(t, shards[1]))

	require.NoError(t, shards[1].Release())
	feed.Push(Sample{Name: "f4", Data: []byte{4}})
	shards[0].Reset()
	assert.Equal(t, []string{"f0", "f2", "f4"}, drain(t, shards[0]))
	shards[1].Reset()
	assert.Equal(t, []string{"f1", "f3"}, drain(t, shards[1]), "a released reader no longer receives samples")
}

func TestFeed_NeedsMemoryStorage(t *testing.T) {
	r := NewFileReader()
	assert.Error(t, r.Initialize(Config{Storage: FileSystem, Path: t.TempDir(), BatchCount: 1, Feed: NewFeed()}))
}

func TestMemoryReader_EmptyListing(t *testing.T) {
	r := mustMemory(t, Config{Storage: Memory, BatchCount: 2})
	assert.Equal(t, 0, r.Count())
	_, err := r.Open()
	assert.True(t, errors.Is(err, ErrNoItems))
}

func TestParsers(t *testing.T) {
	s, err := ParseStorage("S3")
	require.NoError(t, err)
	assert.Equal(t, S3, s)
	_, err = ParseStorage("ftp")
	assert.Error(t, err)

	p, err := ParseLastBatchPolicy("partial")
	require.NoError(t, err)
	assert.Equal(t, Partial, p)
	_, err = ParseLastBatchPolicy("maybe")
	assert.Error(t, err)

	assert.True(t, supported("a.JPG", DefaultExtensions))
	assert.True(t, supported("noext", DefaultExtensions))
	assert.False(t, supported("notes.txt", DefaultExtensions))
}
