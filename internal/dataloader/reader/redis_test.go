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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu       sync.Mutex
	list     []string
	values   map[string][]byte
	failures int // transient GET failures before success
	gets     int
}

func (f *fakeRedis) LRange(_ context.Context, _ string, _, _ int64) ([]string, error) {
	return f.list, nil
}

func (f *fakeRedis) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	b, ok := f.values[key]
	if !ok {
		return nil, ErrSampleNotFound
	}
	return b, nil
}

func TestRedisReader_ListOrderAndFetch(t *testing.T) {
	fake := &fakeRedis{
		list:   []string{"b.jpg", "a.jpg", "notes.txt"},
		values: map[string][]byte{"img:b.jpg": []byte("bb"), "img:a.jpg": []byte("a")},
	}
	r := NewRedisReader()
	require.NoError(t, r.Initialize(Config{
		Storage: Redis, BatchCount: 1,
		Redis: RedisConfig{ListKey: "samples", KeyPrefix: "img:", Client: fake},
	}))
	require.Equal(t, 2, r.Count())

	size, err := r.Open()
	require.NoError(t, err)
	assert.Equal(t, 2, size)
	assert.Equal(t, "b.jpg", r.ID())
	assert.Equal(t, "img:b.jpg", r.Path())
	assert.Equal(t, []string{"a.jpg"}, drain(t, r))
}

func TestRedisReader_RetriesTransientErrors(t *testing.T) {
	fake := &fakeRedis{list: []string{"a.jpg"}, values: map[string][]byte{"a.jpg": []byte("a")}, failures: 2}
	r := NewRedisReader()
	require.NoError(t, r.Initialize(Config{Storage: Redis, BatchCount: 1, Redis: RedisConfig{ListKey: "k", Client: fake}}))
	size, err := r.Open()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, 3, fake.gets)
}

func TestRedisReader_MissingSample(t *testing.T) {
	fake := &fakeRedis{list: []string{"gone.jpg"}, values: map[string][]byte{}}
	r := NewRedisReader()
	require.NoError(t, r.Initialize(Config{Storage: Redis, BatchCount: 1, Redis: RedisConfig{ListKey: "k", Client: fake}}))
	_, err := r.Open()
	assert.True(t, errors.Is(err, ErrSampleNotFound))
	assert.Equal(t, 1, fake.gets, "not-found is not retried")
}

func TestRedisReader_ConfigErrors(t *testing.T) {
	r := NewRedisReader()
	assert.Error(t, r.Initialize(Config{Storage: Redis, BatchCount: 1}))
	assert.Error(t, r.Initialize(Config{Storage: Redis, BatchCount: 1, Redis: RedisConfig{ListKey: "k"}}))
}

// A client the reader dialed itself is closed with it, including when
// Initialize fails after dialing.
func TestRedisReader_ReleasesOwnClient(t *testing.T) {
	r := NewRedisReader()
	err := r.Initialize(Config{
		Storage: Redis, BatchCount: 1, FetchTimeout: 500 * time.Millisecond,
		Redis: RedisConfig{Addr: "127.0.0.1:1", ListKey: "samples"},
	})
	require.Error(t, err)
	_, err = r.client.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, redis.ErrClosed), "got %v", err)
	assert.NoError(t, r.Release(), "release after release is a no-op")
}

func TestRedisReader_KeepsInjectedClient(t *testing.T) {
	fake := &fakeRedis{list: []string{"a.jpg"}, values: map[string][]byte{"a.jpg": []byte("a")}}
	r := NewRedisReader()
	require.NoError(t, r.Initialize(Config{Storage: Redis, BatchCount: 1, Redis: RedisConfig{ListKey: "l", Client: fake}}))
	require.NoError(t, r.Release())
	b, err := fake.Get(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "a", string(b))
}
