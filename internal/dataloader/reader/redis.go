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
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
)

// RedisClient is the minimal surface the Redis reader needs. GoRedisClient
// wraps github.com/redis/go-redis/v9; tests use an in-memory fake.
type RedisClient interface {
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// GoRedisClient implements RedisClient with go-redis.
type GoRedisClient struct{ c *redis.Client }

// NewGoRedisClient connects lazily to addr (host:port).
func NewGoRedisClient(addr, password string, db int) *GoRedisClient {
	return &GoRedisClient{c: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})}
}

func (g *GoRedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return g.c.LRange(ctx, key, start, stop).Result()
}

func (g *GoRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := g.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSampleNotFound
	}
	return b, err
}

func (g *GoRedisClient) Close() error { return g.c.Close() }

// RedisKey is the payload key of sample id.
func RedisKey(prefix, id string) string { return prefix + id }

// RedisReader lists sample ids from a Redis list and fetches each payload
// with GET. List order is kept, so producers control the epoch order.
type RedisReader struct {
	source
	client RedisClient
}

func NewRedisReader() *RedisReader {
	r := &RedisReader{}
	r.open = r.fetch
	return r
}

func (r *RedisReader) Initialize(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	if cfg.Redis.ListKey == "" {
		return errors.New("redis reader needs a list key")
	}
	r.client = cfg.Redis.Client
	if r.client == nil {
		if cfg.Redis.Addr == "" {
			return errors.New("redis reader needs an address or a client")
		}
		c := NewGoRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		r.client, r.release = c, c.Close
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
	defer cancel()
	ids, err := r.client.LRange(ctx, cfg.Redis.ListKey, 0, -1)
	if err != nil {
		_ = r.Release()
		return errors.Wrapf(err, "redis lrange %s", cfg.Redis.ListKey)
	}
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		if !supported(id, cfg.Extensions) {
			continue
		}
		entries = append(entries, entry{Name: baseName(id), Locator: RedisKey(cfg.Redis.KeyPrefix, id)})
	}
	r.init(cfg, entries)
	return nil
}

// fetch retries a failed GET a couple of times with a short backoff before
// giving up on the sample.
func (r *RedisReader) fetch(ctx context.Context, e entry) (io.ReadCloser, int, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		b, err := r.client.Get(ctx, e.Locator)
		if err == nil {
			return io.NopCloser(bytes.NewReader(b)), len(b), nil
		}
		if errors.Is(err, ErrSampleNotFound) {
			return nil, 0, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return nil, 0, lastErr
}
