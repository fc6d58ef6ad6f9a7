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


// Command dataset-seed copies a local directory into Redis or S3 in the
// layout the loader's redis and s3 sources read.
//
//	redis: SET <key_prefix><id> <bytes> per file, then RPUSH <list_key> ids in path order
//	s3:    PutObject <prefix><id> per file
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	redis "github.com/redis/go-redis/v9"

	"mediaload/internal/dataloader/reader"
)

type targetType string

const (
	targetRedis targetType = "redis"
	targetS3    targetType = "s3"
)

// putFunc stores one payload under id.
type putFunc func(ctx context.Context, id string, data []byte) error

func main() {
	var (
		dir     = flag.String("dir", "", "Directory to upload (required)")
		targetS = flag.String("target", string(targetRedis), "Target: redis|s3")
		conc    = flag.Int("c", 8, "Number of concurrent uploads")
		timeout = flag.Duration("timeout", 5*time.Minute, "Overall timeout for the run")

		redisAddr = flag.String("redis_addr", "127.0.0.1:6379", "Redis address")
		redisDB   = flag.Int("redis_db", 0, "Redis database")
		listKey   = flag.String("list_key", "samples", "Redis list receiving the sample ids")
		keyPrefix = flag.String("key_prefix", "", "Prefix of the Redis payload keys")

		bucket    = flag.String("bucket", "", "S3 bucket")
		prefix    = flag.String("prefix", "", "S3 key prefix")
		region    = flag.String("region", "", "S3 region")
		endpoint  = flag.String("endpoint", "", "S3 endpoint, e.g. http://127.0.0.1:9000 for MinIO")
		pathStyle = flag.Bool("path_style", false, "Use path-style S3 addressing")
	)
	flag.Parse()

	t := targetType(strings.ToLower(*targetS))
	if t != targetRedis && t != targetS3 {
		fmt.Fprintf(os.Stderr, "unknown -target=%s (want redis|s3)\n", *targetS)
		os.Exit(2)
	}
	if *dir == "" || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-dir is required and -c must be > 0")
		os.Exit(2)
	}
	if t == targetS3 && *bucket == "" {
		fmt.Fprintln(os.Stderr, "-bucket is required for -target=s3")
		os.Exit(2)
	}

	ids, err := listFiles(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing %s: %v\n", *dir, err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "no files under %s\n", *dir)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var put putFunc
	var finish func(context.Context) error
	switch t {
	case targetRedis:
		rc := redis.NewClient(&redis.Options{Addr: *redisAddr, DB: *redisDB})
		defer rc.Close()
		put = func(ctx context.Context, id string, data []byte) error {
			return rc.Set(ctx, reader.RedisKey(*keyPrefix, id), data, 0).Err()
		}
		// The list is rewritten in one transaction once every payload exists,
		// so a concurrent reader never sees an id without its payload.
		finish = func(ctx context.Context) error {
			_, err := rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, *listKey)
				args := make([]any, len(ids))
				for i, id := range ids {
					args[i] = id
				}
				p.RPush(ctx, *listKey, args...)
				return nil
			})
			return err
		}
	case targetS3:
		client, err := reader.NewS3Client(ctx, reader.S3Config{
			Region: *region, Endpoint: *endpoint, ForcePathStyle: *pathStyle,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		put = func(ctx context.Context, id string, data []byte) error {
			_, err := client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(*bucket),
				Key:    aws.String(*prefix + id),
				Body:   bytes.NewReader(data),
			})
			return err
		}
		finish = func(context.Context) error { return nil }
	}

	start := time.Now()
	var bytesOut, failed int64
	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				data, err := os.ReadFile(filepath.Join(*dir, filepath.FromSlash(id)))
				if err == nil {
					err = put(ctx, id, data)
				}
				if err != nil {
					atomic.AddInt64(&failed, 1)
					fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
					continue
				}
				atomic.AddInt64(&bytesOut, int64(len(data)))
			}
		}()
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	if failed > 0 || ctx.Err() != nil {
		fmt.Fprintf(os.Stderr, "%d of %d uploads failed (ctx: %v)\n", failed, len(ids), ctx.Err())
		os.Exit(1)
	}
	if err := finish(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "finishing: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	fmt.Printf("Seed: target=%s files=%d bytes=%d c=%d go=%d Duration=%s Throughput=%.0f files/s\n",
		t, len(ids), bytesOut, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond),
		float64(len(ids))/elapsed.Seconds())
}

// listFiles returns the slash-separated paths of the regular files under
// root, relative to it, in lexical order. Hidden entries are skipped.
func listFiles(root string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(ids)
	return ids, err
}
