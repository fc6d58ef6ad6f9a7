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
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// S3API is the subset of *s3.Client used by S3Reader.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the SDK default chain applies. Endpoint and
// ForcePathStyle make MinIO and Localstack work.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	c, _, err := newS3Client(ctx, cfg)
	return c, err
}

// newS3Client also returns the HTTP transport behind the client so its
// connection pool can be closed.
func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, *http.Transport, error) {
	tr := awshttp.NewBuildableClient().GetTransport()
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{Transport: tr}),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), tr, nil
}

// S3Reader reads every object under Bucket/Prefix, ordered by key.
type S3Reader struct {
	source
	client S3API
	bucket string
}

func NewS3Reader() *S3Reader {
	r := &S3Reader{}
	r.open = r.fetch
	return r
}

func (r *S3Reader) Initialize(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	if cfg.S3.Bucket == "" {
		return errors.New("s3 reader needs a bucket")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
	defer cancel()

	r.bucket = cfg.S3.Bucket
	r.client = cfg.S3.Client
	if r.client == nil {
		c, tr, err := newS3Client(ctx, cfg.S3)
		if err != nil {
			return err
		}
		r.client = c
		r.release = func() error {
			tr.CloseIdleConnections()
			return nil
		}
	}

	var entries []entry
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.S3.Bucket),
		Prefix: aws.String(cfg.S3.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			_ = r.Release()
			return errors.Wrapf(err, "s3 list objects s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !supported(key, cfg.Extensions) {
				continue
			}
			entries = append(entries, entry{Name: baseName(key), Locator: key})
		}
	}
	sortEntries(entries)
	r.init(cfg, entries)
	return nil
}

func (r *S3Reader) fetch(ctx context.Context, e entry) (io.ReadCloser, int, error) {
	resp, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(e.Locator),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, ErrSampleNotFound
		}
		return nil, 0, errors.Wrap(err, "s3 get object")
	}
	if resp.ContentLength != nil {
		return resp.Body, int(*resp.ContentLength), nil
	}
	// Unknown length: buffer the body so the size can be reported up front.
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Wrap(err, "s3 read body")
	}
	return io.NopCloser(bytes.NewReader(b)), len(b), nil
}
