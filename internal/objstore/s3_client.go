// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// S3Options configures the S3 client.
type S3Options struct {
	Region          string
	Endpoint        string
	PathStyle       bool
	Anonymous       bool
	AccessKeyID     string
	SecretAccessKey string
}

type s3Client struct {
	client *s3.Client
	tracer trace.Tracer
}

// NewS3Client loads the default AWS configuration and applies opts.
func NewS3Client(ctx context.Context, opts S3Options) (Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	switch {
	case opts.Anonymous:
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case opts.AccessKeyID != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return &s3Client{
		client: client,
		tracer: otel.Tracer("github.com/cardinalhq/lakenwb/internal/objstore"),
	}, nil
}

func (c *s3Client) ReadRange(ctx context.Context, bucket, key string, off, n int64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	ctx, span := c.tracer.Start(ctx, "objstore.s3ReadRange",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
			attribute.Int64("offset", off),
			attribute.Int64("length", n),
		),
	)
	defer span.End()

	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(httpRange(off, n)),
	}
	return c.read(ctx, bucket, key, in)
}

func (c *s3Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return c.read(ctx, bucket, key, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
}

func (c *s3Client) read(ctx context.Context, bucket, key string, in *s3.GetObjectInput) ([]byte, error) {
	resp, err := c.client.GetObject(ctx, in)
	if err != nil {
		return nil, c.classify(ctx, bucket, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		recordError(ctx, "s3", "body")
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	recordRead(ctx, "s3", len(data))
	return data, nil
}

func (c *s3Client) Size(ctx context.Context, bucket, key string) (int64, error) {
	resp, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, c.classify(ctx, bucket, key, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

func (c *s3Client) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	p := strings.TrimSuffix(prefix, "/")
	if p != "" {
		p += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(p),
		Delimiter: aws.String("/"),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, c.classify(ctx, bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			keys = append(keys, aws.ToString(cp.Prefix))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return nil, notFound(bucket, prefix, errors.New("no objects under prefix"))
	}
	names := childNames(p, keys)
	sort.Strings(names)
	return names, nil
}

func (c *s3Client) DownloadObject(ctx context.Context, dir, bucket, key string) (string, int64, error) {
	ctx, span := c.tracer.Start(ctx, "objstore.s3DownloadObject",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	f, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	downloader := manager.NewDownloader(c.client)
	size, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", 0, c.classify(ctx, bucket, key, err)
	}
	recordRead(ctx, "s3", int(size))

	// close on success; the SDK has already flushed the bytes
	_ = f.Close()
	return f.Name(), size, nil
}

func (c *s3Client) classify(ctx context.Context, bucket, key string, err error) error {
	if isS3NotFound(err) {
		recordError(ctx, "s3", "not_found")
		return notFound(bucket, key, err)
	}
	recordError(ctx, "s3", "unknown")
	return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// httpRange formats an HTTP Range header value. A negative n means open-ended.
func httpRange(off, n int64) string {
	if n < 0 {
		return fmt.Sprintf("bytes=%d-", off)
	}
	return fmt.Sprintf("bytes=%d-%d", off, off+n-1)
}
