package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by the S3 backend.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 mirrors cache entries into an S3 bucket under an optional prefix.
type S3 struct {
	client S3API
	bucket string
	prefix string
	logger *slog.Logger
	closed atomic.Bool
}

// NewS3 creates an S3 backend using client.
func NewS3(client S3API, bucket, prefix string, logger *slog.Logger) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(prefix, "/")
	return &S3{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

// NewS3FromEnv creates an S3 backend with credentials and settings from the
// standard AWS configuration chain. A non-empty region overrides it.
func NewS3FromEnv(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*S3, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), bucket, prefix, logger)
}

// objectKey returns the S3 object key for a cache file name.
func (b *S3) objectKey(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// list returns the cache file names of key stored in the bucket.
func (b *S3) list(ctx context.Context, key string) ([]string, error) {
	var names []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.objectKey(key)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", b.bucket, b.objectKey(key), err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if BelongsTo(name, key) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Fetch downloads the objects of key into dir.
func (b *S3) Fetch(ctx context.Context, key, dir string) ([]string, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	names, err := b.list(ctx, key)
	if err != nil {
		return nil, err
	}

	fetched := make([]string, 0, len(names))
	for _, name := range names {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.objectKey(name)),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				// Deleted between listing and download.
				b.logger.WarnContext(ctx, "s3 object disappeared during fetch", "key", key, "object", name)
				return b.discard(dir, fetched), nil
			}
			return b.discard(dir, fetched), fmt.Errorf("failed to get s3 object %s: %w", name, err)
		}
		err = writeFileAtomic(dir, name, out.Body)
		out.Body.Close()
		if err != nil {
			return b.discard(dir, fetched), err
		}
		fetched = append(fetched, name)
	}
	return fetched, nil
}

// discard removes partially fetched files so that an incomplete
// multi-artifact entry is never observed locally.
func (b *S3) discard(dir string, names []string) []string {
	for _, name := range names {
		_ = os.Remove(filepath.Join(dir, name))
	}
	return nil
}

// Upload stores the artifact files of key.
func (b *S3) Upload(ctx context.Context, key string, paths []string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	for _, p := range paths {
		name := filepath.Base(p)
		if !BelongsTo(name, key) {
			return fmt.Errorf("file %s does not belong to key %s", name, key)
		}
		if err := b.put(ctx, p, name); err != nil {
			return err
		}
	}
	return nil
}

func (b *S3) put(ctx context.Context, p, name string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p, err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(name)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3 object %s: %w", name, err)
	}
	return nil
}

// Delete removes every object of key.
func (b *S3) Delete(ctx context.Context, key string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	names, err := b.list(ctx, key)
	if err != nil {
		return err
	}
	for _, name := range names {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.objectKey(name)),
		})
		if err != nil {
			return fmt.Errorf("failed to delete s3 object %s: %w", name, err)
		}
	}
	return nil
}

// Close marks the backend closed. The S3 client holds no resources that
// need releasing.
func (b *S3) Close() error {
	b.closed.Store(true)
	return nil
}
