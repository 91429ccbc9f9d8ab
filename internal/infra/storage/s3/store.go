package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"peerchat/internal/app/policies"
)

// Options configures the S3-compatible attachment store.
type Options struct {
	Endpoint      string
	PublicBaseURL string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	MediaBucket   string
	AssetsBucket  string
}

// Store routes attachments to a bucket per partition and returns direct object URLs.
type Store struct {
	client        *minio.Client
	publicBaseURL string
	logger        *slog.Logger
	buckets       map[policies.Partition]*bucket
}

type bucket struct {
	name    string
	once    sync.Once
	initErr error
}

func NewStore(opts Options, logger *slog.Logger) (*Store, error) {
	cleanEndpoint := strings.TrimSpace(opts.Endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	media := strings.TrimSpace(opts.MediaBucket)
	assets := strings.TrimSpace(opts.AssetsBucket)
	if media == "" || assets == "" {
		return nil, errors.New("s3: media and assets buckets are required")
	}

	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	base := strings.TrimSpace(opts.PublicBaseURL)
	if base == "" {
		base = cleanEndpoint
	}
	return &Store{
		client:        minioClient,
		publicBaseURL: strings.TrimRight(base, "/"),
		logger:        logger,
		buckets: map[policies.Partition]*bucket{
			policies.PartitionMedia:  {name: media},
			policies.PartitionAssets: {name: assets},
		},
	}, nil
}

// Put uploads body into the partition's bucket. Unknown partitions fall back to assets.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, mimeType string, partition policies.Partition) (string, error) {
	if body == nil {
		return "", errors.New("s3: body is required")
	}
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("s3: object key is required")
	}
	b := s.bucketFor(partition)
	if err := s.ensureBucket(ctx, b); err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if size <= 0 {
		size = -1
	}

	if _, err := s.client.PutObject(ctx, b.name, key, body, size, minio.PutObjectOptions{ContentType: mimeType}); err != nil {
		return "", fmt.Errorf("s3: put object: %w", err)
	}
	publicURL := s.objectURL(b.name, key)
	if s.logger != nil {
		s.logger.Info("s3 upload completed", "bucket", b.name, "key", key, "url", publicURL)
	}
	return publicURL, nil
}

// Ping checks that both buckets are reachable.
func (s *Store) Ping(ctx context.Context) error {
	for _, b := range s.buckets {
		if _, err := s.client.BucketExists(ctx, b.name); err != nil {
			return fmt.Errorf("s3: check bucket %s: %w", b.name, err)
		}
	}
	return nil
}

func (s *Store) bucketFor(partition policies.Partition) *bucket {
	if b, ok := s.buckets[partition]; ok {
		return b
	}
	return s.buckets[policies.PartitionAssets]
}

func (s *Store) ensureBucket(ctx context.Context, b *bucket) error {
	b.once.Do(func() {
		exists, err := s.client.BucketExists(ctx, b.name)
		if err != nil {
			b.initErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{}); err != nil {
			b.initErr = fmt.Errorf("s3: create bucket: %w", err)
			return
		}
		b.initErr = s.allowPublicRead(ctx, b.name)
	})
	return b.initErr
}

func (s *Store) allowPublicRead(ctx context.Context, name string) error {
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, name)
	if err := s.client.SetBucketPolicy(ctx, name, policy); err != nil {
		return fmt.Errorf("s3: set bucket policy: %w", err)
	}
	return nil
}

func (s *Store) objectURL(bucketName, key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, bucketName, strings.TrimLeft(key, "/"))
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ policies.AttachmentStore = (*Store)(nil)
