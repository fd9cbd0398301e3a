// Package storage stages uploaded datasets in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

const defaultBucket = "datasets"

type Opts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newConfig(opts ...Opts) *minioConfig {
	cfg := &minioConfig{
		bucket: defaultBucket,
		useSSL: false,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioStore reads and writes objects in a single bucket.
type MinioStore struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioStore(opts ...Opts) (*MinioStore, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{cfg: cfg, client: client}, nil
}

// Bucket returns the configured bucket name.
func (s *MinioStore) Bucket() string {
	return s.cfg.bucket
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) (created bool, err error) {
	exists, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", s.cfg.bucket, err)
	}
	if exists {
		return false, nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.bucket, minio.MakeBucketOptions{}); err != nil {
		return false, fmt.Errorf("create bucket %s: %w", s.cfg.bucket, err)
	}
	return true, nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.cfg.bucket)
	}
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.cfg.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.cfg.bucket, key, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapGetErr(key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.wrapGetErr(key, err)
	}
	return data, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", s.cfg.bucket, key, err)
	}
	return nil
}

func (s *MinioStore) wrapGetErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("get s3://%s/%s: %w", s.cfg.bucket, key, ErrObjectNotFound)
	}
	return fmt.Errorf("get s3://%s/%s: %w", s.cfg.bucket, key, err)
}

func WithEndpoint(endpoint string) Opts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) Opts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) Opts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) Opts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) Opts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
