package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Option func(c *config)

type config struct {
	endpoint  string
	bucket    string
	region    string
	accessKey string
	secretKey string
	useSSL    bool
}

func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) Option {
	return func(c *config) {
		c.bucket = bucket
	}
}

func WithRegion(region string) Option {
	return func(c *config) {
		c.region = region
	}
}

func WithCredentials(accessKey, secretKey string) Option {
	return func(c *config) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

func WithSSL(useSSL bool) Option {
	return func(c *config) {
		c.useSSL = useSSL
	}
}

// Client stores media objects in a single S3-compatible bucket.
type Client struct {
	cfg    *config
	client *minio.Client
	logger *slog.Logger
}

// NewClient connects to the object store and creates the bucket if needed.
func NewClient(ctx context.Context, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}

	mc, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	c := &Client{cfg: cfg, client: mc, logger: logger}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info("Object store client initialized",
		slog.String("endpoint", cfg.endpoint),
		slog.String("bucket", cfg.bucket),
	)
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.cfg.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.cfg.bucket, minio.MakeBucketOptions{Region: c.cfg.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Bucket returns the bucket objects are written to.
func (c *Client) Bucket() string {
	return c.cfg.bucket
}

// PutFile uploads a local file under key.
func (c *Client) PutFile(ctx context.Context, key, path, contentType string) (int64, error) {
	info, err := c.client.FPutObject(ctx, c.cfg.bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return info.Size, nil
}

// GetFile downloads key to a local path.
func (c *Client) GetFile(ctx context.Context, key, path string) error {
	if err := c.client.FGetObject(ctx, c.cfg.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download object %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (c *Client) Remove(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.cfg.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

// PresignedGet returns a time-limited download URL for key.
func (c *Client) PresignedGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	u, err := c.client.PresignedGetObject(ctx, c.cfg.bucket, key, expiry, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u, nil
}

// HealthCheck verifies the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.client.BucketExists(ctx, c.cfg.bucket); err != nil {
		return fmt.Errorf("object store health check failed: %w", err)
	}
	return nil
}
