// Package minio implements provider.Container for MinIO servers using
// minio-go.
//
// MinIO's listing extension returns user metadata inline, so metadata-bearing
// listings cost one request per page instead of one HEAD per object.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/3leaps/blobsync/pkg/provider"
)

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// Config configures a MinIO container.
type Config struct {
	// Endpoint is host:port of the MinIO server (required).
	Endpoint string

	// Bucket is the bucket name (required).
	Bucket string

	// Region is used when the bucket has to be created.
	Region string

	// AccessKeyID and SecretAccessKey are explicit credentials. When empty,
	// MINIO_ and AWS_ environment variables are consulted.
	AccessKeyID     string
	SecretAccessKey string

	// Secure enables TLS.
	Secure bool

	MaxKeys int
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return &ConfigError{Field: "Endpoint", Message: "endpoint is required"}
	}
	if strings.Contains(c.Endpoint, "://") {
		return &ConfigError{Field: "Endpoint", Message: "endpoint must be host:port without a scheme"}
	}
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{Field: "AccessKeyID/SecretAccessKey", Message: "both access key ID and secret access key must be provided together"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "minio config: " + e.Field + ": " + e.Message
}

// API is the subset of *minio.Client used by Container.
type API interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var _ API = (*minio.Client)(nil)

// Container implements provider.Container for one MinIO bucket.
type Container struct {
	client  API
	bucket  string
	region  string
	maxKeys int
}

var _ provider.Container = (*Container)(nil)

// New creates a MinIO container.
func New(cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvMinio{},
		&credentials.EnvAWS{},
	})
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderMinio, Bucket: cfg.Bucket, Err: err}
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a container backed by an existing client.
func NewWithClient(client API, cfg Config) *Container {
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Container{client: client, bucket: cfg.Bucket, region: cfg.Region, maxKeys: maxKeys}
}

func (c *Container) Name() string               { return c.bucket }
func (c *Container) Type() provider.ProviderType { return provider.ProviderMinio }
func (c *Container) Close() error                { return nil }

func (c *Container) Object(name string) provider.Object {
	return &Object{c: c, key: name}
}

// List reads one page from the ListObjects stream. The stream is started
// after the continuation token (the last key of the previous page) and
// abandoned once the page is full.
func (c *Container) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	limit := opts.MaxKeys
	if limit <= 0 {
		limit = c.maxKeys
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := c.client.ListObjects(listCtx, c.bucket, minio.ListObjectsOptions{
		Prefix:       opts.Prefix,
		Recursive:    true,
		StartAfter:   opts.ContinuationToken,
		WithMetadata: opts.IncludeMetadata,
		MaxKeys:      limit,
	})

	result := &provider.ListResult{}
	for info := range ch {
		if info.Err != nil {
			return nil, wrapError("List", c.bucket, "", info.Err)
		}
		if len(result.Objects) == limit {
			result.ContinuationToken = result.Objects[limit-1].Key
			break
		}
		summary := provider.ObjectSummary{
			Key:          info.Key,
			Size:         info.Size,
			ETag:         strings.Trim(info.ETag, "\""),
			LastModified: info.LastModified,
		}
		if opts.IncludeMetadata {
			summary.Metadata = userMetadata(info.UserMetadata)
		}
		result.Objects = append(result.Objects, summary)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateIfNotExists creates the bucket when BucketExists reports it missing.
func (c *Container) CreateIfNotExists(ctx context.Context) (bool, error) {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return false, wrapError("BucketExists", c.bucket, "", err)
	}
	if exists {
		return false, nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return false, nil
		}
		return false, wrapError("MakeBucket", c.bucket, "", err)
	}
	return true, nil
}

// userMetadata strips the X-Amz-Meta- prefix MinIO's listing extension
// leaves on user metadata keys.
func userMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if len(k) > len(metaPrefix) && strings.EqualFold(k[:len(metaPrefix)], metaPrefix) {
			k = k[len(metaPrefix):]
		}
		out[k] = v
	}
	return out
}

const metaPrefix = "X-Amz-Meta-"

func wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderMinio, Bucket: bucket, Key: key, Err: err}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		wrapped.Err = provider.ErrNotFound
	case "NoSuchBucket":
		wrapped.Err = provider.ErrBucketNotFound
	case "AccessDenied":
		wrapped.Err = provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		wrapped.Err = provider.ErrInvalidCredentials
	case "SlowDown", "SlowDownRead", "SlowDownWrite", "XMinioServerNotInitialized":
		wrapped.Err = provider.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}

// objectURL returns the minio://bucket/key address of an object.
func objectURL(bucket, key string) string {
	u := url.URL{Scheme: "minio", Host: bucket, Path: "/" + key}
	return u.String()
}

func parseObjectURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid copy source %q: %w", raw, err)
	}
	if u.Scheme != "minio" || u.RawQuery != "" {
		return "", "", fmt.Errorf("%w: copy source %q", provider.ErrUnsupported, raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid copy source %q: bucket and key are required", raw)
	}
	return u.Host, key, nil
}
