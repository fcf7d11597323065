package s3

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Container implements provider.Container for one S3 bucket.
type Container struct {
	client  API
	bucket  string
	region  string
	maxKeys int
}

var _ provider.Container = (*Container)(nil)

// New creates an S3 container with the given configuration.
func New(ctx context.Context, cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Bucket:   cfg.Bucket,
			Err:      err,
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client, cfg, awsCfg.Region)
}

// NewWithClient creates a container backed by an existing client.
func NewWithClient(client API, cfg Config, region string) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Container{
		client:  client,
		bucket:  cfg.Bucket,
		region:  region,
		maxKeys: maxKeys,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Let the SDK resolve region from env/profile unless set explicitly.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Name returns the bucket name.
func (c *Container) Name() string { return c.bucket }

// Type returns provider.ProviderS3.
func (c *Container) Type() provider.ProviderType { return provider.ProviderS3 }

// Close is a no-op; the S3 client holds no resources that need releasing.
func (c *Container) Close() error { return nil }

// Object returns a handle for the named object.
func (c *Container) Object(name string) provider.Object {
	return &Object{c: c, key: name}
}

// List returns a page of objects with the given prefix.
//
// ListObjectsV2 does not return user metadata; when IncludeMetadata is set
// each object is completed with a HeadObject call. Objects deleted between
// the list and the head are dropped from the page.
func (c *Container) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(opts.MaxKeys, c.maxKeys))),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := c.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, wrapError("List", c.bucket, "", err)
	}

	objects := make([]provider.ObjectSummary, 0, len(output.Contents))
	for _, obj := range output.Contents {
		summary := provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		}
		if opts.IncludeMetadata {
			meta, err := c.head(ctx, summary.Key)
			if provider.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			summary.Metadata = meta.Metadata
			if summary.Metadata == nil {
				summary.Metadata = map[string]string{}
			}
		}
		objects = append(objects, summary)
	}

	result := &provider.ListResult{Objects: objects}
	if aws.ToBool(output.IsTruncated) {
		result.ContinuationToken = aws.ToString(output.NextContinuationToken)
	}
	return result, nil
}

// CreateIfNotExists creates the bucket when HeadBucket reports it missing.
func (c *Container) CreateIfNotExists(ctx context.Context) (bool, error) {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return false, nil
	}
	wrapped := wrapError("HeadBucket", c.bucket, "", err)
	if !provider.IsNotFound(wrapped) && !provider.IsBucketNotFound(wrapped) {
		return false, wrapped
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}
	if c.region != "" && c.region != DefaultAWSRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}
	if _, err := c.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return false, nil
		}
		return false, wrapError("CreateBucket", c.bucket, "", err)
	}
	return true, nil
}

func (c *Container) head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	output, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError("Head", c.bucket, key, err)
	}

	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(output.ContentLength),
			ETag:         cleanETag(aws.ToString(output.ETag)),
			LastModified: aws.ToTime(output.LastModified),
			Metadata:     output.Metadata,
		},
		ContentType: aws.ToString(output.ContentType),
	}, nil
}

// clampMaxKeys applies defaults and limits to maxKeys values.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion applies the us-east-1 fallback for AWS S3. The SDK has
// already applied explicit, env and profile regions; S3-compatible
// endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
