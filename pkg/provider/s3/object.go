package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Object is a handle to one key in a Container.
type Object struct {
	c   *Container
	key string
}

var _ provider.Object = (*Object)(nil)

// Name returns the object key.
func (o *Object) Name() string { return o.key }

// URL returns the s3://bucket/key address of the object.
func (o *Object) URL() string {
	u := url.URL{Scheme: "s3", Host: o.c.bucket, Path: "/" + o.key}
	return u.String()
}

// Properties returns the object's current ETag and user metadata.
func (o *Object) Properties(ctx context.Context) (*provider.ObjectMeta, error) {
	return o.c.head(ctx, o.key)
}

// StartCopyFrom issues CopyObject from an s3:// source address.
//
// A non-nil metadata map replaces the destination metadata
// (MetadataDirective REPLACE); nil keeps the source metadata.
func (o *Object) StartCopyFrom(ctx context.Context, sourceURL string, metadata map[string]string) error {
	copySource, err := copySourceFromURL(sourceURL)
	if err != nil {
		return &provider.ProviderError{
			Op:       "StartCopyFrom",
			Provider: provider.ProviderS3,
			Bucket:   o.c.bucket,
			Key:      o.key,
			Err:      err,
		}
	}

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(o.c.bucket),
		Key:               aws.String(o.key),
		CopySource:        aws.String(copySource),
		MetadataDirective: types.MetadataDirectiveCopy,
	}
	if metadata != nil {
		input.Metadata = metadata
		input.MetadataDirective = types.MetadataDirectiveReplace
	}

	if _, err := o.c.client.CopyObject(ctx, input); err != nil {
		return wrapError("StartCopyFrom", o.c.bucket, o.key, err)
	}
	return nil
}

// DeleteIfExists deletes the object. S3 deletes are idempotent, so existence
// is established with HeadObject first.
func (o *Object) DeleteIfExists(ctx context.Context) (bool, error) {
	if _, err := o.c.head(ctx, o.key); err != nil {
		if provider.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	_, err := o.c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.c.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return false, wrapError("DeleteIfExists", o.c.bucket, o.key, err)
	}
	return true, nil
}

// copySourceFromURL converts s3://bucket/key into the URL-encoded
// "bucket/key" form CopyObject expects.
func copySourceFromURL(sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("invalid copy source %q: %w", sourceURL, err)
	}
	if u.Scheme != "s3" {
		return "", fmt.Errorf("%w: copy source scheme %q", provider.ErrUnsupported, u.Scheme)
	}
	if u.RawQuery != "" {
		return "", fmt.Errorf("%w: signed copy sources", provider.ErrUnsupported)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", fmt.Errorf("invalid copy source %q: bucket and key are required", sourceURL)
	}

	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return u.Host + "/" + strings.Join(segments, "/"), nil
}
