package minio

import (
	"context"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Object is a handle to one key in a Container.
type Object struct {
	c   *Container
	key string
}

var _ provider.Object = (*Object)(nil)

func (o *Object) Name() string { return o.key }

func (o *Object) URL() string { return objectURL(o.c.bucket, o.key) }

func (o *Object) Properties(ctx context.Context) (*provider.ObjectMeta, error) {
	info, err := o.c.client.StatObject(ctx, o.c.bucket, o.key, minio.StatObjectOptions{})
	if err != nil {
		return nil, wrapError("Properties", o.c.bucket, o.key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          o.key,
			Size:         info.Size,
			ETag:         strings.Trim(info.ETag, "\""),
			LastModified: info.LastModified,
			Metadata:     userMetadata(info.UserMetadata),
		},
		ContentType: info.ContentType,
	}, nil
}

// StartCopyFrom issues a server-side CopyObject from a minio:// source.
func (o *Object) StartCopyFrom(ctx context.Context, sourceURL string, metadata map[string]string) error {
	bucket, key, err := parseObjectURL(sourceURL)
	if err != nil {
		return &provider.ProviderError{Op: "StartCopyFrom", Provider: provider.ProviderMinio, Bucket: o.c.bucket, Key: o.key, Err: err}
	}

	dst := minio.CopyDestOptions{Bucket: o.c.bucket, Object: o.key}
	if metadata != nil {
		dst.UserMetadata = metadata
		dst.ReplaceMetadata = true
	}
	if _, err := o.c.client.CopyObject(ctx, dst, minio.CopySrcOptions{Bucket: bucket, Object: key}); err != nil {
		return wrapError("StartCopyFrom", o.c.bucket, o.key, err)
	}
	return nil
}

// DeleteIfExists stats the object first because RemoveObject succeeds for
// absent keys.
func (o *Object) DeleteIfExists(ctx context.Context) (bool, error) {
	if _, err := o.Properties(ctx); err != nil {
		if provider.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := o.c.client.RemoveObject(ctx, o.c.bucket, o.key, minio.RemoveObjectOptions{}); err != nil {
		return false, wrapError("DeleteIfExists", o.c.bucket, o.key, err)
	}
	return true, nil
}
