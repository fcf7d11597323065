//go:build cloudintegration

package s3_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blobsync/pkg/provider"
	"github.com/3leaps/blobsync/test/cloudtest"
)

func TestContainer_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("lists with metadata", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObjects(t, ctx, bucket, []string{"a.txt", "b.txt"})

		c := cloudtest.NewContainer(t, ctx, bucket)
		page, err := c.List(ctx, provider.ListOptions{IncludeMetadata: true})
		require.NoError(t, err)
		require.Len(t, page.Objects, 2)
		assert.NotEmpty(t, page.Objects[0].ETag)
		assert.NotNil(t, page.Objects[0].Metadata)
	})

	t.Run("creates missing bucket", func(t *testing.T) {
		bucket := cloudtest.BucketName(t)
		cloudtest.CleanupBucket(t, bucket)

		c := cloudtest.NewContainer(t, ctx, bucket)
		created, err := c.CreateIfNotExists(ctx)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = c.CreateIfNotExists(ctx)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("copies with replaced metadata and deletes", func(t *testing.T) {
		srcBucket := cloudtest.CreateBucket(t, ctx)
		dstBucket := cloudtest.CreateBucket(t, ctx)
		cloudtest.PutObject(t, ctx, srcBucket, "dir/a.txt", []byte("hello"))

		src := cloudtest.NewContainer(t, ctx, srcBucket)
		dst := cloudtest.NewContainer(t, ctx, dstBucket)

		srcMeta, err := src.Object("dir/a.txt").Properties(ctx)
		require.NoError(t, err)

		err = dst.Object("dir/a.txt").StartCopyFrom(ctx, src.Object("dir/a.txt").URL(), map[string]string{"srcETag": srcMeta.ETag})
		require.NoError(t, err)

		dstMeta, err := dst.Object("dir/a.txt").Properties(ctx)
		require.NoError(t, err)
		assert.Equal(t, srcMeta.ETag, dstMeta.Metadata["srcetag"])

		existed, err := dst.Object("dir/a.txt").DeleteIfExists(ctx)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = dst.Object("dir/a.txt").DeleteIfExists(ctx)
		require.NoError(t, err)
		assert.False(t, existed)
	})
}
