package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blobsync/pkg/provider"
)

func writeFile(t *testing.T, base, key, content string) {
	t.Helper()
	full := filepath.Join(base, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newContainer(t *testing.T, base string, maxKeys int) *Container {
	t.Helper()
	c, err := New(Config{BaseDir: base, MaxKeys: maxKeys})
	require.NoError(t, err)
	return c
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{BaseDir: "  "}.Validate())
	assert.NoError(t, Config{BaseDir: "/tmp"}.Validate())
}

func TestContainer_ListPagesAndSkipsMetaDir(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "a.txt", "a")
	writeFile(t, base, "dir/b.txt", "b")
	writeFile(t, base, "dir/c.txt", "c")
	writeFile(t, base, MetaDir+"/meta/a.txt.json", `{"k":"v"}`)
	c := newContainer(t, base, 2)
	ctx := context.Background()

	page, err := c.List(ctx, provider.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "a.txt", page.Objects[0].Key)
	assert.Equal(t, "dir/b.txt", page.Objects[1].Key)
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", page.Objects[0].ETag)
	assert.Nil(t, page.Objects[0].Metadata)
	assert.Equal(t, "dir/b.txt", page.ContinuationToken)

	page, err = c.List(ctx, provider.ListOptions{ContinuationToken: page.ContinuationToken})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "dir/c.txt", page.Objects[0].Key)
	assert.Empty(t, page.ContinuationToken)
}

func TestContainer_ListPrefixAndMetadata(t *testing.T) {
	base := t.TempDir()
	writeFile(t, base, "a.txt", "a")
	writeFile(t, base, "dir/b.txt", "b")
	writeFile(t, base, MetaDir+"/meta/dir/b.txt.json", `{"srcETag":"abc"}`)
	c := newContainer(t, base, 0)

	page, err := c.List(context.Background(), provider.ListOptions{Prefix: "dir/", IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "abc", page.Objects[0].Metadata["srcETag"])
}

func TestContainer_WhitespaceKeys(t *testing.T) {
	srcBase := t.TempDir()
	writeFile(t, srcBase, "note.txt ", "padded")
	writeFile(t, srcBase, " lead.txt", "lead")
	writeFile(t, srcBase, "b.txt", "b")
	src := newContainer(t, srcBase, 0)
	ctx := context.Background()

	page, err := src.List(ctx, provider.ListOptions{})
	require.NoError(t, err)
	var keys []string
	for _, o := range page.Objects {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{" lead.txt", "b.txt", "note.txt "}, keys)

	dst := newContainer(t, t.TempDir(), 0)
	require.NoError(t, dst.Object("note.txt ").StartCopyFrom(ctx, src.Object("note.txt ").URL(), nil))
	meta, err := dst.Object("note.txt ").Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, "note.txt ", meta.Key)
	_, err = dst.Object("note.txt").Properties(ctx)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	existed, err := dst.Object("note.txt ").DeleteIfExists(ctx)
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestContainer_ListMissingDirectory(t *testing.T) {
	c := newContainer(t, filepath.Join(t.TempDir(), "missing"), 0)

	_, err := c.List(context.Background(), provider.ListOptions{})
	assert.ErrorIs(t, err, provider.ErrBucketNotFound)
}

func TestContainer_CreateIfNotExists(t *testing.T) {
	base := filepath.Join(t.TempDir(), "new")
	c := newContainer(t, base, 0)
	ctx := context.Background()

	created, err := c.CreateIfNotExists(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.CreateIfNotExists(ctx)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestObject_CopyAndDelete(t *testing.T) {
	srcBase := t.TempDir()
	dstBase := t.TempDir()
	writeFile(t, srcBase, "dir/a.txt", "hello")
	writeFile(t, srcBase, MetaDir+"/meta/dir/a.txt.json", `{"owner":"ops"}`)
	src := newContainer(t, srcBase, 0)
	dst := newContainer(t, dstBase, 0)
	ctx := context.Background()

	t.Run("replaces metadata", func(t *testing.T) {
		err := dst.Object("dir/a.txt").StartCopyFrom(ctx, src.Object("dir/a.txt").URL(), map[string]string{"srcETag": "e1"})
		require.NoError(t, err)

		meta, err := dst.Object("dir/a.txt").Properties(ctx)
		require.NoError(t, err)
		assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", meta.ETag)
		assert.Equal(t, map[string]string{"srcETag": "e1"}, meta.Metadata)
	})

	t.Run("nil metadata carries source sidecar", func(t *testing.T) {
		err := dst.Object("copy.txt").StartCopyFrom(ctx, src.Object("dir/a.txt").URL(), nil)
		require.NoError(t, err)

		meta, err := dst.Object("copy.txt").Properties(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ops", meta.Metadata["owner"])
	})

	t.Run("delete if exists", func(t *testing.T) {
		existed, err := dst.Object("dir/a.txt").DeleteIfExists(ctx)
		require.NoError(t, err)
		assert.True(t, existed)
		_, err = os.Stat(dst.metaPath("dir/a.txt"))
		assert.True(t, os.IsNotExist(err))

		existed, err = dst.Object("dir/a.txt").DeleteIfExists(ctx)
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("missing source", func(t *testing.T) {
		err := dst.Object("x").StartCopyFrom(ctx, src.Object("nope").URL(), nil)
		assert.ErrorIs(t, err, provider.ErrNotFound)
	})

	t.Run("foreign scheme", func(t *testing.T) {
		err := dst.Object("x").StartCopyFrom(ctx, "s3://bucket/key", nil)
		assert.ErrorIs(t, err, provider.ErrUnsupported)
	})
}

func TestContainer_FullPathGuards(t *testing.T) {
	c := newContainer(t, t.TempDir(), 0)

	tests := []struct {
		key     string
		wantErr bool
	}{
		{"a/b.txt", false},
		{"/a/b.txt", false},
		{"", true},
		{"  ", false},
		{"..", true},
		{MetaDir + "/meta/x.json", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := c.fullPath(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	full, err := c.fullPath("../escape")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.baseDir, "escape"), full)
}
