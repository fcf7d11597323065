package file

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Object is a file under a Container's base directory.
type Object struct {
	c   *Container
	key string
}

var _ provider.Object = (*Object)(nil)

func (o *Object) Name() string { return o.key }

// URL returns a file:// URL for the object's absolute path.
func (o *Object) URL() string {
	full := filepath.Join(o.c.baseDir, filepath.FromSlash(o.key))
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(full)}
	return u.String()
}

func (o *Object) Properties(ctx context.Context) (*provider.ObjectMeta, error) {
	_ = ctx
	return o.c.stat(o.key, true)
}

// StartCopyFrom copies a file:// source into this object. The copy runs to
// completion before returning. With nil metadata the source sidecar, if
// any, is carried over.
func (o *Object) StartCopyFrom(ctx context.Context, sourceURL string, metadata map[string]string) error {
	srcPath, err := pathFromURL(sourceURL)
	if err != nil {
		return o.c.wrapError("StartCopyFrom", o.key, err)
	}
	dst, err := o.c.fullPath(o.key)
	if err != nil {
		return o.c.wrapError("StartCopyFrom", o.key, err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return o.c.wrapError("StartCopyFrom", o.key, err)
	}
	defer func() { _ = src.Close() }()

	err = writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, &ctxReader{ctx: ctx, r: src})
		return err
	})
	if err != nil {
		return o.c.wrapError("StartCopyFrom", o.key, err)
	}

	if metadata == nil {
		metadata, err = sidecarFor(srcPath)
		if err != nil {
			return o.c.wrapError("StartCopyFrom", o.key, err)
		}
	}
	if err := o.c.writeMetadata(o.key, metadata); err != nil {
		return o.c.wrapError("StartCopyFrom", o.key, err)
	}
	return nil
}

func (o *Object) DeleteIfExists(ctx context.Context) (bool, error) {
	_ = ctx
	full, err := o.c.fullPath(o.key)
	if err != nil {
		return false, o.c.wrapError("DeleteIfExists", o.key, err)
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, o.c.wrapError("DeleteIfExists", o.key, err)
	}
	if err := o.c.writeMetadata(o.key, nil); err != nil {
		return true, o.c.wrapError("DeleteIfExists", o.key, err)
	}
	return true, nil
}

func pathFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid copy source %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: copy source scheme %q", provider.ErrUnsupported, u.Scheme)
	}
	if u.RawQuery != "" {
		return "", fmt.Errorf("%w: signed copy sources", provider.ErrUnsupported)
	}
	return filepath.FromSlash(u.Path), nil
}

// sidecarFor locates the metadata sidecar of an arbitrary file by walking
// up to the nearest directory that holds a metadata directory.
func sidecarFor(path string) (map[string]string, error) {
	dir := filepath.Dir(path)
	for {
		if st, err := os.Stat(filepath.Join(dir, MetaDir)); err == nil && st.IsDir() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return nil, err
			}
			c := &Container{baseDir: dir}
			return c.readMetadata(filepath.ToSlash(rel))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
