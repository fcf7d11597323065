// Package file implements provider.Container for a local directory.
//
// Object names are slash-separated paths under the base directory. The
// ETag of an object is the hex MD5 of its content. User metadata is kept in
// JSON sidecars under .blobsync/meta, which listings never report.
package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/blobsync/pkg/provider"
)

// MetaDir is the directory, relative to the base, holding metadata sidecars.
const MetaDir = ".blobsync"

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// Config configures a directory container.
type Config struct {
	BaseDir string
	MaxKeys int
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

// Container is a local directory treated as an object container.
type Container struct {
	baseDir string
	maxKeys int
}

var _ provider.Container = (*Container)(nil)

func New(cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := filepath.Abs(filepath.Clean(cfg.BaseDir))
	if err != nil {
		return nil, err
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Container{baseDir: base, maxKeys: maxKeys}, nil
}

func (c *Container) Name() string               { return c.baseDir }
func (c *Container) Type() provider.ProviderType { return provider.ProviderFile }
func (c *Container) Close() error                { return nil }

func (c *Container) Object(name string) provider.Object {
	return &Object{c: c, key: strings.TrimPrefix(name, "/")}
}

// List returns a page of objects in lexical order. The continuation token is
// the last key of the previous page.
func (c *Container) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if _, err := os.Stat(c.baseDir); err != nil {
		if os.IsNotExist(err) {
			return nil, &provider.ProviderError{Op: "List", Provider: provider.ProviderFile, Bucket: c.baseDir, Err: provider.ErrBucketNotFound}
		}
		return nil, c.wrapError("List", "", err)
	}

	keys, err := c.collectKeys(opts.Prefix)
	if err != nil {
		return nil, c.wrapError("List", opts.Prefix, err)
	}

	start := 0
	if opts.ContinuationToken != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > opts.ContinuationToken })
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = c.maxKeys
	}
	end := min(start+maxKeys, len(keys))

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta, err := c.stat(k, opts.IncludeMetadata)
		if provider.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		objects = append(objects, meta.ObjectSummary)
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

// CreateIfNotExists creates the base directory when it is missing.
func (c *Container) CreateIfNotExists(ctx context.Context) (bool, error) {
	_ = ctx
	if _, err := os.Stat(c.baseDir); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, c.wrapError("CreateIfNotExists", "", err)
	}
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return false, c.wrapError("CreateIfNotExists", "", err)
	}
	return true, nil
}

func (c *Container) stat(key string, withMetadata bool) (*provider.ObjectMeta, error) {
	full, err := c.fullPath(key)
	if err != nil {
		return nil, c.wrapError("Stat", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, c.wrapError("Stat", key, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, c.wrapError("Stat", key, err)
	}
	if st.IsDir() {
		return nil, &provider.ProviderError{Op: "Stat", Provider: provider.ProviderFile, Bucket: c.baseDir, Key: key, Err: provider.ErrNotFound}
	}

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, c.wrapError("Stat", key, err)
	}

	meta := &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{
		Key:          key,
		Size:         st.Size(),
		ETag:         hex.EncodeToString(h.Sum(nil)),
		LastModified: st.ModTime(),
	}}
	if withMetadata {
		md, err := c.readMetadata(key)
		if err != nil {
			return nil, c.wrapError("Stat", key, err)
		}
		meta.Metadata = md
	}
	return meta, nil
}

func (c *Container) readMetadata(key string) (map[string]string, error) {
	data, err := os.ReadFile(c.metaPath(key))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	md := map[string]string{}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata sidecar: %w", err)
	}
	return md, nil
}

func (c *Container) writeMetadata(key string, md map[string]string) error {
	path := c.metaPath(key)
	if len(md) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (c *Container) metaPath(key string) string {
	return filepath.Join(c.baseDir, MetaDir, "meta", filepath.FromSlash(key)+".json")
}

func (c *Container) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path %q", key)
	}
	if clean == MetaDir || strings.HasPrefix(clean, MetaDir+"/") {
		return "", fmt.Errorf("key %q is reserved", key)
	}
	return filepath.Join(c.baseDir, filepath.FromSlash(clean)), nil
}

// collectKeys returns every file key under the base directory matching
// prefix, sorted. The metadata directory is skipped.
func (c *Container) collectKeys(prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	var keys []string
	err := filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == MetaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Container) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: c.baseDir, Key: key, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blobsync-put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
