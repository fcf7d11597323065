package syncer

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/blobsync/pkg/provider"
)

// memStore is an in-memory object service. Containers in one store can
// copy from each other by URL.
type memStore struct {
	mu         sync.Mutex
	containers map[string]*memContainer
}

func newMemStore() *memStore {
	return &memStore{containers: map[string]*memContainer{}}
}

type memBlob struct {
	etag     string
	metadata map[string]string
}

type copyCall struct {
	name      string
	sourceURL string
	metadata  map[string]string
}

type memContainer struct {
	store    *memStore
	name     string
	exists   bool
	pageSize int
	blobs    map[string]*memBlob
	etagSeq  int

	listCalls   []provider.ListOptions
	copyCalls   []copyCall
	deleteCalls []string
	created     int

	listErr    error
	copyErrs   map[string][]error
	deleteErrs map[string]error
}

func (s *memStore) add(name string, objects map[string]string) *memContainer {
	c := &memContainer{store: s, name: name, exists: true, pageSize: 2, blobs: map[string]*memBlob{}}
	for k, etag := range objects {
		c.blobs[k] = &memBlob{etag: etag, metadata: map[string]string{}}
	}
	s.containers[name] = c
	return c
}

func (c *memContainer) Name() string               { return c.name }
func (c *memContainer) Type() provider.ProviderType { return "mem" }
func (c *memContainer) Close() error                { return nil }

func (c *memContainer) Object(name string) provider.Object {
	return &memObject{c: c, name: name}
}

func (c *memContainer) List(_ context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.listCalls = append(c.listCalls, opts)
	if c.listErr != nil {
		return nil, c.listErr
	}
	if !c.exists {
		return nil, &provider.ProviderError{Op: "List", Provider: "mem", Bucket: c.name, Err: provider.ErrBucketNotFound}
	}

	var keys []string
	for k := range c.blobs {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.ContinuationToken {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := c.pageSize
	if opts.MaxKeys > 0 {
		limit = opts.MaxKeys
	}
	result := &provider.ListResult{}
	for i, k := range keys {
		if i == limit {
			result.ContinuationToken = keys[i-1]
			break
		}
		b := c.blobs[k]
		summary := provider.ObjectSummary{Key: k, ETag: b.etag}
		if opts.IncludeMetadata {
			summary.Metadata = maps.Clone(b.metadata)
		}
		result.Objects = append(result.Objects, summary)
	}
	return result, nil
}

func (c *memContainer) CreateIfNotExists(context.Context) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.exists {
		return false, nil
	}
	c.exists = true
	c.created++
	return true, nil
}

func (c *memContainer) etags() map[string]string {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := map[string]string{}
	for k, b := range c.blobs {
		out[k] = b.etag
	}
	return out
}

func (c *memContainer) meta(name string) map[string]string {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if b, ok := c.blobs[name]; ok {
		return maps.Clone(b.metadata)
	}
	return nil
}

type memObject struct {
	c    *memContainer
	name string
}

func (o *memObject) Name() string { return o.name }

func (o *memObject) URL() string {
	u := url.URL{Scheme: "mem", Host: o.c.name, Path: "/" + o.name}
	return u.String()
}

func (o *memObject) Properties(context.Context) (*provider.ObjectMeta, error) {
	o.c.store.mu.Lock()
	defer o.c.store.mu.Unlock()
	b, ok := o.c.blobs[o.name]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: o.name, ETag: b.etag, Metadata: maps.Clone(b.metadata)}}, nil
}

func (o *memObject) StartCopyFrom(_ context.Context, sourceURL string, metadata map[string]string) error {
	s := o.c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	o.c.copyCalls = append(o.c.copyCalls, copyCall{name: o.name, sourceURL: sourceURL, metadata: maps.Clone(metadata)})
	if errs := o.c.copyErrs[o.name]; len(errs) > 0 {
		o.c.copyErrs[o.name] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}

	u, err := url.Parse(sourceURL)
	if err != nil {
		return err
	}
	src, ok := s.containers[u.Host]
	if !ok {
		return &provider.ProviderError{Op: "StartCopyFrom", Err: provider.ErrBucketNotFound}
	}
	blob, ok := src.blobs[strings.TrimPrefix(u.Path, "/")]
	if !ok {
		return &provider.ProviderError{Op: "StartCopyFrom", Err: provider.ErrNotFound}
	}

	newMeta := maps.Clone(blob.metadata)
	if metadata != nil {
		newMeta = maps.Clone(metadata)
	}
	o.c.etagSeq++
	o.c.blobs[o.name] = &memBlob{etag: fmt.Sprintf("%s-copy%d", o.c.name, o.c.etagSeq), metadata: newMeta}
	return nil
}

func (o *memObject) DeleteIfExists(context.Context) (bool, error) {
	o.c.store.mu.Lock()
	defer o.c.store.mu.Unlock()

	o.c.deleteCalls = append(o.c.deleteCalls, o.name)
	if err := o.c.deleteErrs[o.name]; err != nil {
		return false, err
	}
	if _, ok := o.c.blobs[o.name]; !ok {
		return false, nil
	}
	delete(o.c.blobs, o.name)
	return true, nil
}

// minterContainer adds read-token minting to a memContainer.
type minterContainer struct {
	*memContainer
	minted []provider.TokenOptions
	err    error
}

func (m *minterContainer) MintReadToken(_ context.Context, opts provider.TokenOptions) (string, error) {
	m.minted = append(m.minted, opts)
	if m.err != nil {
		return "", m.err
	}
	return "sv=1&sp=" + opts.Permissions.String() + "&sig=abc", nil
}
