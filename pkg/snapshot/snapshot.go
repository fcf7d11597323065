// Package snapshot lists a container into an in-memory, name-keyed view.
//
// A Snapshot is a point-in-time picture: objects written or deleted after
// listing are not reflected, and nothing reconciles that gap later.
package snapshot

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/3leaps/blobsync/pkg/events"
	"github.com/3leaps/blobsync/pkg/provider"
)

// ObjectRecord is one listed object.
type ObjectRecord struct {
	Name         string
	ETag         string
	Size         int64
	LastModified time.Time

	// Metadata is nil unless the listing requested metadata.
	Metadata map[string]string
}

// Snapshot is the full listing of one container, keyed by object name.
type Snapshot struct {
	Container string
	Objects   map[string]ObjectRecord

	// Created is set when the container did not exist and was created
	// during listing. Such a snapshot is always empty.
	Created bool
}

// New returns an empty snapshot for the named container.
func New(container string) *Snapshot {
	return &Snapshot{Container: container, Objects: map[string]ObjectRecord{}}
}

// Len returns the number of objects.
func (s *Snapshot) Len() int { return len(s.Objects) }

// Get returns the record for name.
func (s *Snapshot) Get(name string) (ObjectRecord, bool) {
	rec, ok := s.Objects[name]
	return rec, ok
}

// Names returns object names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Objects))
	for name := range s.Objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options controls a listing.
type Options struct {
	Prefix          string
	IncludeMetadata bool

	// EnsureContainer creates the container when it is missing. A freshly
	// created container yields an empty snapshot without a listing call.
	EnsureContainer bool

	// Filter drops names that do not match. Nil keeps every name.
	Filter Filter

	// MaxKeys caps the page size. Zero uses the backend default.
	MaxKeys int

	// Side is stamped on every event of the listing.
	Side events.Side
}

// Filter selects object names.
type Filter interface {
	Match(name string) bool
}

// Pages returns a lazy sequence over the listing pages of c. Iteration
// stops after the first error, which is yielded with a nil page. Each
// call to the returned sequence restarts the listing from the beginning.
func Pages(ctx context.Context, c provider.Container, opts Options) iter.Seq2[*provider.ListResult, error] {
	return PagesWith(ctx, c, opts, nil)
}

// FetchFunc wraps a single page request, e.g. to add retries.
type FetchFunc func(ctx context.Context, fetch func(context.Context) (*provider.ListResult, error)) (*provider.ListResult, error)

// PagesWith is Pages with each page request routed through wrap.
func PagesWith(ctx context.Context, c provider.Container, opts Options, wrap FetchFunc) iter.Seq2[*provider.ListResult, error] {
	return func(yield func(*provider.ListResult, error) bool) {
		token := ""
		for {
			listOpts := provider.ListOptions{
				Prefix:            opts.Prefix,
				ContinuationToken: token,
				MaxKeys:           opts.MaxKeys,
				IncludeMetadata:   opts.IncludeMetadata,
			}
			fetch := func(ctx context.Context) (*provider.ListResult, error) {
				return c.List(ctx, listOpts)
			}

			var (
				page *provider.ListResult
				err  error
			)
			if wrap != nil {
				page, err = wrap(ctx, fetch)
			} else {
				page, err = fetch(ctx)
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.ContinuationToken == "" {
				return
			}
			token = page.ContinuationToken
		}
	}
}

// Lister accumulates listing pages into snapshots.
type Lister struct {
	// Observer receives listing events. Nil means no events.
	Observer events.Observer

	// Fetch wraps each page request. Nil calls the backend directly.
	Fetch FetchFunc
}

// Snapshot lists c to exhaustion. Any error aborts the listing and no
// partial snapshot is returned. When a name appears more than once, the
// last observation wins.
func (l *Lister) Snapshot(ctx context.Context, c provider.Container, opts Options) (*Snapshot, error) {
	obs := events.OrNop(l.Observer)
	snap := New(c.Name())

	if opts.EnsureContainer {
		created, err := c.CreateIfNotExists(ctx)
		if err != nil {
			return nil, err
		}
		if created {
			snap.Created = true
			obs.Observe(ctx, events.Event{Type: events.ContainerCreated, Container: c.Name(), Side: opts.Side})
			return snap, nil
		}
	}

	obs.Observe(ctx, events.Event{Type: events.ListingStarted, Container: c.Name(), Side: opts.Side})
	for page, err := range PagesWith(ctx, c, opts, l.Fetch) {
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			if opts.Filter != nil && !opts.Filter.Match(obj.Key) {
				continue
			}
			snap.Objects[obj.Key] = ObjectRecord{
				Name:         obj.Key,
				ETag:         obj.ETag,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				Metadata:     obj.Metadata,
			}
		}
		obs.Observe(ctx, events.Event{Type: events.ListingSegment, Container: c.Name(), Side: opts.Side, Count: snap.Len()})
	}
	obs.Observe(ctx, events.Event{Type: events.ListingFinished, Container: c.Name(), Side: opts.Side, Count: snap.Len()})
	return snap, nil
}
