// Package events defines the structured event stream of a sync run.
//
// Observers are injected into the lister, executor, and orchestrator. There
// is no process-wide event source; a nil observer means no events.
package events

import (
	"context"
	"time"
)

// Type names one kind of sync event.
type Type string

// Event types, in the order a run emits them.
const (
	SyncStarted      Type = "sync.started"
	ContainerCreated Type = "container.created"
	ListingStarted   Type = "listing.started"
	ListingSegment   Type = "listing.segment"
	ListingFinished  Type = "listing.finished"
	OverwriteSkipped Type = "overwrite.skipped"
	TokenIssued      Type = "token.issued"
	MetadataSetting  Type = "metadata.setting"
	CopyStarted      Type = "copy.started"
	CopyFinished     Type = "copy.finished"
	DeleteStarted    Type = "delete.started"
	DeleteFinished   Type = "delete.finished"
	ItemFailed       Type = "item.failed"
	SyncFinished     Type = "sync.finished"
)

// Side tells the two containers of a run apart. Their names may match.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// Event is one notification. Fields not relevant to Type are zero.
type Event struct {
	Type      Type
	Container string
	Side      Side
	Name      string

	// Count is the running object total for listing events and the item
	// count for sync.started/finished.
	Count int

	ETag    string
	Expiry  time.Time
	Existed bool
	Err     error
}

// Observer receives events. Implementations must be safe for concurrent
// use when the executor runs with concurrency above one.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

type nop struct{}

func (nop) Observe(context.Context, Event) {}

// Nop discards every event.
var Nop Observer = nop{}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}

// Multi fans events out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return Nop
	case 1:
		return list[0]
	}
	return multi(list)
}

type multi []Observer

func (m multi) Observe(ctx context.Context, e Event) {
	for _, o := range m {
		o.Observe(ctx, e)
	}
}
