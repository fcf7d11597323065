package events

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Tracker keeps live counters for a run. It backs the status endpoint.
type Tracker struct {
	mu    sync.Mutex
	state Status
}

// Status is a point-in-time view of a run.
type Status struct {
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	Listed    int       `json:"listed"`

	// ListedBySide is keyed by event side, or by container name for
	// listings made outside a sync run.
	ListedBySide map[string]int `json:"listed_by_side,omitempty"`

	Planned int `json:"planned"`
	Copied  int `json:"copied"`

	// Deleted counts removed objects. Absent counts deletes of objects
	// that were already gone.
	Deleted int `json:"deleted"`
	Absent  int `json:"absent"`

	Failed      int        `json:"failed"`
	Fresh       int        `json:"fresh"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	LastEvent   string     `json:"last_event,omitempty"`
	Finished    bool       `json:"finished"`
}

// NewTracker returns a tracker in the idle phase.
func NewTracker() *Tracker {
	return &Tracker{state: Status{Phase: "idle"}}
}

func (t *Tracker) Observe(_ context.Context, e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.state
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	s.LastEvent = string(e.Type)
	switch e.Type {
	case SyncStarted:
		s.Phase = "executing"
		s.Planned = e.Count
	case ListingStarted:
		s.Phase = "listing"
	case ListingSegment, ListingFinished:
		if s.ListedBySide == nil {
			s.ListedBySide = map[string]int{}
		}
		key := string(e.Side)
		if key == "" {
			key = e.Container
		}
		s.ListedBySide[key] = e.Count
		s.Listed = 0
		for _, n := range s.ListedBySide {
			s.Listed += n
		}
	case OverwriteSkipped:
		s.Fresh++
	case TokenIssued:
		expiry := e.Expiry
		s.TokenExpiry = &expiry
	case CopyFinished:
		s.Copied++
	case DeleteFinished:
		if e.Existed {
			s.Deleted++
		} else {
			s.Absent++
		}
	case ItemFailed:
		s.Failed++
	case SyncFinished:
		s.Phase = "finished"
		s.Finished = true
	}
}

// Status returns a copy of the current counters.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state
	if t.state.ListedBySide != nil {
		s.ListedBySide = maps.Clone(t.state.ListedBySide)
	}
	return s
}
