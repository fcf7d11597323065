// Package plan decides which objects a sync copies and deletes.
//
// Diff is a pure function of two snapshots and a policy. It never calls a
// backend, so a plan can be computed and inspected without side effects.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/3leaps/blobsync/pkg/snapshot"
)

// ProvenanceKey is the destination metadata key recording the source ETag
// an object was copied from.
const ProvenanceKey = "srcETag"

// OverwritePolicy controls whether names present on both sides are copied.
type OverwritePolicy int

const (
	// Never leaves existing destination objects untouched.
	Never OverwritePolicy = iota
	// OnlyIfNewer overwrites when the destination provenance tag does not
	// match the source ETag.
	OnlyIfNewer
	// Always overwrites every common name.
	Always
)

func (p OverwritePolicy) String() string {
	switch p {
	case Never:
		return "never"
	case OnlyIfNewer:
		return "only-if-newer"
	case Always:
		return "always"
	default:
		return fmt.Sprintf("OverwritePolicy(%d)", int(p))
	}
}

// ParseOverwritePolicy parses a policy name, case-insensitively.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never", "":
		return Never, nil
	case "only-if-newer", "onlyifnewer", "if-newer":
		return OnlyIfNewer, nil
	case "always":
		return Always, nil
	}
	return Never, fmt.Errorf("unknown overwrite policy %q (expected never, only-if-newer, or always)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p OverwritePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *OverwritePolicy) UnmarshalText(b []byte) error {
	parsed, err := ParseOverwritePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Policy holds the settings that shape a plan.
type Policy struct {
	Overwrite     OverwritePolicy
	CopyMissing   bool
	DeleteOrphans bool
}

// CopyPlan is the output of Diff. ToCopy and ToDelete never share a name.
type CopyPlan struct {
	ToCopy   map[string]struct{}
	ToDelete map[string]struct{}

	// Missing holds source names absent from the destination, whether or
	// not CopyMissing put them in ToCopy.
	Missing map[string]struct{}

	// Overwrite holds common names selected by the overwrite policy.
	Overwrite map[string]struct{}

	// Fresh holds common names skipped under OnlyIfNewer because the
	// destination is current.
	Fresh map[string]struct{}
}

func newCopyPlan() *CopyPlan {
	return &CopyPlan{
		ToCopy:    map[string]struct{}{},
		ToDelete:  map[string]struct{}{},
		Missing:   map[string]struct{}{},
		Overwrite: map[string]struct{}{},
		Fresh:     map[string]struct{}{},
	}
}

// Copies returns ToCopy in sorted order.
func (p *CopyPlan) Copies() []string { return sortedKeys(p.ToCopy) }

// Deletes returns ToDelete in sorted order.
func (p *CopyPlan) Deletes() []string { return sortedKeys(p.ToDelete) }

// FreshNames returns Fresh in sorted order.
func (p *CopyPlan) FreshNames() []string { return sortedKeys(p.Fresh) }

// Empty reports whether the plan has nothing to execute.
func (p *CopyPlan) Empty() bool { return len(p.ToCopy) == 0 && len(p.ToDelete) == 0 }

// Diff computes the copy plan from a source and destination snapshot.
// Deletions are computed from the destination as listed, before any copy.
func Diff(source, dest *snapshot.Snapshot, policy Policy) *CopyPlan {
	p := newCopyPlan()

	for name, src := range source.Objects {
		dst, ok := dest.Objects[name]
		if !ok {
			p.Missing[name] = struct{}{}
			if policy.CopyMissing {
				p.ToCopy[name] = struct{}{}
			}
			continue
		}

		switch policy.Overwrite {
		case Always:
			p.Overwrite[name] = struct{}{}
		case OnlyIfNewer:
			if IsStale(src, dst) {
				p.Overwrite[name] = struct{}{}
			} else {
				p.Fresh[name] = struct{}{}
			}
		}
	}
	for name := range p.Overwrite {
		p.ToCopy[name] = struct{}{}
	}

	if policy.DeleteOrphans {
		for name := range dest.Objects {
			if _, ok := source.Objects[name]; !ok {
				p.ToDelete[name] = struct{}{}
			}
		}
	}
	return p
}

// IsStale reports whether dst must be overwritten from src. dst is fresh
// only when it carries a provenance tag equal to src's ETag, compared
// case-insensitively. The tag key itself is matched case-insensitively
// because backends normalize metadata key casing differently.
func IsStale(src, dst snapshot.ObjectRecord) bool {
	tag, ok := ProvenanceTag(dst.Metadata)
	if !ok {
		return true
	}
	return !strings.EqualFold(tag, src.ETag)
}

// ProvenanceTag returns the provenance value from metadata.
func ProvenanceTag(metadata map[string]string) (string, bool) {
	if v, ok := metadata[ProvenanceKey]; ok {
		return v, true
	}
	for k, v := range metadata {
		if strings.EqualFold(k, ProvenanceKey) {
			return v, true
		}
	}
	return "", false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
