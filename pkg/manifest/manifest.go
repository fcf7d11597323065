// Package manifest loads and validates blobsync job manifests.
//
// A sync manifest is a YAML or JSON file describing one sync job: source and
// destination containers, sync policy, filters, and output. Manifests are
// validated against an embedded JSON Schema that rejects unknown fields.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	source:
//	  uri: az://photos/2024/
//	  connection_string_env: SRC_STORAGE
//	destination:
//	  uri: az://photos-archive/
//	  connection_string_env: DST_STORAGE
//	sync:
//	  overwrite: only-if-newer
//	  delete_orphans: true
//	  propagate_metadata: true
//	  delegated_access: true
//	match:
//	  excludes:
//	    - "**/_tmp/**"
package manifest

import (
	"github.com/3leaps/blobsync/pkg/plan"
)

// Manifest is a validated sync job.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	Source      EndpointConfig `json:"source" yaml:"source"`
	Destination EndpointConfig `json:"destination" yaml:"destination"`

	Sync   SyncConfig   `json:"sync,omitempty" yaml:"sync,omitempty"`
	Match  MatchConfig  `json:"match,omitempty" yaml:"match,omitempty"`
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// EndpointConfig addresses one container.
type EndpointConfig struct {
	// URI is s3://bucket/prefix, minio://bucket/prefix, az://container/prefix,
	// or file:///abs/dir.
	URI string `json:"uri" yaml:"uri"`

	// Region is the AWS region for s3 and minio. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom S3 endpoint URL or a MinIO host:port. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// PathStyle forces path-style S3 addressing. Optional.
	PathStyle bool `json:"path_style,omitempty" yaml:"path_style,omitempty"`

	// Insecure disables TLS for MinIO endpoints. Optional.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`

	// ConnectionStringEnv names the environment variable holding the Azure
	// connection string. Secrets are never read from the manifest itself.
	ConnectionStringEnv string `json:"connection_string_env,omitempty" yaml:"connection_string_env,omitempty"`
}

// SyncConfig is the sync policy.
type SyncConfig struct {
	// Overwrite is never, only-if-newer, or always. Default: never.
	Overwrite string `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`

	// CopyMissing copies source objects absent from the destination.
	// Default: true.
	CopyMissing *bool `json:"copy_missing,omitempty" yaml:"copy_missing,omitempty"`

	DeleteOrphans     bool `json:"delete_orphans,omitempty" yaml:"delete_orphans,omitempty"`
	PropagateMetadata bool `json:"propagate_metadata,omitempty" yaml:"propagate_metadata,omitempty"`
	DelegatedAccess   bool `json:"delegated_access,omitempty" yaml:"delegated_access,omitempty"`
	DryRun            bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	FailFast          bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	// Concurrency is the number of copies or deletes in flight. Default: 1.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RateLimit is the maximum copy/delete calls per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// MatchConfig filters object names on both sides.
type MatchConfig struct {
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// OutputConfig configures the JSONL report stream.
type OutputConfig struct {
	// Destination is "stdout" or "file:/path/to/output.jsonl".
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Events includes blobsync.event.v1 records. Default: false.
	Events bool `json:"events,omitempty" yaml:"events,omitempty"`
}

// Default values for optional fields.
const (
	DefaultVersion     = "1.0"
	DefaultOverwrite   = "never"
	DefaultCopyMissing = true
	DefaultConcurrency = 1
	DefaultDestination = "stdout"
)

// ApplyDefaults fills in optional fields. Call after validation.
func (m *Manifest) ApplyDefaults() {
	if m.Sync.Overwrite == "" {
		m.Sync.Overwrite = DefaultOverwrite
	}
	if m.Sync.CopyMissing == nil {
		v := DefaultCopyMissing
		m.Sync.CopyMissing = &v
	}
	if m.Sync.Concurrency == 0 {
		m.Sync.Concurrency = DefaultConcurrency
	}
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
}

// OverwritePolicy parses Sync.Overwrite.
func (s *SyncConfig) OverwritePolicy() (plan.OverwritePolicy, error) {
	return plan.ParseOverwritePolicy(s.Overwrite)
}

// CopyMissingEnabled returns CopyMissing or its default.
func (s *SyncConfig) CopyMissingEnabled() bool {
	if s.CopyMissing == nil {
		return DefaultCopyMissing
	}
	return *s.CopyMissing
}
