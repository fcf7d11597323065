package manifest

import (
	"github.com/3leaps/blobsync/pkg/match"
	"github.com/3leaps/blobsync/pkg/syncer"
)

// SyncConfig overlays the manifest's sync policy and filters onto base.
// Fields the manifest cannot express (retry, token window, page size) keep
// their base values.
func (m *Manifest) SyncConfig(base syncer.Config) (syncer.Config, error) {
	cfg := base

	policy, err := m.Sync.OverwritePolicy()
	if err != nil {
		return cfg, &syncer.ConfigError{Field: "Overwrite", Message: err.Error()}
	}
	cfg.Overwrite = policy
	cfg.CopyMissing = m.Sync.CopyMissingEnabled()
	cfg.DeleteOrphans = m.Sync.DeleteOrphans
	cfg.PropagateMetadata = m.Sync.PropagateMetadata
	cfg.UseDelegatedAccess = m.Sync.DelegatedAccess
	cfg.DryRun = m.Sync.DryRun
	cfg.FailFast = m.Sync.FailFast
	if m.Sync.Concurrency > 0 {
		cfg.Concurrency = m.Sync.Concurrency
	}
	if m.Sync.RateLimit > 0 {
		cfg.RateLimit = m.Sync.RateLimit
	}

	if len(m.Match.Includes) > 0 || len(m.Match.Excludes) > 0 {
		matcher, err := match.New(match.Config{Includes: m.Match.Includes, Excludes: m.Match.Excludes})
		if err != nil {
			return cfg, &syncer.ConfigError{Field: "Filter", Message: err.Error()}
		}
		cfg.Filter = matcher
	}
	return cfg, nil
}
