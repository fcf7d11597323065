// Package schemasassets provides embedded JSON schemas so validation works
// regardless of working directory or installation location.
package schemasassets

import _ "embed"

// SyncManifestSchema is the embedded sync-manifest JSON schema.
//
//go:embed sync-manifest.schema.json
var SyncManifestSchema []byte
