// Package azblob implements provider.Container for Azure Blob Storage.
//
// Azure is the only backend whose server-side copy can read from another
// account, so it is also the only one implementing
// provider.ReadTokenMinter: cross-account copies read the source through a
// container-scoped, read-only SAS.
package azblob

import (
	"fmt"
	"strings"
)

// Config configures an Azure Blob container.
type Config struct {
	// ConnectionString is an Azure Storage connection string (required).
	// SAS minting requires an AccountKey.
	ConnectionString string

	// Container is the container name (required).
	Container string

	// MaxKeys is the page size for List operations. Zero uses 5000.
	MaxKeys int
}

// DefaultMaxKeys is the service maximum page size for blob listings.
const DefaultMaxKeys = 5000

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if _, err := ParseConnectionString(c.ConnectionString); err != nil {
		return err
	}
	if c.Container == "" {
		return &ConfigError{Field: "Container", Message: "container name is required"}
	}
	if c.MaxKeys < 0 || c.MaxKeys > DefaultMaxKeys {
		return &ConfigError{Field: "MaxKeys", Message: fmt.Sprintf("must be between 0 and %d", DefaultMaxKeys)}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "azblob config: " + e.Field + ": " + e.Message
}

// ConnectionString is the parsed form of an Azure Storage connection string.
type ConnectionString struct {
	AccountName  string
	HasKey       bool
	HasSAS       bool
	BlobEndpoint string
	Development  bool
}

// devAccountName is the well-known Azurite account.
const devAccountName = "devstoreaccount1"

// ParseConnectionString parses key=value;... pairs. Keys are
// case-insensitive. An empty string is a configuration error.
func ParseConnectionString(s string) (*ConnectionString, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &ConfigError{Field: "ConnectionString", Message: "connection string cannot be empty"}
	}

	cs := &ConnectionString{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, &ConfigError{Field: "ConnectionString", Message: fmt.Sprintf("malformed segment %q", part)}
		}
		switch strings.ToLower(k) {
		case "accountname":
			cs.AccountName = v
		case "accountkey":
			cs.HasKey = v != ""
		case "sharedaccesssignature":
			cs.HasSAS = v != ""
		case "blobendpoint":
			cs.BlobEndpoint = v
		case "usedevelopmentstorage":
			cs.Development = strings.EqualFold(v, "true")
		}
	}

	if cs.Development {
		cs.AccountName = devAccountName
		cs.HasKey = true
		return cs, nil
	}
	if cs.AccountName == "" && cs.BlobEndpoint == "" {
		return nil, &ConfigError{Field: "ConnectionString", Message: "AccountName or BlobEndpoint is required"}
	}
	if !cs.HasKey && !cs.HasSAS {
		return nil, &ConfigError{Field: "ConnectionString", Message: "AccountKey or SharedAccessSignature is required"}
	}
	return cs, nil
}
