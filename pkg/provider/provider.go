// Package provider defines the container and object abstractions blobsync
// synchronizes between.
//
// A Container is a named bucket of uniquely named objects. Backends expose
// paginated listing, create-if-absent, and per-object handles; optional
// capabilities (see capabilities.go) are discovered with type assertions.
// Authentication uses each SDK's default credential chain unless explicit
// credentials are configured.
package provider

import (
	"context"
	"time"
)

// Container abstracts one object-storage container (S3 bucket, Azure
// container, local directory).
//
// Implementations should:
//   - Support pagination via continuation tokens
//   - Populate ObjectSummary.Metadata only when ListOptions.IncludeMetadata is set
//   - Be safe for concurrent use
type Container interface {
	// Name returns the container name (bucket, container or directory).
	Name() string

	// Type returns the backend type.
	Type() ProviderType

	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// CreateIfNotExists creates the container when it is absent.
	// It reports whether the container was created by this call.
	CreateIfNotExists(ctx context.Context) (bool, error)

	// Object returns a handle for the named object. The object need not exist.
	Object(name string) Object

	// Close releases any resources held by the container.
	Close() error
}

// Object is a handle to a single named object inside a Container.
type Object interface {
	// Name returns the object name within its container.
	Name() string

	// URL returns the absolute address other backends of the same type can
	// copy from.
	URL() string

	// Properties fetches the current ETag and metadata.
	// Returns ErrNotFound if the object does not exist.
	Properties(ctx context.Context) (*ObjectMeta, error)

	// StartCopyFrom starts a server-side copy from sourceURL into this object.
	// A nil metadata map keeps the backend's default behaviour; a non-nil map
	// replaces the destination metadata. Returning nil means the copy was
	// accepted by the service, not that it completed.
	StartCopyFrom(ctx context.Context, sourceURL string, metadata map[string]string) error

	// DeleteIfExists deletes the object and reports whether it existed.
	DeleteIfExists(ctx context.Context) (bool, error)
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to names starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int

	// IncludeMetadata requests user metadata for every listed object.
	IncludeMetadata bool
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object summaries for this page.
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string
}

// ObjectSummary contains the metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object name in the container.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag without surrounding quotes.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time

	// Metadata contains user-defined metadata key-value pairs.
	// Nil unless the listing requested metadata.
	Metadata map[string]string
}

// ObjectMeta contains full metadata for a single object.
// Returned by Object.Properties.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderMinio represents a MinIO server accessed with minio-go.
	ProviderMinio ProviderType = "minio"

	// ProviderAzureBlob represents Azure Blob Storage.
	ProviderAzureBlob ProviderType = "azblob"

	// ProviderFile represents a local directory.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
