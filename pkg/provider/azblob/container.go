package azblob

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Container implements provider.Container for one Azure Blob container.
type Container struct {
	client  *container.Client
	name    string
	account string
	maxKeys int32
}

var (
	_ provider.Container       = (*Container)(nil)
	_ provider.ReadTokenMinter = (*Container)(nil)
)

// New creates a container client from a connection string.
func New(cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cs, _ := ParseConnectionString(cfg.ConnectionString)

	client, err := container.NewClientFromConnectionString(cfg.ConnectionString, cfg.Container, nil)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderAzureBlob, Bucket: cfg.Container, Err: err}
	}

	maxKeys := cfg.MaxKeys
	if maxKeys == 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Container{client: client, name: cfg.Container, account: cs.AccountName, maxKeys: int32(maxKeys)}, nil
}

func (c *Container) Name() string               { return c.name }
func (c *Container) Type() provider.ProviderType { return provider.ProviderAzureBlob }
func (c *Container) Close() error                { return nil }

// AccountName returns the storage account from the connection string.
// Copies between different accounts need delegated access.
func (c *Container) AccountName() string { return c.account }

func (c *Container) Object(name string) provider.Object {
	return &Object{c: c, name: name, client: c.client.NewBlobClient(name)}
}

// List fetches one flat listing segment starting at the continuation marker.
func (c *Container) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxResults := c.maxKeys
	if opts.MaxKeys > 0 && opts.MaxKeys < int(maxResults) {
		maxResults = int32(opts.MaxKeys)
	}

	listOpts := &container.ListBlobsFlatOptions{
		Include:    container.ListBlobsInclude{Metadata: opts.IncludeMetadata},
		MaxResults: &maxResults,
	}
	if opts.Prefix != "" {
		listOpts.Prefix = &opts.Prefix
	}
	if opts.ContinuationToken != "" {
		listOpts.Marker = &opts.ContinuationToken
	}

	pager := c.client.NewListBlobsFlatPager(listOpts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, wrapError("List", c.name, "", err)
	}

	result := &provider.ListResult{}
	if resp.Segment != nil {
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			summary := provider.ObjectSummary{Key: *item.Name}
			if p := item.Properties; p != nil {
				summary.ETag = cleanETag(p.ETag)
				if p.ContentLength != nil {
					summary.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					summary.LastModified = *p.LastModified
				}
			}
			if opts.IncludeMetadata {
				summary.Metadata = fromPtrMap(item.Metadata)
			}
			result.Objects = append(result.Objects, summary)
		}
	}
	if resp.NextMarker != nil {
		result.ContinuationToken = *resp.NextMarker
	}
	return result, nil
}

// CreateIfNotExists creates the container; ContainerAlreadyExists means it
// was already there.
func (c *Container) CreateIfNotExists(ctx context.Context) (bool, error) {
	_, err := c.client.Create(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return false, nil
	}
	return false, wrapError("CreateIfNotExists", c.name, "", err)
}

// MintReadToken returns a container SAS query string. Signing is local to
// the account key, so no request is made.
func (c *Container) MintReadToken(_ context.Context, opts provider.TokenOptions) (string, error) {
	if !opts.Expiry.After(opts.Start) {
		return "", &provider.ProviderError{Op: "MintReadToken", Provider: provider.ProviderAzureBlob, Bucket: c.name,
			Err: errors.New("token expiry must be after start")}
	}
	perms := sas.ContainerPermissions{Read: opts.Permissions.Read, List: opts.Permissions.List}
	start := opts.Start.UTC()
	signed, err := c.client.GetSASURL(perms, opts.Expiry.UTC(), &container.GetSASURLOptions{StartTime: &start})
	if err != nil {
		return "", wrapError("MintReadToken", c.name, "", err)
	}
	return tokenFromSASURL(signed)
}

func tokenFromSASURL(signed string) (string, error) {
	u, err := url.Parse(signed)
	if err != nil {
		return "", err
	}
	if u.RawQuery == "" {
		return "", errors.New("signed URL has no query")
	}
	return u.RawQuery, nil
}

func fromPtrMap(in map[string]*string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func toPtrMap(in map[string]string) map[string]*string {
	if in == nil {
		return nil
	}
	out := make(map[string]*string, len(in))
	for k, v := range in {
		out[k] = &v
	}
	return out
}

func cleanETag(etag *azcore.ETag) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(string(*etag), "\"")
}

func wrapError(op, containerName, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderAzureBlob, Bucket: containerName, Key: key, Err: err}
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		wrapped.Err = provider.ErrNotFound
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		wrapped.Err = provider.ErrBucketNotFound
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch,
		bloberror.InsufficientAccountPermissions, bloberror.CannotVerifyCopySource):
		wrapped.Err = provider.ErrAccessDenied
	case bloberror.HasCode(err, bloberror.AuthenticationFailed):
		wrapped.Err = provider.ErrInvalidCredentials
	case bloberror.HasCode(err, bloberror.ServerBusy):
		wrapped.Err = provider.ErrThrottled
	case bloberror.HasCode(err, bloberror.InternalError, bloberror.OperationTimedOut):
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}
