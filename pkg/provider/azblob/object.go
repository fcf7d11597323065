package azblob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Object is a handle to one blob.
type Object struct {
	c      *Container
	name   string
	client *blob.Client
}

var _ provider.Object = (*Object)(nil)

func (o *Object) Name() string { return o.name }

// URL returns the blob's https URL. A key-based connection yields a bare
// URL; a SAS-only connection string yields the URL with that SAS attached,
// so the copy source stays readable by the service.
func (o *Object) URL() string { return o.client.URL() }

func (o *Object) Properties(ctx context.Context) (*provider.ObjectMeta, error) {
	resp, err := o.client.GetProperties(ctx, nil)
	if err != nil {
		return nil, wrapError("Properties", o.c.name, o.name, err)
	}
	meta := &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:      o.name,
			ETag:     cleanETag(resp.ETag),
			Metadata: fromPtrMap(resp.Metadata),
		},
	}
	if resp.ContentLength != nil {
		meta.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		meta.LastModified = *resp.LastModified
	}
	if resp.ContentType != nil {
		meta.ContentType = *resp.ContentType
	}
	return meta, nil
}

// StartCopyFrom starts an asynchronous server-side copy. The call returns
// once the service accepts the copy; completion is not awaited.
func (o *Object) StartCopyFrom(ctx context.Context, sourceURL string, metadata map[string]string) error {
	if err := checkCopySource(sourceURL); err != nil {
		return &provider.ProviderError{Op: "StartCopyFrom", Provider: provider.ProviderAzureBlob, Bucket: o.c.name, Key: o.name, Err: err}
	}
	_, err := o.client.StartCopyFromURL(ctx, sourceURL, &blob.StartCopyFromURLOptions{Metadata: toPtrMap(metadata)})
	if err != nil {
		return wrapError("StartCopyFrom", o.c.name, o.name, err)
	}
	return nil
}

// DeleteIfExists deletes the blob and its snapshots.
func (o *Object) DeleteIfExists(ctx context.Context) (bool, error) {
	include := blob.DeleteSnapshotsOptionTypeInclude
	_, err := o.client.Delete(ctx, &blob.DeleteOptions{DeleteSnapshots: &include})
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, wrapError("DeleteIfExists", o.c.name, o.name, err)
}

func checkCopySource(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid copy source %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: copy source %q", provider.ErrUnsupported, raw)
	}
	return nil
}
