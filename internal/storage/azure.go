package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/model"
)

const azureUploadBufferSize = 4 << 20

// AzureProvider stores objects as block blobs in one Azure Storage container.
// The configured bucket is the container name.
type AzureProvider struct {
	container azblob.ContainerURL
	name      string
}

func NewAzureProvider(cfg config.ProviderConfig) (*AzureProvider, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse azure endpoint %q: %w", endpoint, err)
	}

	service := azblob.NewServiceURL(*serviceURL, pipeline)
	return &AzureProvider{container: service.NewContainerURL(cfg.Bucket), name: cfg.Bucket}, nil
}

func (p *AzureProvider) Kind() string { return config.ProviderKindAzure }

func (p *AzureProvider) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	blob := p.container.NewBlockBlobURL(key)
	_, err := azblob.UploadStreamToBlockBlob(ctx, r, blob, azblob.UploadStreamToBlockBlobOptions{
		BufferSize:      azureUploadBufferSize,
		MaxBuffers:      4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/gzip"},
	})
	if err != nil {
		return fmt.Errorf("azure upload %s/%s: %w", p.name, key, err)
	}
	return nil
}

func (p *AzureProvider) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	blob := p.container.NewBlockBlobURL(key)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("azure download %s/%s: %w", p.name, key, err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

func (p *AzureProvider) Delete(ctx context.Context, key string) error {
	blob := p.container.NewBlockBlobURL(key)
	_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("azure delete %s/%s: %w", p.name, key, err)
	}
	return nil
}

func (p *AzureProvider) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	var objects []model.ObjectInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := p.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("azure list %s/%s: %w", p.name, prefix, err)
		}
		for _, b := range resp.Segment.BlobItems {
			var size int64
			if b.Properties.ContentLength != nil {
				size = *b.Properties.ContentLength
			}
			objects = append(objects, model.ObjectInfo{Key: b.Name, Size: size})
		}
		marker = resp.NextMarker
	}
	return objects, nil
}

func (p *AzureProvider) Ping(ctx context.Context) error {
	if _, err := p.container.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return fmt.Errorf("azure container properties %s: %w", p.name, err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	var serr azblob.StorageError
	if errors.As(err, &serr) {
		return serr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
