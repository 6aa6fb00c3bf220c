package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/model"
)

// GCSProvider stores objects in a Google Cloud Storage bucket.
type GCSProvider struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

// NewGCSProvider creates the client with the credentials file when one is
// configured, otherwise with application default credentials.
func NewGCSProvider(ctx context.Context, cfg config.ProviderConfig) (*GCSProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSProvider{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

func (p *GCSProvider) Kind() string { return config.ProviderKindGCS }

func (p *GCSProvider) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := p.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/gzip"
	if _, err := io.Copy(w, r); err != nil {
		// Cancelling the context before Close aborts the upload.
		cancel()
		w.Close()
		return fmt.Errorf("gcs write %s/%s: %w", p.name, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs finalize %s/%s: %w", p.name, key, err)
	}
	return nil
}

func (p *GCSProvider) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := p.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("gcs read %s/%s: %w", p.name, key, err)
	}
	return r, nil
}

func (p *GCSProvider) Delete(ctx context.Context, key string) error {
	err := p.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s/%s: %w", p.name, key, err)
	}
	return nil
}

func (p *GCSProvider) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	it := p.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	var objects []model.ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s/%s: %w", p.name, prefix, err)
		}
		objects = append(objects, model.ObjectInfo{Key: attrs.Name, Size: attrs.Size})
	}
	return objects, nil
}

func (p *GCSProvider) Ping(ctx context.Context) error {
	if _, err := p.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket attrs %s: %w", p.name, err)
	}
	return nil
}

func (p *GCSProvider) Close() error {
	return p.client.Close()
}
