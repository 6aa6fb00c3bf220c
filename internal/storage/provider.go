// Package storage implements the gateway over the primary and secondary
// object-storage providers: failover policy, usage and cost counters, and the
// S3, GCS and Azure Blob backends.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/edvin/tenantvault/internal/model"
)

// ErrNotExist is returned by providers when an object key is absent.
var ErrNotExist = errors.New("object does not exist")

// Provider is one object-storage backend. Delete of a missing key succeeds.
type Provider interface {
	Kind() string
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]model.ObjectInfo, error)
	Ping(ctx context.Context) error
}

// Body is an upload payload that can be read more than once, so a failed
// attempt on one provider does not consume the bytes for the next.
type Body interface {
	Open() (io.ReadCloser, error)
	Size() int64
}

// FileBody uploads a file from local disk.
type FileBody struct {
	Path   string
	Length int64
}

func (b FileBody) Open() (io.ReadCloser, error) { return os.Open(b.Path) }
func (b FileBody) Size() int64                  { return b.Length }

// BytesBody uploads an in-memory payload.
type BytesBody []byte

func (b BytesBody) Open() (io.ReadCloser, error) {
	return bytesReadCloser{bytes.NewReader(b)}, nil
}

// bytesReadCloser keeps the reader seekable; the S3 client signs seekable
// payloads without buffering them.
type bytesReadCloser struct {
	*bytes.Reader
}

func (bytesReadCloser) Close() error { return nil }

func (b BytesBody) Size() int64 { return int64(len(b)) }
