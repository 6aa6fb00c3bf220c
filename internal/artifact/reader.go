package artifact

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/edvin/tenantvault/internal/tenantdata"
)

// Reader decodes the rows of an artifact. It implements tenantdata.RowSource.
type Reader struct {
	gz     *gzip.Reader
	dec    *json.Decoder
	closer io.Closer
}

var _ tenantdata.RowSource = (*Reader)(nil)

// NewReader reads an artifact from r.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return &Reader{gz: gz, dec: json.NewDecoder(gz)}, nil
}

// Open reads the artifact file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next returns the next row, or io.EOF after the last one.
func (r *Reader) Next() (tenantdata.Row, error) {
	var row tenantdata.Row
	if err := r.dec.Decode(&row); err != nil {
		if errors.Is(err, io.EOF) {
			return row, io.EOF
		}
		return row, fmt.Errorf("decode artifact row: %w", err)
	}
	return row, nil
}

func (r *Reader) Close() error {
	err := r.gz.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
