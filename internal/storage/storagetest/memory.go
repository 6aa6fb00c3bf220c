// Package storagetest provides an in-memory storage provider with failure
// injection for tests and local development.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/storage"
)

// ErrUnavailable is returned by every call while the provider is down.
var ErrUnavailable = errors.New("provider unavailable")

// Memory is a storage.Provider backed by a map.
type Memory struct {
	kind string

	mu      sync.Mutex
	objects map[string][]byte
	down    bool
	failPut bool
	puts    int
}

var _ storage.Provider = (*Memory)(nil)

func NewMemory(kind string) *Memory {
	return &Memory{kind: kind, objects: make(map[string][]byte)}
}

func (m *Memory) Kind() string { return m.kind }

// SetDown makes every call fail with ErrUnavailable until reset.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailPuts makes uploads fail while reads keep working.
func (m *Memory) FailPuts(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = fail
}

// Corrupt flips the last byte of the stored object.
func (m *Memory) Corrupt(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok || len(data) == 0 {
		return false
	}
	cp := append([]byte(nil), data...)
	cp[len(cp)-1] ^= 0xff
	m.objects[key] = cp
	return true
}

// Has reports whether key is stored.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Puts returns the number of successful uploads.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	m.mu.Lock()
	unavailable := m.down || m.failPut
	m.mu.Unlock()
	if unavailable {
		return ErrUnavailable
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts++
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrUnavailable
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrUnavailable
	}
	var out []model.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, model.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	return nil
}
