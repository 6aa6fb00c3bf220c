// Package tenantdatatest provides an in-memory tenantdata.Store for tests and
// local development.
package tenantdatatest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/tenantdata"
)

// Memory keeps rows per tenant per table. Apply stages every row before
// swapping them in, so a failed apply leaves the tenant untouched.
type Memory struct {
	tables []string

	mu        sync.Mutex
	tenants   map[string]bool // id -> active
	rows      map[string]map[string][]json.RawMessage
	applyErr  map[string]error
	dumpErr   error
	applyLock map[string]*sync.Mutex
}

var _ tenantdata.Store = (*Memory)(nil)

func NewMemory(tables ...string) *Memory {
	return &Memory{
		tables:    tables,
		tenants:   make(map[string]bool),
		rows:      make(map[string]map[string][]json.RawMessage),
		applyErr:  make(map[string]error),
		applyLock: make(map[string]*sync.Mutex),
	}
}

// AddTenant registers an active tenant.
func (m *Memory) AddTenant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[id] = true
	if m.rows[id] == nil {
		m.rows[id] = make(map[string][]json.RawMessage)
	}
}

// RemoveTenant deletes a tenant and its rows.
func (m *Memory) RemoveTenant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
	delete(m.rows, id)
}

// Insert appends a row to a tenant's table.
func (m *Memory) Insert(tenantID, table string, row any) {
	data, err := json.Marshal(row)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[tenantID] == nil {
		m.rows[tenantID] = make(map[string][]json.RawMessage)
	}
	m.rows[tenantID][table] = append(m.rows[tenantID][table], data)
}

// Truncate removes a tenant's rows from every table.
func (m *Memory) Truncate(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[tenantID] = make(map[string][]json.RawMessage)
}

// FailApply makes the next applies for tenantID fail with err after all rows
// were read. A nil err clears the injection.
func (m *Memory) FailApply(tenantID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.applyErr, tenantID)
		return
	}
	m.applyErr[tenantID] = err
}

// FailDump makes Dump fail with err.
func (m *Memory) FailDump(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dumpErr = err
}

// Count returns the number of rows a tenant has in table.
func (m *Memory) Count(tenantID, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[tenantID][table])
}

func (m *Memory) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tenants[tenantID]
	return ok, nil
}

func (m *Memory) ActiveTenants(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, active := range m.tenants {
		if active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Dump(ctx context.Context, tenantID string, emit func(tenantdata.Row) error) error {
	m.mu.Lock()
	if m.dumpErr != nil {
		err := m.dumpErr
		m.mu.Unlock()
		return err
	}
	var out []tenantdata.Row
	tenants := []string{tenantID}
	if tenantID == "" {
		tenants = tenants[:0]
		for id := range m.rows {
			tenants = append(tenants, id)
		}
		sort.Strings(tenants)
	}
	for _, table := range m.tables {
		for _, id := range tenants {
			for _, data := range m.rows[id][table] {
				out = append(out, tenantdata.Row{Table: table, TenantID: id, Data: data})
			}
		}
	}
	m.mu.Unlock()

	for _, r := range out {
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Snapshot(ctx context.Context, tenantID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64, len(m.tables))
	for _, table := range m.tables {
		counts[table] = int64(len(m.rows[tenantID][table]))
	}
	return counts, nil
}

func (m *Memory) Apply(ctx context.Context, tenantID string, src tenantdata.RowSource) (map[string]int64, error) {
	lock := m.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	known := make(map[string]bool, len(m.tables))
	for _, t := range m.tables {
		known[t] = true
	}

	staged := make(map[string][]json.RawMessage)
	written := make(map[string]int64)
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if row.TenantID != tenantID {
			continue
		}
		if !known[row.Table] {
			return nil, errs.Validation("apply", "artifact contains unknown table %q", row.Table)
		}
		staged[row.Table] = append(staged[row.Table], row.Data)
		written[row.Table]++
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyErr[tenantID]; err != nil {
		return nil, err
	}
	m.rows[tenantID] = staged
	return written, nil
}

func (m *Memory) tenantLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.applyLock[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.applyLock[tenantID] = l
	}
	return l
}
