package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// mockDB records calls as (ctx, sql, []any{args...}).
type mockDB struct {
	mock.Mock
}

var _ DB = (*mockDB)(nil)

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	rows, _ := args.Get(0).(pgx.Rows)
	return rows, args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	return m.Called(ctx, sql, arguments).Get(0).(pgx.Row)
}

type scanFn func(dest ...any) error

type mockRow struct {
	scanFunc scanFn
}

func (m *mockRow) Scan(dest ...any) error { return m.scanFunc(dest...) }

// mockRows yields one row per scan function.
type mockRows struct {
	pending []scanFn
	current scanFn
	err     error
}

func newMockRows(rows ...func(dest ...any) error) *mockRows {
	m := &mockRows{}
	for _, r := range rows {
		m.pending = append(m.pending, r)
	}
	return m
}

func (m *mockRows) Next() bool {
	if len(m.pending) == 0 {
		return false
	}
	m.current, m.pending = m.pending[0], m.pending[1:]
	return true
}

func (m *mockRows) Scan(dest ...any) error {
	if m.current == nil {
		return nil
	}
	return m.current(dest...)
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }
