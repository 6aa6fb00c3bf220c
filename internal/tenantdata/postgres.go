package tenantdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/errs"
)

const applyBatchSize = 500

// DB is the subset of pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type table struct {
	name   string
	ident  string
	column string
}

// Postgres reads and writes the configured business tables.
type Postgres struct {
	db     DB
	tables []table
	known  map[string]table
}

func NewPostgres(db DB, tables []config.TableSpec) *Postgres {
	p := &Postgres{db: db, known: make(map[string]table, len(tables))}
	for _, t := range tables {
		tt := table{
			name:   t.Name,
			ident:  pgx.Identifier{t.Name}.Sanitize(),
			column: pgx.Identifier{t.TenantColumn}.Sanitize(),
		}
		p.tables = append(p.tables, tt)
		p.known[t.Name] = tt
	}
	return p
}

func (p *Postgres) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant %s: %w", tenantID, err)
	}
	return exists, nil
}

func (p *Postgres) ActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT id FROM tenants WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return ids, nil
}

func (p *Postgres) Dump(ctx context.Context, tenantID string, emit func(Row) error) error {
	return pgx.BeginTxFunc(ctx, p.db, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		for _, t := range p.tables {
			if err := p.dumpTable(ctx, tx, t, tenantID, emit); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) dumpTable(ctx context.Context, tx pgx.Tx, t table, tenantID string, emit func(Row) error) error {
	query := fmt.Sprintf(`SELECT %[2]s::text, row_to_json(t)::text FROM %[1]s t`, t.ident, "t."+t.column)
	var args []any
	if tenantID != "" {
		query += fmt.Sprintf(` WHERE t.%s = $1`, t.column)
		args = append(args, tenantID)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("dump table %s: %w", t.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, data string
		if err := rows.Scan(&owner, &data); err != nil {
			return fmt.Errorf("scan %s row: %w", t.name, err)
		}
		if err := emit(Row{Table: t.name, TenantID: owner, Data: json.RawMessage(data)}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate table %s: %w", t.name, err)
	}
	return nil
}

func (p *Postgres) Snapshot(ctx context.Context, tenantID string) (map[string]int64, error) {
	counts := make(map[string]int64, len(p.tables))
	for _, t := range p.tables {
		var n int64
		err := p.db.QueryRow(ctx,
			fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s = $1`, t.ident, t.column), tenantID,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count %s rows for tenant %s: %w", t.name, tenantID, err)
		}
		counts[t.name] = n
	}
	return counts, nil
}

func (p *Postgres) Apply(ctx context.Context, tenantID string, src RowSource) (map[string]int64, error) {
	written := make(map[string]int64)
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
			return fmt.Errorf("lock tenant %s: %w", tenantID, err)
		}

		for i := len(p.tables) - 1; i >= 0; i-- {
			t := p.tables[i]
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.ident, t.column), tenantID); err != nil {
				return fmt.Errorf("clear %s for tenant %s: %w", t.name, tenantID, err)
			}
		}

		var pending []json.RawMessage
		var current table
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			batch, err := json.Marshal(pending)
			if err != nil {
				return fmt.Errorf("encode %s batch: %w", current.name, err)
			}
			_, err = tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %[1]s SELECT * FROM json_populate_recordset(NULL::%[1]s, $1::json)`, current.ident),
				string(batch))
			if err != nil {
				return fmt.Errorf("insert %s rows for tenant %s: %w", current.name, tenantID, err)
			}
			written[current.name] += int64(len(pending))
			pending = pending[:0]
			return nil
		}

		for {
			row, err := src.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if row.TenantID != tenantID {
				continue
			}
			t, ok := p.known[row.Table]
			if !ok {
				return errs.Validation("apply", "artifact contains unknown table %q", row.Table)
			}
			if t.name != current.name || len(pending) >= applyBatchSize {
				if err := flush(); err != nil {
					return err
				}
				current = t
			}
			pending = append(pending, row.Data)
		}
		return flush()
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}
