package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of *pgxpool.Pool the sink needs.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS provision_audit (
    id          UUID PRIMARY KEY,
    run_id      TEXT,
    step        TEXT,
    collection  TEXT NOT NULL,
    action      TEXT NOT NULL,
    severity    TEXT NOT NULL,
    natural_key TEXT,
    record_id   BIGINT,
    reason      TEXT,
    file        TEXT,
    line        INTEGER,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS provision_audit_run_idx ON provision_audit (run_id, step);
`

const insertSQL = `
INSERT INTO provision_audit
    (id, run_id, step, collection, action, severity, natural_key, record_id, reason, file, line, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// PostgresSink writes entries to the provision_audit table.
type PostgresSink struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewPostgresSink wraps an existing connection or pool.
func NewPostgresSink(db DBTX) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects to dsn, checks the connection and creates the table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit database: %w", err)
	}

	s := &PostgresSink{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the audit table if it does not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, e Entry) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("audit entry id %q: %w", e.ID, err)
	}

	_, err = s.db.Exec(ctx, insertSQL,
		pgtype.UUID{Bytes: id, Valid: true},
		toPgText(e.RunID),
		toPgText(e.Step),
		e.Collection,
		string(e.Action),
		string(e.Severity),
		toPgText(e.Key),
		toPgInt8(e.RecordID),
		toPgText(e.Reason),
		toPgText(e.File),
		toPgInt4(e.Line),
		pgtype.Timestamptz{Time: e.CreatedAt, Valid: !e.CreatedAt.IsZero()},
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Close releases the pool when the sink opened it.
func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgInt4(i int) pgtype.Int4 {
	if i == 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

func toPgInt8(i int64) pgtype.Int8 {
	if i == 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: i, Valid: true}
}
