package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abhisek/bktrace/internal/attempt"
	"github.com/abhisek/bktrace/internal/store"
)

// SQLite reads the attempts table of a bktrace run store.
type SQLite struct {
	Path   string
	Filter store.AttemptFilter
}

func (s *SQLite) Load(ctx context.Context) ([]attempt.Raw, error) {
	st, err := store.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.LoadAttempts(ctx, s.Filter)
}

// DefaultPostgresTable is read when Postgres.Table is empty.
const DefaultPostgresTable = "attempts"

// Postgres reads attempts from a table with the columns learner_id,
// skill_id, correct, attempted_at, item_id, item_type and response_time_ms.
// Rows with equal attempted_at keep their physical order (ctid), so Table
// must name a base table rather than a view.
type Postgres struct {
	URL   string
	Table string // optionally schema-qualified, e.g. "analytics.attempts"
}

func (s *Postgres) Load(ctx context.Context) ([]attempt.Raw, error) {
	poolConfig, err := pgxpool.ParseConfig(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	rows, err := pool.Query(ctx, s.query())
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []attempt.Raw
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		raw := make(attempt.Raw, len(values))
		for i, v := range values {
			if v != nil {
				raw[fields[i].Name] = v
			}
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *Postgres) query() string {
	table := s.Table
	if table == "" {
		table = DefaultPostgresTable
	}
	ident := pgx.Identifier(strings.Split(table, "."))
	// Latency may be stored as numeric; float8 decodes to float64.
	return fmt.Sprintf(`SELECT learner_id, skill_id, correct, attempted_at, item_id, item_type,
		response_time_ms::float8 AS response_time_ms
		FROM %s ORDER BY attempted_at, ctid`, ident.Sanitize())
}
