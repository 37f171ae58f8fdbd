package datastore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openterra/efflux/internal/domain"
)

// PostgresSource implements output.RowSource directly against the datastore
// database, one table per resource, using pgx.
type PostgresSource struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	columns map[string][]string
}

// NewPostgresSource creates a pooled postgres row source adapter.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &PostgresSource{pool: pool, columns: map[string][]string{}}, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}

// Describe returns the resource table's columns in ordinal order.
func (s *PostgresSource) Describe(ctx context.Context, resourceID string) (domain.Schema, error) {
	const query = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := s.pool.Query(ctx, query, resourceID)
	if err != nil {
		return nil, &domain.RemoteQueryError{ResourceID: resourceID, Err: err}
	}
	defer rows.Close()

	var schema domain.Schema
	for rows.Next() {
		var name, declared string
		if err := rows.Scan(&name, &declared); err != nil {
			return nil, &domain.RemoteQueryError{ResourceID: resourceID, Err: err}
		}
		schema = append(schema, domain.Field{
			Name: name,
			Type: domain.NormalizeFieldType(declared),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.RemoteQueryError{ResourceID: resourceID, Err: err}
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%s: %w", resourceID, domain.ErrResourceNotFound)
	}

	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = pgIdent(f.Name)
	}
	s.mu.Lock()
	if s.columns == nil {
		s.columns = map[string][]string{}
	}
	s.columns[resourceID] = cols
	s.mu.Unlock()

	return schema, nil
}

// selectColumns returns the resource's quoted column list, describing the
// table only on the first call so page fetches don't re-run the
// information_schema query.
func (s *PostgresSource) selectColumns(ctx context.Context, resourceID string) ([]string, error) {
	s.mu.Lock()
	cols, ok := s.columns[resourceID]
	s.mu.Unlock()
	if ok {
		return cols, nil
	}
	if _, err := s.Describe(ctx, resourceID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	cols = s.columns[resourceID]
	s.mu.Unlock()
	return cols, nil
}

// Fetch returns one page of rows ordered by the table's first column so
// pagination is deterministic.
func (s *PostgresSource) Fetch(ctx context.Context, resourceID string, offset, limit int) ([]domain.Row, error) {
	cols, err := s.selectColumns(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY 1 OFFSET $1 LIMIT $2",
		strings.Join(cols, ", "), pgIdent(resourceID),
	) //#nosec G201 -- identifiers are quote-escaped

	rows, err := s.pool.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, &domain.RemoteQueryError{ResourceID: resourceID, Offset: offset, Err: err}
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &domain.RemoteQueryError{ResourceID: resourceID, Offset: offset, Err: err}
		}
		out = append(out, domain.Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.RemoteQueryError{ResourceID: resourceID, Offset: offset, Err: err}
	}
	return out, nil
}

// pgIdent quotes a postgres identifier.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
