package testdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool used by PostgresStore, so tests can pass a pgxmock pool.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlSelectDocument = `SELECT content FROM test_data WHERE name = $1`
	sqlListDocuments  = `SELECT name FROM test_data ORDER BY name`
	postgresLocation  = "test_data[%s]"
)

// PostgresStore reads documents from the test_data table:
//
//	CREATE TABLE test_data (name text PRIMARY KEY, content text NOT NULL);
//
// content holds the raw JSON document. Names are stored without extension.
type PostgresStore struct {
	pool   DBPool
	logger *zap.Logger
}

// NewPostgresStore returns a store reading through pool.
func NewPostgresStore(pool DBPool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger.Named("pgstore"),
	}
}

func (s *PostgresStore) Read(ctx context.Context, name string) (any, error) {
	logical := LogicalName(name)
	location := fmt.Sprintf(postgresLocation, logical)

	var content string
	if err := s.pool.QueryRow(ctx, sqlSelectDocument, logical).Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(logical, location)
		}
		return nil, fmt.Errorf("failed to query test data %q: %w", logical, err)
	}

	var doc any
	if err := json.UnmarshalFromString(content, &doc); err != nil {
		return nil, parseError(logical, location, err)
	}

	s.logger.Debug("Loaded test data row.", zap.String("document", logical))
	return doc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlListDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to list test data rows: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan test data names: %w", err)
	}
	return names, nil
}
