package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the embedded data store.
type SQLiteConfig struct {
	// Path is the database file location.
	Path string

	// QueryTimeout bounds each statement (default: 30s). Exceeding it
	// surfaces as an ExecError, never as a silent retry.
	QueryTimeout time.Duration
}

// DefaultSQLiteConfig returns sensible defaults.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "remedyd.db",
		QueryTimeout: 30 * time.Second,
	}
}

// SQLiteStore implements Store over an embedded SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	logger  *zap.Logger
	timeout time.Duration
}

// NewSQLiteStore opens (creating if necessary) the database at cfg.Path.
// WAL mode and a single-writer pool keep concurrent readers cheap without
// writer contention.
func NewSQLiteStore(cfg *SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles concurrency better with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("data store opened", zap.String("path", cfg.Path))

	return &SQLiteStore{
		db:      db,
		logger:  logger,
		timeout: cfg.QueryTimeout,
	}, nil
}

// ExecuteQuery runs a row-returning statement.
func (s *SQLiteStore) ExecuteQuery(ctx context.Context, stmt string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, &ExecError{Op: "query", Statement: stmt, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &ExecError{Op: "query", Statement: stmt, Err: err}
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &ExecError{Op: "query", Statement: stmt, Err: err}
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecError{Op: "query", Statement: stmt, Err: err}
	}

	return result, nil
}

// ExecuteMutation runs a mutating statement and reports the affected rows.
func (s *SQLiteStore) ExecuteMutation(ctx context.Context, stmt string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, &ExecError{Op: "mutation", Statement: stmt, Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &ExecError{Op: "mutation", Statement: stmt, Err: err}
	}

	s.logger.Debug("mutation executed",
		zap.Int64("affected_rows", affected),
	)
	return affected, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
