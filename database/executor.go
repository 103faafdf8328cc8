// Package database is the execution seam the migration manager drives.
//
// An Executor runs one statement at a time and answers boolean checks used
// as step pre and post conditions. Transaction isolation and timeouts are
// the responsibility of the concrete engine.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Executor runs migration statements against a database
type Executor interface {
	// Execute runs a statement that returns no rows
	Execute(ctx context.Context, stmt string) error
	// QueryCheck runs query and reports whether its first column of the
	// first row is truthy. No rows is false.
	QueryCheck(ctx context.Context, query string) (bool, error)
}

// SQLExecutor adapts a *sql.DB to Executor
type SQLExecutor struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Option configures a SQLExecutor
type Option func(*SQLExecutor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *SQLExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDriverName records the driver name for logging
func WithDriverName(name string) Option {
	return func(e *SQLExecutor) {
		e.driver = name
	}
}

// NewSQLExecutor wraps db
func NewSQLExecutor(db *sql.DB, opts ...Option) *SQLExecutor {
	e := &SQLExecutor{
		db:     db,
		driver: "sql",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DB returns the underlying handle
func (e *SQLExecutor) DB() *sql.DB {
	return e.db
}

// Execute runs stmt
func (e *SQLExecutor) Execute(ctx context.Context, stmt string) error {
	e.logger.Debug("executing statement", "driver", e.driver, "sql", stmt)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// QueryCheck runs query and interprets the first column of the first row
func (e *SQLExecutor) QueryCheck(ctx context.Context, query string) (bool, error) {
	e.logger.Debug("running check", "driver", e.driver, "sql", query)

	var value interface{}
	err := e.db.QueryRowContext(ctx, query).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query check: %w", err)
	}
	return truthy(value), nil
}

// Ping verifies the connection
func (e *SQLExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close closes the underlying handle
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case int32:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case []byte:
		return truthyString(string(t))
	case string:
		return truthyString(t)
	}
	return true
}

func truthyString(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n != 0
	}
	return s != ""
}

// Quote renders s as a single-quoted SQL string literal
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
