// Package datastore defines the boundary to the tabular data store the
// remediation engine operates on, plus an embedded SQLite implementation.
//
// The engine only ever needs two operations: run a query and collect rows,
// or run a mutation and learn how many rows it touched. Everything else
// about the engine is opaque to the lifecycle.
package datastore

import (
	"context"
	"fmt"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Store executes statements against the underlying tabular data store.
type Store interface {
	// ExecuteQuery runs a row-returning statement.
	ExecuteQuery(ctx context.Context, stmt string) ([]Row, error)

	// ExecuteMutation runs a mutating statement and reports the affected
	// row count.
	ExecuteMutation(ctx context.Context, stmt string) (int64, error)
}

// ExecError wraps any failure surfaced by the data store: syntax errors,
// permission errors, quota, timeouts. The lifecycle treats all of them the
// same way, as grounds for escalation.
type ExecError struct {
	Op        string
	Statement string
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("data store %s failed: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
