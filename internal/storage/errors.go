package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// SchemaMismatchError indicates the database schema does not match what the
// code expects (a missing table or column). It is terminal: retrying the
// same statement cannot succeed until a migration runs.
type SchemaMismatchError struct {
	Object string // the missing table or column, as reported by Postgres
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("storage: schema mismatch: %s: %v", e.Object, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// classifySchemaError wraps undefined-table and undefined-column errors in a
// SchemaMismatchError naming the missing object; other errors pass through.
func classifySchemaError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "42P01", "42703": // undefined_table, undefined_column
		// The Postgres message already names the missing object, e.g.
		// `relation "analyses" does not exist`.
		return &SchemaMismatchError{Object: pgErr.Message, Err: err}
	}
	return err
}
