package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// Querier is the subset of database/sql shared by *sql.Tx, *sql.DB and
// *Connection. Domain operations take a Querier so the same code runs inside
// an online command transaction or inside an offline savepoint group.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.Tx)(nil)
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*Connection)(nil)
)

// WithinTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Rollback after a successful commit is a no-op.
func WithinTx(ctx context.Context, conn *Connection, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Savepoint names are interpolated into SQL, so only a conservative
// identifier subset is accepted regardless of where the name came from.
var savepointNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidSavepointName reports whether name is safe to use as a SAVEPOINT identifier.
func ValidSavepointName(name string) bool {
	return savepointNameRe.MatchString(name)
}

// Savepoint opens a named savepoint on the transaction. database/sql has no
// nested transactions, so savepoints are issued as raw SQL like every other
// statement in this package.
func Savepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if !ValidSavepointName(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	return nil
}

// ReleaseSavepoint commits the work done since the named savepoint.
func ReleaseSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if !ValidSavepointName(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}

	return nil
}

// RollbackToSavepoint discards the work done since the named savepoint while
// keeping the enclosing transaction usable.
func RollbackToSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if !ValidSavepointName(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}

	return nil
}
