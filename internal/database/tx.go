package database

import (
	"context"
	"fmt"
)

// InUserTx runs fn in a transaction that is serialized against every other
// InUserTx for the same user. Transactions for different users do not block
// each other on Postgres.
func (db *DBConn) InUserTx(ctx context.Context, userId int, fn func(q Queries) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if db.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", userId); err != nil {
			return fmt.Errorf("lock user %d: %w", userId, err)
		}
	}

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
