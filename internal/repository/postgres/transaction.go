package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// TxManager runs repository work that must commit or fail as a unit, such as
// the sender check, room lock and insert behind MessageRepository.Create.
type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTx runs fn in a transaction and records its duration under table.
// A failing or panicking fn rolls back; the error from fn stays matchable with
// errors.Is even when the rollback fails too.
func (tm *TxManager) WithTx(ctx context.Context, table string, fn func(*sql.Tx) error) error {
	defer timeQuery("tx", table)()

	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", table, err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s transaction: %w", table, err)
	}
	return nil
}
