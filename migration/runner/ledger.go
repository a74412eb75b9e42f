package runner

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/dailyfuel/dailyfuel/store"
)

//go:embed base/ledger_postgres.sql
var ledgerSchemaPostgres string

//go:embed base/ledger_mysql.sql
var ledgerSchemaMySQL string

// SQLLedger is the LedgerStore implementation over the application store.
type SQLLedger struct {
	db *store.DB
}

// NewSQLLedger creates a ledger bound to the given database handle.
func NewSQLLedger(db *store.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// Ensure creates the migrations table if it does not exist.
func (l *SQLLedger) Ensure(ctx context.Context) error {
	schema := ledgerSchemaPostgres
	if l.db.Dialect() == store.DialectMySQL {
		schema = ledgerSchemaMySQL
	}
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedNames returns the set of unit names recorded in the ledger.
func (l *SQLLedger) AppliedNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name FROM migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}
	return applied, nil
}

// LastBatch returns the highest recorded batch number, or 0.
func (l *SQLLedger) LastBatch(ctx context.Context) (int, error) {
	var batch int
	row := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(batch), 0) FROM migrations`)
	if err := row.Scan(&batch); err != nil {
		return 0, fmt.Errorf("failed to read last batch: %w", err)
	}
	return batch, nil
}

// BatchRecords returns the records of one batch in descending id order.
func (l *SQLLedger) BatchRecords(ctx context.Context, batch int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, batch FROM migrations WHERE batch = $1 ORDER BY id DESC`, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %d: %w", batch, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Batch); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}
	return records, nil
}

// ApplyUnit executes the unit's forward SQL and records it, in one
// transaction.
func (l *SQLLedger) ApplyUnit(ctx context.Context, unit *Unit, batch int) error {
	sqlText, err := unit.UpSQL()
	if err != nil {
		return err
	}

	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range SplitStatements(sqlText) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
		}
		insert := l.db.Rebind(`INSERT INTO migrations (name, batch) VALUES ($1, $2)`)
		if _, err := tx.ExecContext(ctx, insert, unit.Name, batch); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// RevertUnit executes the unit's reverse SQL and deletes its record, in one
// transaction.
func (l *SQLLedger) RevertUnit(ctx context.Context, unit *Unit, rec Record) error {
	sqlText, err := unit.DownSQL()
	if err != nil {
		return err
	}

	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range SplitStatements(sqlText) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute rollback SQL: %w", err)
			}
		}
		del := l.db.Rebind(`DELETE FROM migrations WHERE id = $1`)
		if _, err := tx.ExecContext(ctx, del, rec.ID); err != nil {
			return fmt.Errorf("failed to delete migration record: %w", err)
		}
		return nil
	})
}
