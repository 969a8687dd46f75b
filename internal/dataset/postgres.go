package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// pgColumns maps the canonical schema onto the transactions table:
// time_offset, v1..v28, amount. See migrations/00001_transactions.sql.
func pgColumns() []string {
	cols := make([]string, 0, transaction.FieldCount)
	cols = append(cols, "time_offset")
	for i := 1; i <= 28; i++ {
		cols = append(cols, fmt.Sprintf("v%d", i))
	}
	return append(cols, "amount")
}

// LoadPostgres reads the entire transactions table into memory at startup.
// SQL NULL becomes the null marker. An empty table is a startup failure.
func LoadPostgres(ctx context.Context, db *sql.DB) ([]transaction.Transaction, error) {
	cols := pgColumns()
	query := "SELECT " + strings.Join(cols, ", ") + " FROM transactions"

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []transaction.Transaction
	scanned := make([]sql.NullFloat64, transaction.FieldCount)
	dest := make([]interface{}, transaction.FieldCount)
	for i := range scanned {
		dest[i] = &scanned[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		var tx transaction.Transaction
		for i, v := range scanned {
			if v.Valid {
				tx[i] = v.Float64
			} else {
				tx[i] = math.NaN()
			}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// InsertPostgres bulk-inserts rows into the transactions table inside a
// single database transaction. The null marker is stored as SQL NULL.
func InsertPostgres(ctx context.Context, db *sql.DB, rows []transaction.Transaction) error {
	if len(rows) == 0 {
		return ErrEmpty
	}

	cols := pgColumns()
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := "INSERT INTO transactions (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ")"

	dbTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	stmt, err := dbTx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]interface{}, transaction.FieldCount)
	for _, tx := range rows {
		for i, v := range tx {
			if math.IsNaN(v) {
				args[i] = nil
			} else {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert transaction row: %w", err)
		}
	}

	return dbTx.Commit()
}
