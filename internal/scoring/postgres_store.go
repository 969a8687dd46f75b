package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed score audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// Migrate creates the scored_transactions table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scored_transactions (
			id           VARCHAR(36) PRIMARY KEY,
			source       VARCHAR(10) NOT NULL,
			predictions  JSONB NOT NULL,
			txn          JSONB NOT NULL,
			scored_at    TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_scored_transactions_at ON scored_transactions(scored_at DESC);
	`)
	return err
}

// Record inserts one audit row. The transaction is stored as the same
// canonical-order JSON object the websocket protocol transmits.
func (p *PostgresStore) Record(ctx context.Context, st *ScoredTransaction) error {
	preds, err := json.Marshal(st.Predictions)
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}
	txJSON, err := st.Transaction.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO scored_transactions (id, source, predictions, txn, scored_at)
		VALUES ($1, $2, $3, $4, $5)
	`, st.ID, st.Source, preds, txJSON, st.ScoredAt)
	return err
}

// ListRecent returns up to limit audit rows, newest first.
func (p *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*ScoredTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, source, predictions, txn, scored_at
		FROM scored_transactions
		ORDER BY scored_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ScoredTransaction
	for rows.Next() {
		st := &ScoredTransaction{}
		var preds, txJSON []byte
		if err := rows.Scan(&st.ID, &st.Source, &preds, &txJSON, &st.ScoredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(preds, &st.Predictions); err != nil {
			return nil, fmt.Errorf("decode predictions for %s: %w", st.ID, err)
		}
		tx, err := decodeTransaction(txJSON)
		if err != nil {
			return nil, fmt.Errorf("decode transaction for %s: %w", st.ID, err)
		}
		st.Transaction = tx
		out = append(out, st)
	}
	return out, rows.Err()
}

// decodeTransaction rebuilds a record from its stored JSON object; null
// fields come back as the null marker.
func decodeTransaction(data []byte) (transaction.Transaction, error) {
	var tx transaction.Transaction
	var fields map[string]*float64
	if err := json.Unmarshal(data, &fields); err != nil {
		return tx, err
	}
	for i, name := range transaction.Columns {
		v, ok := fields[name]
		if !ok || v == nil {
			tx[i] = math.NaN()
			continue
		}
		tx[i] = *v
	}
	return tx, nil
}
