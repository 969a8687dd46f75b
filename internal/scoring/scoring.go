// Package scoring exposes the single-shot scoring operation and keeps a
// best-effort audit trail of every verdict the process produces.
package scoring

import (
	"context"
	"time"

	"github.com/fraudsight/fraudsight/internal/model"
	"github.com/fraudsight/fraudsight/internal/transaction"
)

// Engine is the scoring contract shared by the stream loop and the
// single-shot endpoint. Implementations must be safe for concurrent use.
type Engine interface {
	Score(tx transaction.Transaction) (model.Verdict, error)
	Members() []string
}

// Source tags where a verdict was produced.
type Source string

const (
	SourceStream Source = "stream"
	SourceAPI    Source = "api"
)

// ScoredTransaction is one audit record: the verdict paired with the exact
// transaction it was computed from.
type ScoredTransaction struct {
	ID          string                  `json:"id"`
	Source      Source                  `json:"source"`
	Predictions model.Verdict           `json:"predictions"`
	Transaction transaction.Transaction `json:"transaction"`
	ScoredAt    time.Time               `json:"scoredAt"`
}

// Store persists scored transactions. Recording is best effort: a store
// failure must never fail a scoring call.
type Store interface {
	Record(ctx context.Context, st *ScoredTransaction) error
	ListRecent(ctx context.Context, limit int) ([]*ScoredTransaction, error)
}
