// Package dataset holds the historical transaction pool the stream samples
// from. The pool is loaded once at startup (CSV file or Postgres table) and
// is immutable for the process lifetime, so sampling needs no locking.
package dataset

import (
	"errors"
	"math/rand/v2"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// ErrEmpty indicates a dataset with no rows. Startup must fail on it; a
// sampler never runs out of rows mid-stream.
var ErrEmpty = errors.New("dataset is empty")

// Sampler draws transactions uniformly at random, with replacement.
type Sampler struct {
	rows []transaction.Transaction
}

// NewSampler wraps a loaded row set. Fails on an empty set.
func NewSampler(rows []transaction.Transaction) (*Sampler, error) {
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return &Sampler{rows: rows}, nil
}

// Len returns the number of rows in the pool.
func (s *Sampler) Len() int { return len(s.rows) }

// Sample returns one row chosen uniformly at random with replacement.
// Each call is independent; there is no shuffle sequence or recency bias.
// Safe for concurrent use: the pool is read-only and the global generator
// in math/rand/v2 is goroutine-safe.
func (s *Sampler) Sample() transaction.Transaction {
	return s.rows[rand.IntN(len(s.rows))]
}
