package scoring

import (
	"context"
	"sync"
)

// maxMemoryScores caps the in-memory audit trail; older records drop off.
const maxMemoryScores = 1000

// MemoryStore is an in-memory ring of recent scored transactions, used in
// demo mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	scores []*ScoredTransaction // newest last
}

// NewMemoryStore creates an in-memory score audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// Record appends a scored transaction, evicting the oldest past the cap.
func (m *MemoryStore) Record(ctx context.Context, st *ScoredTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scores = append(m.scores, st)
	if len(m.scores) > maxMemoryScores {
		m.scores = m.scores[len(m.scores)-maxMemoryScores:]
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (m *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*ScoredTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.scores) {
		limit = len(m.scores)
	}
	out := make([]*ScoredTransaction, 0, limit)
	for i := len(m.scores) - 1; i >= len(m.scores)-limit; i-- {
		copy := *m.scores[i]
		out = append(out, &copy)
	}
	return out, nil
}

// Len returns the number of records currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scores)
}
