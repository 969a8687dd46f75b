package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/fraudsight/fraudsight/internal/idgen"
	"github.com/fraudsight/fraudsight/internal/metrics"
	"github.com/fraudsight/fraudsight/internal/model"
	"github.com/fraudsight/fraudsight/internal/traces"
	"github.com/fraudsight/fraudsight/internal/transaction"
)

// Service wraps the engine with framing, auditing, and instrumentation.
type Service struct {
	engine Engine
	store  Store
	logger *slog.Logger
}

// NewService creates a scoring service. store may be nil to disable the
// audit trail.
func NewService(engine Engine, store Store, logger *slog.Logger) *Service {
	return &Service{engine: engine, store: store, logger: logger}
}

// Members returns the engine's ensemble member ids.
func (s *Service) Members() []string {
	return s.engine.Members()
}

// ScoreValues frames raw values into the canonical schema and scores them.
// The framing error (wrong field count) is the caller's fault and is
// returned as-is for the handler to surface.
func (s *Service) ScoreValues(ctx context.Context, values []float64) (model.Verdict, error) {
	tx, err := transaction.FromSlice(values)
	if err != nil {
		return nil, err
	}
	return s.Score(ctx, SourceAPI, tx)
}

// Score runs one transaction through the engine and audits the result.
func (s *Service) Score(ctx context.Context, source Source, tx transaction.Transaction) (model.Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Score", traces.ScoreSource(string(source)))
	defer span.End()

	start := time.Now()
	verdict, err := s.engine.Score(tx)
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScoreErrorsTotal.WithLabelValues(string(source)).Inc()
		return nil, err
	}

	metrics.ScoresTotal.WithLabelValues(string(source)).Inc()
	for id, label := range verdict {
		if label == 1 {
			metrics.FraudVerdictsTotal.WithLabelValues(id).Inc()
		}
	}

	s.audit(source, tx, verdict)
	return verdict, nil
}

// audit records the verdict asynchronously, best effort. The scoring path
// never waits on, or fails because of, the audit store.
func (s *Service) audit(source Source, tx transaction.Transaction, verdict model.Verdict) {
	if s.store == nil {
		return
	}
	record := &ScoredTransaction{
		ID:          idgen.WithPrefix("score_"),
		Source:      source,
		Predictions: verdict,
		Transaction: tx,
		ScoredAt:    time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Record(ctx, record); err != nil {
			s.logger.Warn("failed to record scored transaction", "id", record.ID, "error", err)
		}
	}()
}

// Recent returns the most recent audit records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*ScoredTransaction, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRecent(ctx, limit)
}
