// Package stream implements the real-time scoring sessions.
//
// Each websocket client gets one Session: a periodic loop that samples a
// historical transaction, scores it against the shared ensemble, and pushes
// the verdict. Sessions are fully independent; the only shared state is the
// read-only engine and dataset. A slow or dead client only ever kills its
// own session.
package stream

import (
	"context"

	"github.com/fraudsight/fraudsight/internal/model"
	"github.com/fraudsight/fraudsight/internal/transaction"
)

// Scorer produces a verdict for one transaction. Implementations must be
// safe for concurrent use across sessions.
type Scorer interface {
	Score(ctx context.Context, tx transaction.Transaction) (model.Verdict, error)
}

// Sampler supplies the transactions the stream replays.
type Sampler interface {
	Sample() transaction.Transaction
}

// PredictionEvent is the unit pushed to a client on each tick: the verdict
// paired with the exact transaction it was computed from.
type PredictionEvent struct {
	Predictions model.Verdict           `json:"predictions"`
	Transaction transaction.Transaction `json:"transaction"`
}

// ackMessage is the first frame sent on every new session.
type ackMessage struct {
	Message string `json:"message"`
}
