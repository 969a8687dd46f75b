package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraudsight/fraudsight/internal/idgen"
	"github.com/fraudsight/fraudsight/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	// sendBuffer is the per-session outbound queue. A client that lets
	// this fill is not reading; its session is torn down rather than
	// letting stale predictions pile up.
	sendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	maxInboundBytes = 64 * 1024
)

// normalCloseCodes are websocket close codes that indicate an expected
// disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Session owns one client connection: the acknowledgement, the periodic
// sample→score→push loop, the (currently inert) receive path, and
// teardown. Its mutable state is touched only by its own goroutines.
type Session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// active gates every push. It flips false exactly once, before the
	// loop context is cancelled, so a tick racing a disconnect can never
	// push after teardown began.
	active atomic.Bool
	cancel context.CancelFunc
	once   sync.Once

	logger *slog.Logger
}

func newSession(h *Hub, conn *websocket.Conn) *Session {
	s := &Session{
		id:   idgen.WithPrefix("sess_"),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	s.logger = h.logger.With("session", s.id)
	s.active.Store(true)
	return s
}

// start queues the connection acknowledgement and launches the session's
// three goroutines: writer, reader, and the tick loop.
func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	ack, _ := json.Marshal(ackMessage{Message: "Connected to WebSocket"})
	s.send <- ack // buffered and first; the writer sends it before any tick

	go s.writePump(ctx)
	go s.readPump()
	go s.tickLoop(ctx)
}

// shutdown moves the session to Closed: no tick started after this point
// will push. Safe to call from any goroutine, any number of times.
func (s *Session) shutdown() {
	s.once.Do(func() {
		s.active.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()
	})
}

// tickLoop drives the steady-state cycle: every interval, sample one
// transaction, score it, push the event. Sample/score failures are
// tick-local: counted, logged, and survived. Only transport failures end
// the session.
func (s *Session) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.hub.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sample→score→push cycle. Ticks within a session are
// strictly sequential: the loop calls tick synchronously, so the next one
// cannot start before this push has been issued.
func (s *Session) tick(ctx context.Context) {
	tx := s.hub.sampler.Sample()

	verdict, err := s.hub.scorer.Score(ctx, tx)
	if err != nil {
		metrics.TickErrorsTotal.Inc()
		s.logger.Warn("tick scoring failed, skipping tick", "error", err)
		return
	}

	payload, err := json.Marshal(PredictionEvent{
		Predictions: verdict,
		Transaction: tx,
	})
	if err != nil {
		metrics.TickErrorsTotal.Inc()
		s.logger.Warn("tick serialization failed, skipping tick", "error", err)
		return
	}

	// Re-check liveness at the push boundary: a disconnect that raced this
	// tick must win.
	if !s.active.Load() {
		return
	}
	select {
	case <-ctx.Done():
	case s.send <- payload:
		metrics.TicksTotal.Inc()
	default:
		// Full queue: the peer stopped reading. Treat as a dead connection.
		s.logger.Warn("session send queue full, closing")
		s.shutdown()
	}
}

// readPump consumes inbound frames. No client message currently produces
// an action; the read loop exists to surface disconnects and keep the
// slot for future on-demand scoring requests without touching the tick
// loop's state.
func (s *Session) readPump() {
	defer func() {
		s.shutdown()
		s.hub.removeSession(s)
	}()

	s.conn.SetReadLimit(maxInboundBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) && s.active.Load() {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		// Payload accepted and ignored.
	}
}

// writePump is the only goroutine that writes to the connection. A write
// failure means the peer is gone; the session closes, never retries.
func (s *Session) writePump(ctx context.Context) {
	pinger := time.NewTicker(pingPeriod)
	defer func() {
		pinger.Stop()
		s.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Warn("websocket write failed, closing session", "error", err)
				return
			}

		case <-pinger.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
