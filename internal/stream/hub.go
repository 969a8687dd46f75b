package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraudsight/fraudsight/internal/metrics"
	"github.com/gorilla/websocket"
)

// DefaultInterval is the steady-state tick cadence.
const DefaultInterval = 2 * time.Second

// MaxSessions is the default cap on concurrent streaming sessions.
const MaxSessions = 10000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Hub owns the session registry. It accepts upgrades, hands each
// connection its own Session, and tears sessions down on disconnect or
// shutdown. Sessions never talk to each other.
type Hub struct {
	scorer      Scorer
	sampler     Sampler
	interval    time.Duration
	maxSessions int
	logger      *slog.Logger

	register   chan *Session
	unregister chan *Session
	sessions   map[*Session]bool
	mu         sync.RWMutex

	baseCtx context.Context // set by Run before ready closes; sessions derive from it
	ready   chan struct{}   // closed once baseCtx is set
	done    chan struct{}   // closed when Run exits; prevents upgrade race

	totalSessions atomic.Int64
}

// Option configures the hub.
type Option func(*Hub)

// WithInterval overrides the tick cadence.
func WithInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithMaxSessions overrides the concurrent session cap.
func WithMaxSessions(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxSessions = n
		}
	}
}

// NewHub creates a session hub over the shared scorer and sampler.
func NewHub(scorer Scorer, sampler Sampler, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		scorer:      scorer,
		sampler:     sampler,
		interval:    DefaultInterval,
		maxSessions: MaxSessions,
		logger:      logger,
		register:    make(chan *Session),
		unregister:  make(chan *Session),
		sessions:    make(map[*Session]bool),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's main loop. Call in a goroutine; returns when ctx is
// cancelled, after shutting every session down.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("stream hub started", "interval", h.interval.String())
	h.baseCtx = ctx
	close(h.ready)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("stream hub shutting down, closing sessions")
			h.mu.Lock()
			for s := range h.sessions {
				s.shutdown()
				delete(h.sessions, s)
			}
			h.mu.Unlock()
			metrics.ActiveSessions.Set(0)
			h.logger.Info("stream hub stopped")
			return

		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			n := len(h.sessions)
			h.mu.Unlock()
			h.totalSessions.Add(1)
			metrics.ActiveSessions.Set(float64(n))
			metrics.SessionsTotal.Inc()
			h.logger.Info("session connected", "session", s.id, "total", n)

		case s := <-h.unregister:
			h.mu.Lock()
			delete(h.sessions, s)
			n := len(h.sessions)
			h.mu.Unlock()
			metrics.ActiveSessions.Set(float64(n))
			h.logger.Info("session disconnected", "session", s.id, "total", n)
		}
	}
}

// removeSession hands a session back to the hub loop without blocking
// forever if the loop has already exited.
func (h *Hub) removeSession(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"activeSessions": len(h.sessions),
		"totalSessions":  h.totalSessions.Load(),
		"tickInterval":   h.interval.String(),
	}
}

// HandleWebSocket upgrades HTTP to a streaming session.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades before Run starts or after it stops; a session needs
	// a live hub context or its loop would never be cancelled.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	select {
	case <-h.ready:
	default:
		http.Error(w, "stream hub not running", http.StatusServiceUnavailable)
		return
	}

	h.mu.RLock()
	n := len(h.sessions)
	h.mu.RUnlock()
	if n >= h.maxSessions {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(h, conn)
	h.register <- s
	s.start(h.baseCtx)
}
