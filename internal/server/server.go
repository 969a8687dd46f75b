// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fraudsight/fraudsight/internal/config"
	"github.com/fraudsight/fraudsight/internal/dataset"
	"github.com/fraudsight/fraudsight/internal/health"
	"github.com/fraudsight/fraudsight/internal/logging"
	"github.com/fraudsight/fraudsight/internal/metrics"
	"github.com/fraudsight/fraudsight/internal/model"
	"github.com/fraudsight/fraudsight/internal/ratelimit"
	"github.com/fraudsight/fraudsight/internal/scoring"
	"github.com/fraudsight/fraudsight/internal/security"
	"github.com/fraudsight/fraudsight/internal/stream"
	"github.com/fraudsight/fraudsight/internal/traces"
	"github.com/fraudsight/fraudsight/internal/transaction"
	"github.com/fraudsight/fraudsight/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	ensemble     *model.Ensemble
	sampler      *dataset.Sampler
	scoreStore   scoring.Store
	scoringSvc   *scoring.Service
	streamHub    *stream.Hub
	healthReg    *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc          // cancels background goroutines started in Run
	shutdownTrc  func(context.Context) error // flushes the trace exporter, nil when tracing is off

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEnsemble injects a pre-built ensemble (for testing)
func WithEnsemble(e *model.Ensemble) Option {
	return func(s *Server) {
		s.ensemble = e
	}
}

// WithSampler injects a pre-built dataset sampler (for testing)
func WithSampler(sm *dataset.Sampler) Option {
	return func(s *Server) {
		s.sampler = sm
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		healthReg: health.NewRegistry(),
		logger:    logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set ensemble/sampler/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Load the trained ensemble unless one was injected
	if s.ensemble == nil {
		e, err := model.Load(cfg.ModelDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load model artifacts: %w", err)
		}
		s.ensemble = e
		s.logger.Info("model ensemble loaded", "dir", cfg.ModelDir, "members", s.ensemble.Members())
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgStore := scoring.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate score store", "error", err)
		}
		s.scoreStore = pgStore

		// Prefer database-backed reference data when the transactions
		// table is populated; fall back to the CSV otherwise.
		if s.sampler == nil {
			rows, err := dataset.LoadPostgres(ctx, db)
			if err != nil {
				s.logger.Warn("failed to load transactions from database", "error", err)
			} else if len(rows) > 0 {
				sm, err := dataset.NewSampler(rows)
				if err != nil {
					return nil, fmt.Errorf("failed to build sampler: %w", err)
				}
				s.sampler = sm
				s.logger.Info("reference dataset loaded from database", "rows", len(rows))
			}
		}
	} else {
		s.scoreStore = scoring.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.sampler == nil {
		rows, err := dataset.LoadCSV(cfg.DatasetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load dataset: %w", err)
		}
		sm, err := dataset.NewSampler(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to build sampler: %w", err)
		}
		s.sampler = sm
		s.logger.Info("reference dataset loaded", "path", cfg.DatasetPath, "rows", len(rows))
	}

	// Scoring service over the shared ensemble
	s.scoringSvc = scoring.NewService(s.ensemble, s.scoreStore, s.logger)

	// Streaming hub pushes fresh verdicts to websocket sessions
	s.streamHub = stream.NewHub(
		&streamScorer{svc: s.scoringSvc},
		s.sampler,
		s.logger,
		stream.WithInterval(cfg.StreamInterval),
		stream.WithMaxSessions(cfg.MaxSessions),
	)
	s.logger.Info("streaming enabled", "interval", cfg.StreamInterval, "maxSessions", cfg.MaxSessions)

	// Tracing (optional)
	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.shutdownTrc = shutdown
		}
	}

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// registerHealthChecks wires subsystem checkers into the health registry.
func (s *Server) registerHealthChecks() {
	s.healthReg.Register("model", func(_ context.Context) health.Status {
		st := health.Status{Name: "model", Healthy: len(s.ensemble.Members()) > 0}
		if !st.Healthy {
			st.Detail = "no ensemble members loaded"
		}
		return st
	})

	s.healthReg.Register("dataset", func(_ context.Context) health.Status {
		st := health.Status{Name: "dataset", Healthy: s.sampler.Len() > 0}
		if !st.Healthy {
			st.Detail = "reference dataset is empty"
		}
		return st
	})

	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	limitCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time verdict streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.streamHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	scoringHandler := scoring.NewHandler(s.scoringSvc)
	scoringHandler.RegisterRoutes(v1)

	v1.GET("/stream/stats", s.streamStatsHandler)

	// Legacy route kept for clients of the original API surface.
	s.router.POST("/fraud_prediction", scoringHandler.ScoreTransaction)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Fraudsight",
		"description": "Real-time transaction fraud scoring",
		"version":     "0.1.0",
		"models":      s.ensemble.Members(),
	})
}

func (s *Server) streamStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.streamHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"models", s.ensemble.Members(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start streaming hub
	go s.streamHub.Run(runCtx)

	// Export connection pool gauges while a database is attached
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownTrc != nil {
		if err := s.shutdownTrc(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// streamScorer adapts the scoring service to the hub's Scorer, tagging
// pushed verdicts with the stream source.
type streamScorer struct {
	svc *scoring.Service
}

func (a *streamScorer) Score(ctx context.Context, tx transaction.Transaction) (model.Verdict, error) {
	return a.svc.Score(ctx, scoring.SourceStream, tx)
}
