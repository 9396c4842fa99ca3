// Package server sets up the HTTP server with all routes.
package server

import (
	"compress/gzip"
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
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/zecmeter/internal/billingapi"
	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/chain"
	"github.com/mbd888/zecmeter/internal/config"
	"github.com/mbd888/zecmeter/internal/fallback"
	"github.com/mbd888/zecmeter/internal/logging"
	"github.com/mbd888/zecmeter/internal/metrics"
	"github.com/mbd888/zecmeter/internal/permission"
	"github.com/mbd888/zecmeter/internal/ratelimit"
	"github.com/mbd888/zecmeter/internal/scheduler"
	"github.com/mbd888/zecmeter/internal/security"
	"github.com/mbd888/zecmeter/internal/session"
	"github.com/mbd888/zecmeter/internal/sessioncache"
	"github.com/mbd888/zecmeter/internal/traces"
	"github.com/mbd888/zecmeter/internal/validation"
	"github.com/mbd888/zecmeter/internal/vendordir"
	"github.com/mbd888/zecmeter/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg *config.Config

	store       billingstore.Store
	chainClient *chain.Client
	vendors     *vendordir.Client
	permissions *permission.Manager
	sessions    *session.Engine
	scheduler   *scheduler.Scheduler
	fallback    *fallback.Biller
	wallet      *wallet.Wallet // nil unless the fallback EVM chain is configured

	db         *sql.DB // nil if using in-memory store
	router     *gin.Engine
	httpSrv    *http.Server
	logger     *slog.Logger
	rateLimiter *ratelimit.Limiter

	cancelRunCtx   context.CancelFunc
	tracerShutdown func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance, wiring storage, the Zcash chain
// gateway, the vendor directory client, the permission manager, session
// engine, and billing scheduler together.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	tracerShutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		tracerShutdown = func(context.Context) error { return nil }
	}
	s.tracerShutdown = tracerShutdown

	if cfg.DatabaseURL != "" {
		dbDSN := appendDSNParams(cfg.DatabaseURL, cfg.DBConnectTimeout, cfg.DBStatementTimeout)
		db, err := sql.Open("postgres", dbDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.store = billingstore.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = billingstore.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.chainClient = chain.New(cfg.ZcashRPCURL, cfg.ZcashRPCUser, cfg.ZcashRPCPassword, cfg.HTTPReadTimeout)
	s.vendors = vendordir.New(cfg.VendorServiceURL, cfg.VendorServiceToken, cfg.HTTPReadTimeout)

	var cache sessioncache.Cache = sessioncache.NoopCache{}
	if cfg.RedisURL != "" {
		cache = sessioncache.NewRedisCache(cfg.RedisURL)
		s.logger.Info("session-code cache enabled (redis)", "addr", cfg.RedisURL)
	}

	s.permissions = permission.New(
		s.store,
		s.chainClient,
		validation.IsValidZcashAddress,
		cfg.ZcashServiceWallet,
		cfg.ZcashMinConfirmations,
		s.logger,
	)
	s.sessions = session.New(s.store, s.permissions, s.vendors, cache, s.logger)

	// The fallback biller is optional: it requires the legacy EVM chain to be
	// configured. Without it, a session that loses its permission link is
	// simply marked failed by the scheduler.
	if cfg.RPCURL != "" {
		w, err := wallet.New(wallet.Config{
			RPCURL:       cfg.RPCURL,
			PrivateKey:   cfg.PrivateKey,
			ChainID:      cfg.ChainID,
			USDCContract: cfg.ContractAddress,
		})
		if err != nil {
			s.logger.Warn("failed to initialize fallback wallet, fallback billing disabled", "error", err)
		} else {
			s.wallet = w
			s.fallback = fallback.New(w)
			s.logger.Info("fallback billing enabled", "wallet", w.Address())
		}
	}

	// Pass a true nil interface when no fallback biller was configured —
	// assigning the nil *fallback.Biller directly would produce a non-nil
	// interface value and defeat the scheduler's own nil check.
	var fb scheduler.FallbackBiller
	if s.fallback != nil {
		fb = s.fallback
	}
	billingInterval := time.Duration(cfg.BillingIntervalSeconds) * time.Second
	s.scheduler = scheduler.New(s.store, s.permissions, fb, billingInterval, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(gzipMiddleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.timeoutMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

		switch {
		case status >= 500:
			logger.Error("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds(), "client_ip", c.ClientIP())
		case status >= 400:
			logger.Warn("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		}
	}
}

func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Upgrade") == "websocket" {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Address-shaped path params here are Zcash addresses, not Ethereum ones;
	// validation.AddressParamMiddleware targets the legacy EVM chain and does
	// not apply. Each billingapi handler validates its own Zcash address.
	billingHandler := billingapi.NewHandler(s.permissions, s.sessions, s.chainClient)
	billingHandler.RegisterRoutes(s.router.Group(""))
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Host + ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "host", s.cfg.Host, "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.scheduler.Start(runCtx)
	s.logger.Info("billing scheduler started", "interval", s.cfg.BillingIntervalSeconds)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.scheduler.Stop()

	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		} else {
			s.logger.Info("tracer shutdown complete")
		}
	}

	if s.wallet != nil {
		if err := s.wallet.Close(); err != nil {
			s.logger.Error("wallet close error", "error", err)
		}
	}

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
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

	checks := make(map[string]string)
	allOK := true

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			allOK = false
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func appendDSNParams(dsn string, connectTimeout, statementTimeout int) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sconnect_timeout=%d&statement_timeout=%d", dsn, sep, connectTimeout, statementTimeout)
	}
	return fmt.Sprintf("%s connect_timeout=%d statement_timeout=%d", dsn, connectTimeout, statementTimeout)
}

type gzipWriter struct {
	gin.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.writer.Write([]byte(s))
}

func gzipMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") || c.GetHeader("Upgrade") == "websocket" {
			c.Next()
			return
		}
		gz, err := gzip.NewWriterLevel(c.Writer, gzip.DefaultCompression)
		if err != nil {
			c.Next()
			return
		}
		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, writer: gz}
		defer func() {
			if err := gz.Close(); err != nil {
				_ = c.Error(err)
			}
			c.Header("Content-Length", "")
		}()
		c.Next()
	}
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
