// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/coachgate/internal/account"
	"github.com/mbd888/coachgate/internal/billing"
	"github.com/mbd888/coachgate/internal/chat"
	"github.com/mbd888/coachgate/internal/config"
	"github.com/mbd888/coachgate/internal/entitlement"
	"github.com/mbd888/coachgate/internal/health"
	"github.com/mbd888/coachgate/internal/identity"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/metrics"
	"github.com/mbd888/coachgate/internal/news"
	"github.com/mbd888/coachgate/internal/provider"
	"github.com/mbd888/coachgate/internal/ratelimit"
	"github.com/mbd888/coachgate/internal/security"
	"github.com/mbd888/coachgate/internal/traces"
	"github.com/mbd888/coachgate/internal/usage"
	"github.com/mbd888/coachgate/internal/validation"
	"github.com/mbd888/coachgate/internal/waitlist"
	"github.com/mbd888/coachgate/migrations"
)

const serviceName = "coachgate"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	version  string
	accounts account.Store
	waitlist waitlist.Store
	verifier identity.Verifier
	payments billing.Payments
	notifier waitlist.Notifier
	upstream *provider.Gateway
	news     *news.Service
	checks   *health.Registry

	rateLimiter   *ratelimit.Limiter
	db            *sql.DB       // nil if using in-memory
	redis         *redis.Client // nil without REDIS_URL
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	stopTracing   func(context.Context) error
	cancelRunCtx  context.CancelFunc
	shutdownDrain time.Duration

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

// WithVersion sets the version reported in traces and logs.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithVerifier replaces the Clerk verifier (for testing)
func WithVerifier(v identity.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithPayments replaces the Stripe client (for testing)
func WithPayments(p billing.Payments) Option {
	return func(s *Server) {
		s.payments = p
	}
}

// WithNotifier replaces the waitlist email sender (for testing)
func WithNotifier(n waitlist.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		version:       "dev",
		logger:        logging.New(cfg.LogLevel, cfg.LogFormat),
		checks:        health.NewRegistry(),
		shutdownDrain: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stop, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop

	defaults := account.DefaultsFor(cfg.BetaMode)
	s.logger.Info("account defaults", "tier", defaults.Tier, "beta_mode", cfg.BetaMode)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		s.db = db
		s.accounts = account.NewPostgresStore(db, defaults)
		s.waitlist = waitlist.NewPostgresStore(db)
		s.checks.Register("database", health.PingChecker("database", db, 2*time.Second))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.accounts = account.NewMemoryStore(defaults)
		s.waitlist = waitlist.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.verifier == nil {
		s.verifier = identity.NewClerkVerifier(identity.ClerkConfig{
			SecretKey:         cfg.ClerkSecretKey,
			JWKSURL:           cfg.ClerkJWKSURL,
			AuthorizedParties: cfg.ClerkAuthorizedParties,
		})
	}
	if s.payments == nil {
		s.payments = billing.NewStripePayments(cfg.StripeSecretKey)
	}
	if s.notifier == nil && cfg.SendGridAPIKey != "" {
		s.notifier = waitlist.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.WaitlistFromEmail, cfg.AppURL)
		s.logger.Info("waitlist welcome email enabled")
	}

	s.upstream = provider.New(provider.Config{
		APIKey:       cfg.AnthropicAPIKey,
		URL:          cfg.AnthropicBaseURL,
		DefaultModel: cfg.AnthropicDefaultModel,
		Timeout:      cfg.UpstreamTimeout,
	})

	var cache news.Cache = news.NewMemoryCache()
	if cfg.RedisURL != "" {
		rc, client, err := news.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		cache = rc
		s.redis = client
		s.checks.Register("redis", health.PingChecker("redis", redisPinger{client}, 2*time.Second))
		s.logger.Info("news cache using redis")
	}
	s.news = news.NewService(news.NewClient(cfg.NewsAPIKey, cfg.NewsAPIURL, nil), cache, cfg.NewsCacheTTL)

	s.logConfiguration()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) logConfiguration() {
	for _, missing := range []struct {
		set     bool
		setting string
	}{
		{s.cfg.ClerkConfigured(), "CLERK_SECRET_KEY"},
		{s.cfg.StripeConfigured(), "STRIPE_SECRET_KEY"},
		{s.cfg.StripeWebhookSecret != "", "STRIPE_WEBHOOK_SECRET"},
		{s.cfg.AnthropicConfigured(), "ANTHROPIC_API_KEY"},
	} {
		if !missing.set {
			s.logger.Warn("integration not configured; dependent endpoints will fail", "setting", missing.setting)
		}
	}
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

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Chat carries whole conversations; other routes tighten this further.
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxChatRequestSize))

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
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
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	api := s.router.Group("/api")
	api.GET("/health", s.integrationsHandler)

	prices := billing.NewPrices(s.cfg.StripePriceIndividual, s.cfg.StripePricePremium)

	// The webhook reads the raw body itself and enforces its own limit.
	billing.NewWebhookHandler(s.cfg.StripeWebhookSecret, s.accounts, prices).RegisterRoutes(api)

	public := api.Group("", validation.RequestSizeMiddleware(validation.MaxRequestSize))
	if s.cfg.NewsEnabled {
		news.NewHandler(s.news).RegisterRoutes(public)
	}
	if s.cfg.WaitlistEnabled {
		waitlist.NewHandler(s.waitlist, s.notifier).RegisterRoutes(public)
	}

	protected := api.Group("", identity.RequireIdentity(s.verifier))

	chatService := chat.NewService(
		s.accounts,
		entitlement.NewResolver(s.cfg.FreeChatLimit),
		s.upstream,
		usage.NewAccountant(s.accounts),
	)
	chat.NewHandler(chatService).RegisterProtectedRoutes(protected)

	small := protected.Group("", validation.RequestSizeMiddleware(validation.MaxRequestSize))
	account.NewHandler(s.accounts).RegisterProtectedRoutes(small)
	billing.NewHandler(s.accounts, s.payments, prices, s.cfg.AppURL).RegisterProtectedRoutes(small, s.cfg.PortalEnabled)

	s.router.NoRoute(s.spaHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) integrationsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, health.Integrations{
		Status:    "ok",
		Service:   serviceName,
		Clerk:     s.cfg.ClerkConfigured(),
		Stripe:    s.cfg.StripeConfigured(),
		Supabase:  s.cfg.DatabaseConfigured(),
		Anthropic: s.cfg.AnthropicConfigured(),
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
	ok, statuses := s.checks.CheckAll(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

// spaHandler serves files from STATIC_DIR and falls back to index.html so
// client-side routes resolve. Unknown API paths get a JSON 404.
func (s *Server) spaHandler(c *gin.Context) {
	reqPath := c.Request.URL.Path
	if strings.HasPrefix(reqPath, "/api/") || c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Route not found"})
		return
	}

	root := s.cfg.StaticDir
	index := filepath.Join(root, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Route not found"})
		return
	}

	// path.Clean on a rooted path cannot climb above root.
	file := filepath.Join(root, filepath.FromSlash(path.Clean("/"+reqPath)))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		c.File(file)
		return
	}
	c.File(index)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Chat responses wait on the upstream model.
		WriteTimeout: s.cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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
	defer signal.Stop(sigChan)

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.shutdownDrain)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
