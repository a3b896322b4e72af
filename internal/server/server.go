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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/podswap/internal/auth"
	"github.com/mbd888/podswap/internal/chain"
	"github.com/mbd888/podswap/internal/clock"
	"github.com/mbd888/podswap/internal/config"
	"github.com/mbd888/podswap/internal/health"
	"github.com/mbd888/podswap/internal/idgen"
	"github.com/mbd888/podswap/internal/logging"
	"github.com/mbd888/podswap/internal/metrics"
	"github.com/mbd888/podswap/internal/pods"
	"github.com/mbd888/podswap/internal/ratelimit"
	"github.com/mbd888/podswap/internal/realtime"
	"github.com/mbd888/podswap/internal/registry"
	"github.com/mbd888/podswap/internal/security"
	"github.com/mbd888/podswap/internal/swap"
	"github.com/mbd888/podswap/internal/traces"
	"github.com/mbd888/podswap/internal/validation"
	"github.com/mbd888/podswap/internal/webhooks"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config
	db  *sql.DB // nil if using in-memory

	// Token collaborators: exactly one of ledger (dev) or operator (on chain).
	ledger      *pods.Ledger
	operator    *chain.Operator
	chainClient chain.EthClient
	vault       common.Address

	clock  clock.Clock
	manual *clock.Manual // non-nil when setClock is served

	swapStore  swap.Store
	eventStore swap.EventStore
	engines    []*swap.Engine
	timer      *swap.Timer
	assets     *registry.Registry

	realtimeHub  *realtime.Hub
	webhookStore webhooks.Store
	webhooks     *webhooks.Dispatcher
	endpoints    security.EndpointValidator

	verifier    *auth.Verifier
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run
	shutdownTracing func(context.Context) error
	drainDelay      time.Duration

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

// WithChainClient injects the RPC client used in on-chain mode (for testing).
func WithChainClient(client chain.EthClient) Option {
	return func(s *Server) {
		s.chainClient = client
	}
}

// WithClock replaces the configured clock source.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.setupStorage(); err != nil {
		return nil, err
	}
	if err := s.setupCollaborators(); err != nil {
		return nil, err
	}
	s.setupClock()

	if cfg.AssetsFile != "" {
		n, err := registry.LoadFile(ctx, s.assets, cfg.AssetsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load assets: %w", err)
		}
		s.logger.Info("registered pod assets loaded", "file", cfg.AssetsFile, "added", n)
	}

	// Event fan-out: persistent log, WebSocket hub and webhooks
	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithOriginCheck(realtime.AllowOrigins(s.cfg.AllowedOrigins)))
	s.endpoints = security.EndpointValidator{
		RequireHTTPS: cfg.IsProduction(),
		AllowPrivate: cfg.IsDevelopment(),
	}
	s.webhooks = webhooks.NewDispatcher(s.webhookStore, s.logger, webhooks.WithURLValidator(s.endpoints.Validate))
	sink := swap.MultiSink{
		swap.NewEventLog(s.eventStore, s.logger),
		s.realtimeHub,
		s.webhooks,
	}

	var erc20 swap.ERC20Token
	var erc721 swap.ERC721Token
	var erc1155 swap.ERC1155Token
	if s.operator != nil {
		erc20, erc721, erc1155 = s.operator.ERC20(), s.operator.ERC721(), s.operator.ERC1155()
	} else {
		erc20, erc721, erc1155 = s.ledger.ERC20, s.ledger.ERC721, s.ledger.ERC1155
	}
	s.engines = []*swap.Engine{
		swap.NewFungibleEngine(erc20, s.vault, s.swapStore, s.clock),
		swap.NewSingleAssetEngine(erc721, s.vault, s.swapStore, s.clock),
		swap.NewSemiFungibleEngine(erc1155, s.vault, s.swapStore, s.clock),
	}
	for _, e := range s.engines {
		e.WithPolicy(s.assets).WithEvents(sink).WithLogger(s.logger)
	}
	s.timer = swap.NewTimer(s.swapStore, s.clock, s.logger, s.engines...).WithInterval(cfg.ExpiryCheckInterval)

	s.verifier = auth.NewVerifier()
	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) setupStorage() error {
	if s.cfg.DatabaseURL == "" {
		s.swapStore = swap.NewMemoryStore()
		s.eventStore = swap.NewMemoryEventStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.assets = registry.New(registry.NewMemoryStore())
		s.logger.Info("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.swapStore = swap.NewPostgresStore(db)
	s.eventStore = swap.NewPostgresEventStore(db)
	s.webhookStore = webhooks.NewPostgresStore(db)
	s.assets = registry.New(registry.NewPostgresStore(db))
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) setupCollaborators() error {
	if !s.cfg.OnChain() {
		s.ledger = pods.NewLedger()
		s.vault = pods.Vault
		s.logger.Info("using in-memory pod ledger", "vault", s.vault.Hex())
		return nil
	}

	opts := []chain.Option{chain.WithLogger(s.logger)}
	if s.chainClient != nil {
		opts = append(opts, chain.WithClient(s.chainClient))
	}
	op, err := chain.New(chain.Config{
		RPCURL:     s.cfg.RPCURL,
		PrivateKey: s.cfg.PrivateKey,
		ChainID:    s.cfg.ChainID,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create chain operator: %w", err)
	}
	s.operator = op
	s.vault = op.Address()
	s.logger.Info("using on-chain operator", "vault", s.vault.Hex(), "chain_id", s.cfg.ChainID)
	return nil
}

func (s *Server) setupClock() {
	if s.clock == nil {
		switch s.cfg.ClockSource {
		case config.ClockBlock:
			s.clock = clock.NewBlock(s.operator.Client(), s.logger)
		default:
			s.clock = clock.System{}
		}
	}
	if s.cfg.ClockOverrideEnabled() {
		if m, ok := s.clock.(*clock.Manual); ok {
			s.manual = m
		} else {
			s.manual = clock.NewManual(s.clock.Now())
		}
		s.clock = s.manual
		s.logger.Warn("clock override enabled; swap time is settable over HTTP")
	}
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.health.Register("database", s.db.PingContext)
	}
	if s.operator != nil {
		s.health.Register("rpc", func(ctx context.Context) error {
			_, err := s.operator.Client().HeaderByNumber(ctx, nil)
			return err
		})
	}
	s.health.Register("expiry_timer", func(context.Context) error {
		if s.ready.Load() && !s.timer.Running() {
			return errors.New("not running")
		}
		return nil
	})
	if s.manual != nil {
		s.health.RegisterInformational("clock", func(context.Context) error {
			return fmt.Errorf("manual override active at %d", s.manual.Now().Unix())
		})
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
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	burst := s.cfg.RateLimitRPM / 6
	if burst < 10 {
		burst = 10
	}
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         burst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithLogger(c.Request.Context(), s.logger)
		ctx = logging.With(ctx, "request_id", requestID)
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
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if caller, ok := auth.GetCaller(c); ok {
			attrs = append(attrs, "caller", caller.Hex())
		}

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
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

	s.router.GET("/feed", feedPageHandler)
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.verifier))
	v1.GET("/info", s.infoHandler)
	v1.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())

	swaps := swap.NewHandler(s.engines...).WithEventStore(s.eventStore)
	if s.manual != nil {
		swaps.WithClockOverride(s.manual)
	}
	swaps.RegisterRoutes(v1)
	swaps.RegisterProtectedRoutes(protected)

	registry.NewHandler(s.assets).RegisterRoutes(v1)

	webhooks.NewHandler(s.webhookStore, s.endpoints.Validate).RegisterProtectedRoutes(protected)

	if s.ledger != nil {
		ledger := pods.NewHandler(s.ledger)
		ledger.RegisterRoutes(v1)
		ledger.RegisterProtectedRoutes(protected)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
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
	engines := make([]gin.H, len(s.engines))
	for i, e := range s.engines {
		engines[i] = gin.H{"name": e.Name(), "class": e.Class()}
	}
	mode := "ledger"
	if s.operator != nil {
		mode = "chain"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":          "PodSwap",
		"description":   "Hash time-locked atomic swaps for pod tokens",
		"version":       Version,
		"mode":          mode,
		"chainId":       s.cfg.ChainID,
		"vault":         s.vault,
		"clock":         s.cfg.ClockSource,
		"clockOverride": s.manual != nil,
		"engines":       engines,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, traces.Config{
		Endpoint:    s.cfg.OTLPEndpoint,
		Version:     Version,
		SampleRatio: s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTracing = shutdownTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"vault", s.vault.Hex(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.timer.Start(runCtx)
	if s.db != nil {
		if err := metrics.RegisterDB(s.db, "podswap"); err != nil {
			s.logger.Warn("failed to export database stats", "error", err)
		}
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		// Give load balancers time to stop sending traffic
		time.Sleep(s.drainDelay)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.timer.Stop()
	s.logger.Info("expiry timer stopped")

	// Let in-flight webhook deliveries finish
	s.webhooks.Wait()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.operator != nil {
		if err := s.operator.Close(); err != nil {
			s.logger.Error("chain client close error", "error", err)
		}
	}

	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
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

// Ledger returns the in-memory pod ledger, or nil in on-chain mode.
func (s *Server) Ledger() *pods.Ledger {
	return s.ledger
}

// Vault returns the escrow address of every engine.
func (s *Server) Vault() common.Address {
	return s.vault
}
