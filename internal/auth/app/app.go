package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/atrium/internal/auth/http"
	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/internal/auth/ratelimit"
	"github.com/aussiebroadwan/atrium/internal/auth/service"
	"github.com/aussiebroadwan/atrium/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/atrium/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/atrium/pkg/cryptox"
	"github.com/aussiebroadwan/atrium/pkg/httpx"
	"github.com/aussiebroadwan/atrium/pkg/jwtx"
	"github.com/aussiebroadwan/atrium/pkg/slogx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BuildVersion is overridden at build time via -ldflags "-X ...app.BuildVersion=".
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         *sqlite.Store
	pgPool     *pgxpool.Pool // nil unless RATELIMIT_BACKEND=postgres
	keyManager *jwtx.KeyManager
	metrics    *metrics.Metrics
	metricsH   http.Handler
	breaker    *ratelimit.FailoverStore

	// Services
	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "atrium-auth",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg:    cfg,
		logger: NewLogger(cfg),
	}

	db, err := OpenDatabase(cfg, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	keyManager, err := InitAuthKeys(cfg, app.logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager

	registry, m := metrics.NewRegistry()
	app.metrics = m
	app.metricsH = metrics.Handler(registry)

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		app.closeStores()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Let queued reset deliveries finish before the store goes away
	app.authService.Resets.Wait()

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// Handler returns the root HTTP handler, for tests that drive the app
// without binding a port.
func (app *Application) Handler() http.Handler {
	return app.router
}

func (app *Application) closeStores() error {
	if app.pgPool != nil {
		app.pgPool.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// OpenDatabase opens the SQLite database and applies migrations.
func OpenDatabase(cfg Config, logger *slog.Logger) (*sqlite.Store, error) {
	host := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		logger.Warn("could not read migration version", "error", err)
	}
	logger.Info("database migrations applied successfully", "version", version, "dirty", dirty)
	return db, nil
}

// NewHasher loads (or creates) the pepper and returns the password hasher.
func NewHasher(cfg Config) (*cryptox.Hasher, error) {
	pepper, err := cryptox.LoadOrCreatePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	return cryptox.NewHasher(pepper), nil
}

// initCounterStore picks the primary rate limit counter store and wraps it
// with the in-process fallback.
func (app *Application) initCounterStore() (ratelimit.CounterStore, error) {
	fallback := ratelimit.NewMemoryStore()

	var primary ratelimit.CounterStore
	switch app.cfg.RateLimitBackend {
	case RateLimitBackendMemory:
		app.logger.Warn("rate limit counters are per process; limits multiply with replicas")
		return fallback, nil

	case RateLimitBackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := postgres.Connect(ctx, app.cfg.RateLimitDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect rate limit database: %w", err)
		}
		app.pgPool = pool

		pgStore := postgres.NewRateLimitStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to create rate limit schema: %w", err)
		}
		primary = pgStore

	default:
		primary = app.db.RateLimits()
	}

	app.breaker = &ratelimit.FailoverStore{
		Primary:  primary,
		Fallback: fallback,
		Timeout:  app.cfg.StoreTimeout,
		Cooldown: app.cfg.RateLimitFallbackCooldown,
		Metrics:  app.metrics,
	}
	app.logger.Info("rate limiter configured", "backend", app.cfg.RateLimitBackend)
	return app.breaker, nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	hasher, err := NewHasher(app.cfg)
	if err != nil {
		return err
	}

	counters, err := app.initCounterStore()
	if err != nil {
		return err
	}

	limiter := &ratelimit.Limiter{
		Store:    counters,
		Policies: app.cfg.RateLimitPolicies,
		Metrics:  app.metrics,
	}

	credentials := &service.CredentialService{
		Store:        app.db,
		Hasher:       hasher,
		StoreTimeout: app.cfg.StoreTimeout,
	}
	sessions := &service.SessionManager{
		Store:        app.db,
		SessionTTL:   app.cfg.SessionTTL,
		ResetTTL:     app.cfg.ResetTTL,
		StoreTimeout: app.cfg.StoreTimeout,
		Metrics:      app.metrics,
	}

	blacklist := &service.Blacklist{
		Store:        app.db,
		StoreTimeout: app.cfg.StoreTimeout,
		Metrics:      app.metrics,
	}

	app.authService = &service.AuthService{
		Credentials: credentials,
		Tokens: &service.TokenService{
			KeyManager:    app.keyManager,
			Issuer:        app.cfg.Issuer,
			Audience:      app.cfg.Audience,
			ShortTTL:      app.cfg.AccessTTL,
			LongTTL:       app.cfg.ExtendedAccessTTL,
			RefreshWindow: app.cfg.RefreshWindow,
		},
		Sessions:  sessions,
		Blacklist: blacklist,
		Resets: &service.ResetService{
			Store:       app.db,
			Sessions:    sessions,
			Credentials: credentials,
			Limiter:     limiter,
			Notifier:    service.LogNotifier{},
			Metrics:     app.metrics,
		},
		Limiter: limiter,
		Metrics: app.metrics,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.Metrics = app.metrics
	app.housekeepingService.Sessions = sessions
	app.housekeepingService.Blacklist = blacklist
	if app.pgPool != nil {
		app.housekeepingService.Extra = map[string]service.Purger{
			"pg_rate_limits": postgres.NewRateLimitStore(app.pgPool),
		}
	}

	return nil
}

// csrfSecret returns the configured secret, or a random one. A random secret
// invalidates outstanding CSRF tokens on restart and differs between replicas.
func (app *Application) csrfSecret() []byte {
	if app.cfg.CSRFSecret != "" {
		return []byte(app.cfg.CSRFSecret)
	}

	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		// crypto/rand failing leaves nothing sensible to run with
		panic(fmt.Sprintf("generate csrf secret: %v", err))
	}
	app.logger.Warn("AUTH_CSRF_SECRET not set, using a random secret; CSRF tokens will not survive restarts or span replicas")
	return []byte(secret)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.AuthService = app.authService
	router.CSRF = httpx.NewCSRFGuard(app.csrfSecret())
	router.Cookies = httpapi.CookieConfig{
		Secure: app.cfg.CookieSecure,
		Domain: app.cfg.CookieDomain,
	}
	router.ClientKey = httpx.NewIPKeyExtractor(app.cfg.TrustProxy)
	router.ModerateLimit = httpx.ParseRateLimitFromEnv("MODERATE", httpx.ModerateLimit)
	router.PublicLimit = httpx.ParseRateLimitFromEnv("PUBLIC", httpx.PublicLimit)
	router.Metrics = app.metricsH
	if app.breaker != nil {
		router.Breaker = app.breaker
	}
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
