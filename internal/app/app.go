package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"licenseapi/internal/billing"
	"licenseapi/internal/config"
	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/license"
	customMiddleware "licenseapi/internal/middleware"
	"licenseapi/internal/store"
	handlers "licenseapi/internal/transport/http"
	"licenseapi/pkg/contracts"
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         store.Gateway
	Services      *ServiceContainer
	Clock         quartz.Clock
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License  *license.Service
	Webhooks *license.WebhookProcessor
	Reaper   *license.Reaper
	Guard    *license.VolumeGuard
	Hasher   *license.Pseudonymizer
	Billing  billing.Checker
	Metrics  *license.Metrics
}

// Option customizes New
type Option func(*options)

type options struct {
	clock   quartz.Clock
	gateway store.Gateway
	checker billing.Checker
}

// WithClock replaces the wall clock
func WithClock(clock quartz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithGateway uses an already opened record store instead of the configured one
func WithGateway(gw store.Gateway) Option {
	return func(o *options) { o.gateway = gw }
}

// WithBillingChecker replaces the configured billing checker
func WithBillingChecker(checker billing.Checker) Option {
	return func(o *options) { o.checker = checker }
}

// NewApplication loads the configuration, initializes logging and telemetry, and
// builds the application
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("service", contracts.ServiceName),
		slog.String("version", contracts.Version),
		slog.String("store", cfg.Store.Driver),
		slog.String("session_backend", cfg.Store.SessionBackend),
		slog.String("billing_mode", cfg.Billing.Mode))

	providers, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app, err := New(ctx, cfg, logger, providers)
	if err != nil {
		_ = providers.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return app, nil
}

// New builds the application from an already validated configuration
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, providers *infrastructure.OTelProviders, opts ...Option) (*Application, error) {
	o := options{clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Clock:         o.clock,
	}

	gw := o.gateway
	if gw == nil {
		var err error
		gw, err = openStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}
	a.Store = gw

	if err := a.initializeServices(ctx, o.checker); err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	a.createServer()
	return a, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices(ctx context.Context, checker billing.Checker) error {
	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	hasher := license.NewPseudonymizer(a.Config.Security.IPHashSalt)
	if hasher.Ephemeral() {
		a.Logger.WarnContext(ctx, "No IP hash salt configured; using a random salt, stored IP hashes will not survive a restart")
	}

	if checker == nil {
		checker = newBillingChecker(ctx, a.Config.Billing, a.Logger)
	}

	a.Services = &ServiceContainer{
		License: license.NewService(a.Store, checker, hasher, a.Clock,
			a.Config.License, metrics, a.OTelProviders),
		Webhooks: license.NewWebhookProcessor(a.Store, a.Config.Billing.WebhookSecret, a.Clock,
			metrics, a.OTelProviders),
		Reaper: license.NewReaper(a.Store, a.Clock, a.Config.License.ReaperInterval,
			metrics, a.Logger),
		Guard:   license.NewVolumeGuard(a.Clock, a.Config.License.MaxDailyRequests),
		Hasher:  hasher,
		Billing: checker,
		Metrics: metrics,
	}
	return nil
}

// newBillingChecker returns the Creem client, or a checker that reports every key as
// unchecked when billing verification is disabled
func newBillingChecker(ctx context.Context, cfg config.BillingConfig, logger *slog.Logger) billing.Checker {
	if !cfg.Enforced() {
		logger.WarnContext(ctx, "Billing verification is DISABLED; licenses are validated against the local store only")
		return billing.Unchecked{}
	}
	logger.InfoContext(ctx, "Billing verification enabled",
		slog.String("base_url", cfg.ResolvedBaseURL()),
		slog.Duration("timeout", cfg.Timeout))
	return billing.NewCreemClient(cfg, logger)
}

// setupRouter configures the HTTP router with all routes.
// Order: RequestID → ClientIP → OTel → Logger → Recoverer → SecureHeaders → CORS →
// DailyGuard → RateLimit → Timeout → BodyLimit
func (a *Application) setupRouter() error {
	cfg := a.Config
	hasher := a.Services.Hasher
	errorHandler := apierrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	validator := customMiddleware.NewValidator()

	clientIP, err := customMiddleware.NewClientIPResolver(cfg.Security.TrustedProxies)
	if err != nil {
		return err
	}
	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders, hasher)
	if err != nil {
		return err
	}
	dailyGuard, err := customMiddleware.NewDailyGuard(a.Services.Guard, errorHandler, a.Logger, a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	licenseHandler := handlers.NewLicenseHandler(a.Services.License, validator, errorHandler, a.Clock, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Clock)
	webhookHandler := handlers.NewWebhookHandler(a.Services.Webhooks, errorHandler, a.Logger)
	adminHandler := handlers.NewAdminHandler(a.Services.License, validator, errorHandler, a.Logger)

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(clientIP.Handler)
	r.Use(otelMiddleware.Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger, hasher))
	r.Use(customMiddleware.Recoverer(errorHandler))
	r.Use(customMiddleware.DefaultSecureHeaders(cfg.Security.EnableHSTS).Handler)
	r.Use(customMiddleware.CORS(cfg.Security.AllowedOrigins))
	r.Use(dailyGuard.Handler)
	if cfg.Security.RateLimit.Enabled {
		r.Use(customMiddleware.RateLimit(cfg.Security.RateLimit.RequestsPerMinute, errorHandler, a.Logger,
			rateLimitExemptPaths()...))
	}
	r.Use(customMiddleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(customMiddleware.BodyLimit(cfg.Server.MaxBodyBytes))

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))

	routes := func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/version", healthHandler.Version)
		r.Mount("/license", licenseHandler.Routes())
		r.Post("/webhooks/billing", webhookHandler.Receive)
		r.Route("/admin", func(r chi.Router) {
			r.Use(customMiddleware.AdminAuth(cfg.Security.AdminToken, errorHandler, a.Logger))
			r.Mount("/", adminHandler.Routes())
		})
	}

	r.Group(routes)
	r.Route("/"+contracts.APIVersion, func(r chi.Router) {
		routes(r)
		r.Post("/webhooks/creem", webhookHandler.Receive)
	})

	a.Router = r
	return nil
}

// rateLimitExemptPaths lists the paths the per-client limiter never counts
func rateLimitExemptPaths() []string {
	paths := []string{"/metrics"}
	for _, p := range []string{"/health", "/webhooks/billing"} {
		paths = append(paths, p, "/"+contracts.APIVersion+p)
	}
	return append(paths, "/"+contracts.APIVersion+"/webhooks/creem")
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves HTTP and sweeps expired sessions until ctx is cancelled or the server
// fails, then shuts everything down
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "HTTP server listening", a.startupSummary()...)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Services.Reaper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.Stop(context.WithoutCancel(ctx)); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Stop releases the store and flushes telemetry. The HTTP server must already be stopped.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := a.Store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close log file: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		a.Logger.ErrorContext(ctx, "Application shutdown finished with errors", slog.String("error", err.Error()))
		return err
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// startupSummary reports the effective configuration without secrets
func (a *Application) startupSummary() []any {
	return []any{
		slog.String("address", a.Server.Addr),
		slog.Int("token_ttl_seconds", a.Config.License.TokenTTLSeconds),
		slog.Int("max_daily_requests", a.Config.License.MaxDailyRequests),
		slog.Duration("reaper_interval", a.Config.License.ReaperInterval),
		slog.String("allowed_origins", strings.Join(a.Config.Security.AllowedOrigins, ",")),
		slog.Bool("admin_enabled", a.Config.Security.AdminToken != ""),
		slog.Time("started_at", a.Clock.Now().UTC().Truncate(time.Second)),
	}
}
