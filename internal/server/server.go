package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deploymetrics/internal/config"
	"deploymetrics/internal/deployment"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// APIPrefix is the base path of every deployment route
	APIPrefix = "/api/v1"
)

// Options configures the HTTP layer
type Options struct {
	RateLimit       float64 // requests per second per IP, all routes
	RateBurst       int
	IngestRateLimit float64 // requests per second per IP, ingest routes
	IngestRateBurst int
	RequestTimeout  time.Duration

	// IngestSecret, when set, requires a valid X-Signature-256 on POST /deployment
	IngestSecret string

	// WebhookSecret validates X-Hub-Signature-256 on GitHub webhooks
	WebhookSecret string

	// TestMode disables rate limiting
	TestMode bool
}

// OptionsFromConfig maps the configuration file onto server options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		IngestRateLimit: cfg.Server.IngestRateLimit,
		IngestRateBurst: cfg.Server.IngestRateBurst,
		RequestTimeout:  cfg.RequestTimeoutDuration(),
		IngestSecret:    cfg.Server.IngestSecret,
		WebhookSecret:   cfg.GitHub.WebhookSecret,
	}
}

// Server represents the HTTP server
type Server struct {
	Service *deployment.Service
	Metrics *Metrics
	Logger  *slog.Logger
	Options Options

	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
	now        func() time.Time
}

// NewServer creates a new server instance. A nil metrics gets a private
// registry.
func NewServer(svc *deployment.Service, metrics *Metrics, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout * time.Second
	}

	return &Server{
		Service: svc,
		Metrics: metrics,
		Logger:  logger,
		Options: opts,
		now:     time.Now,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.Logger, s.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.Options.RequestTimeout))

	if !s.Options.TestMode {
		r.Use(NewRateLimitMiddleware("global", s.Options.RateLimit, s.Options.RateBurst, s.Logger, s.Metrics))
	}

	ingest := func(next http.Handler) http.Handler { return next }
	if !s.Options.TestMode {
		ingest = NewRateLimitMiddleware("ingest", s.Options.IngestRateLimit, s.Options.IngestRateBurst, s.Logger, s.Metrics)
	}

	r.Get("/health", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	r.Route(APIPrefix, func(r chi.Router) {
		r.With(ingest).Post("/deployment", s.HandleStoreDeployment)
		r.Get("/deployment", s.HandleListDeployments)
		r.Get("/deployment/{id}", s.HandleGetDeployment)
		r.Delete("/deployment/{id}", s.HandleDeleteDeployment)
		r.Get("/deployment/hierarchy/{applicationId}", s.HandleListForHierarchy)

		r.Route("/deployment/application/{applicationId}", func(r chi.Router) {
			r.Get("/", s.HandleListForApplication)
			r.Get("/date/{date}", s.HandleListForApplicationOnDate)
			r.Get("/frequency", s.HandleDeployFreq)
			r.Get("/frequency/{date}", s.HandleDeployFreq)
			r.Get("/lead_time", s.HandleLeadTime)
			r.Get("/lead_time/{date}", s.HandleLeadTime)
		})

		r.With(ingest).Post("/webhook/github/{applicationId}", s.HandleGitHubWebhook)
	})

	return r
}

// Start serves the API on host:port until Shutdown is called
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.Logger.Info("Shutdown requested before start, not listening")
		return nil
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight requests.
// Called before Start, it makes Start return without listening.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
