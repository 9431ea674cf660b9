package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"randhub/native/vrfhub"
	"randhub/observability"
	"randhub/services/hubd/journal"
)

// Role names attached to authenticated principals.
const (
	RoleAdmin    = "admin"
	RoleRelayer  = "relayer"
	RoleProvider = "provider"
	RoleCaller   = "caller"
)

// EventLog serves recent journal entries.
type EventLog interface {
	Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Config defines HTTP server parameters and credentials.
type Config struct {
	ListenAddress  string
	AdminToken     string
	RelayerToken   string
	ProviderSecret string
	CallerSecret   string
	Issuer         string
	RateLimit      RateLimit
	StreamOrigins  []string
	ShutdownGrace  time.Duration
}

// Server exposes the hub over HTTP.
type Server struct {
	cfg     Config
	hub     *vrfhub.Hub
	journal EventLog
	stream  *Broadcaster
	logger  *slog.Logger

	admin    *TokenAuth
	relayer  *TokenAuth
	provider *JWTAuth
	caller   *JWTAuth
	limiter  *RateLimiter

	router http.Handler
}

// Option customises a Server.
type Option func(*Server)

// WithJournal enables /v1/events/recent.
func WithJournal(log EventLog) Option {
	return func(s *Server) { s.journal = log }
}

// WithBroadcaster enables the /v1/events websocket stream.
func WithBroadcaster(b *Broadcaster) Option {
	return func(s *Server) { s.stream = b }
}

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs the HTTP server.
func New(cfg Config, hub *vrfhub.Hub, opts ...Option) (*Server, error) {
	if hub == nil {
		return nil, fmt.Errorf("hub required")
	}
	if strings.TrimSpace(cfg.AdminToken) == "" {
		return nil, fmt.Errorf("admin token required")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	s := &Server{cfg: cfg, hub: hub, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(slog.String("component", "http"))
	s.admin = NewTokenAuth(RoleAdmin, cfg.AdminToken)
	s.relayer = NewTokenAuth(RoleRelayer, cfg.RelayerToken)
	s.provider = NewJWTAuth(RoleProvider, cfg.ProviderSecret, cfg.Issuer, s.logger)
	s.caller = NewJWTAuth(RoleCaller, cfg.CallerSecret, cfg.Issuer, s.logger)
	s.limiter = NewRateLimiter(cfg.RateLimit)
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pub chi.Router) {
			pub.Use(s.limiter.Middleware("public"), s.observe("public"))
			pub.Get("/chains", s.handleChains)
			pub.Get("/chains/{chainID}/quote", s.handleQuote)
			pub.Get("/prices", s.handlePrices)
			pub.Get("/prices/aggregate", s.handleAggregate)
			pub.Get("/solvency", s.handleSolvency)
			pub.Get("/stats", s.handleStats)
			pub.Get("/pending", s.handlePending)
			pub.Post("/responses/{sequence}/retry", s.handleRetry)
			pub.Get("/requests/{requestID}", s.handleRequest)
			pub.Get("/local/requests/{requestID}", s.handleLocalRequest)
			pub.Get("/local/callers/{address}/requests", s.handleLocalHistory)
			pub.Get("/events/recent", s.handleRecentEvents)
			pub.Get("/events", s.handleEventStream)
		})
		v1.Group(func(rel chi.Router) {
			rel.Use(s.relayer.Middleware, s.observe("relayer"))
			rel.Post("/inbound", s.handleInbound)
		})
		v1.Group(func(prov chi.Router) {
			prov.Use(s.provider.Middleware, s.observe("provider"))
			prov.Post("/provider/fulfill", s.handleFulfill)
		})
		v1.Group(func(local chi.Router) {
			local.Use(s.caller.Middleware, s.limiter.Middleware("caller"), s.observe("caller"))
			local.Post("/local/requests", s.handleLocalRequestCreate)
		})
	})

	r.Route("/admin", func(adm chi.Router) {
		adm.Use(s.admin.Middleware, s.observe("admin"))
		adm.Get("/status", s.handleAdminStatus)
		adm.Put("/chains/{chainID}", s.handleAdminPutChain)
		adm.Delete("/chains/{chainID}", s.handleAdminDeleteChain)
		adm.Put("/chains/{chainID}/enabled", s.handleAdminSetPeerEnabled)
		adm.Get("/callers", s.handleAdminCallers)
		adm.Put("/callers/{address}", s.handleAdminAuthorize)
		adm.Delete("/callers/{address}", s.handleAdminRevoke)
		adm.Put("/params/gas-budget", s.handleAdminGasBudget)
		adm.Put("/params/min-balance", s.handleAdminMinBalance)
		adm.Post("/fund", s.handleAdminFund)
		adm.Post("/pause", s.handleAdminPause)
		adm.Post("/resume", s.handleAdminResume)
		adm.Post("/prices/refresh", s.handleAdminRefreshPrice)
	})

	return otelhttp.NewHandler(r, "hubd.http")
}

// observe records API metrics keyed by the matched chi route pattern.
func (s *Server) observe(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.API().Observe(group, route, status, time.Since(start))
		})
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.hub.Paused() {
		status = "paused"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
