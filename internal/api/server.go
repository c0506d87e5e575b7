// Package api exposes the advisor over HTTP for web clients and dashboards.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/maxadvisor/internal/logger"
	"github.com/rewired-gh/maxadvisor/internal/metrics"
	"github.com/rewired-gh/maxadvisor/internal/models"
)

// Advisor is the read side of the advisor service used by the handlers.
type Advisor interface {
	Ping(ctx context.Context) error
	Location() *time.Location
	Safest(ctx context.Context, count int) ([]models.MatchPrediction, error)
	BuildAccumulator(ctx context.Context, legs int) (models.Accumulator, error)
	ValueBets(ctx context.Context, market string) ([]models.ValueBet, error)
	Upcoming(ctx context.Context) ([]models.MatchPrediction, error)
	RecordQuery(ctx context.Context, channel, userID, command string)
}

// Config holds the HTTP surface options.
type Config struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	MaxLegs        int
	MetricsPath    string
}

// Server wires routes to handlers.
type Server struct {
	advisor Advisor
	metrics *metrics.Metrics
	cfg     Config
}

// NewServer creates a new Server. m may be nil, which disables /metrics and latency
// tracking.
func NewServer(advisor Advisor, m *metrics.Metrics, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxLegs <= 0 {
		cfg.MaxLegs = 5
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{advisor: advisor, metrics: m, cfg: cfg}
}

// Router builds the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.observe)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.HealthCheck)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/picks/safest", s.GetSafestPicks)
		r.Get("/accumulator", s.GetAccumulator)
		r.Get("/value-bets", s.GetValueBets)
		r.Post("/math", s.PostMath)
		r.Post("/analyze", s.PostAnalyze)
	})

	return r
}

// observe logs each request and records its latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// Raw paths would give every scanner hit its own series.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.ObserveRequest(route, strconv.Itoa(status), elapsed.Seconds())
		}
		logger.Debug("%s %s -> %d (%v)", r.Method, r.URL.Path, status, elapsed)
	})
}
