package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	applog "ricorrenze/internal/log"
	"ricorrenze/internal/middleware/ratelimit"
	"ricorrenze/internal/middleware/security"
	"ricorrenze/internal/middleware/trace"
	"ricorrenze/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the API server. Rules is required; the
// rest fall back to defaults.
type Deps struct {
	Rules    *services.RuleService
	DB       Pinger
	Logger   *applog.Logger
	Limiter  *ratelimit.Limiter
	Detector *security.Detector
	Headers  security.HeadersConfig
	// CalendarName is the display name of exported calendars.
	CalendarName string
}

type Server struct {
	http.Server

	rules        *services.RuleService
	db           Pinger
	limiter      *ratelimit.Limiter
	detector     *security.Detector
	tracer       *trace.Middleware
	calendarName string

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if deps.Detector == nil {
		deps.Detector = security.NewDetector()
	}
	if deps.Headers == (security.HeadersConfig{}) {
		deps.Headers = security.DefaultHeadersConfig()
	}
	if deps.CalendarName == "" {
		deps.CalendarName = "Ricorrenze"
	}

	s := &Server{
		rules:        deps.Rules,
		db:           deps.DB,
		limiter:      deps.Limiter,
		detector:     deps.Detector,
		tracer:       trace.NewMiddleware(deps.Detector.ExtractClientIP),
		calendarName: deps.CalendarName,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	handler := deps.Limiter.Middleware(deps.Detector.ExtractClientIP, s.handleRateLimited)(mux)
	handler = security.NewHeadersMiddleware(deps.Headers).Middleware(handler)
	handler = deps.Detector.Middleware(handler)
	handler = applog.Middleware(deps.Logger, trace.RequestID)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/owners/{owner}/rules", s.handleCreateRule)
	mux.HandleFunc("GET /api/owners/{owner}/rules", s.handleListRules)
	mux.HandleFunc("GET /api/owners/{owner}/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /api/owners/{owner}/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/owners/{owner}/rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("POST /api/owners/{owner}/rules/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/owners/{owner}/rules/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/owners/{owner}/rules/{id}/skip", s.handleSkip)
	mux.HandleFunc("POST /api/owners/{owner}/rules/{id}/materialize", s.handleMaterialize)

	mux.HandleFunc("GET /api/owners/{owner}/rules/{id}/upcoming", s.handleRuleUpcoming)
	mux.HandleFunc("GET /api/owners/{owner}/rules/{id}/calendar.ics", s.handleRuleCalendar)
	mux.HandleFunc("GET /api/owners/{owner}/rules/{id}/transactions", s.handleRuleTransactions)

	mux.HandleFunc("GET /api/owners/{owner}/transactions", s.handleListTransactions)
	mux.HandleFunc("DELETE /api/owners/{owner}/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/owners/{owner}/upcoming", s.handleOwnerUpcoming)
	mux.HandleFunc("GET /api/owners/{owner}/calendar.ics", s.handleOwnerCalendar)
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics exposes the request counters of the tracing middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldPath, r.URL.Path)
	writeJSON(w, r, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
