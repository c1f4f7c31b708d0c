// Package http serves the server-rendered frontend: full pages for each
// route, form actions that run one frontend operation and redirect back,
// and the health, readiness and metrics endpoints.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/middleware/ratelimit"
	"splithappens/internal/middleware/security"
	"splithappens/internal/middleware/trace"
	"splithappens/internal/services"
	"splithappens/internal/session"
	appweb "splithappens/web"
)

// Pinger is the readiness probe of the workspace store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr               string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	RateLimitBurst     int
	ReadHeaderTimeout  time.Duration
	// WriteTimeout must cover a receipt analysis round trip.
	WriteTimeout time.Duration
}

type Deps struct {
	Sessions *session.Manager
	Frontend *services.Frontend
	Store    Pinger
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

type Server struct {
	http.Server
	templates *template.Template
	sessions  *session.Manager
	frontend  *services.Frontend
	store     Pinger
	metrics   *metrics.Metrics
	logger    *log.Logger

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	maxUpload    int64
	started      time.Time
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}

	detector := security.NewDetector()
	s := &Server{
		sessions:  deps.Sessions,
		frontend:  deps.Frontend,
		store:     deps.Store,
		metrics:   deps.Metrics,
		logger:    logger,
		detector:  detector,
		tracer:    trace.NewMiddleware(detector.ExtractClientIP, logger),
		maxUpload: cfg.MaxUploadBytes,
		started:   time.Now(),
		now:       time.Now,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		}),
	}

	// Parse embedded templates at startup.
	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates", log.FieldComponent, log.ComponentTemplate, log.FieldError, err)
	} else {
		s.templates = t
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = log.RequestIDMiddleware(trace.FromRequest)(handler)
	handler = log.Middleware(logger)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(logger)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Every other GET is a page; unknown paths render the dashboard.
	s.page(mux, "GET /", s.handlePage)

	s.action(mux, "POST /session/create", s.handleCreateHousehold)
	s.action(mux, "POST /session/login", s.handleLogin)
	s.action(mux, "POST /session/logout", s.handleLogout)

	s.action(mux, "POST /receipts/analyze", s.handleAnalyze)
	s.action(mux, "POST /receipts/manual", s.handleManualExpense)
	s.action(mux, "POST /receipts/{id}/edit", s.handleEditReceipt)
	s.action(mux, "POST /receipts/{id}/delete", s.handleDeleteReceipt)
	s.action(mux, "DELETE /receipts/{id}", s.handleDeleteReceipt)

	s.action(mux, "POST /draft/items/{index}", s.handleAssignItem)
	s.action(mux, "POST /draft/category", s.handleDraftCategory)
	s.action(mux, "POST /draft/save", s.handleSaveDraft)
	s.action(mux, "POST /draft/discard", s.handleDiscardDraft)

	s.action(mux, "POST /settle", s.handleSettle)
	s.action(mux, "POST /preferences/currency", s.handleCurrency)
	s.action(mux, "POST /navigate", s.handleNavigate)
	s.action(mux, "POST /banner/dismiss", s.handleDismissBanner)
}

type workspaceHandler func(http.ResponseWriter, *http.Request, *session.Workspace)

// page registers a page route. Pages are never cached.
func (s *Server) page(mux *http.ServeMux, pattern string, h workspaceHandler) {
	mux.Handle(pattern, s.instrument(pattern, security.NoStore(s.withWorkspace(h))))
}

// action registers a mutating route behind the rate limiter.
func (s *Server) action(mux *http.ServeMux, pattern string, h workspaceHandler) {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)
	mux.Handle(pattern, s.instrument(pattern, limited(security.NoStore(s.withWorkspace(h)))))
}

// instrument records the request under its route pattern so paths with ids
// share one series.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := trace.NewStatusRecorder(w)
		next.ServeHTTP(rw, r)
		s.metrics.ObserveHTTP(r.Method, pattern, rw.Status(), time.Since(start))
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.RateLimited()
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldComponent, log.ComponentRateLimit,
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please slow down and try again.").Write(w)
}

// withWorkspace resolves the browser's workspace before running h.
func (s *Server) withWorkspace(h workspaceHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.sessions.Resolve(w, r)
		if err != nil {
			log.FromContext(r.Context()).ErrorContext(r.Context(), "Workspace unavailable", log.FieldError, err)
			ServiceUnavailableError("Your session could not be loaded. Please try again.").Write(w)
			return
		}
		ctx := log.NewContext(r.Context(), log.FromContext(r.Context()).With(log.FieldWorkspaceID, ws.ID))
		h(w, r.WithContext(ctx), ws)
	})
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
