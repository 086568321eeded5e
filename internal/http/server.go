// Package http serves the fintrack pages. Every page is rendered on the
// server from the visitor's session and cached backend reads.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"fintrack/internal/api"
	"fintrack/internal/core"
	"fintrack/internal/events"
	"fintrack/internal/guard"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/session"
	appweb "fintrack/web"
)

// Backend is the transactions and reports API.
type Backend interface {
	CreateTransaction(ctx context.Context, token string, in core.TransactionInput) (core.Transaction, error)
	ListTransactions(ctx context.Context, token string, filter api.Filter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, token, id string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, token, id string, patch core.TransactionPatch) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, token, id string) error
	GetReports(ctx context.Context, token string) (core.ReportSummary, error)
	Ping(ctx context.Context) error
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options carries the server's collaborators.
type Options struct {
	Addr     string
	Registry *session.Registry
	Cookies  *session.CookieCodec
	Backend  Backend
	Events   events.Publisher
	Limiter  *ratelimit.Limiter
	Logger   *log.Logger

	// Google enables Google sign-in when non-nil.
	Google *oauth2.Config

	// QueryWait bounds how long a page waits for a backend read before it
	// renders the loading state.
	QueryWait time.Duration
	// RestoreWait bounds how long a page waits for a restoring session
	// before it renders the checking placeholder.
	RestoreWait time.Duration

	ReadyChecks map[string]ReadyCheck
}

// Server is the fintrack web server.
type Server struct {
	http.Server

	mux        *http.ServeMux
	pages      map[string]*template.Template
	registry   *session.Registry
	cookies    *session.CookieCodec
	backend    Backend
	publisher  events.Publisher
	limiter    *ratelimit.Limiter
	detector   *security.Detector
	logger     *log.Logger
	structured *log.StructuredLogger
	google     *oauth2.Config

	queryWait   time.Duration
	restoreWait time.Duration
	readyChecks map[string]ReadyCheck
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if opts.QueryWait <= 0 {
		opts.QueryWait = 3 * time.Second
	}
	if opts.RestoreWait <= 0 {
		opts.RestoreWait = 500 * time.Millisecond
	}

	pages, err := loadTemplates(appweb.TemplatesFS)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		mux:         http.NewServeMux(),
		pages:       pages,
		registry:    opts.Registry,
		cookies:     opts.Cookies,
		backend:     opts.Backend,
		publisher:   opts.Events,
		limiter:     opts.Limiter,
		logger:      logger,
		structured:  log.NewStructuredLogger(logger),
		google:      opts.Google,
		queryWait:   opts.QueryWait,
		restoreWait: opts.RestoreWait,
		readyChecks: opts.ReadyChecks,
		started:     time.Now(),
	}
	s.detector = security.NewDetector(func(r *http.Request, reason string) {
		metrics.Suspicious(reason)
		s.logger.WarnContext(r.Context(), "Suspicious request",
			log.FieldComponent, log.ComponentSecurity,
			log.FieldPath, r.URL.Path,
			"reason", reason)
	})

	s.routes()

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.chain(s.mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s, nil
}

func (s *Server) routes() {
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		s.handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
	}

	s.handle("GET /healthz", http.HandlerFunc(s.handleHealth))
	s.handle("GET /readyz", http.HandlerFunc(s.handleReady))
	s.handle("GET /metrics", metrics.Handler())

	s.page("GET /{$}", guard.Public, s.handleHome)

	s.page("GET /login", guard.GuestOnly, s.handleLoginForm)
	s.page("POST /login", guard.GuestOnly, s.handleLogin)
	s.page("GET /register", guard.GuestOnly, s.handleRegisterForm)
	s.page("POST /register", guard.GuestOnly, s.handleRegister)
	s.page("GET /login/google", guard.GuestOnly, s.handleGoogleStart)
	s.page("GET /login/google/callback", guard.GuestOnly, s.handleGoogleCallback)
	s.page("POST /logout", guard.Public, s.handleLogout)

	s.page("GET /add-transaction", guard.Protected, s.handleAddTransactionForm)
	s.page("POST /add-transaction", guard.Protected, s.handleAddTransaction)
	s.page("GET /transactions", guard.Protected, s.handleTransactions)
	s.page("GET /transactions/{id}", guard.Protected, s.handleTransactionDetails)
	s.page("POST /transactions/{id}", guard.Protected, s.handleUpdateTransaction)
	s.page("POST /transactions/{id}/delete", guard.Protected, s.handleDeleteTransaction)
	s.page("GET /reports", guard.Protected, s.handleReports)
	s.page("GET /profile", guard.Protected, s.handleProfile)
	s.page("POST /profile", guard.Protected, s.handleUpdateProfile)

	s.page("/", guard.Public, s.handleNotFound)
}

// chain wraps h with the middleware every request goes through, outermost
// first.
func (s *Server) chain(h http.Handler) http.Handler {
	tracer := trace.NewMiddleware(s.detector.ExtractClientIP, s.observe)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.detector.ExtractClientIP, func(r *http.Request) {
		metrics.RateLimited()
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldComponent, log.ComponentRateLimit,
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldPath, r.URL.Path)
	})

	h = limit(h)
	h = s.detector.Middleware(h)
	h = headers.Middleware(h)
	h = log.Middleware(s.logger, trace.FromRequest)(h)
	h = tracer.Middleware(h)
	return withRoute(h)
}

// observe records metrics and the access log for a finished request.
func (s *Server) observe(c trace.Completion) {
	r := c.Request
	metrics.ObserveHTTP(r.Method, routeOf(r), c.Status, c.Duration)

	ctx := log.NewContext(r.Context(), s.logger.With(log.FieldRequestID, trace.GetRequestID(r.Context())))
	s.structured.LogHTTPEnd(ctx, r, c.Status, c.Duration.Milliseconds(), c.ClientIP)
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}

type routeKey struct{}

// withRoute gives each request a slot the mux fills with the matched
// pattern, so metrics are labelled by route instead of raw path.
func withRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pattern := new(string)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), routeKey{}, pattern)))
	})
}

func routeOf(r *http.Request) string {
	if p, ok := r.Context().Value(routeKey{}).(*string); ok && *p != "" {
		return *p
	}
	return "unmatched"
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := r.Context().Value(routeKey{}).(*string); ok {
			*p = pattern
		}
		h.ServeHTTP(w, r)
	}))
}
