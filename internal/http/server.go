// Package http exposes the budget service as a JSON API for the SPA.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"kharcha/internal/identity"
	"kharcha/internal/log"
	"kharcha/internal/services"
)

// TokenVerifier checks a bearer token and returns the user it names. Nil
// when no identity provider is configured (guest-only deployments).
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*identity.User, error)
}

type Options struct {
	Addr               string
	AllowedOrigins     []string
	RateLimitPerMinute int
	Verifier           TokenVerifier
}

type Server struct {
	http.Server
	svc          *services.BudgetService
	verifier     TokenVerifier
	rateLimiter  *rateLimiter
	logger       *log.Logger
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(opts Options, svc *services.BudgetService, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		svc:         svc,
		verifier:    opts.Verifier,
		rateLimiter: newRateLimiter(opts.RateLimitPerMinute),
		logger:      logger.WithComponent(log.ComponentHTTP),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/api/session", s.wrap(s.handleSession))
	mux.HandleFunc("/api/setup", s.wrap(s.handleSetup))
	mux.HandleFunc("/api/income", s.wrap(s.handleIncome))
	mux.HandleFunc("/api/expenses", s.wrap(s.handleExpenses))
	mux.HandleFunc("/api/summary", s.wrap(s.handleSummary))
	mux.HandleFunc("/api/signout", s.wrap(s.handleSignOut))

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	})

	s.Server = http.Server{
		Addr:    opts.Addr,
		Handler: c.Handler(mux),
	}
	return s
}

// wrap adds security headers, rate limiting on mutating methods, bearer
// token resolution and request logging.
func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)
		requestID := generateRequestID()

		logger := s.logger.With(log.FieldRequestID, requestID)
		logger.InfoContext(r.Context(), "Request started",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, ip)

		if isMutating(r.Method) && !s.rateLimiter.allow(ip) {
			logger.WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, ip,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded"))
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		r = r.WithContext(s.resolveIdentity(r))

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		logger.InfoContext(r.Context(), "Request completed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldClientIP, ip)
	}
}

// resolveIdentity verifies a bearer token, if any, and stores the user on
// the request context. A missing or bad token is not fatal here: guest
// requests carry none, and authenticated operations fail downstream with
// a proper identity error.
func (s *Server) resolveIdentity(r *http.Request) context.Context {
	ctx := r.Context()
	if s.verifier == nil {
		return ctx
	}
	token, ok := identity.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return ctx
	}
	u, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "Token verification failed", log.FieldError, err.Error())
		return ctx
	}
	return identity.WithUser(ctx, u)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Shutdown stops the rate limiter's cleanup goroutine and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready only once the session finished its initial
// load; the frontend must not render the setup gate before that.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Session(r.Context()).Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
