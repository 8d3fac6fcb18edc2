// Package api serves QuickChat's JSON HTTP endpoints: account management,
// the contact sidebar, conversation history, sending and seen
// acknowledgements. Responses use {"success": bool, ...} envelopes.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/chat"
	"github.com/Vedant1607/QuickChat/internal/ratelimit"
)

// Config holds tunable parameters for the HTTP API.
type Config struct {
	MaxBodyBytes      int64         // request body limit; images travel inline as data URLs
	StoreTimeout      time.Duration // deadline for the store work of one request
	TrustForwardedFor bool          // key auth rate limits on X-Forwarded-For; only behind a trusted proxy
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 4 << 20,
		StoreTimeout: 5 * time.Second,
	}
}

// Limiter decides whether identifier may perform one more action under rule
// and reports what is left of the current window. ratelimit.Limiter
// implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// API routes HTTP requests to the account and chat services.
type API struct {
	cfg        Config
	auth       *auth.Service
	pipeline   *chat.Pipeline
	reconciler *chat.Reconciler
	unseen     *chat.Unseen
	limiter    Limiter
	mux        *http.ServeMux
}

// New creates an API and registers its routes.
func New(cfg Config, authSvc *auth.Service, pipeline *chat.Pipeline, reconciler *chat.Reconciler, unseen *chat.Unseen) *API {
	a := &API{
		cfg:        cfg,
		auth:       authSvc,
		pipeline:   pipeline,
		reconciler: reconciler,
		unseen:     unseen,
		mux:        http.NewServeMux(),
	}

	a.mux.HandleFunc("GET /api/status", a.handleStatus)

	a.mux.HandleFunc("POST /api/auth/signup", a.handleSignup)
	a.mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	a.mux.Handle("GET /api/auth/check", a.protect(a.handleCheck))
	a.mux.Handle("PUT /api/auth/update-profile", a.protect(a.handleUpdateProfile))

	a.mux.Handle("GET /api/messages/users", a.protect(a.handleSidebar))
	a.mux.Handle("GET /api/messages/{id}", a.protect(a.handleConversation))
	a.mux.Handle("POST /api/messages/send/{id}", a.protect(a.handleSend))
	a.mux.Handle("PUT /api/messages/mark/{id}", a.protect(a.handleMarkSeen))
	return a
}

// SetLimiter enables rate limiting of sends and auth attempts.
func (a *API) SetLimiter(l Limiter) {
	a.limiter = l
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.Body = http.MaxBytesReader(rec, r.Body, a.cfg.MaxBodyBytes)

	a.mux.ServeHTTP(rec, r)

	logrus.WithFields(logrus.Fields{
		"component": "api",
		"method":    r.Method,
		"path":      r.URL.Path,
		"status":    rec.status,
		"duration":  time.Since(start).Round(time.Microsecond).String(),
	}).Debug("request")
}

// allow consults the limiter. Limiter errors fail open.
func (a *API) allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool {
	if a.limiter == nil {
		return true
	}
	ok, err := a.limiter.Allow(ctx, identifier, rule)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "api",
			"rule":      rule.Key,
		}).WithError(err).Warn("rate limiter unavailable, allowing request")
		return true
	}
	return ok
}

// setRemaining reports the caller's remaining budget under rule in the
// X-RateLimit-Remaining header. Nothing is set without a limiter or when it
// cannot answer.
func (a *API) setRemaining(ctx context.Context, w http.ResponseWriter, identifier string, rule ratelimit.Rule) {
	if a.limiter == nil {
		return
	}
	n, err := a.limiter.Remaining(ctx, identifier, rule)
	if err != nil {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(n))
}

func (a *API) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.cfg.StoreTimeout)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
