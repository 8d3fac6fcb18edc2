package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/store"
)

type ctxKey int

const userKey ctxKey = iota

// tokenFromHeader accepts both a raw token and "Bearer <token>" in the
// Authorization header.
func tokenFromHeader(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// protect resolves the caller's account from the bearer token and stores it
// in the request context.
func (a *API) protect(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromHeader(r)
		if token == "" {
			writeFail(w, http.StatusUnauthorized, "Authorization token missing")
			return
		}

		ctx, cancel := a.storeContext(r)
		u, err := a.auth.CurrentUser(ctx, token)
		cancel()
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				writeFail(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			writeError(w, r, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// currentUser returns the account stored by protect.
func currentUser(r *http.Request) *store.User {
	u, _ := r.Context().Value(userKey).(*store.User)
	return u
}

// clientAddr is the remote address without its port, used to key auth
// rate limits. X-Forwarded-For is honoured only when the API is configured to
// sit behind a trusted proxy; otherwise any client could pick its own key.
func (a *API) clientAddr(r *http.Request) string {
	if a.cfg.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
