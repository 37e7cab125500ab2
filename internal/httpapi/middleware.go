// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatehouse/gatehouse/internal/auth"
)

type contextKey struct{ name string }

var sessionContextKey = contextKey{"session"}

// sessionFromContext returns the session attached by requireSession, or nil.
func sessionFromContext(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionContextKey).(*auth.Session)
	return s
}

// clientIP extracts the client address for rate limiting. The service runs
// behind a trusted proxy, so the first X-Forwarded-For entry wins.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects requests over the limiter's budget with 429 and a
// Retry-After header.
func (s *Server) rateLimit(limiter *RateLimiter, name, message string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := limiter.Allow(clientIP(r))
		if !allowed {
			s.countRateLimited(name)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, apiResponse{Message: message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders sets the usual hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// sessionFromRequest resolves the session cookie to a live session.
// Returns nil when the cookie is absent, invalid, or expired.
func (s *Server) sessionFromRequest(r *http.Request) *auth.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil
	}
	session, err := s.auth.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return session
}

// requireSession rejects unauthenticated requests with 401 and attaches the
// session to the request context for downstream handlers.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.sessionFromRequest(r)
		if session == nil {
			writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "Unauthorized access."})
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
