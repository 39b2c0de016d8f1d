// Package http exposes the JSON API for accounts, subscriptions and
// analytics.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"subwatch/internal/cache"
	"subwatch/internal/core"
	"subwatch/internal/services"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyUserID    ctxKey = "user_id"
)

type Server struct {
	http.Server
	auth          *services.AuthService
	subscriptions *services.SubscriptionService
	rateLimiter   *rateLimiter
	readOnly      bool

	// Per-user analytics cache, invalidated on any subscription write.
	statsCache *cache.LRUCache[core.Stats]

	shutdownOnce sync.Once
}

func NewServer(addr string, auth *services.AuthService, subs *services.SubscriptionService, readOnly bool) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		auth:          auth,
		subscriptions: subs,
		rateLimiter:   newRateLimiter(),
		readOnly:      readOnly,
		statsCache:    cache.NewLRUCache[core.Stats](500, 5*time.Minute),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/auth/register", s.withMiddleware(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.withMiddleware(s.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", s.withMiddleware(s.requireAuth(s.handleLogout)))
	mux.HandleFunc("PUT /api/user/password", s.withMiddleware(s.requireAuth(s.handleChangePassword)))
	mux.HandleFunc("GET /api/user/profile", s.withMiddleware(s.requireAuth(s.handleGetProfile)))
	mux.HandleFunc("PUT /api/user/profile", s.withMiddleware(s.requireAuth(s.handleUpdateProfile)))

	mux.HandleFunc("GET /api/subscriptions", s.withMiddleware(s.requireAuth(s.handleListSubscriptions)))
	mux.HandleFunc("POST /api/subscriptions", s.withMiddleware(s.requireAuth(s.handleCreateSubscription)))
	mux.HandleFunc("GET /api/subscriptions/{id}", s.withMiddleware(s.requireAuth(s.handleGetSubscription)))
	mux.HandleFunc("PUT /api/subscriptions/{id}", s.withMiddleware(s.requireAuth(s.handleUpdateSubscription)))
	mux.HandleFunc("DELETE /api/subscriptions/{id}", s.withMiddleware(s.requireAuth(s.handleDeleteSubscription)))
	mux.HandleFunc("POST /api/subscriptions/{id}/cancel", s.withMiddleware(s.requireAuth(s.handleCancelSubscription)))
	mux.HandleFunc("POST /api/subscriptions/{id}/reactivate", s.withMiddleware(s.requireAuth(s.handleReactivateSubscription)))
	mux.HandleFunc("GET /api/subscriptions/{id}/payments", s.withMiddleware(s.requireAuth(s.handleListPayments)))

	mux.HandleFunc("GET /api/analytics/summary", s.withMiddleware(s.requireAuth(s.handleAnalyticsSummary)))
	mux.HandleFunc("GET /api/analytics/trend", s.withMiddleware(s.requireAuth(s.handleAnalyticsTrend)))
	mux.HandleFunc("GET /api/meta/options", s.withMiddleware(s.handleMetaOptions))

	return s
}

// Shutdown stops the HTTP server and the rate limiter cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withMiddleware adds security headers, rate limiting and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds())
	}
}

// requireAuth resolves the bearer token and stores the user ID in the request
// context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		user, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, user.ID)
		next(w, r.WithContext(ctx))
	}
}

// requireWritable rejects mutating requests while the read-only flag is set.
// Returns false after writing the response when the request must not proceed.
func (s *Server) requireWritable(w http.ResponseWriter, r *http.Request) bool {
	if !s.readOnly {
		return true
	}
	slog.WarnContext(r.Context(), "Write rejected in read-only mode", "method", r.Method, "url", r.URL.Path)
	writeError(w, http.StatusForbidden, "service is in read-only mode")
	return false
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
