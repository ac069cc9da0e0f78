package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gatewarden/pkg/requestcontext"
)

// requestMeta stamps each request with an ID and its arrival time so every
// layer below logs and decides against the same clock.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request in the structured format.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", requestcontext.RequestID(r.Context()),
			)
		})
	}
}

// gateAuth authenticates gate clients by API key. The key arrives in
// X-Gate-Key and is checked against the configured bcrypt hash; the gate's
// identity arrives in X-Gate-ID and lands in the request context.
func gateAuth(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				// Auth not configured; local development only.
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-Gate-Key")
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing gate key")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				logger.WarnContext(r.Context(), "gate auth rejected",
					"gate_id", r.Header.Get("X-Gate-ID"))
				writeError(w, http.StatusUnauthorized, "invalid gate key")
				return
			}
			ctx := requestcontext.WithGateID(r.Context(), r.Header.Get("X-Gate-ID"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// operatorAuth authenticates dashboard operators with an HS256 bearer token.
// The token subject becomes the operator recorded on incident actions. For
// the SSE stream the token may also arrive as a query parameter, since
// EventSource cannot set headers.
func operatorAuth(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				// Auth not configured; trust the X-Operator header for local
				// development.
				ctx := requestcontext.WithOperator(r.Context(), r.Header.Get("X-Operator"))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing operator token")
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "operator auth rejected", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid operator token")
				return
			}
			ctx := requestcontext.WithOperator(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
