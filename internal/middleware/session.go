package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/model"
)

// SessionCookieName is the cookie carrying the dashboard session token.
const SessionCookieName = "crudmeter_session"

// SessionConfig holds configuration for the session middleware.
type SessionConfig struct {
	Secret string
	Logger *slog.Logger
}

// Session returns a middleware that authenticates dashboard requests with a
// session token. The token is read from the Authorization header or the
// session cookie. Session routes never touch the credit balance.
func Session(cfg SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				writeSessionError(w, cfg.Logger, r, "missing_token")
				return
			}

			claims, err := auth.VerifySessionToken(token, cfg.Secret)
			if err != nil {
				writeSessionError(w, cfg.Logger, r, "invalid_token")
				return
			}

			ctx := auth.ContextWithSession(r.Context(), claims)
			ctx = auth.ContextWithUserRef(ctx, &model.UserRef{ID: claims.UserID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractSessionToken reads the session token from the request.
func extractSessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// writeSessionError writes a 401 with a single message for all session
// failures to prevent probing.
func writeSessionError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("session authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Invalid or missing session","code":"UNAUTHORIZED"}`))
}
