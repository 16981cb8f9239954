package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/gate"
	"github.com/crudmeter/crudmeter/internal/usage"
)

// CreditsRemainingHeader reports the balance left after the request's charge.
const CreditsRemainingHeader = "X-Credits-Remaining"

// GateConfig holds configuration for the metered middleware.
type GateConfig struct {
	Gate      *gate.Gate
	Publisher *usage.Publisher // May be nil to disable usage capture
	Logger    *slog.Logger
}

// Metered returns the middleware guarding every credit-consuming endpoint.
// It authenticates the API key, deducts one credit atomically, injects the
// resolved owner into the request context, and records a usage event for
// every admitted request. Rejected requests cost nothing and are not
// recorded as usage.
func Metered(cfg GateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := extractCredential(r)

			result, err := cfg.Gate.AuthorizeAndCharge(r.Context(), credential)
			if err != nil {
				writeGateError(w, r, cfg.Logger, err)
				return
			}

			w.Header().Set(CreditsRemainingHeader, strconv.FormatInt(result.Remaining, 10))

			wrapped := wrapResponseWriter(w)
			ctx := auth.ContextWithUserRef(r.Context(), &result.User)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			if cfg.Publisher != nil {
				cfg.Publisher.PublishAsync(usage.EventPayload{
					UserID:      result.User.ID,
					Endpoint:    routePattern(r),
					Method:      r.Method,
					StatusCode:  wrapped.status,
					RequestedAt: time.Now().UnixMilli(),
					RequestID:   GetRequestID(r.Context()),
				})
			}
		})
	}
}

// extractCredential pulls the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	return r.Header.Get("X-API-Key")
}

// routePattern returns the chi route pattern for the request, falling back
// to the raw path when no pattern matched. Patterns keep usage rows bounded
// in cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeGateError maps gate rejections onto stable HTTP responses. The
// missing-credential and bad-credential cases use distinct statuses; the
// bad-credential message never reveals whether the key exists.
func writeGateError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var status int
	var code, message string

	switch {
	case errors.Is(err, gate.ErrMissingCredential):
		status = http.StatusUnauthorized
		code = "MISSING_API_KEY"
		message = "API key required"
	case errors.Is(err, gate.ErrInvalidKey):
		status = http.StatusForbidden
		code = "INVALID_API_KEY"
		message = "Invalid API key"
	case errors.Is(err, gate.ErrInsufficientCredits):
		status = http.StatusTooManyRequests
		code = "INSUFFICIENT_CREDITS"
		message = "Credit balance exhausted"
	default:
		status = http.StatusInternalServerError
		code = "INTERNAL_ERROR"
		message = "Internal server error"
		logger.Error("gate failure",
			slog.String("error", err.Error()),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
	}

	if status != http.StatusInternalServerError {
		logger.Warn("request rejected",
			slog.String("code", code),
			slog.String("ip", r.RemoteAddr),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}
