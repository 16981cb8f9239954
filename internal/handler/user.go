package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/handler/dto"
	"github.com/crudmeter/crudmeter/internal/model"
	"github.com/crudmeter/crudmeter/internal/service"
)

// UserHandler handles sign-in provisioning and the dashboard profile.
type UserHandler struct {
	svc           *service.UserService
	sessionSecret string
	sessionTTL    time.Duration
	logger        *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc *service.UserService, sessionSecret string, sessionTTL time.Duration, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		svc:           svc,
		sessionSecret: sessionSecret,
		sessionTTL:    sessionTTL,
		logger:        logger,
	}
}

// callbackRequest carries the verified identity from the sign-in frontend.
type callbackRequest struct {
	SubjectID string `json:"subject_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Callback handles POST /api/v1/auth/callback.
// First sign-in provisions the account and returns the plaintext API key
// exactly once. Every sign-in returns a fresh session token.
func (h *UserHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	result, err := h.svc.Provision(r.Context(), service.Identity{
		SubjectID: req.SubjectID,
		Email:     req.Email,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	token, err := auth.IssueSessionToken(result.User.ID, result.User.Email, h.sessionSecret, h.sessionTTL)
	if err != nil {
		h.logger.Error("session_token_issue_failed", "error", err, "user_id", result.User.ID)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}

	writeJSON(w, status, model.ProvisionResponse{
		User:         result.User.ToProfileResponse(),
		APIKey:       result.APIKey,
		SessionToken: token,
	})
}

// Me handles GET /api/v1/me. Session-authenticated; never charges credits.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ref := auth.MustUserRefFromContext(r.Context())

	user, err := h.svc.Me(r.Context(), ref.ID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user.ToProfileResponse())
}

// handleServiceError maps service errors to HTTP responses.
func (h *UserHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidIdentity):
		h.writeError(w, http.StatusBadRequest, "INVALID_IDENTITY", "Subject ID and email are required")
	case errors.Is(err, service.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	default:
		h.logger.Error("internal_error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func (h *UserHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
