package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/handler/dto"
	"github.com/crudmeter/crudmeter/internal/service"
)

// RechargeHandler exposes the one-time credit top-up.
type RechargeHandler struct {
	svc    *service.RechargeService
	logger *slog.Logger
}

// NewRechargeHandler creates a new RechargeHandler.
func NewRechargeHandler(svc *service.RechargeService, logger *slog.Logger) *RechargeHandler {
	return &RechargeHandler{
		svc:    svc,
		logger: logger,
	}
}

// Recharge handles POST /api/v1/credits/recharge.
// Session-authenticated and free of charge; the grant amount is fixed
// server-side and the request body is ignored.
func (h *RechargeHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	ref := auth.MustUserRefFromContext(r.Context())

	balance, err := h.svc.Recharge(r.Context(), ref.ID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("credits_recharged",
		"user_id", ref.ID,
		"credits", balance.Credits,
	)

	writeJSON(w, http.StatusOK, balance)
}

// handleServiceError maps service errors to HTTP responses.
func (h *RechargeHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAlreadyRecharged):
		h.writeError(w, http.StatusForbidden, "ALREADY_RECHARGED", "Recharge has already been used")
	case errors.Is(err, service.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	default:
		h.logger.Error("internal_error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func (h *RechargeHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
