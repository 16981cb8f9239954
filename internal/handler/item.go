package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crudmeter/crudmeter/internal/auth"
	"github.com/crudmeter/crudmeter/internal/handler/dto"
	"github.com/crudmeter/crudmeter/internal/service"
)

// ItemHandler handles HTTP requests for item operations. Every route here is
// behind the metered middleware, so the owner is always on the context and
// the request has already been charged.
type ItemHandler struct {
	svc    *service.ItemService
	logger *slog.Logger
}

// NewItemHandler creates a new ItemHandler.
func NewItemHandler(svc *service.ItemService, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /api/v1/items.
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustUserRefFromContext(r.Context())

	var req dto.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	item, err := h.svc.CreateItem(r.Context(), *owner, service.CreateItemInput{
		Value:  req.Value,
		TxHash: req.TxHash,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("item_created",
		"item_id", item.ID,
		"owner_id", owner.ID,
	)

	writeJSON(w, http.StatusCreated, dto.ToItemResponse(item))
}

// Get handles GET /api/v1/items/{id}.
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustUserRefFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "Item ID is required")
		return
	}

	item, err := h.svc.GetItem(r.Context(), *owner, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToItemResponse(item))
}

// GetByTxHash handles GET /api/v1/items/tx/{txHash}.
func (h *ItemHandler) GetByTxHash(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustUserRefFromContext(r.Context())

	txHash := chi.URLParam(r, "txHash")
	if txHash == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_TX_HASH", "Transaction hash is required")
		return
	}

	item, err := h.svc.GetItemByTxHash(r.Context(), *owner, txHash)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToItemResponse(item))
}

// List handles GET /api/v1/items.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustUserRefFromContext(r.Context())

	items, err := h.svc.ListItems(r.Context(), *owner)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToItemListResponse(items))
}

// Update handles PUT /api/v1/items/{id}.
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustUserRefFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "Item ID is required")
		return
	}

	var req dto.UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.Value == nil {
		h.writeError(w, http.StatusBadRequest, "MISSING_VALUE", "Value is required")
		return
	}

	item, err := h.svc.UpdateItem(r.Context(), *owner, id, *req.Value)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("item_updated",
		"item_id", item.ID,
		"owner_id", owner.ID,
	)

	writeJSON(w, http.StatusOK, dto.ToItemResponse(item))
}

// Delete handles DELETE /api/v1/items/{id}.
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustUserRefFromContext(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "Item ID is required")
		return
	}

	if err := h.svc.DeleteItem(r.Context(), *owner, id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("item_deleted", "item_id", id, "owner_id", owner.ID)

	w.WriteHeader(http.StatusNoContent)
}

// handleServiceError maps service errors to HTTP responses. Foreign and
// missing items produce the same 404.
func (h *ItemHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrItemNotFound):
		h.writeError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "Item not found")
	case errors.Is(err, service.ErrInvalidTxHash):
		h.writeError(w, http.StatusBadRequest, "INVALID_TX_HASH", "Invalid transaction hash")
	default:
		h.logger.Error("internal_error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// writeError writes an error response.
func (h *ItemHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
