package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/middleware"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/service"
)

// HistoryHandler serves backfill pages and unread counts over REST.
type HistoryHandler struct {
	messages *service.MessageService
	receipts *service.ReceiptService
}

func NewHistoryHandler(messages *service.MessageService, receipts *service.ReceiptService) *HistoryHandler {
	return &HistoryHandler{
		messages: messages,
		receipts: receipts,
	}
}

func (h *HistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/orders/{orderId}/messages", h.Messages)
	r.Get("/unread", h.Unread)

	return r
}

// GET /v1/orders/{orderId}/messages?before=<seq>&limit=<n>
func (h *HistoryHandler) Messages(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthenticated("Unauthorized"))
		return
	}

	params, err := ParseHistoryParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.messages.Page(r.Context(), principal.ID, chi.URLParam(r, "orderId"), params.Before, params.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []model.Message{}
	}

	writeJSON(w, http.StatusOK, page)
}

// GET /v1/unread
func (h *HistoryHandler) Unread(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthenticated("Unauthorized"))
		return
	}

	counts, err := h.receipts.Unread(r.Context(), principal.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}
