package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/config"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/middleware"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/service"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// TrackingEventsHandler streams a tracking room over SSE. The stream is a
// read-only session: it receives the same events a websocket subscriber
// would but can never publish.
type TrackingEventsHandler struct {
	sessions *service.SessionService
	rooms    *service.RoomService
}

func NewTrackingEventsHandler(sessions *service.SessionService, rooms *service.RoomService) *TrackingEventsHandler {
	return &TrackingEventsHandler{
		sessions: sessions,
		rooms:    rooms,
	}
}

// GET /v1/orders/{orderId}/tracking/events
func (h *TrackingEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthenticated("Unauthorized"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")

	sess := h.sessions.Connect(ctx, principal, true)
	if _, err := h.rooms.Join(ctx, sess, model.RoomRequest{Kind: model.RoomKindTracking, OrderID: orderID}); err != nil {
		h.sessions.Disconnect(ctx, sess, session.ReasonClientClosed)
		writeError(w, err)
		return
	}
	defer h.sessions.Disconnect(context.WithoutCancel(ctx), sess, session.ReasonClientClosed)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().
		Str("sessionId", sess.ID).
		Str("principalId", principal.ID).
		Str("orderId", orderID).
		Msg("tracking stream established")

	heartbeat := time.NewTicker(config.SSEHeartbeatInterval)
	defer heartbeat.Stop()

	expiry := time.NewTimer(time.Until(principal.ExpiresAt))
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", sess.ID).
				Msg("tracking stream closed by client")
			return

		case <-sess.Done():
			log.Info().
				Str("sessionId", sess.ID).
				Int("closeCode", sess.CloseReason().Code).
				Msg("tracking stream closed by server")
			return

		case frame := <-sess.Outbound():
			if err := h.sendFrame(w, flusher, frame); err != nil {
				log.Debug().Err(err).Str("sessionId", sess.ID).Msg("failed to write tracking event")
				return
			}

		case <-expiry.C:
			frame, err := model.NewEvent(model.EventSessionExpired, model.SessionExpired{Reason: "credential expired"})
			if err == nil {
				h.sendFrame(w, flusher, frame)
			}
			sess.Close(session.ReasonSessionExpired)
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sess.ID).
					Msg("heartbeat failed, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *TrackingEventsHandler) sendFrame(w http.ResponseWriter, flusher http.Flusher, frame model.Frame) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", frame.Type); err != nil {
		return err
	}
	data := frame.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
