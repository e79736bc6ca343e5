package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/config"
)

// Pinger is satisfied by the database and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks   map[string]Pinger
	sessions func() int
}

func NewHealthHandler(checks map[string]Pinger, sessions func() int) *HealthHandler {
	return &HealthHandler{checks: checks, sessions: sessions}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	body := map[string]any{
		"status":       "ok",
		"timestamp":    time.Now().UnixMilli(),
		"dependencies": deps,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions()
	}

	writeJSON(w, status, body)
}
