package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure      EventType = "auth_failure"
	EventTokenExpired     EventType = "token_expired"
	EventForbiddenJoin    EventType = "forbidden_join"
	EventForbiddenPublish EventType = "forbidden_publish"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
	EventSlowConsumer     EventType = "slow_consumer"
	EventSessionCreate    EventType = "session_create"
	EventSessionDelete    EventType = "session_delete"
)

type Event struct {
	Type        EventType
	PrincipalID string
	SessionID   string
	OrderID     string
	IP          string
	UserAgent   string
	Details     map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.PrincipalID != "" {
		logger = logger.With().Str("principalId", event.PrincipalID).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.OrderID != "" {
		logger = logger.With().Str("orderId", event.OrderID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
