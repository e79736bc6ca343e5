package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/orderlink/realtime-server-go/internal/audit"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/httputil"
)

// IPRateLimitMiddleware throttles requests per client IP before any token
// is checked, so unauthenticated probing is bounded.
type IPRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	prefix  string
}

func NewIPRateLimitMiddleware(limiter Limiter, limit int, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, _, resetAt := m.limiter.Check(r.Context(), key, m.limit)

		if !allowed {
			secondsLeft := int(time.Until(time.Unix(resetAt, 0)).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.prefix},
			})
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
