package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/orderlink/realtime-server-go/internal/audit"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/httputil"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/util"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

func GetPrincipal(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(model.Principal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

type Authenticator interface {
	Authenticate(token string) (model.Principal, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.Authenticate(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Authenticate verifies the request's bearer token and audits failures.
// The websocket gateway calls it directly before upgrading.
func (m *AuthMiddleware) Authenticate(r *http.Request) (model.Principal, error) {
	token := ExtractToken(r)
	if token == "" {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventAuthFailure,
			Details: map[string]interface{}{"reason": "missing token"},
		})
		return model.Principal{}, apperrors.Unauthenticated("Missing authentication token")
	}

	principal, err := m.auth.Authenticate(token)
	if err != nil {
		eventType := audit.EventAuthFailure
		if apperrors.Is(err, apperrors.ErrCodeTokenExpired) {
			eventType = audit.EventTokenExpired
		}
		audit.LogFromRequest(r, audit.Event{
			Type:    eventType,
			Details: map[string]interface{}{"tokenFingerprint": util.TokenFingerprint(token)},
		})
		return model.Principal{}, err
	}
	return principal, nil
}

// ExtractToken prefers the Authorization header; browsers cannot set
// headers on websocket or EventSource requests so ?token= is accepted too.
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
