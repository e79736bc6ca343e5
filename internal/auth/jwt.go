// Package auth validates bearer credentials and resolves them to principals.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
)

type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HMAC-signed JWTs carrying sub, role and exp.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Authenticate returns UNAUTHENTICATED for malformed or forged credentials
// and TOKEN_EXPIRED for expired ones.
func (a *Authenticator) Authenticate(token string) (model.Principal, error) {
	if token == "" {
		return model.Principal{}, apperrors.Unauthenticated("Missing bearer credential")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Principal{}, apperrors.TokenExpired()
		}
		return model.Principal{}, apperrors.Unauthenticated("Invalid bearer credential").WithCause(err)
	}

	if claims.Subject == "" {
		return model.Principal{}, apperrors.Unauthenticated("Credential has no subject")
	}
	if !claims.Role.Valid() {
		return model.Principal{}, apperrors.Unauthenticated(fmt.Sprintf("Credential has invalid role %q", claims.Role))
	}

	return model.Principal{
		ID:        claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Issue signs a credential. Used by the token minting script and tests.
func (a *Authenticator) Issue(principalID string, role model.Role, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
