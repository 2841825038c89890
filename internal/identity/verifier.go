// Package identity verifies access tokens issued by the external
// identity service and fetches tenant branding from it.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token verification errors.
var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingTenant = errors.New("token has no tenant claim")
)

// Claims are the token claims herald relies on. The identity service
// puts the user id in both `sub` and `user_id`; `tenant_id` scopes every
// downstream query.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 access tokens with the shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.TenantID == "" {
		return nil, ErrMissingTenant
	}
	return claims, nil
}

// ValidateToken implements httputil.TokenValidator.
func (v *Verifier) ValidateToken(_ context.Context, token string) (userID, tenantID string, err error) {
	claims, err := v.Verify(token)
	if err != nil {
		return "", "", err
	}
	return claims.UserID, claims.TenantID, nil
}
