// Package auth is the identity provider boundary: it turns a bearer token into
// the (userId, role) pair the recovery core trusts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

// Claims are the JWT claims expected from the identity provider
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTValidator verifies HS256 tokens signed with a shared secret
type JWTValidator struct {
	secret []byte
	leeway time.Duration
}

// NewJWTValidator returns nil when no secret is configured; the middleware then fails closed.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret), leeway: 30 * time.Second}
}

// Validate parses a token and returns the actor it names
func (v *JWTValidator) Validate(tokenStr string) (models.Actor, error) {
	if v == nil {
		return models.Actor{}, errors.New("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return models.Actor{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return models.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return models.Actor{}, errors.New("token subject is required")
	}

	role := claims.Role
	switch role {
	case models.RoleAdmin, models.RoleUser:
	case "":
		role = models.RoleUser
	default:
		// system identity is never granted by a bearer token
		return models.Actor{}, fmt.Errorf("unknown role %q", role)
	}
	return models.Actor{UserID: claims.Subject, Role: role}, nil
}

// Sign issues a token for actor. Used by tooling and tests.
func (v *JWTValidator) Sign(actor models.Actor, ttl time.Duration) (string, error) {
	if v == nil {
		return "", errors.New("validator uninitialized")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: actor.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
