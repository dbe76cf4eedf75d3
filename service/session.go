package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tender-gateway/models"
)

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionGate issues and validates the stateless bearer tokens carrying
// subject and role.
type SessionGate struct {
	secret []byte
	ttl    time.Duration
}

func NewSessionGate(secret []byte, ttl time.Duration) *SessionGate {
	return &SessionGate{secret: secret, ttl: ttl}
}

// IssueToken mints a signed token for an already-authenticated identity.
func (g *SessionGate) IssueToken(identity models.Identity) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Role: string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Authorize validates a token and, when requiredRole is non-empty, checks
// the role claim against it.
func (g *SessionGate) Authorize(token string, requiredRole models.Role) (models.Identity, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Identity{}, ErrTokenInvalid
	}

	identity := models.Identity{
		Username: claims.Subject,
		Role:     models.Role(claims.Role),
	}
	if requiredRole != "" && identity.Role != requiredRole {
		return models.Identity{}, ErrForbidden
	}
	return identity, nil
}
