package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tender-gateway/models"
	"tender-gateway/service"
)

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the identity the auth middleware attached to the
// request, if any.
func identityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}

// requireRole validates the bearer token before the handler runs. An empty
// role means any authenticated identity is acceptable.
func (s *Server) requireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "AUTHENTICATION", "missing bearer token")
				return
			}

			identity, err := s.sessions.Authorize(token, role)
			if err != nil {
				if errors.Is(err, service.ErrForbidden) {
					writeError(w, http.StatusForbidden, "AUTHORIZATION", "insufficient role")
					return
				}
				writeError(w, http.StatusUnauthorized, "AUTHENTICATION", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
