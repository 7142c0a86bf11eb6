package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/model"
)

type contextKey int

const userContextKey contextKey = iota

func userFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userContextKey).(model.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
			return
		}
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return s.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFromContext(r.Context())
		if user.Role != model.RoleAdmin {
			writeError(w, apperr.New(apperr.Forbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}
