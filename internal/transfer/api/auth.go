package api

import (
	"context"
	"net/http"
	"strings"

	"remit/internal/common/logging"
	"remit/internal/transfer/domain"
)

type contextKey string

const (
	currentUserKey  contextKey = "current_user"
	bearerTokenKey  contextKey = "bearer_token"
	bearerPrefix               = "Bearer "
)

// CurrentUser returns the authenticated user attached by requireAuth.
func CurrentUser(ctx context.Context) *domain.User {
	user, _ := ctx.Value(currentUserKey).(*domain.User)
	return user
}

// bearerToken returns the raw token the request authenticated with.
func bearerToken(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey).(string)
	return token
}

// requireAuth wraps a handler with bearer-token authentication. The resolved
// user and the raw token ride on the request context; everything past the
// edge receives them as explicit parameters.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			h.writeError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		token := strings.TrimPrefix(header, bearerPrefix)

		user, err := h.identity.Authenticate(r.Context(), token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), currentUserKey, user)
		ctx = context.WithValue(ctx, bearerTokenKey, token)
		ctx = logging.WithUserID(ctx, user.ID)
		next(w, r.WithContext(ctx))
	}
}
