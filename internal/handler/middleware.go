package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sms-auth-service/internal/models"
	"sms-auth-service/internal/service"
	"sms-auth-service/internal/token"
	"sms-auth-service/internal/util"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the authenticated user stored by Authenticate.
func IdentityFrom(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(identityKey).(*models.User)
	return user, ok
}

// AccessGuard protects routes behind a valid access token and,
// optionally, the admin role.
type AccessGuard struct {
	tokens *token.Generator
	auth   *service.AuthService
}

func NewAccessGuard(tokens *token.Generator, auth *service.AuthService) *AccessGuard {
	return &AccessGuard{
		tokens: tokens,
		auth:   auth,
	}
}

// Authenticate extracts the bearer token, verifies it and loads the
// identity it names into the request context.
func (g *AccessGuard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "TOKEN_MISSING", "Token de acceso requerido", nil)
			return
		}

		claims, err := g.tokens.VerifyAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "TOKEN_INVALID", "Token de acceso invalido", nil)
			return
		}

		user, err := g.auth.GetUserByID(r.Context(), claims.Subject)
		if err != nil {
			util.Warn("token subject has no identity",
				zap.String("user_id", claims.Subject),
				zap.Error(err))
			respondError(w, http.StatusUnauthorized, "USER_INVALID", "Usuario no valido", nil)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects any identity whose role is not admin. It must
// run after Authenticate.
func (g *AccessGuard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := IdentityFrom(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "No autenticado", nil)
			return
		}
		if user.Role != models.RoleAdmin {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "Acceso restringido a administradores", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
