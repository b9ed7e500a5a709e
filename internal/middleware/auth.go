package middleware

import (
	"context"
	"net/http"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
	"chat-relay/internal/security"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// TokenValidator resolves a bearer token. Implemented by security.TokenValidator.
type TokenValidator interface {
	Validate(ctx context.Context, token string) domain.Principal
}

// Authenticate resolves the request's bearer token into a principal and stores
// it in the context. It never rejects: an unresolvable token yields the
// anonymous principal and the handler decides what that means.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := domain.Anonymous
			if token := security.ExtractToken(r); token != "" {
				principal = validator.Validate(r.Context(), token)
			}

			ctx := WithPrincipal(r.Context(), principal)
			if !principal.IsAnonymous() {
				ctx = observability.WithPrincipalID(ctx, principal.ID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal returns the authenticated principal, or domain.Anonymous.
func GetPrincipal(ctx context.Context) domain.Principal {
	principal, ok := ctx.Value(PrincipalKey).(domain.Principal)
	if !ok {
		return domain.Anonymous
	}
	return principal
}

func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}
