package middleware

import (
	"context"
	"net/http"

	"github.com/vedran77/orderchat/internal/domain"
)

type contextKey string

const IdentityKey contextKey = "identity"

// Verifier turns a bearer token into a verified identity.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

func Auth(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Missing or invalid token"}}`, http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(header)
			if err != nil {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Invalid or expired token"}}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity extracts the verified caller from request context
func GetIdentity(ctx context.Context) domain.Identity {
	return ctx.Value(IdentityKey).(domain.Identity)
}
