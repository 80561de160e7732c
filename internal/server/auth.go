package server

import (
	"net/http"

	"github.com/syaikhipin/ipinproxy/internal/auth"
	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// AuthMiddleware validates API keys and injects the caller identity into the
// request context. A nil authenticator disables authentication entirely.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authenticator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				writeError(w, r, domain.ErrAuthentication(err.Error()))
				return
			}

			identity, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				writeError(w, r, domain.ErrAuthentication("invalid API key"))
				return
			}

			AddLogField(r.Context(), "user", identity.UserName)
			ctx := auth.WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
