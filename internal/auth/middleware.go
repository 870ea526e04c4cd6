package auth

import (
	"context"
	"errors"
	"net/http"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireSession authenticates the session cookie and stores the principal
// in the request context. A renewed sliding session reissues the cookie.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(h.service.Policy().Cookie.Name)
		if err != nil || cookie.Value == "" {
			h.writeUnauthenticated(w)
			return
		}

		principal, err := h.service.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			if errors.Is(err, ErrInvalidSession) {
				h.clearSessionCookie(w)
				h.writeUnauthenticated(w)
				return
			}
			writeServerError(w, err, "failed to authenticate")
			return
		}

		if principal.Renewed {
			h.setSessionCookie(w, principal.Grant)
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole must run inside RequireSession.
func (h *Handler) RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			h.writeUnauthenticated(w)
			return
		}
		if !principal.InRole(role) {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":    "access denied",
				"redirect": h.service.Policy().Paths.AccessDenied,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":    "authentication required",
		"redirect": h.service.Policy().Paths.Login,
	})
}
