package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/ticketauth"
	"github.com/MrEthical07/ticketauth/access"
)

// Authorizer is the subset of *ticketauth.Engine used by Gate.
type Authorizer interface {
	Authorize(ctx context.Context, path, token string) (*ticketauth.Principal, access.Decision, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the caller attached by Gate. Public paths
// never carry a principal, even when a token was sent.
func PrincipalFromContext(ctx context.Context) (*ticketauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*ticketauth.Principal)
	return p, ok && p != nil
}

// Gate enforces the engine's routing policy on every request.
func Gate(engine Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if ticketauth.ClientIPFromContext(ctx) == "" {
				ctx = ticketauth.WithClientIP(ctx, remoteHost(r))
			}

			principal, decision, _ := engine.Authorize(ctx, r.URL.Path, extractToken(r))
			switch decision {
			case access.Allow:
			case access.Forbidden:
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			default:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if principal != nil {
				ctx = context.WithValue(ctx, principalContextKey{}, principal)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken returns the first non-empty token from the bearer header,
// the "token" header and the "token" query parameter, in that order.
func extractToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if token := strings.TrimSpace(r.Header.Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ExtractToken exposes the Gate's token lookup for handlers such as logout.
func ExtractToken(r *http.Request) string {
	return extractToken(r)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
