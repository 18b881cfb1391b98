package chi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/atriumhq/omnisearch/internal/config"
	"github.com/atriumhq/omnisearch/internal/domain"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type principalCtxKey struct{}

// ContextWithPrincipal attaches the resolved principal to the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext returns the principal resolved by the auth middleware.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(domain.Principal)
	return p, ok
}

// BearerAuthMiddleware resolves the Authorization header to a tenant-scoped
// principal. A valid API key yields its configured identity; no header at all
// yields an anonymous principal scoped by the X-Tenant-ID header. A key that
// is present but unknown is rejected outright.
func BearerAuthMiddleware(apiKeys map[string]config.KeyPrincipal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				p := domain.Principal{
					TenantID: r.Header.Get("X-Tenant-ID"),
					Tier:     domain.TierAnonymous,
				}
				next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, codeUnauthorized,
					"authorization header must use Bearer scheme")
				return
			}

			key, ok := apiKeys[auth[len(bearerPrefix):]]
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
				return
			}

			tier := domain.TierAuthenticated
			if key.Tier == "premium" {
				tier = domain.TierPremium
			}
			p := domain.Principal{
				TenantID: key.TenantID,
				ID:       key.PrincipalID,
				TeamIDs:  key.TeamIDs,
				Tier:     tier,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// clientIP extracts the caller address used as the anonymous rate-limit
// subject. X-Forwarded-For wins when a proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
