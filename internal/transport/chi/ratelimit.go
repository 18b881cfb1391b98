package chi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/atriumhq/omnisearch/internal/domain"
	"github.com/atriumhq/omnisearch/internal/ratelimit"
)

// limiter is the consumer interface for admission control (ISP).
type limiter interface {
	Allow(ctx context.Context, p domain.Principal, subject, endpoint string) ratelimit.Decision
}

// RateLimitMiddleware gates requests with the sliding-window limiter. The
// subject is the principal id for authenticated callers and the client IP for
// anonymous ones. Quota headers go on every response; rejections get a 429
// with a retry hint.
func RateLimitMiddleware(l limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				p = domain.Principal{Tier: domain.TierAnonymous}
			}
			subject := p.ID
			if subject == "" {
				subject = clientIP(r)
			}

			d := l.Allow(r.Context(), p, subject, r.URL.Path)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := int64(d.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Code:              codeRateLimited,
					Message:           domain.ErrRateLimited.Error(),
					RetryAfterSeconds: retryAfter,
					TenantID:          p.TenantID,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
