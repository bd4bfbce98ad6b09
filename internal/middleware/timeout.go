package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds the request context. Backend calls made with r.Context()
// give up once d has elapsed. Paths matching exempt (exact, or prefix when the
// entry ends in "/") are left alone so they can set their own bound.
func Timeout(d time.Duration, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if matchesPath(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
