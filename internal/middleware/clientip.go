package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/templui/formpipe/internal/ctxkeys"
)

// WithClientIP resolves the caller address once and adds it to the context.
// Proxy headers are only honored when trustProxy is set, which is only safe
// behind a proxy that appends to X-Forwarded-For.
func WithClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ctxkeys.WithClientIP(r.Context(), clientIP(r, trustProxy))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getClientIP returns the address stored by WithClientIP, falling back to the
// connection address when the middleware is not installed.
func getClientIP(r *http.Request) string {
	if ip := ctxkeys.ClientIP(r.Context()); ip != "" {
		return ip
	}
	return clientIP(r, false)
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Rightmost X-Forwarded-For entry: the address our proxy saw.
		// Entries to its left come from the client and can be forged.
		xff := strings.Join(r.Header.Values("X-Forwarded-For"), ",")
		if i := strings.LastIndexByte(xff, ','); i >= 0 {
			xff = xff[i+1:]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}

		// Check X-Real-IP header
		xri := r.Header.Get("X-Real-IP")
		if xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	// Fallback to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
