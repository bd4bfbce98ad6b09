package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/ratelimit"
)

// RouteFunc names the route a request will be served by, e.g. the ServeMux
// pattern "GET /api/drafts/{session_id}". An empty result means no route matched.
type RouteFunc func(r *http.Request) string

// RateLimit applies limiter to every request whose path starts with prefix.
// The key is the client IP plus the route, so each route has one window per
// caller whatever its path parameters. With a nil route the raw path is used.
// Limiter errors let the request through.
func RateLimit(limiter ratelimit.Limiter, prefix string, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)
			res, err := limiter.Check(r.Context(), limitKey(r, ip, prefix, route))
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					"path", r.URL.Path,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			setLimitHeaders(w.Header(), res)

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(time.Now())))
				slog.WarnContext(r.Context(), "rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
				)
				apperror.Write(w, r, apperror.RateLimited())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitHeaders adds X-RateLimit-* headers to responses under prefix that
// are written before RateLimit ran, such as CSRF rejections. The window is
// read without counting the request.
func RateLimitHeaders(limiter ratelimit.Limiter, prefix string, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}

			lw := &limitHeaderWriter{ResponseWriter: w}
			lw.fill = func() {
				res, err := limiter.Peek(r.Context(), limitKey(r, getClientIP(r), prefix, route))
				if err == nil {
					setLimitHeaders(w.Header(), res)
				}
			}
			next.ServeHTTP(lw, r)
		})
	}
}

func limitKey(r *http.Request, ip, prefix string, route RouteFunc) string {
	if route == nil {
		return ip + ":" + r.URL.Path
	}
	name := route(r)
	if name == "" {
		name = prefix
	}
	return ip + ":" + name
}

func setLimitHeaders(h http.Header, res ratelimit.Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// limitHeaderWriter calls fill before the status line when no limit headers
// were set yet.
type limitHeaderWriter struct {
	http.ResponseWriter
	fill  func()
	wrote bool
}

func (w *limitHeaderWriter) WriteHeader(code int) {
	if !w.wrote {
		w.wrote = true
		if w.Header().Get("X-RateLimit-Limit") == "" {
			w.fill()
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *limitHeaderWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *limitHeaderWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
