package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/ctxkeys"
)

const (
	CSRFCookieName = "csrf_token"
	CSRFHeader     = "X-CSRF-Token"
	csrfTokenLen   = 32
)

// CSRFProtection enforces the double-submit cookie pattern on state-changing
// requests: the csrf_token cookie must be echoed byte for byte in the
// X-CSRF-Token header. Safe methods get a cookie issued when none is present.
// Paths matching an entry in exempt (exact, or prefix when it ends in "/") skip
// validation.
func CSRFProtection(exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip CSRF check for safe methods (GET, HEAD, OPTIONS)
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				token := getOrGenerateCSRFToken(w, r)
				ctx := ctxkeys.WithCSRFToken(r.Context(), token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if matchesPath(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}

			// The token must come from the cookie the browser sent. A missing cookie
			// fails validation rather than minting a fresh one mid-request.
			var cookieToken string
			if cookie, err := r.Cookie(CSRFCookieName); err == nil {
				cookieToken = cookie.Value
			}
			submittedToken := r.Header.Get(CSRFHeader)

			if !ValidCSRFToken(cookieToken, submittedToken) {
				slog.WarnContext(r.Context(), "csrf validation failed",
					"path", r.URL.Path,
					"method", r.Method,
					"ip", getClientIP(r),
					"has_cookie", cookieToken != "",
					"has_header", submittedToken != "",
				)
				apperror.Write(w, r, apperror.CSRF())
				return
			}

			ctx := ctxkeys.WithCSRFToken(r.Context(), cookieToken)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func matchesPath(path string, exempt []string) bool {
	for _, e := range exempt {
		if path == e || (strings.HasSuffix(e, "/") && strings.HasPrefix(path, e)) {
			return true
		}
	}
	return false
}

// getOrGenerateCSRFToken retrieves existing token or generates new one
func getOrGenerateCSRFToken(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" && len(cookie.Value) == base64.RawURLEncoding.EncodedLen(csrfTokenLen) {
		return cookie.Value
	}

	token := generateCSRFToken()

	cfg := ctxkeys.Config(r.Context())
	isProduction := cfg != nil && cfg.IsProduction()

	// Not HttpOnly: the client script reads the cookie to mirror it into the header
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   isProduction, // Secure flag based on APP_ENV (safer than r.TLS behind load balancers)
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400 * 7, // 7 days
	})

	return token
}

// generateCSRFToken creates cryptographically secure random token
func generateCSRFToken() string {
	bytes := make([]byte, csrfTokenLen)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("failed to generate csrf token: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// ValidCSRFToken reports whether both tokens are present and identical,
// using a constant-time comparison.
func ValidCSRFToken(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) == 1
}
