package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/templui/formpipe/internal/ctxkeys"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with a random id, echoed in the X-Request-ID
// response header and attached to request logs. An incoming id from a trusted
// proxy is kept when it looks sane.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = generateRequestID()
		}

		w.Header().Set(requestIDHeader, id)
		ctx := ctxkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID returns 16 random bytes hex encoded (32 chars)
func generateRequestID() string {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
