package handler

import (
	"net/http"

	"github.com/templui/formpipe/internal/ctxkeys"
)

type CSRFHandler struct{}

func NewCSRFHandler() *CSRFHandler {
	return &CSRFHandler{}
}

// Token returns the token the CSRF middleware issued or found in the cookie.
// Clients echo it in the X-CSRF-Token header.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"token": ctxkeys.CSRFToken(r.Context())})
}
