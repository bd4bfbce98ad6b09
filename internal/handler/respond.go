package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/templui/formpipe/internal/apperror"
)

const maxJSONBody = 1 << 20

// decodeJSON reads a bounded JSON body into v. Oversized bodies are
// PayloadTooLarge, anything unreadable is a Validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	err := render.DecodeJSON(r.Body, v)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.PayloadTooLarge("Request body too large")
	}
	if err != nil {
		return apperror.Validation("Invalid JSON body", apperror.FieldError{Field: "body", Message: err.Error()})
	}
	return nil
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}
