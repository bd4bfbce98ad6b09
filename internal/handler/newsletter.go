package handler

import (
	"log/slog"
	"net/http"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/service"
)

type NewsletterHandler struct {
	newsletterService *service.NewsletterService
}

func NewNewsletterHandler(newsletterService *service.NewsletterService) *NewsletterHandler {
	return &NewsletterHandler{newsletterService: newsletterService}
}

type subscribeRequest struct {
	Email  string `json:"email"`
	Locale string `json:"locale"`
}

func (h *NewsletterHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	err = h.newsletterService.Subscribe(r.Context(), req.Email, req.Locale, model.NewsletterSourceSignup)
	if apperror.Is(err, apperror.KindValidation) {
		apperror.Write(w, r, err)
		return
	}
	if err != nil {
		// Report success anyway so the endpoint cannot be used to enumerate addresses
		slog.ErrorContext(r.Context(), "newsletter subscription error", "error", err)
	}

	respond(w, r, http.StatusOK, map[string]string{"status": "subscribed"})
}
