package handler

import (
	"net/http"
	"time"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/ctxkeys"
	"github.com/templui/formpipe/internal/service"
)

const (
	ConsentCookieName = "cookie_consent_id"
	consentCookieAge  = 365 * 24 * time.Hour
)

type ConsentHandler struct {
	consentService *service.ConsentService
}

func NewConsentHandler(consentService *service.ConsentService) *ConsentHandler {
	return &ConsentHandler{consentService: consentService}
}

func (h *ConsentHandler) Get(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(ConsentCookieName)
	if err != nil {
		apperror.Write(w, r, apperror.NotFound("No consent recorded"))
		return
	}

	consent, err := h.consentService.Get(r.Context(), cookie.Value)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, consent)
}

// Save records the visitor's choices and (re)issues the consent cookie.
func (h *ConsentHandler) Save(w http.ResponseWriter, r *http.Request) {
	var choices service.ConsentChoices
	err := decodeJSON(w, r, &choices)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	var id string
	if cookie, err := r.Cookie(ConsentCookieName); err == nil {
		id = cookie.Value
	}

	consent, err := h.consentService.Save(r.Context(), id, choices)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	cfg := ctxkeys.Config(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     ConsentCookieName,
		Value:    consent.ID,
		Path:     "/",
		MaxAge:   int(consentCookieAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg != nil && cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	respond(w, r, http.StatusOK, consent)
}
