package handler

import (
	"net/http"
	"time"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/ctxkeys"
	"github.com/templui/formpipe/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type createSessionRequest struct {
	QuestionnaireID   string `json:"questionnaire_id"`
	Locale            string `json:"locale"`
	Email             string `json:"email"`
	OriginalSessionID string `json:"original_session_id"`
}

type sessionResponse struct {
	SessionID       string    `json:"session_id"`
	QuestionnaireID string    `json:"questionnaire_id"`
	Locale          string    `json:"locale"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Create starts a session when a questionnaire is first shown.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	if req.QuestionnaireID == "" {
		apperror.Write(w, r, apperror.Validation("Invalid session", apperror.FieldError{Field: "questionnaire_id", Message: "required"}))
		return
	}

	session, err := h.sessionService.Create(r.Context(), service.NewSession{
		QuestionnaireID:   req.QuestionnaireID,
		Locale:            req.Locale,
		AcceptLanguage:    r.Header.Get("Accept-Language"),
		ClientIP:          ctxkeys.ClientIP(r.Context()),
		UserAgent:         r.UserAgent(),
		Email:             req.Email,
		OriginalSessionID: req.OriginalSessionID,
	})
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, sessionResponse{
		SessionID:       session.ID,
		QuestionnaireID: session.QuestionnaireID,
		Locale:          session.Locale,
		ExpiresAt:       session.ExpiresAt,
	})
}
