package handler

import (
	"net/http"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/ctxkeys"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/service"
)

const maxMetadataEntries = 32

type SubmitHandler struct {
	submissionService *service.SubmissionService
}

func NewSubmitHandler(submissionService *service.SubmissionService) *SubmitHandler {
	return &SubmitHandler{submissionService: submissionService}
}

type submitRequest struct {
	SessionID       string            `json:"session_id"`
	QuestionnaireID string            `json:"questionnaire_id"`
	Responses       []model.Response  `json:"responses"`
	Metadata        map[string]string `json:"metadata"`
	Email           string            `json:"email"`
	Locale          string            `json:"locale"`
	NewsletterOptIn bool              `json:"newsletter_optin"`
}

func (h *SubmitHandler) Form(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.QuestionnaireKindForm)
}

func (h *SubmitHandler) Survey(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, model.QuestionnaireKindSurvey)
}

func (h *SubmitHandler) submit(w http.ResponseWriter, r *http.Request, kind string) {
	var req submitRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	if len(req.Metadata) > maxMetadataEntries {
		apperror.Write(w, r, apperror.Validation("Invalid submission", apperror.FieldError{Field: "metadata", Message: "too many entries"}))
		return
	}

	result, err := h.submissionService.Submit(r.Context(), service.Submission{
		Kind:            kind,
		SessionID:       req.SessionID,
		QuestionnaireID: req.QuestionnaireID,
		Responses:       req.Responses,
		Email:           req.Email,
		Locale:          req.Locale,
		NewsletterOptIn: req.NewsletterOptIn,
		Metadata:        req.Metadata,
		ClientIP:        ctxkeys.ClientIP(r.Context()),
		UserAgent:       r.UserAgent(),
		AcceptLanguage:  r.Header.Get("Accept-Language"),
	})
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, result)
}
