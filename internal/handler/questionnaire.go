package handler

import (
	"net/http"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/service"
)

type QuestionnaireHandler struct {
	questionnaireService *service.QuestionnaireService
	locales              *service.Locales
}

func NewQuestionnaireHandler(questionnaireService *service.QuestionnaireService, locales *service.Locales) *QuestionnaireHandler {
	return &QuestionnaireHandler{
		questionnaireService: questionnaireService,
		locales:              locales,
	}
}

func (h *QuestionnaireHandler) Show(w http.ResponseWriter, r *http.Request) {
	q, err := h.questionnaireService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	locale := h.locales.Match(r.URL.Query().Get("locale"), r.Header.Get("Accept-Language"))
	respond(w, r, http.StatusOK, service.Localize(q, locale, h.locales.Default()))
}
