package handler

import (
	"net/http"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/service"
)

type DraftHandler struct {
	draftService *service.DraftService
}

func NewDraftHandler(draftService *service.DraftService) *DraftHandler {
	return &DraftHandler{draftService: draftService}
}

type saveDraftRequest struct {
	Responses []model.Response `json:"responses"`
}

func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.draftService.Get(r.Context(), r.PathValue("session_id"))
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, d)
}

func (h *DraftHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveDraftRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	d, err := h.draftService.Save(r.Context(), r.PathValue("session_id"), req.Responses)
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, d)
}

func (h *DraftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.draftService.Delete(r.Context(), r.PathValue("session_id"))
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}
