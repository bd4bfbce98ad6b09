package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/service"
)

// multipartOverhead leaves room for form fields and boundaries around the file
const multipartOverhead = 1 << 20

type UploadHandler struct {
	uploadService *service.UploadService
	maxFileSize   int64
}

func NewUploadHandler(uploadService *service.UploadService, maxFileSize int64) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		maxFileSize:   maxFileSize,
	}
}

// Upload attaches a file to a question of a session.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, true)
}

// UploadFile attaches a file to a session without a question.
func (h *UploadHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, false)
}

func (h *UploadHandler) upload(w http.ResponseWriter, r *http.Request, withQuestion bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	err := r.ParseMultipartForm(multipartOverhead)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperror.Write(w, r, apperror.PayloadTooLarge("File exceeds the size limit"))
			return
		}
		apperror.Write(w, r, apperror.Validation("Failed to parse form", apperror.FieldError{Field: "file", Message: err.Error()}))
		return
	}
	defer func() {
		removeErr := r.MultipartForm.RemoveAll()
		if removeErr != nil {
			slog.WarnContext(r.Context(), "failed to remove multipart temp files", "error", removeErr)
		}
	}()

	var fields []apperror.FieldError
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		fields = append(fields, apperror.FieldError{Field: "session_id", Message: "required"})
	}
	var questionID string
	if withQuestion {
		questionID = r.FormValue("question_id")
		if questionID == "" {
			fields = append(fields, apperror.FieldError{Field: "question_id", Message: "required"})
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		fields = append(fields, apperror.FieldError{Field: "file", Message: "no file uploaded"})
	}
	if len(fields) > 0 {
		apperror.Write(w, r, apperror.Validation("Invalid upload", fields...))
		return
	}
	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			slog.ErrorContext(r.Context(), "failed to close file", "error", closeErr)
		}
	}()

	uploaded, err := h.uploadService.Accept(r.Context(), service.Upload{
		SessionID:  sessionID,
		QuestionID: questionID,
		Filename:   header.Filename,
		Size:       header.Size,
		Content:    file,
	})
	if err != nil {
		apperror.Write(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, uploaded)
}

// Files lists the attachments of a session.
func (h *UploadHandler) Files(w http.ResponseWriter, r *http.Request) {
	files, err := h.uploadService.Files(r.Context(), r.PathValue("session_id"))
	if err != nil {
		apperror.Write(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"files": files})
}
