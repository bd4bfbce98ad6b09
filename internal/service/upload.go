package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/repository"
	"github.com/templui/formpipe/internal/storage"
	"github.com/templui/formpipe/internal/validation"
)

const cleanupTimeout = 10 * time.Second

// Upload is a single file attached to a session.
type Upload struct {
	SessionID  string
	QuestionID string // empty for attachments outside a question
	Filename   string
	Size       int64
	Content    io.ReadSeeker
}

// UploadService guards attachments: per-file and per-session byte caps, type
// sniffing and the blob/metadata write sequence.
type UploadService struct {
	fileRepo       repository.FileRepository
	storage        storage.Storage
	sessions       *SessionService
	questionnaires *QuestionnaireService
	maxFileSize    int64
	sessionByteCap int64
	timeout        time.Duration
	now            func() time.Time
}

func NewUploadService(
	fileRepo repository.FileRepository,
	storage storage.Storage,
	sessions *SessionService,
	questionnaires *QuestionnaireService,
	maxFileSize int64,
	sessionByteCap int64,
	timeout time.Duration,
) *UploadService {
	return &UploadService{
		fileRepo:       fileRepo,
		storage:        storage,
		sessions:       sessions,
		questionnaires: questionnaires,
		maxFileSize:    maxFileSize,
		sessionByteCap: sessionByteCap,
		timeout:        timeout,
		now:            time.Now,
	}
}

// Accept stores an upload and records its metadata. Retrying the same content
// for the same session and question returns the existing record.
func (s *UploadService) Accept(ctx context.Context, up Upload) (*model.UploadedFile, error) {
	if up.Content == nil || up.Size <= 0 {
		return nil, apperror.Validation("Invalid file", apperror.FieldError{Field: "file", Message: "file is empty"})
	}
	if up.Size > s.maxFileSize {
		return nil, apperror.PayloadTooLarge(fmt.Sprintf("File exceeds the %d byte limit", s.maxFileSize))
	}

	mimeType, err := validation.ValidateFile(up.Content, up.Filename, validation.ImageConstraints, validation.DocumentConstraints)
	if err != nil {
		return nil, apperror.Validation("Invalid file", apperror.FieldError{Field: "file", Message: err.Error()})
	}

	session, err := s.sessions.GetOpen(ctx, up.SessionID)
	if err != nil {
		return nil, err
	}

	var questionID *string
	if up.QuestionID != "" {
		question, err := s.questionnaires.Question(ctx, session.QuestionnaireID, up.QuestionID)
		if err != nil {
			return nil, err
		}
		questionID = &question.ID
	}

	digest, size, err := contentDigest(up.Content)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("read upload: %w", err))
	}
	if size > s.maxFileSize {
		return nil, apperror.PayloadTooLarge(fmt.Sprintf("File exceeds the %d byte limit", s.maxFileSize))
	}

	key := storageKey(session.ID, up.QuestionID, digest, up.Filename)

	existing, err := s.existing(ctx, key)
	if err != nil || existing != nil {
		return existing, err
	}

	total, err := s.fileRepo.TotalSize(ctx, session.ID)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("session upload total: %w", err))
	}
	if total+size > s.sessionByteCap {
		slog.InfoContext(ctx, "upload rejected over session cap", "session_id", session.ID, "total", total, "size", size)
		return nil, apperror.PayloadTooLarge("Attachments for this session exceed the size limit")
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.storage.Save(saveCtx, key, up.Content, size, mimeType)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("save upload %s: %w", key, err))
	}

	file := &model.UploadedFile{
		ID:               uuid.New().String(),
		SessionID:        session.ID,
		QuestionID:       questionID,
		StoragePath:      key,
		OriginalFilename: cleanFilename(up.Filename),
		MimeType:         mimeType,
		FileSize:         size,
		CreatedAt:        s.now().UTC(),
	}

	inserted, err := s.fileRepo.Create(ctx, file)
	if err != nil {
		s.discardBlob(ctx, key)
		return nil, apperror.Internal(fmt.Errorf("create upload record: %w", err))
	}
	if !inserted {
		// A concurrent retry with the same content won; its row owns the blob.
		return s.existing(ctx, key)
	}

	// Concurrent uploads can both pass the check above. Re-read the total now
	// that this row is visible and back out if the cap was crossed.
	total, err = s.fileRepo.TotalSize(ctx, session.ID)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("session upload total: %w", err))
	}
	if total > s.sessionByteCap {
		err = s.fileRepo.Delete(context.WithoutCancel(ctx), file.ID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to remove upload record over session cap", "error", err, "file_id", file.ID)
		}
		s.discardBlob(ctx, key)
		return nil, apperror.PayloadTooLarge("Attachments for this session exceed the size limit")
	}

	file.FileURL = s.url(ctx, key)
	slog.InfoContext(ctx, "upload stored", "session_id", session.ID, "file_id", file.ID, "size", size, "mime_type", mimeType)
	return file, nil
}

// Files lists a session's attachments with fresh links.
func (s *UploadService) Files(ctx context.Context, sessionID string) ([]*model.UploadedFile, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	files, err := s.fileRepo.Files(ctx, session.ID)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list uploads: %w", err))
	}
	for _, f := range files {
		f.FileURL = s.url(ctx, f.StoragePath)
	}
	return files, nil
}

func (s *UploadService) existing(ctx context.Context, key string) (*model.UploadedFile, error) {
	file, err := s.fileRepo.ByStoragePath(ctx, key)
	if errors.Is(err, repository.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load upload record: %w", err))
	}
	file.FileURL = s.url(ctx, key)
	return file, nil
}

// discardBlob is the compensating delete for a blob without metadata.
// It outlives a cancelled request.
func (s *UploadService) discardBlob(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := s.storage.Delete(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete file from storage during cleanup", "error", err, "path", key)
	}
}

func (s *UploadService) url(ctx context.Context, key string) string {
	url, err := s.storage.URL(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "failed to presign upload url", "error", err, "path", key)
		return ""
	}
	return url
}

// contentDigest hashes the whole content and rewinds it.
func contentDigest(content io.ReadSeeker) (string, int64, error) {
	_, err := content.Seek(0, io.SeekStart)
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	n, err := io.Copy(h, content)
	if err != nil {
		return "", 0, err
	}

	_, err = content.Seek(0, io.SeekStart)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// storageKey is {session}/{question|files}/{sha256[:32]}{ext}
func storageKey(sessionID, questionID, digest, filename string) string {
	folder := questionID
	if folder == "" {
		folder = "files"
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return sessionID + "/" + folder + "/" + digest[:32] + ext
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return "upload"
	}
	return truncate(name, 255)
}
