package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/repository"
	"github.com/templui/formpipe/internal/validation"
	"golang.org/x/crypto/blake2b"
)

type SessionService struct {
	sessionRepo    repository.SessionRepository
	questionnaires *QuestionnaireService
	locales        *Locales
	ipSecret       []byte
	ttl            time.Duration
	now            func() time.Time
}

func NewSessionService(sessionRepo repository.SessionRepository, questionnaires *QuestionnaireService, locales *Locales, ipSecret string, ttl time.Duration) *SessionService {
	return &SessionService{
		sessionRepo:    sessionRepo,
		questionnaires: questionnaires,
		locales:        locales,
		ipSecret:       []byte(ipSecret),
		ttl:            ttl,
		now:            time.Now,
	}
}

// NewSession carries what a client provides when a session starts
type NewSession struct {
	QuestionnaireID   string
	Locale            string
	AcceptLanguage    string
	ClientIP          string
	UserAgent         string
	Email             string
	OriginalSessionID string
}

// Create opens a session for a questionnaire. The client IP is stored only as
// a keyed hash.
func (s *SessionService) Create(ctx context.Context, in NewSession) (*model.Session, error) {
	q, err := s.questionnaires.Get(ctx, in.QuestionnaireID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:              uuid.New().String(),
		QuestionnaireID: q.ID,
		Locale:          s.locales.Match(in.Locale, in.AcceptLanguage),
		IPHash:          s.HashIP(in.ClientIP),
		UserAgent:       truncate(in.UserAgent, 512),
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}

	if email := strings.TrimSpace(in.Email); email != "" {
		err = validation.ValidateEmail(email)
		if err != nil {
			return nil, apperror.Validation("Invalid session", apperror.FieldError{Field: "email", Message: err.Error()})
		}
		session.Email = &email
	}

	if in.OriginalSessionID != "" {
		original, err := s.sessionRepo.ByID(ctx, in.OriginalSessionID)
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, apperror.Validation("Invalid session", apperror.FieldError{Field: "original_session_id", Message: "unknown session"})
		}
		if err != nil {
			return nil, apperror.Internal(err)
		}
		session.OriginalSessionID = &original.ID
	}

	err = s.sessionRepo.Create(ctx, session)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("create session: %w", err))
	}

	return session, nil
}

// Get loads a session. Unknown and malformed ids are NotFound.
func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	session, err := s.sessionRepo.ByID(ctx, id)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, apperror.NotFound("Session not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load session: %w", err))
	}
	return session, nil
}

// GetOpen loads a session and asserts it can still accept writes.
func (s *SessionService) GetOpen(ctx context.Context, id string) (*model.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = AssertOpen(session, s.now())
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AssertOpen fails with Conflict for a completed session and Expired for one
// past its expiry. Completion is checked first.
func AssertOpen(session *model.Session, now time.Time) error {
	if session.IsCompleted() {
		return apperror.Conflict("This session has already been submitted")
	}
	if session.IsExpired(now) {
		return apperror.Expired("This session has expired")
	}
	return nil
}

// HashIP returns a keyed BLAKE2b-256 digest of ip, hex encoded.
func (s *SessionService) HashIP(ip string) string {
	h, err := blake2b.New256(s.ipSecret)
	if err != nil {
		// Only possible with a key longer than 64 bytes
		sum := blake2b.Sum256(append(append([]byte{}, s.ipSecret...), ip...))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
