package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/draft"
	"github.com/templui/formpipe/internal/model"
)

// DraftService is the client cache for answers that are not submitted yet.
type DraftService struct {
	drafts   draft.Store
	sessions *SessionService
}

func NewDraftService(drafts draft.Store, sessions *SessionService) *DraftService {
	return &DraftService{drafts: drafts, sessions: sessions}
}

// Save replaces the draft for an open session. Values are stored as sent;
// validation happens on submit.
func (s *DraftService) Save(ctx context.Context, sessionID string, responses []model.Response) (*draft.Draft, error) {
	session, err := s.sessions.GetOpen(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var fields []apperror.FieldError
	for _, r := range responses {
		if r.Value.Kind == model.AnswerKindInvalid {
			fields = append(fields, apperror.FieldError{Field: r.QuestionID, Message: "must be a string or a list of strings"})
		}
	}
	if len(fields) > 0 {
		return nil, apperror.Validation("Invalid draft", fields...)
	}

	d := &draft.Draft{SessionID: session.ID, Responses: responses}
	err = s.drafts.Save(ctx, d)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("save draft: %w", err))
	}
	return d, nil
}

func (s *DraftService) Get(ctx context.Context, sessionID string) (*draft.Draft, error) {
	d, err := s.drafts.Get(ctx, sessionID)
	if errors.Is(err, draft.ErrNotFound) {
		return nil, apperror.NotFound("No draft saved")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load draft: %w", err))
	}
	return d, nil
}

func (s *DraftService) Delete(ctx context.Context, sessionID string) error {
	err := s.drafts.Delete(ctx, sessionID)
	if err != nil {
		return apperror.Internal(fmt.Errorf("delete draft: %w", err))
	}
	return nil
}
