package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/repository"
)

// QuestionnaireService serves question sets. They are immutable once seeded,
// so loaded questionnaires are kept for the life of the process.
type QuestionnaireService struct {
	questionnaireRepo repository.QuestionnaireRepository

	mu    sync.RWMutex
	cache map[string]*model.Questionnaire
}

func NewQuestionnaireService(questionnaireRepo repository.QuestionnaireRepository) *QuestionnaireService {
	return &QuestionnaireService{
		questionnaireRepo: questionnaireRepo,
		cache:             make(map[string]*model.Questionnaire),
	}
}

func (s *QuestionnaireService) Get(ctx context.Context, id string) (*model.Questionnaire, error) {
	s.mu.RLock()
	q, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := s.questionnaireRepo.ByID(ctx, id)
	if errors.Is(err, repository.ErrQuestionnaireNotFound) {
		return nil, apperror.NotFound("Questionnaire not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load questionnaire %s: %w", id, err))
	}

	s.mu.Lock()
	s.cache[id] = q
	s.mu.Unlock()
	return q, nil
}

// Question returns the question with questionID if it belongs to questionnaireID.
func (s *QuestionnaireService) Question(ctx context.Context, questionnaireID, questionID string) (*model.Question, error) {
	q, err := s.Get(ctx, questionnaireID)
	if err != nil {
		return nil, err
	}
	for _, question := range q.Questions {
		if question.ID == questionID {
			return question, nil
		}
	}
	return nil, apperror.Validation("Unknown question", apperror.FieldError{Field: "question_id", Message: "not part of this questionnaire"})
}

// LocalizedQuestionnaire is the client view of a questionnaire in one locale
type LocalizedQuestionnaire struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	Locale    string              `json:"locale"`
	Title     string              `json:"title"`
	Questions []LocalizedQuestion `json:"questions"`
}

type LocalizedQuestion struct {
	ID         string           `json:"id"`
	Text       string           `json:"text"`
	AnswerType model.AnswerType `json:"answer_type"`
	Required   bool             `json:"required"`
	Options    []string         `json:"options,omitempty"`
}

// Localize renders q for locale, falling back to fallback for missing translations.
func Localize(q *model.Questionnaire, locale, fallback string) *LocalizedQuestionnaire {
	out := &LocalizedQuestionnaire{
		ID:        q.ID,
		Kind:      q.Kind,
		Locale:    locale,
		Title:     q.Title.In(locale, fallback),
		Questions: make([]LocalizedQuestion, 0, len(q.Questions)),
	}
	for _, question := range q.Questions {
		lq := LocalizedQuestion{
			ID:         question.ID,
			Text:       question.Text.In(locale, fallback),
			AnswerType: question.AnswerType,
			Required:   question.Required,
		}
		for _, o := range question.Options {
			lq.Options = append(lq.Options, o.OptionText)
		}
		out.Questions = append(out.Questions, lq)
	}
	return out
}
