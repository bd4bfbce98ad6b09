package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/repository"
	"github.com/templui/formpipe/internal/tasks"
	"github.com/templui/formpipe/internal/validation"
)

// Submission is a completed form or survey as posted by a client.
// Kind is set by the route (form or survey), not by the client.
type Submission struct {
	Kind            string
	SessionID       string
	QuestionnaireID string
	Responses       []model.Response
	Email           string
	Locale          string
	NewsletterOptIn bool
	Metadata        map[string]string

	ClientIP       string
	UserAgent      string
	AcceptLanguage string
}

type SubmissionResult struct {
	SessionID   string    `json:"session_id"`
	CompletedAt time.Time `json:"completed_at"`
	Answers     int       `json:"answers"`
}

// SubmissionService runs the server half of the submission pipeline:
// resolve the session, validate, persist and complete, then dispatch side effects.
// CSRF and rate checks happen in middleware before this is reached.
type SubmissionService struct {
	sessions       *SessionService
	questionnaires *QuestionnaireService
	sessionRepo    repository.SessionRepository
	dispatcher     tasks.Dispatcher
	contactID      string
	fallbackLocale string
	now            func() time.Time
}

func NewSubmissionService(
	sessions *SessionService,
	questionnaires *QuestionnaireService,
	sessionRepo repository.SessionRepository,
	dispatcher tasks.Dispatcher,
	contactID string,
	fallbackLocale string,
) *SubmissionService {
	return &SubmissionService{
		sessions:       sessions,
		questionnaires: questionnaires,
		sessionRepo:    sessionRepo,
		dispatcher:     dispatcher,
		contactID:      contactID,
		fallbackLocale: fallbackLocale,
		now:            time.Now,
	}
}

func (s *SubmissionService) Submit(ctx context.Context, sub Submission) (*SubmissionResult, error) {
	session, q, err := s.resolveSession(ctx, sub)
	if err != nil {
		return nil, err
	}

	answers, completion, err := s.validate(q, session, sub)
	if err != nil {
		return nil, err
	}

	// A form posted without a session gets one only once its answers are valid
	if session == nil {
		session, err = s.sessions.Create(ctx, NewSession{
			QuestionnaireID: q.ID,
			Locale:          sub.Locale,
			AcceptLanguage:  sub.AcceptLanguage,
			ClientIP:        sub.ClientIP,
			UserAgent:       sub.UserAgent,
		})
		if err != nil {
			return nil, err
		}
	}

	err = s.sessionRepo.CompleteWithAnswers(ctx, session.ID, completion, answers)
	if errors.Is(err, repository.ErrSessionCompleted) || errors.Is(err, repository.ErrDuplicateAnswer) {
		return nil, apperror.Conflict("This session has already been submitted")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("complete session %s: %w", session.ID, err))
	}

	slog.InfoContext(ctx, "submission completed",
		"session_id", session.ID,
		"questionnaire_id", q.ID,
		"answers", len(answers),
	)

	session.CompletedAt = &completion.CompletedAt
	session.NewsletterOptIn = completion.NewsletterOptIn
	if completion.Email != nil {
		session.Email = completion.Email
	}
	s.dispatchSideEffects(ctx, session, q, answers, sub.Metadata)

	return &SubmissionResult{
		SessionID:   session.ID,
		CompletedAt: completion.CompletedAt,
		Answers:     len(answers),
	}, nil
}

// resolveSession loads and checks the session and its questionnaire. A form
// submitted without a session id resolves to its questionnaire and a nil
// session; the session is created after validation.
func (s *SubmissionService) resolveSession(ctx context.Context, sub Submission) (*model.Session, *model.Questionnaire, error) {
	var session *model.Session
	questionnaireID := sub.QuestionnaireID

	if sub.SessionID == "" {
		if sub.Kind != model.QuestionnaireKindForm {
			return nil, nil, apperror.Validation("Invalid submission", apperror.FieldError{Field: "session_id", Message: "required"})
		}
		if questionnaireID == "" {
			questionnaireID = s.contactID
		}
	} else {
		var err error
		session, err = s.sessions.GetOpen(ctx, sub.SessionID)
		if err != nil {
			return nil, nil, err
		}
		questionnaireID = session.QuestionnaireID
	}

	q, err := s.questionnaires.Get(ctx, questionnaireID)
	if err != nil {
		return nil, nil, err
	}
	if q.Kind != sub.Kind {
		field := "session_id"
		if session == nil {
			field = "questionnaire_id"
		}
		return nil, nil, apperror.Validation("Invalid submission", apperror.FieldError{
			Field:   field,
			Message: fmt.Sprintf("questionnaire is a %s, not a %s", q.Kind, sub.Kind),
		})
	}
	return session, q, nil
}

func (s *SubmissionService) validate(q *model.Questionnaire, session *model.Session, sub Submission) ([]*model.Answer, model.SessionCompletion, error) {
	completion := model.SessionCompletion{
		NewsletterOptIn: sub.NewsletterOptIn,
		CompletedAt:     s.now().UTC(),
	}

	var fields []apperror.FieldError
	email := strings.TrimSpace(sub.Email)
	if email != "" {
		err := validation.ValidateEmail(email)
		if err != nil {
			fields = append(fields, apperror.FieldError{Field: "email", Message: err.Error()})
		} else {
			completion.Email = &email
		}
	} else if sub.NewsletterOptIn && (session == nil || session.Email == nil) {
		fields = append(fields, apperror.FieldError{Field: "email", Message: "required for the newsletter"})
	}

	answers, err := validation.ValidateResponses(q, sub.Responses)
	if err != nil {
		if !apperror.Is(err, apperror.KindValidation) {
			return nil, completion, err
		}
		fields = append(fields, apperror.From(err).Fields...)
	}

	if len(fields) > 0 {
		return nil, completion, apperror.Validation("Some answers are missing or invalid", fields...)
	}
	return answers, completion, nil
}

// dispatchSideEffects queues notifications and cleanup. Failures are logged
// and never change the outcome of the submission.
func (s *SubmissionService) dispatchSideEffects(ctx context.Context, session *model.Session, q *model.Questionnaire, answers []*model.Answer, metadata map[string]string) {
	var email string
	if session.Email != nil {
		email = *session.Email
	}

	admin := AdminNotificationPayload{
		SessionID:       session.ID,
		QuestionnaireID: q.ID,
		Kind:            q.Kind,
		Locale:          session.Locale,
		Email:           email,
		Answers:         notificationAnswers(q, answers, s.fallbackLocale, s.fallbackLocale),
		Metadata:        metadata,
	}
	s.dispatch(ctx, tasks.TypeAdminNotification, admin)

	if email != "" {
		s.dispatch(ctx, tasks.TypeCustomerConfirmation, CustomerConfirmationPayload{
			SessionID: session.ID,
			Email:     email,
			Locale:    session.Locale,
			Title:     q.Title.In(session.Locale, s.fallbackLocale),
			Answers:   notificationAnswers(q, answers, session.Locale, s.fallbackLocale),
		})
	}

	if email != "" && session.NewsletterOptIn {
		s.dispatch(ctx, tasks.TypeNewsletterOptIn, NewsletterOptInPayload{
			Email:  email,
			Locale: session.Locale,
			Source: model.NewsletterSourceForm,
		})
	}

	s.dispatch(ctx, tasks.TypeDraftClear, DraftClearPayload{SessionID: session.ID})
}

func (s *SubmissionService) dispatch(ctx context.Context, t tasks.Type, payload any) {
	task, err := tasks.New(t, payload)
	if err == nil {
		err = s.dispatcher.Dispatch(context.WithoutCancel(ctx), task)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to dispatch task", "type", t, "error", err)
	}
}

func notificationAnswers(q *model.Questionnaire, answers []*model.Answer, locale, fallback string) []NotificationAnswer {
	text := make(map[string]string, len(q.Questions))
	for _, question := range q.Questions {
		text[question.ID] = question.Text.In(locale, fallback)
	}

	out := make([]NotificationAnswer, 0, len(answers))
	for _, a := range answers {
		value := a.AnswerValue.Text
		if a.AnswerValue.Kind == model.AnswerKindChoices {
			value = strings.Join(a.AnswerValue.Choices, ", ")
		}
		out = append(out, NotificationAnswer{Question: text[a.QuestionID], Value: value})
	}
	return out
}
