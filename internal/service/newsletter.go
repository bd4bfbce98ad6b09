package service

import (
	"context"
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

type NewsletterService struct {
	newsletterRepo repository.NewsletterRepository
	dispatcher     tasks.Dispatcher
	locales        *Locales
	now            func() time.Time
}

func NewNewsletterService(newsletterRepo repository.NewsletterRepository, dispatcher tasks.Dispatcher, locales *Locales) *NewsletterService {
	return &NewsletterService{
		newsletterRepo: newsletterRepo,
		dispatcher:     dispatcher,
		locales:        locales,
		now:            time.Now,
	}
}

// Subscribe records an address once and queues the audience sync for new
// subscribers. Repeat subscriptions succeed silently.
func (s *NewsletterService) Subscribe(ctx context.Context, email, locale, source string) error {
	created, err := s.Record(ctx, email, locale, source)
	if err != nil || !created {
		return err
	}

	task, err := tasks.New(tasks.TypeNewsletterSignup, NewsletterSignupPayload{
		Email:  strings.TrimSpace(email),
		Locale: s.locales.Match(locale, ""),
	})
	if err == nil {
		err = s.dispatcher.Dispatch(ctx, task)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to dispatch newsletter signup", "error", err)
	}
	return nil
}

// Record stores a subscriber and reports whether the address is new.
func (s *NewsletterService) Record(ctx context.Context, email, locale, source string) (bool, error) {
	email = strings.TrimSpace(email)
	err := validation.ValidateEmail(email)
	if err != nil {
		return false, apperror.Validation("Invalid email", apperror.FieldError{Field: "email", Message: err.Error()})
	}

	created, err := s.newsletterRepo.Subscribe(ctx, &model.NewsletterSubscriber{
		Email:     validation.NormalizeEmail(email),
		Locale:    s.locales.Match(locale, ""),
		Source:    source,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return false, apperror.Internal(fmt.Errorf("subscribe newsletter: %w", err))
	}
	return created, nil
}
