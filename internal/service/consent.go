package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/repository"
)

type ConsentService struct {
	consentRepo repository.ConsentRepository
	locales     *Locales
	now         func() time.Time
}

func NewConsentService(consentRepo repository.ConsentRepository, locales *Locales) *ConsentService {
	return &ConsentService{consentRepo: consentRepo, locales: locales, now: time.Now}
}

// ConsentChoices are the optional cookie categories a visitor can accept
type ConsentChoices struct {
	Analytics   bool   `json:"analytics"`
	Marketing   bool   `json:"marketing"`
	Preferences bool   `json:"preferences"`
	Locale      string `json:"locale"`
}

// Save stores choices under id. An empty or malformed id starts a new record.
func (s *ConsentService) Save(ctx context.Context, id string, choices ConsentChoices) (*model.CookieConsent, error) {
	now := s.now().UTC()
	consent := &model.CookieConsent{
		ID:          id,
		Analytics:   choices.Analytics,
		Marketing:   choices.Marketing,
		Preferences: choices.Preferences,
		Locale:      s.locales.Match(choices.Locale, ""),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if uuid.Validate(id) != nil {
		consent.ID = uuid.New().String()
	} else {
		existing, err := s.consentRepo.ByID(ctx, id)
		if err == nil {
			consent.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, repository.ErrConsentNotFound) {
			return nil, apperror.Internal(fmt.Errorf("load consent: %w", err))
		}
	}

	err := s.consentRepo.Upsert(ctx, consent)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("save consent: %w", err))
	}
	return consent, nil
}

func (s *ConsentService) Get(ctx context.Context, id string) (*model.CookieConsent, error) {
	if uuid.Validate(id) != nil {
		return nil, apperror.NotFound("No consent recorded")
	}
	consent, err := s.consentRepo.ByID(ctx, id)
	if errors.Is(err, repository.ErrConsentNotFound) {
		return nil, apperror.NotFound("No consent recorded")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load consent: %w", err))
	}
	return consent, nil
}
