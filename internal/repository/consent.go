package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/model"
)

var (
	ErrConsentNotFound = errors.New("consent not found")
)

type ConsentRepository interface {
	Upsert(ctx context.Context, consent *model.CookieConsent) error
	ByID(ctx context.Context, id string) (*model.CookieConsent, error)
}

type consentRepository struct {
	db *sqlx.DB
}

func NewConsentRepository(db *sqlx.DB) ConsentRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) Upsert(ctx context.Context, consent *model.CookieConsent) error {
	query := `INSERT INTO cookie_consents (id, analytics, marketing, preferences, locale, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (id) DO UPDATE SET
	              analytics = excluded.analytics,
	              marketing = excluded.marketing,
	              preferences = excluded.preferences,
	              locale = excluded.locale,
	              updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		consent.ID,
		consent.Analytics,
		consent.Marketing,
		consent.Preferences,
		consent.Locale,
		consent.CreatedAt,
		consent.UpdatedAt,
	)
	return err
}

func (r *consentRepository) ByID(ctx context.Context, id string) (*model.CookieConsent, error) {
	consent := &model.CookieConsent{}
	query := `SELECT * FROM cookie_consents WHERE id = $1`

	err := r.db.GetContext(ctx, consent, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConsentNotFound
	}
	if err != nil {
		return nil, err
	}

	return consent, nil
}
