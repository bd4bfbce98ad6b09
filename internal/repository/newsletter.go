package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/model"
)

type NewsletterRepository interface {
	// Subscribe records the address once; repeated calls for the same email report false.
	Subscribe(ctx context.Context, sub *model.NewsletterSubscriber) (bool, error)
}

type newsletterRepository struct {
	db *sqlx.DB
}

func NewNewsletterRepository(db *sqlx.DB) NewsletterRepository {
	return &newsletterRepository{db: db}
}

func (r *newsletterRepository) Subscribe(ctx context.Context, sub *model.NewsletterSubscriber) (bool, error) {
	query := `INSERT INTO newsletter_subscribers (email, locale, source, created_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (email) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, sub.Email, sub.Locale, sub.Source, sub.CreatedAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
