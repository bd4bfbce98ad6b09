package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/model"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCompleted = errors.New("session already completed")
	ErrDuplicateAnswer  = errors.New("answer already recorded for question")
)

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	ByID(ctx context.Context, id string) (*model.Session, error)
	CompleteWithAnswers(ctx context.Context, sessionID string, completion model.SessionCompletion, answers []*model.Answer) error
	Answers(ctx context.Context, sessionID string) ([]*model.Answer, error)
}

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `INSERT INTO sessions (id, questionnaire_id, locale, ip_hash, user_agent, email, newsletter_optin, original_session_id, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.QuestionnaireID,
		session.Locale,
		session.IPHash,
		session.UserAgent,
		session.Email,
		session.NewsletterOptIn,
		session.OriginalSessionID,
		session.CreatedAt,
		session.ExpiresAt,
	)
	return err
}

func (r *sessionRepository) ByID(ctx context.Context, id string) (*model.Session, error) {
	// Malformed ids can never match a row
	if uuid.Validate(id) != nil {
		return nil, ErrSessionNotFound
	}

	session := &model.Session{}
	query := `SELECT * FROM sessions WHERE id = $1`

	err := r.db.GetContext(ctx, session, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	return session, nil
}

// CompleteWithAnswers marks the session completed and writes the answer batch in one transaction.
// The completion is a conditional write: only the request that flips completed_at from NULL
// gets to insert answers, every concurrent or later attempt gets ErrSessionCompleted.
func (r *sessionRepository) CompleteWithAnswers(ctx context.Context, sessionID string, completion model.SessionCompletion, answers []*model.Answer) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET completed_at = $1,
		    email = COALESCE($2, email),
		    newsletter_optin = $3
		WHERE id = $4
		AND completed_at IS NULL
	`, completion.CompletedAt, completion.Email, completion.NewsletterOptIn, sessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionCompleted
	}

	if len(answers) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO answers (id, session_id, question_id, answer_value, created_at)
			VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("prepare answers: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, a := range answers {
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			a.SessionID = sessionID
			a.CreatedAt = completion.CompletedAt

			_, err = stmt.ExecContext(ctx, a.ID, a.SessionID, a.QuestionID, a.AnswerValue, a.CreatedAt)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrDuplicateAnswer
				}
				return fmt.Errorf("insert answer %s: %w", a.QuestionID, err)
			}
		}
	}

	return tx.Commit()
}

func (r *sessionRepository) Answers(ctx context.Context, sessionID string) ([]*model.Answer, error) {
	var answers []*model.Answer
	query := `SELECT a.* FROM answers a
	          JOIN questions q ON q.id = a.question_id
	          WHERE a.session_id = $1
	          ORDER BY q.display_order ASC`

	err := r.db.SelectContext(ctx, &answers, query, sessionID)
	if err != nil {
		return nil, err
	}

	return answers, nil
}

// isUniqueViolation detects unique constraint errors (works for both SQLite and PostgreSQL)
func isUniqueViolation(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "duplicate key value")
}
