package model

import (
	"time"
)

type Session struct {
	ID                string     `db:"id" json:"session_id"`
	QuestionnaireID   string     `db:"questionnaire_id" json:"questionnaire_id"`
	Locale            string     `db:"locale" json:"locale"`
	IPHash            string     `db:"ip_hash" json:"-"`
	UserAgent         string     `db:"user_agent" json:"-"`
	Email             *string    `db:"email" json:"-"`
	NewsletterOptIn   bool       `db:"newsletter_optin" json:"-"`
	OriginalSessionID *string    `db:"original_session_id" json:"original_session_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

func (s *Session) IsCompleted() bool {
	return s.CompletedAt != nil
}

// IsExpired reports whether the session horizon has passed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionCompletion carries the fields written together with completed_at.
type SessionCompletion struct {
	Email           *string
	NewsletterOptIn bool
	CompletedAt     time.Time
}
