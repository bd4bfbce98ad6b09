package model

import (
	"time"
)

type CookieConsent struct {
	ID          string    `db:"id" json:"id"`
	Analytics   bool      `db:"analytics" json:"analytics"`
	Marketing   bool      `db:"marketing" json:"marketing"`
	Preferences bool      `db:"preferences" json:"preferences"`
	Locale      string    `db:"locale" json:"locale"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type NewsletterSubscriber struct {
	Email     string    `db:"email"`
	Locale    string    `db:"locale"`
	Source    string    `db:"source"` // NewsletterSource*
	CreatedAt time.Time `db:"created_at"`
}

const (
	NewsletterSourceSignup = "signup"
	NewsletterSourceForm   = "form"
)
