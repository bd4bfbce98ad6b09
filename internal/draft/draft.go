// Package draft keeps a short-lived copy of answers a client has entered but
// not yet submitted, so a reload or a second tab can resume the form.
package draft

import (
	"context"
	"errors"
	"time"

	"github.com/templui/formpipe/internal/model"
)

var ErrNotFound = errors.New("draft not found")

type Draft struct {
	SessionID string           `json:"session_id"`
	Responses []model.Response `json:"responses"`
	SavedAt   time.Time        `json:"saved_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Store persists drafts by session id. Get returns ErrNotFound for unknown or
// expired drafts.
type Store interface {
	Save(ctx context.Context, d *Draft) error
	Get(ctx context.Context, sessionID string) (*Draft, error)
	Delete(ctx context.Context, sessionID string) error
}
