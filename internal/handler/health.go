package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/apperror"
)

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type HealthHandler struct {
	db     *sqlx.DB
	checks map[string]Pinger
}

func NewHealthHandler(db *sqlx.DB, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{db: db, checks: checks}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	err := h.db.PingContext(r.Context())
	if err != nil {
		apperror.Write(w, r, apperror.Internal(fmt.Errorf("database ping: %w", err)))
		return
	}

	for name, check := range h.checks {
		err = check.Ping(r.Context())
		if err != nil {
			apperror.Write(w, r, apperror.Internal(fmt.Errorf("%s ping: %w", name, err)))
			return
		}
	}

	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
