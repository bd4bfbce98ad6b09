package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/templui/formpipe/internal/draft"
	"github.com/templui/formpipe/internal/tasks"
)

// NotificationAnswer is one answered question, rendered for humans
type NotificationAnswer struct {
	Question string `json:"question"`
	Value    string `json:"value"`
}

type AdminNotificationPayload struct {
	SessionID       string               `json:"session_id"`
	QuestionnaireID string               `json:"questionnaire_id"`
	Kind            string               `json:"kind"`
	Locale          string               `json:"locale"`
	Email           string               `json:"email,omitempty"`
	Answers         []NotificationAnswer `json:"answers"`
	Metadata        map[string]string    `json:"metadata,omitempty"`
}

type CustomerConfirmationPayload struct {
	SessionID string               `json:"session_id"`
	Email     string               `json:"email"`
	Locale    string               `json:"locale"`
	Title     string               `json:"title"`
	Answers   []NotificationAnswer `json:"answers"`
}

type NewsletterSignupPayload struct {
	Email  string `json:"email"`
	Locale string `json:"locale"`
}

// NewsletterOptInPayload records a subscription ticked on a submitted form.
type NewsletterOptInPayload struct {
	Email  string `json:"email"`
	Locale string `json:"locale"`
	Source string `json:"source"`
}

type DraftClearPayload struct {
	SessionID string `json:"session_id"`
}

// RegisterTaskHandlers wires task types to the services that execute them.
func RegisterTaskHandlers(registry *tasks.Registry, email *EmailService, newsletter *NewsletterService, drafts draft.Store) {
	registry.Register(tasks.TypeAdminNotification, func(ctx context.Context, raw json.RawMessage) error {
		var p AdminNotificationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode admin notification: %w", err)
		}
		return email.SendSubmissionNotification(ctx, p)
	})

	registry.Register(tasks.TypeCustomerConfirmation, func(ctx context.Context, raw json.RawMessage) error {
		var p CustomerConfirmationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode confirmation: %w", err)
		}
		return email.SendConfirmation(ctx, p)
	})

	registry.Register(tasks.TypeNewsletterSignup, func(ctx context.Context, raw json.RawMessage) error {
		var p NewsletterSignupPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode newsletter signup: %w", err)
		}
		return email.SubscribeNewsletter(ctx, p.Email)
	})

	registry.Register(tasks.TypeNewsletterOptIn, func(ctx context.Context, raw json.RawMessage) error {
		var p NewsletterOptInPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode newsletter opt-in: %w", err)
		}
		created, err := newsletter.Record(ctx, p.Email, p.Locale, p.Source)
		if err != nil || !created {
			return err
		}
		return email.SubscribeNewsletter(ctx, p.Email)
	})

	registry.Register(tasks.TypeDraftClear, func(ctx context.Context, raw json.RawMessage) error {
		var p DraftClearPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode draft clear: %w", err)
		}
		return drafts.Delete(ctx, p.SessionID)
	})
}
