package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
	"github.com/templui/formpipe/internal/markdown"
)

type EmailService struct {
	client     *resend.Client
	md         *markdown.Parser
	fromEmail  string
	adminEmail string
	audienceID string
	isDev      bool
	appName    string
}

func NewEmailService(apiKey, fromEmail, adminEmail, audienceID, appName string, isDev bool) *EmailService {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &EmailService{
		client:     client,
		md:         markdown.NewParser(),
		fromEmail:  fromEmail,
		adminEmail: adminEmail,
		audienceID: audienceID,
		isDev:      isDev,
		appName:    appName,
	}
}

// SendSubmissionNotification tells the site owner about a completed submission.
func (s *EmailService) SendSubmissionNotification(ctx context.Context, p AdminNotificationPayload) error {
	subject, body := submissionNotificationTemplate(p, s.appName)
	return s.send(ctx, "submission_notification", s.adminEmail, subject, body)
}

// SendConfirmation sends the respondent a copy of their answers in their locale.
func (s *EmailService) SendConfirmation(ctx context.Context, p CustomerConfirmationPayload) error {
	subject, body := confirmationTemplate(p, s.appName)
	return s.send(ctx, "confirmation", p.Email, subject, body)
}

func (s *EmailService) send(ctx context.Context, kind, to, subject, body string) error {
	if s.isDev {
		slog.InfoContext(ctx, "email sent (dev mode)", "type", kind, "to", to, "subject", subject)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	html, plain, err := s.md.Email([]byte(body))
	if err != nil {
		return fmt.Errorf("render %s email: %w", kind, err)
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Text:    plain,
	}

	_, err = s.client.Emails.SendWithContext(ctx, params)
	if err == nil {
		slog.InfoContext(ctx, "email sent", "type", kind, "to", to)
	}
	return err
}

func (s *EmailService) SubscribeNewsletter(ctx context.Context, email string) error {
	if s.isDev {
		slog.InfoContext(ctx, "newsletter subscription (dev mode)", "email", email)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	if s.audienceID == "" {
		// If no audience ID is configured, just log and return
		slog.WarnContext(ctx, "newsletter subscription requested but no audience configured", "email", email)
		return nil
	}

	params := &resend.CreateContactRequest{
		Email:      email,
		AudienceId: s.audienceID,
	}

	_, err := s.client.Contacts.Create(params)
	if err != nil {
		// Duplicates and invalid addresses are expected here and not worth a retry
		slog.WarnContext(ctx, "newsletter subscription failed", "error", err, "email", email)
		return nil
	}

	slog.InfoContext(ctx, "newsletter subscription successful", "email", email)
	return nil
}
