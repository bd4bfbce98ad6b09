package routes

import (
	"context"
	"net/http"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/app"
	"github.com/templui/formpipe/internal/handler"
	"github.com/templui/formpipe/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	csrf := handler.NewCSRFHandler()
	questionnaire := handler.NewQuestionnaireHandler(app.QuestionnaireService, app.Locales)
	session := handler.NewSessionHandler(app.SessionService)
	submit := handler.NewSubmitHandler(app.SubmissionService)
	upload := handler.NewUploadHandler(app.UploadService, app.Cfg.MaxFileSize)
	drafts := handler.NewDraftHandler(app.DraftService)
	consent := handler.NewConsentHandler(app.ConsentService)
	newsletter := handler.NewNewsletterHandler(app.NewsletterService)

	checks := map[string]handler.Pinger{"storage": app.Storage}
	if app.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}
	health := handler.NewHealthHandler(app.DB, checks)

	mux := http.NewServeMux()

	// ============================================================================
	// API
	// ============================================================================

	mux.HandleFunc("GET /api/csrf", csrf.Token)

	// Questionnaires & sessions
	mux.HandleFunc("GET /api/questionnaires/{id}", questionnaire.Show)
	mux.HandleFunc("POST /api/sessions", session.Create)

	// Submissions
	mux.HandleFunc("POST /api/form/submit", submit.Form)
	mux.HandleFunc("POST /api/survey/submit", submit.Survey)

	// Attachments
	uploadTimeout := middleware.Timeout(app.Cfg.UploadTimeout)
	mux.Handle("POST /api/upload", uploadTimeout(http.HandlerFunc(upload.Upload)))
	mux.Handle("POST /api/upload/files", uploadTimeout(http.HandlerFunc(upload.UploadFile)))
	mux.Handle("GET /api/upload/{session_id}", uploadTimeout(http.HandlerFunc(upload.Files)))

	// Client cache
	mux.HandleFunc("GET /api/drafts/{session_id}", drafts.Get)
	mux.HandleFunc("PUT /api/drafts/{session_id}", drafts.Save)
	mux.HandleFunc("DELETE /api/drafts/{session_id}", drafts.Delete)

	// Consent & newsletter
	mux.HandleFunc("GET /api/cookies/consent", consent.Get)
	mux.HandleFunc("POST /api/cookies/consent", consent.Save)
	mux.HandleFunc("POST /api/newsletter/subscribe", newsletter.Subscribe)

	// ============================================================================
	// OPERATIONS
	// ============================================================================

	mux.HandleFunc("GET /healthz", health.Healthz)

	// 404
	mux.HandleFunc("/{path...}", func(w http.ResponseWriter, r *http.Request) {
		apperror.Write(w, r, apperror.NotFound("Not found"))
	})

	// Rate limit windows are per route pattern, not per path value
	route := func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.WithClientIP(app.Cfg.TrustProxyHeaders), // before logging and rate limiting, both key on it
		middleware.RequestLogging,
		middleware.Config(app.Cfg), // CSRF reads the environment for the Secure cookie flag
		middleware.Timeout(app.Cfg.RequestTimeout, "/api/upload", "/api/upload/"),
		middleware.RateLimitHeaders(app.Limiter, app.Cfg.RateLimitPrefix, route),
		middleware.CSRFProtection("/api/upload/files", "/api/cookies/consent"),
		middleware.RateLimit(app.Limiter, app.Cfg.RateLimitPrefix, route),
	)

	return handler
}
