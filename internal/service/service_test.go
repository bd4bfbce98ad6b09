package service

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/db/dbtest"
	"github.com/templui/formpipe/internal/draft"
	"github.com/templui/formpipe/internal/model"
	"github.com/templui/formpipe/internal/repository"
	"github.com/templui/formpipe/internal/tasks"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []tasks.Task
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task tasks.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *recordingDispatcher) types() []tasks.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]tasks.Type, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t.Type)
	}
	return out
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	saveErr error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Save(_ context.Context, key string, file io.Reader, _ int64, _ string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) URL(_ context.Context, key string) (string, error) {
	return "https://files.test/" + key, nil
}

func (s *memStorage) Ping(context.Context) error {
	return nil
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fixture struct {
	database    *sqlx.DB
	sessionRepo repository.SessionRepository
	fileRepo    repository.FileRepository
	dispatcher  *recordingDispatcher
	storage     *memStorage

	locales        *Locales
	questionnaires *QuestionnaireService
	sessions       *SessionService
	newsletter     *NewsletterService
	submissions    *SubmissionService
	uploads        *UploadService
	drafts         *DraftService
	consents       *ConsentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database := dbtest.New(t)
	f := &fixture{
		database:    database,
		sessionRepo: repository.NewSessionRepository(database),
		fileRepo:    repository.NewFileRepository(database),
		dispatcher:  &recordingDispatcher{},
		storage:     newMemStorage(),
		locales:     NewLocales([]string{"en", "fr", "de"}),
	}

	f.questionnaires = NewQuestionnaireService(repository.NewQuestionnaireRepository(database))
	f.sessions = NewSessionService(f.sessionRepo, f.questionnaires, f.locales, "test-secret-0123456789", 48*time.Hour)
	f.newsletter = NewNewsletterService(repository.NewNewsletterRepository(database), f.dispatcher, f.locales)
	f.submissions = NewSubmissionService(f.sessions, f.questionnaires, f.sessionRepo, f.dispatcher, "contact", "en")
	f.uploads = NewUploadService(f.fileRepo, f.storage, f.sessions, f.questionnaires, 1000, 3000, time.Second)
	f.drafts = NewDraftService(draft.NewMemory(24*time.Hour), f.sessions)
	f.consents = NewConsentService(repository.NewConsentRepository(database), f.locales)
	return f
}

func (f *fixture) newSession(t *testing.T, questionnaireID string) *model.Session {
	t.Helper()
	s, err := f.sessions.Create(context.Background(), NewSession{
		QuestionnaireID: questionnaireID,
		AcceptLanguage:  "fr-CH, en;q=0.8",
		ClientIP:        "203.0.113.7",
		UserAgent:       "test",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func surveyResponses() []model.Response {
	return []model.Response{
		{QuestionID: "satisfaction-overall", Value: model.TextAnswer("satisfied")},
		{QuestionID: "satisfaction-liked", Value: model.ChoicesAnswer("speed", "support")},
	}
}

func assertKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	if !apperror.Is(err, kind) {
		t.Fatalf("err = %v, want kind %s", err, kind)
	}
}

func TestSessionCreateNegotiatesLocaleAndHashesIP(t *testing.T) {
	f := newFixture(t)
	s := f.newSession(t, "satisfaction")

	if s.Locale != "fr" {
		t.Errorf("locale = %q, want fr", s.Locale)
	}
	if s.IPHash == "" || strings.Contains(s.IPHash, "203.0.113.7") {
		t.Errorf("ip hash = %q", s.IPHash)
	}
	if s.IPHash != f.sessions.HashIP("203.0.113.7") {
		t.Error("hash is not stable for the same ip")
	}
	if s.IPHash == f.sessions.HashIP("203.0.113.8") {
		t.Error("different ips share a hash")
	}
	if got := s.ExpiresAt.Sub(s.CreatedAt); got != 48*time.Hour {
		t.Errorf("ttl = %v, want 48h", got)
	}
}

func TestSessionCreateRejectsUnknownQuestionnaireAndOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Create(ctx, NewSession{QuestionnaireID: "nope"})
	assertKind(t, err, apperror.KindNotFound)

	_, err = f.sessions.Create(ctx, NewSession{QuestionnaireID: "contact", OriginalSessionID: "a8f1c7e2-0000-4000-8000-000000000000"})
	assertKind(t, err, apperror.KindValidation)

	_, err = f.sessions.Create(ctx, NewSession{QuestionnaireID: "contact", Email: "not-an-email"})
	assertKind(t, err, apperror.KindValidation)
}

func TestLocalesMatch(t *testing.T) {
	l := NewLocales([]string{"en", "fr", "de"})

	tests := []struct {
		explicit, accept, want string
	}{
		{"", "", "en"},
		{"de", "fr", "de"},
		{"", "fr-CA,fr;q=0.9", "fr"},
		{"", "ja", "en"},
		{"xx-invalid-", "de-AT", "de"},
	}
	for _, tt := range tests {
		if got := l.Match(tt.explicit, tt.accept); got != tt.want {
			t.Errorf("Match(%q, %q) = %q, want %q", tt.explicit, tt.accept, got, tt.want)
		}
	}
}

func TestSubmitSurveyThenResubmitConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.newSession(t, "satisfaction")

	res, err := f.submissions.Submit(ctx, Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: s.ID,
		Responses: surveyResponses(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.SessionID != s.ID || res.Answers != 2 || res.CompletedAt.IsZero() {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = f.submissions.Submit(ctx, Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: s.ID,
		Responses: surveyResponses(),
	})
	assertKind(t, err, apperror.KindConflict)

	answers, err := f.sessionRepo.Answers(ctx, s.ID)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("answers = %d, want a single batch of 2", len(answers))
	}

	got := f.dispatcher.types()
	want := []tasks.Type{tasks.TypeAdminNotification, tasks.TypeDraftClear}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("dispatched = %v, want %v", got, want)
	}
}

func TestSubmitExpiredSessionIsGone(t *testing.T) {
	f := newFixture(t)
	s := f.newSession(t, "satisfaction")
	f.sessions.now = func() time.Time { return time.Now().Add(49 * time.Hour) }

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: s.ID,
		Responses: surveyResponses(),
	})
	assertKind(t, err, apperror.KindExpired)
}

func TestSubmitUnknownSessionNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: "not-a-session",
		Responses: surveyResponses(),
	})
	assertKind(t, err, apperror.KindNotFound)
}

func TestSubmitSurveyRequiresSessionID(t *testing.T) {
	f := newFixture(t)

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind:      model.QuestionnaireKindSurvey,
		Responses: surveyResponses(),
	})
	assertKind(t, err, apperror.KindValidation)
	if fields := apperror.From(err).Fields; len(fields) != 1 || fields[0].Field != "session_id" {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestSubmitRejectsKindMismatch(t *testing.T) {
	f := newFixture(t)
	s := f.newSession(t, "contact")

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: s.ID,
		Responses: surveyResponses(),
	})
	assertKind(t, err, apperror.KindValidation)
}

func TestSubmitMissingRequiredListsQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.newSession(t, "satisfaction")

	_, err := f.submissions.Submit(ctx, Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: s.ID,
		Responses: surveyResponses()[:1],
	})
	assertKind(t, err, apperror.KindValidation)

	fields := apperror.From(err).Fields
	if len(fields) != 1 || fields[0].Field != "satisfaction-liked" {
		t.Fatalf("fields = %+v, want satisfaction-liked", fields)
	}

	got, err := f.sessions.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsCompleted() {
		t.Fatal("invalid submission completed the session")
	}
	if n := len(f.dispatcher.types()); n != 0 {
		t.Fatalf("dispatched %d tasks for an invalid submission", n)
	}
}

func TestSubmitFormWithoutSessionCreatesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.submissions.Submit(ctx, Submission{
		Kind: model.QuestionnaireKindForm,
		Responses: []model.Response{
			{QuestionID: "contact-name", Value: model.TextAnswer("Ada")},
			{QuestionID: "contact-topic", Value: model.TextAnswer("support")},
			{QuestionID: "contact-message", Value: model.TextAnswer("<b>Hello</b> there")},
		},
		Email:           "ada@example.com",
		Locale:          "de",
		NewsletterOptIn: true,
		Metadata:        map[string]string{"page": "/contact"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	s, err := f.sessions.Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.QuestionnaireID != "contact" || s.Locale != "de" || !s.IsCompleted() {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.Email == nil || *s.Email != "ada@example.com" || !s.NewsletterOptIn {
		t.Fatalf("email/optin not stored: %+v", s)
	}

	answers, err := f.sessionRepo.Answers(ctx, s.ID)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	for _, a := range answers {
		if a.QuestionID == "contact-message" && a.AnswerValue.Text != "Hello there" {
			t.Errorf("message = %q, want sanitized text", a.AnswerValue.Text)
		}
	}

	want := map[tasks.Type]bool{
		tasks.TypeAdminNotification:    true,
		tasks.TypeCustomerConfirmation: true,
		tasks.TypeNewsletterOptIn:      true,
		tasks.TypeDraftClear:           true,
	}
	got := f.dispatcher.types()
	if len(got) != len(want) {
		t.Fatalf("dispatched = %v", got)
	}
	for _, typ := range got {
		if !want[typ] {
			t.Errorf("unexpected task %s", typ)
		}
	}
}

func TestSubmitInvalidFormWithoutSessionCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind: model.QuestionnaireKindForm,
		Responses: []model.Response{
			{QuestionID: "contact-name", Value: model.TextAnswer("Ada")},
		},
	})
	assertKind(t, err, apperror.KindValidation)

	var n int
	if err := f.database.Get(&n, "SELECT COUNT(*) FROM sessions"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("sessions = %d, want none for a rejected form", n)
	}
}

func TestNewsletterOptInTaskRecordsSubscriber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registry := tasks.NewRegistry(time.Second)
	email := NewEmailService("", "from@example.com", "admin@example.com", "", "Acme", true)
	RegisterTaskHandlers(registry, email, f.newsletter, draft.NewMemory(time.Hour))

	task, err := tasks.New(tasks.TypeNewsletterOptIn, NewsletterOptInPayload{
		Email:  "Ada@Example.com",
		Locale: "de",
		Source: model.NewsletterSourceForm,
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	for range 2 {
		if err := registry.Handle(ctx, task); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	created, err := f.newsletter.Record(ctx, "ada@example.com", "de", model.NewsletterSourceForm)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if created {
		t.Fatal("opt-in task did not store the subscriber")
	}
}

// silentBroker accepts TCP connections and never answers, like a broker
// that hangs during the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestSubmitDoesNotWaitForUnresponsiveBroker(t *testing.T) {
	f := newFixture(t)
	publisher := tasks.NewAMQPPublisher("amqp://guest:guest@"+silentBroker(t)+"/", "formpipe.tasks", 8, 2*time.Second)
	t.Cleanup(func() { _ = publisher.Close() })
	f.submissions.dispatcher = publisher

	start := time.Now()
	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind: model.QuestionnaireKindForm,
		Responses: []model.Response{
			{QuestionID: "contact-name", Value: model.TextAnswer("Ada")},
			{QuestionID: "contact-topic", Value: model.TextAnswer("sales")},
			{QuestionID: "contact-message", Value: model.TextAnswer("Hi")},
		},
		Email:           "ada@example.com",
		NewsletterOptIn: true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("submit took %s with an unresponsive broker", elapsed)
	}
}

func TestSubmitNewsletterOptInNeedsEmail(t *testing.T) {
	f := newFixture(t)
	s := f.newSession(t, "satisfaction")

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind:            model.QuestionnaireKindSurvey,
		SessionID:       s.ID,
		Responses:       surveyResponses(),
		NewsletterOptIn: true,
	})
	assertKind(t, err, apperror.KindValidation)
}

func TestSubmitSucceedsWhenDispatchFails(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = tasks.ErrQueueFull
	s := f.newSession(t, "satisfaction")

	_, err := f.submissions.Submit(context.Background(), Submission{
		Kind:      model.QuestionnaireKindSurvey,
		SessionID: s.ID,
		Responses: surveyResponses(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestNewsletterSubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 2 {
		err := f.newsletter.Subscribe(ctx, "Reader@Example.com", "fr", model.NewsletterSourceSignup)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	if got := f.dispatcher.types(); len(got) != 1 || got[0] != tasks.TypeNewsletterSignup {
		t.Fatalf("dispatched = %v, want one signup", got)
	}

	err := f.newsletter.Subscribe(ctx, "nope", "", model.NewsletterSourceSignup)
	assertKind(t, err, apperror.KindValidation)
}

func TestDraftSaveRequiresOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.newSession(t, "satisfaction")

	_, err := f.drafts.Get(ctx, s.ID)
	assertKind(t, err, apperror.KindNotFound)

	_, err = f.drafts.Save(ctx, s.ID, surveyResponses())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	d, err := f.drafts.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(d.Responses) != 2 {
		t.Fatalf("responses = %+v", d.Responses)
	}

	_, err = f.drafts.Save(ctx, s.ID, []model.Response{{QuestionID: "satisfaction-liked", Value: model.AnswerValue{}}})
	assertKind(t, err, apperror.KindValidation)

	_, err = f.submissions.Submit(ctx, Submission{Kind: model.QuestionnaireKindSurvey, SessionID: s.ID, Responses: surveyResponses()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = f.drafts.Save(ctx, s.ID, surveyResponses())
	assertKind(t, err, apperror.KindConflict)
}

func TestConsentSaveAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.consents.Save(ctx, "", ConsentChoices{Analytics: true, Locale: "de"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if c.ID == "" || c.Locale != "de" {
		t.Fatalf("unexpected consent: %+v", c)
	}

	updated, err := f.consents.Save(ctx, c.ID, ConsentChoices{Marketing: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != c.ID {
		t.Fatalf("id changed from %s to %s", c.ID, updated.ID)
	}

	got, err := f.consents.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Analytics || !got.Marketing {
		t.Fatalf("choices not replaced: %+v", got)
	}

	_, err = f.consents.Get(ctx, "garbage")
	assertKind(t, err, apperror.KindNotFound)
}

func TestLocalizeFallsBack(t *testing.T) {
	f := newFixture(t)
	q, err := f.questionnaires.Get(context.Background(), "satisfaction")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	lq := Localize(q, "es", "en")
	if lq.Title != "How did we do?" {
		t.Errorf("title = %q", lq.Title)
	}
	if len(lq.Questions) != 4 || lq.Questions[0].ID != "satisfaction-overall" {
		t.Fatalf("questions = %+v", lq.Questions)
	}
	if len(lq.Questions[0].Options) != 5 {
		t.Errorf("options = %v", lq.Questions[0].Options)
	}
}

func TestConfirmationTemplateEscapesAnswers(t *testing.T) {
	subject, body := confirmationTemplate(CustomerConfirmationPayload{
		Locale:  "fr",
		Title:   "Contactez-nous",
		Answers: []NotificationAnswer{{Question: "Message", Value: "[click](/evil)"}},
	}, "Acme")

	if !strings.Contains(subject, "Nous avons bien reçu") {
		t.Errorf("subject = %q", subject)
	}
	if strings.Contains(body, "[click](/evil)") {
		t.Errorf("link was not escaped: %s", body)
	}

	html, err := NewEmailService("", "", "", "", "Acme", true).md.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if bytes.Contains(html, []byte("<a ")) {
		t.Errorf("escaped answer rendered a link: %s", html)
	}
}

func TestAnswerValuesCannotAddMarkdownStructure(t *testing.T) {
	value := strings.Join([]string{
		"- one",
		"+ two",
		"1. first",
		"===",
		"# title",
		"    indented",
		"Tom &amp; Jerry",
		"see https://evil.example/login or www.evil.example",
	}, "\n")
	_, body := confirmationTemplate(CustomerConfirmationPayload{
		Locale:  "en",
		Title:   "Contact",
		Answers: []NotificationAnswer{{Question: "Message", Value: value}},
	}, "Acme")

	html, err := NewEmailService("", "", "", "", "Acme", true).md.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, tag := range []string{"<ul", "<ol", "<h1", "<h3", "<pre", "<code", "<a "} {
		if bytes.Contains(html, []byte(tag)) {
			t.Errorf("answer rendered %s: %s", tag, html)
		}
	}
	if !bytes.Contains(html, []byte("&amp;amp;")) {
		t.Errorf("entity was decoded instead of shown literally: %s", html)
	}
	if n := bytes.Count(html, []byte("<h2")); n != 1 {
		t.Errorf("h2 count = %d, want only the title: %s", n, html)
	}
}

func TestEmailDevModeLogsOnly(t *testing.T) {
	svc := NewEmailService("", "from@example.com", "admin@example.com", "", "Acme", true)
	err := svc.SendConfirmation(context.Background(), CustomerConfirmationPayload{Email: "a@example.com", Locale: "en"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	svc = NewEmailService("", "from@example.com", "admin@example.com", "", "Acme", false)
	err = svc.SendConfirmation(context.Background(), CustomerConfirmationPayload{Email: "a@example.com", Locale: "en"})
	if err == nil {
		t.Fatal("expected an error without an API key outside development")
	}
}
