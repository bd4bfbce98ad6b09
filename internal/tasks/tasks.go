// Package tasks runs side effects of a submission (emails, newsletter sync,
// draft cleanup) outside the request path. Tasks are executed either by an
// in-process worker Pool or through a RabbitMQ queue.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/templui/formpipe/internal/ctxkeys"
)

type Type string

const (
	TypeAdminNotification    Type = "admin_notification"
	TypeCustomerConfirmation Type = "customer_confirmation"
	TypeNewsletterSignup     Type = "newsletter_signup"
	TypeNewsletterOptIn      Type = "newsletter_optin"
	TypeDraftClear           Type = "draft_clear"
)

var (
	ErrQueueFull      = errors.New("task queue full")
	ErrClosed         = errors.New("task dispatcher closed")
	ErrUnknownHandler = errors.New("no handler registered for task type")
)

type Task struct {
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RequestID  string          `json:"request_id,omitempty"` // request that queued the task, for log correlation
}

// stamp records the request id carried by ctx unless the task already has one.
func (t Task) stamp(ctx context.Context) Task {
	if t.RequestID == "" && ctx != nil {
		t.RequestID = ctxkeys.RequestID(ctx)
	}
	return t
}

// withRequestID returns parent carrying the task's request id.
func (t Task) withRequestID(parent context.Context) context.Context {
	if t.RequestID == "" {
		return parent
	}
	return ctxkeys.WithRequestID(parent, t.RequestID)
}

// New builds a task with payload encoded as JSON.
func New(t Type, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Task{Type: t, Payload: raw, EnqueuedAt: time.Now().UTC()}, nil
}

// Dispatcher hands a task off for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps task types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	timeout  time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{handlers: make(map[Type]Handler), timeout: timeout}
}

func (r *Registry) Register(t Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Handle runs the handler for task under the registry's timeout.
func (r *Registry) Handle(ctx context.Context, task Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, task.Type)
	}

	ctx = task.withRequestID(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return h(ctx, task.Payload)
}
