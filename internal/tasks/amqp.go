package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errBrokerUnavailable = errors.New("broker unavailable")

// AMQPPublisher sends tasks to a durable RabbitMQ queue. Dispatch only hands
// the task to a buffered queue; a single goroutine publishes it. Dialing and
// publishing are bounded by timeout, and after a failed dial new connections
// are not attempted for another timeout, so a dead broker costs each queued
// task at most one timeout.
type AMQPPublisher struct {
	url          string
	queue        string
	timeout      time.Duration
	drainTimeout time.Duration

	pending chan outgoing
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool

	// owned by the publishing goroutine
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
}

type outgoing struct {
	typ  Type
	body []byte
}

func NewAMQPPublisher(url, queue string, buffer int, timeout time.Duration) *AMQPPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &AMQPPublisher{
		url:          url,
		queue:        queue,
		timeout:      timeout,
		drainTimeout: 10 * time.Second,
		pending:      make(chan outgoing, buffer),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	go p.run()
	return p
}

// Dispatch queues task without blocking. It fails with ErrQueueFull when the
// buffer is exhausted and ErrClosed after Close.
func (p *AMQPPublisher) Dispatch(ctx context.Context, task Task) error {
	body, err := json.Marshal(task.stamp(ctx))
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.pending <- outgoing{typ: task.Type, body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and publishes what is queued, giving up on the
// rest after the drain timeout.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.pending)
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-time.After(p.drainTimeout):
	}

	p.cancel()
	select {
	case <-p.done:
	case <-time.After(p.timeout):
		slog.Warn("task publisher: gave up waiting for in-flight publish")
	}
	return nil
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	defer p.reset()

	for msg := range p.pending {
		if p.ctx.Err() != nil {
			slog.Error("task dropped on shutdown", "type", msg.typ)
			continue
		}
		err := p.send(msg.body)
		if err != nil {
			slog.Error("task publish failed", "type", msg.typ, "error", err)
		}
	}
}

// send publishes body, retrying once when an established connection turns
// out to be stale.
func (p *AMQPPublisher) send(body []byte) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	fresh := false
	if p.ch == nil || p.ch.IsClosed() {
		err := p.connect()
		if err != nil {
			return err
		}
		fresh = true
	}

	err := p.publish(ctx, body)
	if err == nil {
		return nil
	}
	p.reset()
	if fresh || ctx.Err() != nil {
		return err
	}

	err = p.connect()
	if err != nil {
		return err
	}
	err = p.publish(ctx, body)
	if err != nil {
		p.reset()
	}
	return err
}

func (p *AMQPPublisher) publish(ctx context.Context, body []byte) error {
	return p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) connect() error {
	if time.Now().Before(p.retryAt) {
		return errBrokerUnavailable
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.timeout),
	})
	if err != nil {
		p.retryAt = time.Now().Add(p.timeout)
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(p.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Consumer reads tasks from the queue and runs them through a Registry.
// Failed tasks are rejected without requeue so a poison message cannot loop.
type Consumer struct {
	url      string
	queue    string
	registry *Registry
	prefetch int
}

func NewConsumer(url, queue string, registry *Registry, prefetch int) *Consumer {
	return &Consumer{url: url, queue: queue, registry: registry, prefetch: prefetch}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			slog.Warn("task consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("task consumer: loop ended, reconnecting", "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	err = ch.Qos(c.prefetch, 0, false)
	if err != nil {
		slog.Warn("task consumer: set QoS failed", "error", err)
	}

	_, err = ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			task, err := c.decode(d.Body)
			if err == nil {
				err = c.registry.Handle(ctx, task)
			}
			if err != nil {
				slog.ErrorContext(task.withRequestID(ctx), "task consumer: handle failed", "type", task.Type, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) decode(body []byte) (Task, error) {
	var task Task
	err := json.Unmarshal(body, &task)
	if err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
