package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	"github.com/templui/formpipe/internal/ctxkeys"
)

// Log is the global logger instance
var Log *slog.Logger

type Options struct {
	Dev       bool
	Service   string // added to every record as "service"
	SentryDSN string
}

// Init initializes the global logger based on environment
// Development: Text format with Debug level
// Production: JSON format with Info level
// Optionally sends errors to Sentry for error tracking
func Init(opts Options) {
	var handlers []slog.Handler

	// Base handler for stdout (always enabled)
	if opts.Dev {
		handlers = append(handlers, slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		handlers = append(handlers, slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	// Optional Sentry handler (sends errors only)
	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			ServerName:       opts.Service,
			TracesSampleRate: 1.0,
		})
		if err == nil {
			handlers = append(handlers, slogsentry.Option{
				Level: slog.LevelError,
			}.NewSentryHandler())
		}
	}

	Log = New(opts.Service, handlers...)
	slog.SetDefault(Log)
}

// New builds a logger that fans out to handlers and tags records with the
// request id and client ip found in the log call's context.
func New(service string, handlers ...slog.Handler) *slog.Logger {
	var handler slog.Handler
	if len(handlers) > 1 {
		handler = slogmulti.Fanout(handlers...)
	} else {
		handler = handlers[0]
	}

	l := slog.New(requestHandler{handler})
	if service != "" {
		l = l.With("service", service)
	}
	return l
}

// requestHandler copies request-scoped values from the context onto each record.
type requestHandler struct {
	slog.Handler
}

func (h requestHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := ctxkeys.RequestID(ctx); id != "" {
			r.AddAttrs(slog.String("request_id", id))
		}
		if ip := ctxkeys.ClientIP(ctx); ip != "" {
			r.AddAttrs(slog.String("client_ip", ip))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h requestHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return requestHandler{h.Handler.WithAttrs(attrs)}
}

func (h requestHandler) WithGroup(name string) slog.Handler {
	return requestHandler{h.Handler.WithGroup(name)}
}
