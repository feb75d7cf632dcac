package telemetry

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/trailpipe/internal/config"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a logger writing to w in the configured format.
func NewLogger(cfg config.LogConfig, service string, w io.Writer) *Logger {
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// ParseLevel maps a configured level to zerolog, defaulting to info.
func ParseLevel(level string, debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogInputStart logs the start of one input's pass.
func (l *Logger) LogInputStart(ctx context.Context, account, bucket, prefix string) {
	l.WithContext(ctx).Info().
		Str("account", account).
		Str("bucket", bucket).
		Str("prefix", prefix).
		Msg("importing trail")
}

// LogInputFailed logs an input abandoned before or during listing.
func (l *Logger) LogInputFailed(ctx context.Context, account, bucket string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("account", account).
		Str("bucket", bucket).
		Msg("input failed")
}

// LogObjectSkipped logs an object whose records could not be extracted.
func (l *Logger) LogObjectSkipped(ctx context.Context, account, bucket, key string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("account", account).
		Str("bucket", bucket).
		Str("key", key).
		Msg("skipping object")
}

// LogObjectDone logs a processed object at debug level.
func (l *Logger) LogObjectDone(ctx context.Context, bucket, key string, records, dropped int) {
	l.WithContext(ctx).Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("records", records).
		Int("dropped", dropped).
		Msg("object processed")
}

// LogRunComplete logs the summary of a finished run.
func (l *Logger) LogRunComplete(ctx context.Context, objects, delivered, failed int, d time.Duration) {
	l.WithContext(ctx).Info().
		Int("objects", objects).
		Int("records_delivered", delivered).
		Int("objects_failed", failed).
		Dur("duration", d).
		Msg("run completed")
}
