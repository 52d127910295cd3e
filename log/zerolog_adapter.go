package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the process-wide zerolog logger and returns a Logger
// adapter over it. Packages that log through the zerolog global pick up the
// same level and output format.
func Setup(level string, pretty bool) Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	var out zerolog.Logger
	if pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(parsed).With().Timestamp().Logger()
	} else {
		out = zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(parsed)
	zlog.Logger = out

	return &zerologAdapter{logger: out}
}

// zerologAdapter implements Logger on top of a zerolog.Logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

// addTraceInfo stamps the active span's trace and span ids onto the event so
// log lines correlate with traces.
func addTraceInfo(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event = event.Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String())
	}
	return event
}

func (z *zerologAdapter) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	event := addTraceInfo(ctx, z.logger.Debug())
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	event := addTraceInfo(ctx, z.logger.Info())
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	event := addTraceInfo(ctx, z.logger.Warn())
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

func (z *zerologAdapter) Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	event := addTraceInfo(ctx, z.logger.Error().Err(err))
	for _, f := range fields {
		event = event.Fields(f)
	}
	event.Msg(msg)
}

// With returns a new logger carrying the extra fields. Trace info stays
// per-call so it reflects the span active at log time.
func (z *zerologAdapter) With(fields map[string]interface{}) Logger {
	return &zerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}
