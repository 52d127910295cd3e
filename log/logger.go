package log

import "context"

// Logger is the structured logging interface the verification core uses.
// Components take a Logger instead of a concrete implementation so the API
// layer, flow orchestrator and stores log uniformly.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	With(fields map[string]interface{}) Logger
}
