package ports

import "context"

// Logger is the logging port every engine component and venue client receives
// by constructor. Fields are structured key/value pairs; implementations decide
// how to render them and which trader id and component to stamp on each line.
type Logger interface {
	// Debug logs diagnostic detail, such as duplicate events that were ignored.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs normal lifecycle and order flow.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs dropped events and refused commands.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs failures and integrity faults together with their cause.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
