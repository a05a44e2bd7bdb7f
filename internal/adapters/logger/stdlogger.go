package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"execCore/internal/ports"
)

// StdLogger implements the ports.Logger interface using the standard log package.
// Every line carries the trader id and, when set, the component name.
type StdLogger struct {
	logger    *log.Logger
	level     LogLevel
	traderID  string
	component string
}

var _ ports.Logger = (*StdLogger)(nil)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR", "CRITICAL":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

// Options configures a StdLogger.
type Options struct {
	Level     LogLevel
	TraderID  string
	Component string
	Output    io.Writer // defaults to os.Stderr
	Plain     bool      // omit the timestamp prefix
}

// NewStdLogger creates a new standard logger.
func NewStdLogger(opts Options) *StdLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if opts.Plain {
		flags = 0
	}
	return &StdLogger{
		logger:    log.New(out, "", flags),
		level:     opts.Level,
		traderID:  opts.TraderID,
		component: opts.Component,
	}
}

// WithComponent returns a logger writing to the same output under another component name.
func (l *StdLogger) WithComponent(component string) *StdLogger {
	c := *l
	c.component = component
	return &c
}

// Level returns the configured threshold.
func (l *StdLogger) Level() LogLevel { return l.level }

func (l *StdLogger) log(ctx context.Context, level LogLevel, msg string, err error, fields ...map[string]interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s]", level.String()))
	if l.traderID != "" {
		sb.WriteString(" " + l.traderID)
	}
	if l.component != "" {
		sb.WriteString("." + l.component)
	}
	sb.WriteString(": " + msg)

	if err != nil {
		sb.WriteString(fmt.Sprintf(" | error: %v", err))
	}

	// Fields are merged and printed in key order so lines are stable across runs
	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, merged[k]))
		}
	}

	l.logger.Println(sb.String())
}

// Debug logs a message at Debug level.
func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, nil, fields...)
}

// Info logs a message at Info level.
func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, nil, fields...)
}

// Warn logs a message at Warning level.
func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, nil, fields...)
}

// Error logs an error message at Error level.
func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, err, fields...)
}
