// Package logger provides the structured logging interface used across the
// chat relay, backed by zerolog, with optional daily-rotated log files.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is the structured logger consumed by the server, sessions and the
// client. Derived loggers created with With carry their fields on every entry.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every subsequent entry. The
	// receiver is left unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases resources held by the logger (e.g. an open log file).
	// It is safe to call multiple times and a no-op on derived loggers.
	Close() error
}

type zerologLogger struct {
	logger zerolog.Logger
	closer io.Closer
}

// New builds a Logger writing JSON lines to w. Every entry carries the
// service name and a timestamp; entries below level are discarded.
//
// Parameters:
//   - w: Destination for log output
//   - service: Name of the service, added as the "service" field
//   - level: Minimum level to log (e.g. zerolog.InfoLevel)
//
// Returns:
//   - A Logger writing to w
func New(w io.Writer, service string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: zerolog.New(w).With().Str("service", service).Timestamp().Logger().Level(level),
	}
}

// NewConsole builds a Logger writing to stdout.
func NewConsole(service string, level zerolog.Level) Logger {
	return New(os.Stdout, service, level)
}

// NewFile builds a Logger writing to both stdout and daily-rotated files in
// logDir named {service}_{date}.log. The directory is created if needed.
//
// Parameters:
//   - service: Name of the service, used in entries and file names
//   - logDir: Directory for log files
//   - level: Minimum level to log
//
// Returns:
//   - The Logger, or an error if the directory or first file cannot be created
func NewFile(service string, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fw, err := NewDailyFileWriter(service, logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	l := New(io.MultiWriter(os.Stdout, fw), service, level).(*zerologLogger)
	l.closer = fw
	return l, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{logger: z.logger.With().Fields(toMap(fields)).Logger()}
}

func (z *zerologLogger) Close() error {
	if z.closer != nil {
		return z.closer.Close()
	}

	return nil
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
