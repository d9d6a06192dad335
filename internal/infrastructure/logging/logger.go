package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "fs20gateway"

// DefaultFilePath is used when file output is selected without a path.
const DefaultFilePath = "./logs/fs20gateway.log"

// Logger wraps slog.Logger with gateway-specific functionality.
//
// It provides structured logging with default fields, level-based filtering
// and an optional rotating log file.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	// file is the rotating sink, nil unless output is "file" or "both".
	file io.Closer
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination: stdout, stderr, a rotating file, or stdout plus file
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use. Call Close on shutdown to
//     release the log file.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	var file *lumberjack.Logger

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		file = newRotatingFile(cfg.File)
		output = file
	case "both":
		file = newRotatingFile(cfg.File)
		output = io.MultiWriter(os.Stdout, file)
	default:
		output = os.Stdout
	}

	l := newWithWriter(cfg, version, output)
	if file != nil {
		l.file = file
	}
	return l
}

// newWithWriter builds the handler chain on top of output.
func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// newRotatingFile creates the lumberjack sink. The directory is created
// on first write.
func newRotatingFile(cfg config.FileLoggingConfig) *lumberjack.Logger {
	path := cfg.Path
	if path == "" {
		path = DefaultFilePath
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
// The child shares the parent's log file; only the parent should be closed.
//
// Example:
//
//	serialLogger := logger.With("component", "serial")
//	serialLogger.Info("connection to CUL opened") // Includes component=serial
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close releases the rotating log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
