package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging facade used across the fleet manager.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event

	WithComponent(component string) Logger
	WithFields(fields map[string]any) Logger
	WithField(key string, value any) Logger
	WithError(err error) Logger

	GetZerolog() *zerolog.Logger
}

// ConfigProvider decouples logger setup from any one configuration struct.
type ConfigProvider interface {
	GetLogLevel() string
	GetLogOutput() string
	GetLogConsoleFormat() string
	GetLogFilePath() string
	GetLogFileMaxSize() int
	GetLogFileMaxBackups() int
	GetLogFileMaxAge() int
	GetLogFileCompress() bool
	GetLogConsoleColors() bool

	GetLogAppName() string
	GetLogEnvironment() string
	GetLogVersion() string
	GetLogServiceName() string

	GetLogEnableCaller() bool
}

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	logger *zerolog.Logger
}

// NewZerologLogger wraps an already-configured zerolog.Logger.
func NewZerologLogger(zl *zerolog.Logger) Logger {
	return &ZerologLogger{logger: zl}
}

func (l *ZerologLogger) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *ZerologLogger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *ZerologLogger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *ZerologLogger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *ZerologLogger) Error() *zerolog.Event { return l.logger.Error() }
func (l *ZerologLogger) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *ZerologLogger) Panic() *zerolog.Event { return l.logger.Panic() }

func (l *ZerologLogger) WithComponent(component string) Logger {
	if component == "" {
		return l
	}
	newLogger := l.logger.With().Str("component", component).Logger()
	return &ZerologLogger{logger: &newLogger}
}

func (l *ZerologLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	ctx := l.logger.With()
	for key, value := range fields {
		if value != nil {
			ctx = ctx.Interface(key, value)
		}
	}
	newLogger := ctx.Logger()
	return &ZerologLogger{logger: &newLogger}
}

func (l *ZerologLogger) WithField(key string, value any) Logger {
	if key == "" || value == nil {
		return l
	}
	newLogger := l.logger.With().Interface(key, value).Logger()
	return &ZerologLogger{logger: &newLogger}
}

func (l *ZerologLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	newLogger := l.logger.With().Err(err).Logger()
	return &ZerologLogger{logger: &newLogger}
}

func (l *ZerologLogger) GetZerolog() *zerolog.Logger {
	return l.logger
}

// Setup builds the process-wide logger from a ConfigProvider.
func Setup(cfg ConfigProvider) Logger {
	if level := parseLogLevel(cfg.GetLogLevel()); level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	writers := setupWriters(cfg)
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}

	logger := zerolog.New(output).With().Timestamp()

	if cfg.GetLogEnableCaller() {
		logger = logger.Caller()
	}

	if appName := cfg.GetLogAppName(); appName != "" {
		logger = logger.Str("app", appName)
	}
	if env := cfg.GetLogEnvironment(); env != "" {
		logger = logger.Str("env", env)
	}
	if version := cfg.GetLogVersion(); version != "" {
		logger = logger.Str("version", version)
	}
	if service := cfg.GetLogServiceName(); service != "" {
		logger = logger.Str("service", service)
	}

	finalLogger := logger.Logger()
	return &ZerologLogger{logger: &finalLogger}
}

func setupWriters(cfg ConfigProvider) []io.Writer {
	switch cfg.GetLogOutput() {
	case "console":
		return []io.Writer{setupConsoleWriter(cfg)}
	case "file":
		return []io.Writer{setupFileWriter(cfg)}
	case "stdout":
		return []io.Writer{os.Stdout}
	case "stderr":
		return []io.Writer{os.Stderr}
	case "dual":
		return []io.Writer{setupConsoleWriter(cfg), setupFileWriter(cfg)}
	default:
		return []io.Writer{setupConsoleWriter(cfg), setupFileWriter(cfg)}
	}
}

func setupConsoleWriter(cfg ConfigProvider) io.Writer {
	if cfg.GetLogConsoleFormat() == "json" {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.GetLogConsoleColors(),
	}
}

func setupFileWriter(cfg ConfigProvider) io.Writer {
	filePath := cfg.GetLogFilePath()

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("failed to create log directory: %v\n", err)
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.GetLogFileMaxSize(),
		MaxBackups: cfg.GetLogFileMaxBackups(),
		MaxAge:     cfg.GetLogFileMaxAge(),
		Compress:   cfg.GetLogFileCompress(),
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

const loggerKey contextKey = "logger"

// WithContext attaches a Logger to ctx for downstream retrieval.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the Logger attached by WithContext, or a bare
// stdout fallback if none was attached.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	fallback := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return &ZerologLogger{logger: &fallback}
}
