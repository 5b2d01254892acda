package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config contains logger configuration
type Config struct {
	Level  string // "debug", "info", "warn", or "error"
	Format string // "json" (structured) or "console" (human-readable)
}

// Logger wraps a zap logger with a simpler field-based API
type Logger struct {
	zap *zap.Logger
}

// Field is a structured log field
type Field = zapcore.Field

// New creates a new logger from the given configuration
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{zap: z}, nil
}

// NewNop returns a logger that discards all output. Useful in tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Named returns a logger with the given name segment appended
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.zap.Fatal(msg, fields...) }

// Field constructors

func String(key, value string) Field              { return zap.String(key, value) }
func Int(key string, value int) Field             { return zap.Int(key, value) }
func Int64(key string, value int64) Field         { return zap.Int64(key, value) }
func Float64(key string, value float64) Field     { return zap.Float64(key, value) }
func Bool(key string, value bool) Field           { return zap.Bool(key, value) }
func Duration(key string, d time.Duration) Field  { return zap.Duration(key, d) }
func Time(key string, t time.Time) Field          { return zap.Time(key, t) }
func Any(key string, value interface{}) Field     { return zap.Any(key, value) }
func Error(err error) Field                       { return zap.Error(err) }
