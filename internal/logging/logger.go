// Package logging provides structured logging using zap
package logging

import (
	"log"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
)

// Config holds logging configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`             // debug, info, warn, error
	Development bool   `json:"development" yaml:"development"` // human-friendly, colored output
	JSON        bool   `json:"json" yaml:"json"`               // output as JSON
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Level: "info",
	}
}

// Init initializes the global logger. Only the first call has any effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *zap.Logger
		l, err = build(cfg)
		if err == nil {
			set(l)
		}
	})
	return err
}

func build(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
		if !cfg.JSON {
			zapCfg.Encoding = "console"
			zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build(zap.AddCallerSkip(1))
}

func set(l *zap.Logger) {
	mu.Lock()
	logger = l
	sugar = l.Sugar()
	mu.Unlock()
}

// Replace swaps the global logger and returns a function restoring the previous one.
// Tests use it with zaptest/observer loggers.
func Replace(l *zap.Logger) func() {
	InitDefault()
	mu.Lock()
	prev := logger
	mu.Unlock()
	set(l)
	return func() { set(prev) }
}

// InitDefault initializes with default configuration
func InitDefault() {
	_ = Init(DefaultConfig())
}

// L returns the global logger
func L() *zap.Logger {
	InitDefault()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// S returns the global sugared logger
func S() *zap.SugaredLogger {
	InitDefault()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(template string, args ...interface{}) { S().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { S().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { S().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { S().Errorf(template, args...) }

// --- Field constructors ---

// Field is a structured log field.
type Field = zap.Field

func String(key, val string) zap.Field          { return zap.String(key, val) }
func Int(key string, val int) zap.Field         { return zap.Int(key, val) }
func Bool(key string, val bool) zap.Field       { return zap.Bool(key, val) }
func Err(err error) zap.Field                   { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

func Duration(key string, d time.Duration) zap.Field { return zap.Duration(key, d) }

// Path tags a log line with the backend request path.
func Path(p string) zap.Field { return zap.String("path", p) }

// AppUserID tags a log line with the app user the operation runs for.
func AppUserID(id string) zap.Field { return zap.String("app_user_id", id) }

// StdWriter adapts the logger for http.Server.ErrorLog.
type StdWriter struct{}

func (StdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	Error(msg)
	return len(p), nil
}

// StdLogger returns a standard library logger writing through StdWriter.
func StdLogger() *log.Logger { return log.New(StdWriter{}, "", 0) }
