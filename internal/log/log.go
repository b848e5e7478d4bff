// Package log provides the process-wide structured logger: a
// package-level *zap.Logger behind Logger()/SetLogger(), with short
// free functions for the common levels so call sites don't thread a
// logger through everything that just wants to log once.
package log

import (
	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/config"
)

var logger *zap.Logger

func init() {
	logger, _ = zap.NewDevelopment()
}

// Logger returns the current process-wide logger.
func Logger() *zap.Logger {
	return logger
}

// SetLogger replaces the process-wide logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

// New builds a logger from a LoggingConfig: "json" format selects
// zap's production JSON encoder, anything else the development
// console encoder; level parses via zapcore — an unrecognized level
// falls back to info.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level := zap.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	} else {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zapCfg.Build()
}

func Debug(msg string, fields ...zap.Field) { logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { logger.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { logger.Fatal(msg, fields...) }

// With returns a logger scoped with the given fields.
func With(fields ...zap.Field) *zap.Logger {
	return logger.With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return logger.Sync()
}
