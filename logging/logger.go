// Package logging builds the zap loggers used across the prompt manager.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a named zap logger at level. Production loggers write
// JSON; development loggers use the console encoder.
func NewLogger(name, level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(name), nil
}

// MustLogger is NewLogger that panics on error.
func MustLogger(name, level string, development bool) *zap.Logger {
	logger, err := NewLogger(name, level, development)
	if err != nil {
		panic(err)
	}
	return logger
}
