// Package logging builds the zap loggers used across debugctl.
//
// Logs go to stderr by default because stdout carries the MCP stdio stream.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logging settings
type Config struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// New builds a JSON logger at the configured level.
// An empty File logs to stderr.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = []string{cfg.File}
	}

	return zc.Build()
}

// ParseLevel maps a level name onto a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Nop returns a logger that discards everything
func Nop() *zap.Logger {
	return zap.NewNop()
}

// ForComponent tags a logger with the component emitting it
func ForComponent(l *zap.Logger, component string) *zap.Logger {
	return l.With(zap.String("component", component))
}

// ForSession tags a logger with a session identity
func ForSession(l *zap.Logger, sessionID, displayName string) *zap.Logger {
	return l.With(zap.String("session_id", sessionID), zap.String("session", displayName))
}

// ForEngine tags a logger with the engine it belongs to
func ForEngine(l *zap.Logger, engine string) *zap.Logger {
	return l.With(zap.String("engine", engine))
}
