// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how logs are written.
type Config struct {
	Level string // debug, info, warn, error

	// LogPath is the file logs are rotated into. Empty disables file
	// rotation and logs go to stderr only, which is convenient for local
	// development and tests.
	LogPath    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig mirrors the rotation knobs this platform's logging has
// historically shipped with.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// New builds a *zap.Logger from cfg. When cfg.LogPath is empty, output goes
// to stderr; otherwise it is written through a lumberjack rotator.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var sink zapcore.WriteSyncer
	if cfg.LogPath == "" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
