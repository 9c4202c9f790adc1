package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Directory for rotated log files. Empty means console only.
	Directory  string
	Level      string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	Console    bool
}

// New builds a logger writing JSON to rotated files and a readable format to
// the console. The returned level can be changed at runtime.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var cores []zapcore.Core
	if strings.TrimSpace(opts.Directory) != "" {
		if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
			return nil, level, fmt.Errorf("create log directory: %w", err)
		}
		cores = append(cores,
			fileCore(opts, "fieldsuite.log", encoderConfig, level),
			fileCore(opts, "fieldsuite-error.log", encoderConfig, zapcore.ErrorLevel),
		)
	}
	if opts.Console || len(cores) == 0 {
		cores = append(cores, consoleCore(level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), level, nil
}

func fileCore(opts Options, name string, encoderConfig zapcore.EncoderConfig, enabler zapcore.LevelEnabler) zapcore.Core {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(opts.Directory, name),
		MaxSize:    orDefault(opts.MaxSize, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAge, 7),
		Compress:   opts.Compress,
	})
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, enabler)
}

func consoleCore(enabler zapcore.LevelEnabler) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), enabler)
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(raw string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
