// Package logging builds the application's zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "NIIMBOT_LOG_LEVEL"
	EnvLogFormat = "NIIMBOT_LOG_FORMAT"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options are the configurable parts of the logger; the environment
// overrides them
type Options struct {
	Level  string
	Format string // "console" or "json"
}

// New builds a logger for profile
func New(profile Profile, opts Options) (*zap.Logger, error) {
	cfg := defaultConfig(profile)
	if lvl, ok := parseLevel(opts.Level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if f, ok := parseFormat(opts.Format); ok {
		cfg.Encoding = f
	}
	applyEnvOverrides(&cfg)
	return cfg.Build()
}

func defaultConfig(profile Profile) zap.Config {
	switch profile {
	case ProfileTest:
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.EncoderConfig.TimeKey = ""
		return cfg
	default:
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return cfg
	}
}

func applyEnvOverrides(cfg *zap.Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if f, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		cfg.Encoding = f
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "off", "none", "disabled":
		return zapcore.FatalLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch f := strings.ToLower(strings.TrimSpace(raw)); f {
	case "console", "json":
		return f, true
	default:
		return "", false
	}
}
