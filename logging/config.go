package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv builds a Config from LOG_LEVEL, LOG_FORMAT, ENVIRONMENT
// and LOG_ADD_SOURCE. Environment presets only fill values left unset.
func GetConfigFromEnv() Config {
	config := Config{}

	config.Level = strings.ToLower(os.Getenv("LOG_LEVEL"))
	config.Format = strings.ToLower(os.Getenv("LOG_FORMAT"))
	config.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if config.Environment == "" {
		config.Environment = DefaultConfig.Environment
	}

	switch config.Environment {
	case EnvDevelopment:
		setIfEmpty(&config.Format, "text")
		setIfEmpty(&config.Level, "debug")
		config.AddSource = true
	case EnvTest:
		setIfEmpty(&config.Format, "text")
		setIfEmpty(&config.Level, "debug")
	default:
		setIfEmpty(&config.Format, DefaultConfig.Format)
		setIfEmpty(&config.Level, DefaultConfig.Level)
	}

	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.EqualFold(addSource, "true")
	}
	return config
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// CustomLevel defines a custom log level between existing ones
type CustomLevel slog.Level

const (
	LevelTrace CustomLevel = CustomLevel(slog.LevelDebug - 4)
	LevelFatal CustomLevel = CustomLevel(slog.LevelError + 4)
)

// String returns the string representation of the custom level
func (l CustomLevel) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelFatal:
		return "FATAL"
	default:
		return slog.Level(l).String()
	}
}

// Trace logs at trace level. Used for per-record cache chatter.
func (l *Logger) Trace(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.Level(LevelTrace), msg, args...)
}

// DynamicLevelVar allows changing log level at runtime
type DynamicLevelVar struct {
	*slog.LevelVar
}

// NewDynamicLevelVar creates a new dynamic level variable
func NewDynamicLevelVar(initialLevel slog.Level) *DynamicLevelVar {
	levelVar := &slog.LevelVar{}
	levelVar.Set(initialLevel)
	return &DynamicLevelVar{LevelVar: levelVar}
}

// SetFromString sets the level from a string representation
func (d *DynamicLevelVar) SetFromString(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		d.Set(ParseLevel(strings.ToLower(level)))
	case "fatal":
		d.Set(slog.Level(LevelFatal))
	default:
		return false
	}
	return true
}

// NewLoggerWithDynamicLevel creates a logger whose level can be changed
// after construction, e.g. by the CLI --verbose flag.
func NewLoggerWithDynamicLevel(w io.Writer, config Config) (*Logger, *DynamicLevelVar) {
	levelVar := NewDynamicLevelVar(ParseLevel(config.Level))
	opts := &slog.HandlerOptions{
		Level:     levelVar.LevelVar,
		AddSource: config.AddSource,
	}
	return &Logger{Logger: slog.New(newHandler(w, config, opts))}, levelVar
}
