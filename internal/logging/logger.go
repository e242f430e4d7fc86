// Package logging owns the process-wide zap logger. It is initialized
// before configuration parsing so startup failures are still structured;
// the environment is therefore read straight from the process env.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base *zap.Logger
	once sync.Once
)

// Init builds the process logger. ENVIRONMENT=production selects JSON
// output with ISO-8601 timestamps and a service field; anything else gets
// the colored console encoder. LOG_LEVEL overrides the default level in
// either mode. Safe to call more than once.
func Init() {
	once.Do(func() { base = build() })
}

func build() *zap.Logger {
	var cfg zap.Config
	var opts []zap.Option

	if os.Getenv("ENVIRONMENT") == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		opts = append(opts, zap.Fields(zap.String("service", "fragmentforge")))
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}

	logger, err := cfg.Build(append(opts, zap.AddCallerSkip(1))...)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// L returns the process logger, initializing it on first use.
func L() *zap.Logger {
	Init()
	return base
}

// Sync flushes buffered entries. Call before process exit.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}

// WithRun scopes the logger to one network run.
func WithRun(flow, conversationID string) *zap.Logger {
	return L().With(zap.String("flow", flow), zap.String("conversation_id", conversationID))
}
