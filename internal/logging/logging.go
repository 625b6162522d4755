package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger. Level comes from LOG_LEVEL
// (defaults to info); everything else follows the zap production preset.
func New() *zap.Logger {
	cfg := zap.NewProductionConfig()

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		var level zapcore.Level
		if err := level.Set(lvl); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		// Logging must never take the process down.
		return zap.NewNop()
	}
	return logger
}
