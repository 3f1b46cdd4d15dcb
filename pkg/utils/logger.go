package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// InitLogger configures the process logger. Safe to call more than once;
// only the first call takes effect.
func InitLogger() {
	loggerOnce.Do(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevelFromEnv(),
		}))
		slog.SetDefault(logger)
	})
}

// GetLogger returns the process logger, initializing it on first use.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}

func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("OPSLOOM_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaskSensitiveString hides the middle of a secret, keeping enough of the
// ends to recognize which key is configured.
func MaskSensitiveString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
