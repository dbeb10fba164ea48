package config

import (
	"context"
	"io"
	"log/slog"
)

// NewLogger returns the text logger used by every command. Output goes to w,
// normally stderr, so that command output on stdout stays machine-readable.
func NewLogger(w io.Writer, s *Settings) *slog.Logger {
	level, err := ParseLevel(s.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Log logs the resolved settings
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	if s.Root != "" {
		logger.InfoContext(ctx, "Config: root", "value", s.Root)
	}
	if s.Agent != "" {
		logger.InfoContext(ctx, "Config: agent", "value", s.Agent)
	}
	logger.InfoContext(ctx, "Config: format", "value", s.Format)
	logger.InfoContext(ctx, "Config: lock_timeout", "value", s.LockTimeout)
}

// SettingsLogValue returns a slog.Value for Settings
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("root", s.Root),
		slog.String("agent", s.Agent),
		slog.String("format", s.Format),
		slog.String("log_level", s.LogLevel),
		slog.Duration("lock_timeout", s.LockTimeout),
	)
}
