package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Output format constants
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// EnvPrefix prefixes every environment variable read by the settings loader.
const EnvPrefix = "LORE"

// Settings are resolved once per invocation and passed to every command.
type Settings struct {
	// Root is where repository discovery starts. Empty means the working directory.
	Root string `mapstructure:"root"`

	// Agent overrides the repository's default agent for new entries.
	Agent string `mapstructure:"agent"`

	Format      string        `mapstructure:"format"`
	LogLevel    string        `mapstructure:"log_level"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		Format:      FormatText,
		LogLevel:    "warn",
		LockTimeout: 5 * time.Second,
	}
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used. Flags that a
// command does not define are skipped.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	defaults := DefaultSettings()
	v.SetDefault("root", defaults.Root)
	v.SetDefault("agent", defaults.Agent)
	v.SetDefault("format", defaults.Format)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("lock_timeout", defaults.LockTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("root", "LORE_ROOT")
	_ = v.BindEnv("agent", "LORE_AGENT")
	_ = v.BindEnv("format", "LORE_FORMAT")
	_ = v.BindEnv("log_level", "LORE_LOG_LEVEL")
	_ = v.BindEnv("lock_timeout", "LORE_LOCK_TIMEOUT")

	if flags != nil {
		bindings := map[string]string{
			"root":         "root",
			"agent":        "agent",
			"format":       "format",
			"log_level":    "log-level",
			"lock_timeout": "lock-timeout",
		}
		for key, flag := range bindings {
			if f := flags.Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// A .env file uses the same LORE_* names as the environment. Its values
	// sit between the environment and the defaults.
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err == nil {
		prefix := strings.ToLower(EnvPrefix) + "_"
		for _, key := range v.AllKeys() {
			if name, ok := strings.CutPrefix(key, prefix); ok {
				v.SetDefault(name, v.Get(key))
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Format = strings.ToLower(strings.TrimSpace(settings.Format))
	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))
	settings.Agent = strings.TrimSpace(settings.Agent)
	settings.Root = expandHomeDir(settings.Root)

	return &settings, nil
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// ValidateSettings rejects unknown formats and levels and non-positive timeouts.
func ValidateSettings(s *Settings) error {
	switch s.Format {
	case FormatText, FormatJSON, FormatYAML:
		// valid
	default:
		return errors.New("format must be 'text', 'json' or 'yaml', got: " + s.Format)
	}

	if _, err := ParseLevel(s.LogLevel); err != nil {
		return err
	}

	if s.LockTimeout <= 0 {
		return fmt.Errorf("lock-timeout must be positive, got: %s", s.LockTimeout)
	}

	return nil
}

// ParseLevel maps debug, info, warn or error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New("log-level must be one of debug, info, warn, error, got: " + s)
	}
	return level, nil
}
