package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"LORE_ROOT", "LORE_AGENT", "LORE_FORMAT", "LORE_LOG_LEVEL", "LORE_LOCK_TIMEOUT"} {
		t.Setenv(name, "")
		_ = os.Unsetenv(name)
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	clearEnv(t)

	settings, err := LoadSettingsWithFlags(nil)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}

	if settings.Format != FormatText {
		t.Errorf("Format = %q, want %q", settings.Format, FormatText)
	}
	if settings.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", settings.LogLevel, "warn")
	}
	if settings.LockTimeout != 5*time.Second {
		t.Errorf("LockTimeout = %v, want %v", settings.LockTimeout, 5*time.Second)
	}
	if settings.Agent != "" {
		t.Errorf("Agent = %q, want empty", settings.Agent)
	}
	if *settings != *DefaultSettings() {
		t.Errorf("Loaded defaults = %+v, want %+v", *settings, *DefaultSettings())
	}
}

func TestDefaultSettings_Valid(t *testing.T) {
	if err := ValidateSettings(DefaultSettings()); err != nil {
		t.Errorf("DefaultSettings() is invalid: %v", err)
	}
}

func TestLoadSettings_EnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("LORE_AGENT", "ci-bot")
	t.Setenv("LORE_FORMAT", "JSON")
	t.Setenv("LORE_LOCK_TIMEOUT", "250ms")

	settings, err := LoadSettingsWithFlags(nil)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}

	if settings.Agent != "ci-bot" {
		t.Errorf("Agent = %q, want %q", settings.Agent, "ci-bot")
	}
	if settings.Format != FormatJSON {
		t.Errorf("Format = %q, want %q", settings.Format, FormatJSON)
	}
	if settings.LockTimeout != 250*time.Millisecond {
		t.Errorf("LockTimeout = %v, want %v", settings.LockTimeout, 250*time.Millisecond)
	}
}

func TestLoadSettingsWithFlags_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LORE_AGENT", "from-env")
	t.Setenv("LORE_FORMAT", "yaml")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("agent", "", "")
	flags.String("format", "", "")
	flags.String("log-level", "", "")
	flags.Duration("lock-timeout", 0, "")
	if err := flags.Parse([]string{"--agent", "from-flag", "--lock-timeout", "2s"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	settings, err := LoadSettingsWithFlags(flags)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}

	if settings.Agent != "from-flag" {
		t.Errorf("Agent = %q, want %q", settings.Agent, "from-flag")
	}
	if settings.Format != FormatYAML {
		t.Errorf("Format = %q, want %q (unset flag must not mask env)", settings.Format, FormatYAML)
	}
	if settings.LockTimeout != 2*time.Second {
		t.Errorf("LockTimeout = %v, want %v", settings.LockTimeout, 2*time.Second)
	}
}

func TestLoadSettingsWithFlags_MissingFlagsIgnored(t *testing.T) {
	clearEnv(t)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)

	if _, err := LoadSettingsWithFlags(flags); err != nil {
		t.Fatalf("Failed to load settings with empty flag set: %v", err)
	}
}

func TestLoadSettings_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LORE_AGENT=dotenv-agent\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Chdir(dir)

	settings, err := LoadSettingsWithFlags(nil)
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	if settings.Agent != "dotenv-agent" {
		t.Errorf("Agent = %q, want %q", settings.Agent, "dotenv-agent")
	}
}

func TestExpandHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := map[string]string{
		"~":         home,
		"~/work":    filepath.Join(home, "work"),
		"/abs/path": "/abs/path",
		"":          "",
	}
	for in, want := range tests {
		if got := expandHomeDir(in); got != want {
			t.Errorf("expandHomeDir(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateSettings(t *testing.T) {
	valid := Settings{Format: FormatText, LogLevel: "warn", LockTimeout: time.Second}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(s *Settings) {}, ""},
		{"json", func(s *Settings) { s.Format = FormatJSON }, ""},
		{"debug", func(s *Settings) { s.LogLevel = "debug" }, ""},
		{"bad format", func(s *Settings) { s.Format = "xml" }, "format"},
		{"bad level", func(s *Settings) { s.LogLevel = "loud" }, "log-level"},
		{"zero timeout", func(s *Settings) { s.LockTimeout = 0 }, "lock-timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := ValidateSettings(&s)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateSettings() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateSettings() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	if err != nil {
		t.Fatalf("ParseLevel failed: %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("ParseLevel = %v, want %v", level, slog.LevelDebug)
	}
}
