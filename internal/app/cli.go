package app

import (
	"github.com/spf13/pflag"

	"github.com/AvraamMavridis/lore/internal/config"
)

// RegisterFlags registers the global CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("root", "", "Directory to start repository discovery from (default: working directory)")
	flags.String("format", "", "Output format: "+config.FormatText+", "+config.FormatJSON+" or "+config.FormatYAML)
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Duration("lock-timeout", 0, "How long writers wait for the repository lock")
}

// RegisterAgentFlag registers the agent flag used by commands that write.
func RegisterAgentFlag(flags *pflag.FlagSet, shorthand string) {
	flags.StringP("agent", shorthand, "", "Agent identifier (default: repository default agent)")
}
