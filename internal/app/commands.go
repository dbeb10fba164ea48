package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AvraamMavridis/lore/internal/config"
	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/merge"
	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/store"
)

// commandSet builds commands that share one set of dependencies.
type commandSet struct {
	params  RunParams
	version string
}

func (s *commandSet) run(action Action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return RunWithDeps(cmd.Context(), s.params, cmd.Flags(), s.version, action)
	}
}

// runDriver runs action for commands that git invokes. They use no output
// or repository settings, so settings that fail to load or validate fall
// back to the defaults instead of failing the merge.
func (s *commandSet) runDriver(action Action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		params := s.params
		load, validate := params.LoadSettings, params.ValidSettings
		var ignored error
		params.LoadSettings = func(flags *pflag.FlagSet) (*config.Settings, error) {
			settings, err := load(flags)
			if err != nil {
				ignored = err
				return config.DefaultSettings(), nil
			}
			return settings, nil
		}
		params.ValidSettings = func(settings *config.Settings) error {
			if validate == nil {
				return nil
			}
			if err := validate(settings); err != nil {
				ignored = err
				*settings = *config.DefaultSettings()
			}
			return nil
		}
		return RunWithDeps(cmd.Context(), params, cmd.Flags(), s.version, func(ctx context.Context, env *Env) error {
			if ignored != nil {
				slog.Warn("Ignoring invalid settings", "error", ignored)
			}
			return action(ctx, env)
		})
	}
}

// usageArgs reports argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(fn(cmd, args))
	}
}

// NewRootCommand creates the lore command tree.
func NewRootCommand(params RunParams, version string) *cobra.Command {
	s := &commandSet{params: params, version: version}

	root := &cobra.Command{
		Use:   "lore",
		Short: "Record and query the reasoning behind code changes",
		Long: `lore keeps an append-only record of why files changed, stored next to the
code in .lore/ so it travels with the repository and merges cleanly.`,
		Version:       version,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	if params.Stdout != nil {
		root.SetOut(params.Stdout)
	}
	if params.Stderr != nil {
		root.SetErr(params.Stderr)
	}

	RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		s.newInitCommand(),
		s.newRecordCommand(),
		s.newExplainCommand(),
		s.newSearchCommand(),
		s.newListCommand(),
		s.newStatusCommand(),
		s.newMergeIndexCommand(),
		s.newRepairCommand(),
		s.newMCPCommand(),
	)
	return root
}

func (s *commandSet) newInitCommand() *cobra.Command {
	var (
		path         string
		installMerge bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the .lore directory",
		Args:  usageArgs(cobra.NoArgs),
	}
	cmd.Flags().StringVar(&path, "path", "", "Repository root to initialize (default: --root or working directory)")
	cmd.Flags().BoolVar(&installMerge, "install-merge-driver", false, "Register the index merge driver in git config and .gitattributes")
	RegisterAgentFlag(cmd.Flags(), "")

	cmd.RunE = s.run(func(ctx context.Context, env *Env) error {
		target := path
		if target == "" {
			var err error
			if target, err = env.start(); err != nil {
				return fmt.Errorf("failed to resolve working directory: %w", err)
			}
		}

		repo, created, err := store.Init(target, env.Settings.Agent, store.WithLockTimeout(env.Settings.LockTimeout))
		if err != nil {
			return err
		}
		msg := "Initialized lore repository in " + repo.Dir()
		if !created {
			msg = "lore repository already exists in " + repo.Dir()
		}

		if installMerge {
			v := env.VCS(repo.Root())
			if v == nil {
				return NewExitError(ExitUsage, "--install-merge-driver needs version control")
			}
			binary := "lore"
			if env.Params.Executable != nil {
				if exe, err := env.Params.Executable(); err == nil {
					binary = exe
				}
			}
			if err := v.InstallMergeDriver(ctx, binary); err != nil {
				return fmt.Errorf("failed to install merge driver: %w", err)
			}
			msg += "; merge driver installed"
		}
		return env.Out.Message(msg)
	})
	return cmd
}

type recordOptions struct {
	intent       string
	trace        string
	traceFile    string
	stdin        bool
	files        []string
	alternatives []string
	tags         []string
	lines        string
}

func (s *commandSet) newRecordCommand() *cobra.Command {
	opts := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record reasoning for one or more files",
		Long: `Record one entry covering every given file. Without --file the files
changed in the git working tree are used.

Example:
  lore record -m "Switch to JWT" -f src/auth.go -r "Sessions:needs sticky state" -T auth`,
		Args: usageArgs(cobra.NoArgs),
	}
	f := cmd.Flags()
	f.StringVarP(&opts.intent, "message", "m", "", "One-line intent (required)")
	f.StringVarP(&opts.trace, "trace", "t", "", "Reasoning trace")
	f.StringVar(&opts.traceFile, "trace-file", "", "Read the reasoning trace from a file")
	f.BoolVar(&opts.stdin, "stdin", false, "Read the reasoning trace from standard input")
	f.StringArrayVarP(&opts.files, "file", "f", nil, "File the reasoning applies to (repeatable)")
	f.StringArrayVarP(&opts.alternatives, "rejected", "r", nil, "Rejected alternative as NAME[:REASON] (repeatable)")
	f.StringArrayVarP(&opts.tags, "tag", "T", nil, "Tag (repeatable)")
	f.StringVarP(&opts.lines, "lines", "l", "", "Affected line range as START-END")
	RegisterAgentFlag(f, "a")

	cmd.RunE = s.run(func(ctx context.Context, env *Env) error {
		return runRecord(ctx, env, opts, cmd.Flags().Changed("trace"))
	})
	return cmd
}

func runRecord(ctx context.Context, env *Env, opts *recordOptions, traceSet bool) error {
	repo, err := env.Repository()
	if err != nil {
		return err
	}

	trace, err := readTrace(env, opts, traceSet)
	if err != nil {
		return err
	}

	req := store.RecordRequest{
		Intent: opts.intent,
		Trace:  trace,
		Agent:  env.Settings.Agent,
		Tags:   opts.tags,
	}
	if opts.lines != "" {
		lr, err := domain.ParseLineRange(opts.lines)
		if err != nil {
			return usageError(err)
		}
		req.LineRange = lr
	}
	for _, raw := range opts.alternatives {
		name, reason, _ := strings.Cut(raw, ":")
		req.Alternatives = append(req.Alternatives, domain.RejectedAlternative{
			Name:   strings.TrimSpace(name),
			Reason: strings.TrimSpace(reason),
		})
	}

	v := env.VCS(repo.Root())
	if len(opts.files) == 0 {
		if req.Files, err = changedFiles(ctx, v); err != nil {
			return err
		}
		slog.Info("Using changed files", "count", len(req.Files))
	} else {
		cwd, err := env.Cwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		for _, p := range opts.files {
			rel, err := domain.RelativeTarget(repo.Root(), cwd, p)
			if err != nil {
				return usageError(fmt.Errorf("%s: %w", p, err))
			}
			req.Files = append(req.Files, rel)
		}
	}

	var commits store.CommitSource
	if v != nil {
		commits = v
	}
	res, err := repo.Record(ctx, req, commits)
	if err != nil {
		return err
	}
	return env.Out.Recorded(res)
}

// readTrace takes the trace from at most one of --trace, --trace-file and
// --stdin. With none of them, piped standard input is used.
func readTrace(env *Env, opts *recordOptions, traceSet bool) (string, error) {
	sources := 0
	for _, set := range []bool{traceSet, opts.traceFile != "", opts.stdin} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return "", usageError(errors.New("--trace, --trace-file and --stdin are mutually exclusive"))
	}

	switch {
	case traceSet:
		return opts.trace, nil
	case opts.traceFile != "":
		data, err := os.ReadFile(opts.traceFile)
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.NotFound("read trace", opts.traceFile)
		}
		if err != nil {
			return "", domain.IOFailure("read trace", opts.traceFile, err)
		}
		return string(data), nil
	case opts.stdin:
		return readStdin(env)
	case env.Params.Stdin != nil && env.Params.StdinIsTerminal != nil && !env.Params.StdinIsTerminal():
		return readStdin(env)
	default:
		return "", nil
	}
}

func readStdin(env *Env) (string, error) {
	if env.Params.Stdin == nil {
		return "", nil
	}
	data, err := io.ReadAll(env.Params.Stdin)
	if err != nil {
		return "", domain.IOFailure("read trace", "stdin", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func changedFiles(ctx context.Context, v VCS) ([]string, error) {
	if v == nil {
		return nil, usageError(errors.New("no --file given and version control is not available"))
	}
	files, err := v.ChangedFiles(ctx)
	if err != nil {
		return nil, usageError(fmt.Errorf("no --file given and changed files could not be detected: %w", err))
	}
	if len(files) == 0 {
		return nil, usageError(errors.New("no --file given and no changed files detected"))
	}
	return files, nil
}

// target resolves a user-supplied path against the repository root.
func target(env *Env, repo *store.Repository, p string) (string, error) {
	cwd, err := env.Cwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	rel, err := domain.RelativeTarget(repo.Root(), cwd, p)
	if err != nil {
		return "", usageError(fmt.Errorf("%s: %w", p, err))
	}
	return rel, nil
}

func (s *commandSet) newExplainCommand() *cobra.Command {
	var opts query.ExplainOptions
	cmd := &cobra.Command{
		Use:   "explain FILE",
		Short: "Show the reasoning recorded for a file",
		Args:  usageArgs(cobra.ExactArgs(1)),
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "Show the full history, newest first")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of entries with --all")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		return s.run(func(ctx context.Context, env *Env) error {
			repo, err := env.Repository()
			if err != nil {
				return err
			}
			p, err := target(env, repo, args[0])
			if err != nil {
				return err
			}
			res, err := query.New(repo, nil).Explain(p, opts)
			if err != nil {
				return err
			}
			return env.Out.Entries(res, "No readable reasoning for "+p+".")
		})(c, args)
	}
	return cmd
}

func (s *commandSet) newSearchCommand() *cobra.Command {
	var (
		opts   query.SearchOptions
		ranked bool
	)
	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Search recorded reasoning",
		Long: `Case-insensitive substring search over intent, reasoning, agent, tags and
rejected alternatives. With --ranked, results are ordered by relevance.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
	}
	cmd.Flags().StringVar(&opts.File, "file", "", "Only entries attached to this file")
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "Only entries whose agent contains this text")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Only entries with exactly this tag")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().BoolVar(&ranked, "ranked", false, "Order by full-text relevance (filters are ignored)")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		return s.run(func(ctx context.Context, env *Env) error {
			repo, err := env.Repository()
			if err != nil {
				return err
			}
			var text string
			if len(args) == 1 {
				text = args[0]
			}
			engine := query.New(repo, nil)

			if ranked {
				res, err := engine.RankedSearch(text, opts.Limit)
				if err != nil {
					return err
				}
				return env.Out.Ranked(res)
			}

			filter := opts
			if filter.File != "" {
				if filter.File, err = target(env, repo, filter.File); err != nil {
					return err
				}
			}
			res, err := engine.Search(text, filter)
			if err != nil {
				return err
			}
			return env.Out.Entries(res, "No matching entries.")
		})(c, args)
	}
	return cmd
}

func (s *commandSet) newListCommand() *cobra.Command {
	var opts query.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every entry, newest first",
		Args:  usageArgs(cobra.NoArgs),
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of entries")

	cmd.RunE = s.run(func(ctx context.Context, env *Env) error {
		repo, err := env.Repository()
		if err != nil {
			return err
		}
		res, err := query.New(repo, nil).List(opts)
		if err != nil {
			return err
		}
		return env.Out.Entries(res, "No entries recorded yet.")
	})
	return cmd
}

func (s *commandSet) newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report changed files that lack reasoning",
		Args:  usageArgs(cobra.NoArgs),
	}
	cmd.RunE = s.run(func(ctx context.Context, env *Env) error {
		repo, err := env.Repository()
		if err != nil {
			return err
		}
		var changes query.ChangeSource
		if v := env.VCS(repo.Root()); v != nil {
			changes = v
		}
		rep, err := query.New(repo, changes).Status(ctx)
		if err != nil {
			return err
		}
		return env.Out.Status(repo.Root(), rep)
	})
	return cmd
}

func (s *commandSet) newMergeIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge-index ANCESTOR LOCAL INCOMING",
		Short: "Merge two index files (git merge driver, %O %A %B)",
		Long: `Union-merge the LOCAL and INCOMING index files and write the result over
LOCAL. An unreadable side is treated as empty; the merge fails only when both
sides are unreadable.`,
		Args:  usageArgs(cobra.ExactArgs(3)),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return s.runDriver(func(ctx context.Context, env *Env) error {
			stats, err := merge.ReconcileFiles(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			slog.Info("Merged index", "stats", stats.Describe())
			return env.Out.Merged(stats)
		})(c, args)
	}
	return cmd
}

func (s *commandSet) newRepairCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair [ID...]",
		Short: "Re-attach entries missing from the index",
		Long: `Without arguments every stored entry is merged back into the index. With
entry ids only those entries are re-attached.`,
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return s.run(func(ctx context.Context, env *Env) error {
			repo, err := env.Repository()
			if err != nil {
				return err
			}
			var res *store.RepairResult
			if len(args) > 0 {
				res, err = repo.RepairEntries(ctx, args)
			} else {
				res, err = repo.Repair(ctx)
			}
			if err != nil {
				return err
			}
			return env.Out.Repaired(res)
		})(c, args)
	}
	return cmd
}

func (s *commandSet) newMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve lore tools over MCP on stdio",
		Args:  usageArgs(cobra.NoArgs),
	}
	cmd.RunE = s.run(serveMCP)
	return cmd
}
