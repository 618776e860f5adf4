package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/comet/internal/runner"
	"github.com/ajitpratap0/comet/pkg/config"
	"github.com/ajitpratap0/comet/pkg/logger"
	"github.com/ajitpratap0/comet/pkg/record"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "comet",
		Short: "Comet - helpdesk data collector",
		Long: `Comet collects tickets, users, organizations, articles, macros and
groups from a hosted helpdesk API, resolves the cross-references
between them and writes each record as a markdown document with
relative links. Runs are quota-governed and resumable.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Comet %s\n", config.Version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "entities",
		Short: "List collectable entity types",
		Run: func(cmd *cobra.Command, args []string) {
			for _, typ := range record.AllTypes() {
				desc, _ := record.Lookup(typ)
				fmt.Printf("  %-14s -> %s/\n", typ, desc.OutputDir)
			}
		},
	})

	root.AddCommand(newTestConnectionCmd())
	root.AddCommand(newCollectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTestConnectionCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Verify API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configFile, nil)
			if err != nil {
				return err
			}
			if err := runner.New(cfg, log).TestConnection(cmd.Context()); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Println("Connection OK")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "comet.yaml", "Path to configuration file")
	return cmd
}

// collectFlags carries the command-line overrides applied on top of
// the configuration file.
type collectFlags struct {
	entities      string
	status        string
	createdAfter  string
	createdBefore string
	role          string
	activeOnly    bool
	noComments    bool
	output        string
	stateFile     string
	logLevel      string
	resume        bool
}

func newCollectCmd() *cobra.Command {
	var configFile string
	var flags collectFlags

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect records and emit markdown documents",
		Long: `Collect the selected entity types, resolve cross-references and
write one markdown document per record.

Example:
  comet collect --config comet.yaml --entities tickets,users --status open --resume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configFile, &flags)
			if err != nil {
				return err
			}
			return runCollect(cmd.Context(), cfg, log, flags.resume)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "comet.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&flags.entities, "entities", "", "Comma-separated entity types (default: all)")
	cmd.Flags().StringVar(&flags.status, "status", "", "Ticket status filter (open, pending, solved, closed)")
	cmd.Flags().StringVar(&flags.createdAfter, "created-after", "", "Only records created on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.createdBefore, "created-before", "", "Only records created on or before this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.role, "role", "", "User role filter (end-user, agent, admin)")
	cmd.Flags().BoolVar(&flags.activeOnly, "active-only", false, "Skip suspended and inactive users")
	cmd.Flags().BoolVar(&flags.noComments, "no-comments", false, "Skip fetching ticket comment threads")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output directory (overrides configuration)")
	cmd.Flags().StringVar(&flags.stateFile, "state-file", "", "Checkpoint database path (overrides configuration)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "Resume from stored checkpoints instead of starting fresh")
	return cmd
}

// setup loads and validates the configuration, applies flag overrides
// and initializes the global logger.
func setup(configFile string, flags *collectFlags) (*config.Config, *zap.Logger, error) {
	cfg := config.Default()
	if _, err := os.Stat(configFile); err == nil {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	if flags != nil {
		applyFlags(cfg, flags)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return nil, nil, err
	}
	return cfg, logger.Get(), nil
}

func applyFlags(cfg *config.Config, flags *collectFlags) {
	if flags.entities != "" {
		cfg.Collection.Entities = splitEntities(flags.entities)
	}
	if flags.status != "" {
		cfg.Collection.Filters.Status = flags.status
	}
	if flags.createdAfter != "" {
		cfg.Collection.Filters.CreatedAfter = flags.createdAfter
	}
	if flags.createdBefore != "" {
		cfg.Collection.Filters.CreatedBefore = flags.createdBefore
	}
	if flags.role != "" {
		cfg.Collection.Filters.Role = flags.role
	}
	if flags.activeOnly {
		cfg.Collection.Filters.ActiveOnly = true
	}
	if flags.noComments {
		cfg.Collection.IncludeComments = false
	}
	if flags.output != "" {
		cfg.Output.BaseDirectory = flags.output
	}
	if flags.stateFile != "" {
		cfg.Output.StateFile = flags.stateFile
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
}

func runCollect(parent context.Context, cfg *config.Config, log *zap.Logger, resume bool) error {
	// SIGINT and SIGTERM cancel cooperatively: every task stops at its
	// next page boundary with its checkpoint already durable.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runner.New(cfg, log).Run(ctx, resume)
	if res != nil && res.Summary != nil {
		fmt.Print(runner.FormatSummary(res))
	}

	if stderrors.Is(err, context.Canceled) {
		fmt.Println("Interrupted; re-run with --resume to continue.")
		return nil
	}
	return err
}

func splitEntities(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
