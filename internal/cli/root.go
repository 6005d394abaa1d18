// Package cli provides the command-line interface for tradeshare.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradeshare/internal/config"
	"tradeshare/internal/errors"
	"tradeshare/internal/identity"
	"tradeshare/internal/logging"
	"tradeshare/internal/positions"
	"tradeshare/internal/store"
	"tradeshare/internal/syncer"
	"tradeshare/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-07-01"
)

// skipSetup marks commands that run without opening the store.
const skipSetup = "skip-setup"

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.Store
	Identity  identity.Provider
	Positions *positions.Service
	Syncer    *syncer.Orchestrator
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "tradeshare",
		Short: "Share trading positions and keep replicas in sync",
		Long: `tradeshare lets you share trading positions with other people.

Recipients get their own replica of a shared position. They can tag and
comment on it locally and sync with the owner's copy when they choose.
Conflicting changes are shown for review and resolved with a policy.

Use 'tradeshare status' to see which replicas have updates waiting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			if cmd.Annotations[skipSetup] == "true" {
				return nil
			}
			return app.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/tradeshare)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	addCoreCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addSyncCommands(rootCmd, app)

	return rootCmd
}

// setup loads configuration and builds the store and services.
func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	if !cfg.UI.ColorEnabled {
		_ = cmd.Flags().Set("no-color", "true")
	}
	if cfg.UI.TimeFormat != "" {
		timeFormat = cfg.UI.TimeFormat
	}

	s, err := openStore(cfg)
	if err != nil {
		return errors.NewSyncError(errors.KindPersistence, "open", "", "", err)
	}
	a.Store = s
	a.Logger.Debug().Str("backend", cfg.Store.Backend).Str("path", cfg.Store.Path).Msg("Store opened")

	a.Identity = cfg.IdentityProvider()
	a.Positions = positions.NewService(s, a.Identity, a.Logger)
	a.Syncer = syncer.New(s, a.Identity, syncerConfig(cfg), a.Logger)
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Backend == config.BackendMemory {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}

func syncerConfig(cfg *config.Config) syncer.Config {
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Sync.RetryAttempts
	return syncer.Config{
		DefaultPolicy: cfg.Sync.Policy(),
		Parallelism:   cfg.Sync.Parallelism,
		Retry:         retry,
		PollInterval:  cfg.Sync.PollInterval,
		StaleAfter:    cfg.Sync.StaleAfter,
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	err := a.Store.Close()
	a.Store = nil
	return err
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errors.ErrAwaitingPolicy) {
		return 2
	}
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return 3
	case errors.KindAuthorizationDenied:
		return 4
	case errors.KindValidation:
		return 5
	case errors.KindPersistence:
		return 6
	}
	return 1
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("tradeshare v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}
	noSetup := map[string]string{skipSetup: "true"}

	cmd.AddCommand(&cobra.Command{
		Use:         "show",
		Short:       "Show current configuration",
		Annotations: noSetup,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := config.Read(app.ConfigDir)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			return showConfig(output, cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration file path",
		Annotations: noSetup,
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: noSetup,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := config.Load(app.ConfigDir); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return errors.NewSyncError(errors.KindValidation, "config", "", "", err)
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Identity")
	output.Printf("  User:            %s (%s)\n", cfg.Identity.UserID, cfg.Identity.UserName)
	for _, r := range cfg.Identity.Recipients {
		output.Printf("  Recipient:       %s %s\n", r.ID, output.DimText(r.Name))
	}
	output.Println()

	output.Bold("Store")
	output.Printf("  Backend:         %s\n", cfg.Store.Backend)
	output.Printf("  Path:            %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Sync")
	output.Printf("  Poll Interval:   %s\n", cfg.Sync.PollInterval)
	output.Printf("  Parallelism:     %d\n", cfg.Sync.Parallelism)
	output.Printf("  Retry Attempts:  %d\n", cfg.Sync.RetryAttempts)
	output.Printf("  Event Retention: %s\n", FormatDuration(cfg.Sync.EventRetention))
	output.Printf("  Stale After:     %s\n", FormatDuration(cfg.Sync.StaleAfter))
	output.Printf("  Default Policy:  tags=%s comments=%s details=%s\n",
		cfg.Sync.DefaultPolicy.Tags, cfg.Sync.DefaultPolicy.Comments, cfg.Sync.DefaultPolicy.Details)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  File:            %v %s\n", cfg.Logging.File, output.DimText(cfg.Logging.FilePath))

	return nil
}
