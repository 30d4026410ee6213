package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/logging"
)

var (
	// Version information - will be set during build
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// cliOptions holds the persistent flags
type cliOptions struct {
	configFile string
	verbose    bool
	jsonLogs   bool
}

// loadConfig reads the configuration file and applies the flag overrides
func (o *cliOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if o.jsonLogs {
		cfg.Logging.JSONFormat = true
	}
	return cfg, nil
}

// setup loads the configuration and starts logging
func (o *cliOptions) setup() (*config.Config, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	closeLog := func() {
		if logger := logging.GetDefaultLogger(); logger != nil {
			logger.Close()
		}
	}
	return cfg, closeLog, nil
}

// createRootCommand builds the command tree
func createRootCommand() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "zoom-watchman",
		Short: "Move finished Zoom cloud recordings into brand folders on Box",
		Long: `zoom-watchman polls every Zoom user's cloud recordings, works out which
brand each meeting belongs to from its topic, uploads the artifacts into that
brand's Box folders and then removes or marks the recording in Zoom.

Running without a subcommand starts the polling loop, same as 'run'.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "log as JSON lines")

	rootCmd.AddCommand(
		createRunCommand(opts),
		createOnceCommand(opts),
		createResolveCommand(opts),
		createBrandsCommand(opts),
		createLedgerCommand(opts),
		createFailuresCommand(opts),
		createConfigCommand(opts),
		createVersionCommand(),
	)

	return rootCmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("zoom-watchman version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// createConfigCommand groups the configuration helpers
func createConfigCommand(opts *cliOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			cmd.Printf("✅ Configuration %s is valid\n\n", opts.configFile)
			rows := [][]string{
				{"zoom.auth_mode", cfg.Zoom.AuthMode},
				{"clickup.list_id", cfg.ClickUp.ListID},
				{"schedule.interval", cfg.Schedule.Interval().String()},
				{"schedule.months_back", fmt.Sprint(cfg.Schedule.MonthsBack)},
				{"schedule.epoch_floor", cfg.Schedule.EpochFloor},
				{"pipeline.work_dir", cfg.Pipeline.WorkDir},
				{"ledger.path", cfg.Ledger.Path},
				{"failures.path", cfg.Failures.Path},
				{"notify.backend", cfg.Notify.Backend},
				{"policy.file", cfg.Policy.File},
				{"status.listen_addr", cfg.Status.ListenAddr},
			}
			cmd.Println(renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	})

	return configCmd
}

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
