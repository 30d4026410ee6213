package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-watchman/internal/brands"
	"github.com/curtbushko/zoom-watchman/internal/clickup"
	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/cycle"
	"github.com/curtbushko/zoom-watchman/internal/failures"
	"github.com/curtbushko/zoom-watchman/internal/ledger"
	"github.com/curtbushko/zoom-watchman/internal/logging"
	"github.com/curtbushko/zoom-watchman/internal/policy"
	"github.com/curtbushko/zoom-watchman/internal/routing"
)

func createRunCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll Zoom forever, one cycle per interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, opts)
		},
	}
}

func createOnceCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := opts.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			w, err := newWatchman(cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary := w.driver.RunCycle(ctx)
			cmd.Println(renderSummary(summary))
			return nil
		},
	}
}

func runLoop(cmd *cobra.Command, opts *cliOptions) error {
	cfg, closeLog, err := opts.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	w, err := newWatchman(cfg)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.LogUserAction("watchman_start", "cli", map[string]interface{}{
		"version":     version,
		"interval":    cfg.Schedule.Interval().String(),
		"months_back": cfg.Schedule.MonthsBack,
		"epoch_floor": cfg.Schedule.EpochFloor,
	})

	if srv := w.statusServer(); srv != nil {
		go func() {
			if err := srv.Run(ctx); err != nil {
				logging.Error("Status endpoint stopped: %v", err)
			}
		}()
	}

	err = w.driver.Run(ctx, cfg.Schedule.Interval())
	if errors.Is(err, context.Canceled) {
		logging.Info("Shutting down")
		return nil
	}
	return err
}

func renderSummary(s cycle.Summary) string {
	rows := [][]string{
		{"Users", fmt.Sprint(s.Users)},
		{"Windows", fmt.Sprint(s.Windows)},
		{"Recordings seen", fmt.Sprint(s.Seen)},
		{"Duplicates", fmt.Sprint(s.Duplicates)},
		{"Before epoch floor", fmt.Sprint(s.BeforeFloor)},
		{"Already done", fmt.Sprint(s.AlreadyDone)},
		{"Auto-marked", fmt.Sprint(s.AutoMarked)},
		{"Skipped", fmt.Sprint(s.Skipped)},
		{"Unresolved", fmt.Sprint(s.Unresolved)},
		{"Completed", fmt.Sprint(s.Completed)},
		{"Retry pending", fmt.Sprint(s.RetryPending)},
		{"Errors", fmt.Sprint(s.Errors)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	return renderTable([]string{"Cycle", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

// loadBrands fetches the brand directory straight from ClickUp
func loadBrands(ctx context.Context, cfg *config.Config) (*brands.Directory, error) {
	tasks := clickup.NewClient(newAPIClient(cfg), cfg.ClickUp.APIKey, cfg.ClickUp.BaseURL)
	return brandLoader(cfg, tasks)(ctx)
}

func createResolveCommand(opts *cliOptions) *cobra.Command {
	var offline bool

	resolveCmd := &cobra.Command{
		Use:   "resolve <owner-email> <topic>",
		Short: "Show where a meeting would be routed, without touching anything",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := opts.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			manager, err := policy.NewManager(cfg.Policy.File, false)
			if err != nil {
				return fmt.Errorf("failed to load policy: %w", err)
			}
			defer manager.Close()

			directory := brands.NewDirectory(nil)
			if !offline {
				if directory, err = loadBrands(cmd.Context(), cfg); err != nil {
					return err
				}
			}

			resolver := routing.NewResolver(cfg.Routing, manager.Snapshot(), directory)
			owner, topic := args[0], args[1]
			d := resolver.Resolve(owner, topic)

			rows := [][]string{
				{"Owner", owner},
				{"Topic", topic},
				{"Decision", d.Kind.String()},
				{"Brand", d.BrandName},
				{"Reason", d.Reason},
			}
			switch d.Kind {
			case routing.KindStandard:
				rows = append(rows,
					[]string{"Task", d.Destination.TaskID},
					[]string{"Member folder", d.Destination.MemberFolderID},
					[]string{"Internal folder", d.Destination.InternalFolderID},
					[]string{"Internal only", fmt.Sprint(d.InternalOnly)},
				)
			case routing.KindSpecial:
				rows = append(rows,
					[]string{"Parent folder", d.ParentFolderID},
					[]string{"Subfolder", d.FolderName},
				)
			}
			cmd.Println(renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}

	resolveCmd.Flags().BoolVar(&offline, "offline", false, "skip loading brands from ClickUp")
	return resolveCmd
}

func createBrandsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "brands [name]",
		Short: "List the brand directory, or resolve one brand name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := opts.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			directory, err := loadBrands(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				dest, ok := directory.Resolve(args[0])
				if !ok {
					return fmt.Errorf("brand %q not found in %d brands", args[0], directory.Len())
				}
				rows := [][]string{{dest.BrandName, dest.TaskID, dest.MemberFolderID, dest.InternalFolderID}}
				cmd.Println(renderTable([]string{"Brand", "Task", "Member", "Internal"}, rows, nil))
				return nil
			}

			var rows [][]string
			for _, r := range directory.Records() {
				rows = append(rows, []string{r.Name, r.TaskID, brands.ExtractID(r.MemberFolderRef), brands.ExtractID(r.InternalFolderRef)})
			}
			cmd.Println(renderTable([]string{"Brand", "Task", "Member", "Internal"}, rows, nil))
			cmd.Printf("%d brands\n", directory.Len())
			return nil
		},
	}
}

func createLedgerCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "List completed meetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			records, err := ledger.ReadRecords(cfg.Ledger.Path)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{r.Date, r.Status, r.Topic, r.ID})
			}
			cmd.Println(renderTable([]string{"Date", "Status", "Topic", "Recording"}, rows, nil))
			cmd.Printf("%d records\n", len(records))
			return nil
		},
	}
}

func createFailuresCommand(opts *cliOptions) *cobra.Command {
	var clearID string

	failuresCmd := &cobra.Command{
		Use:   "failures",
		Short: "List meetings whose brand could not be resolved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			journal, err := failures.Open(cfg.Failures.Path, cfg.Failures.BaseBackoff(), cfg.Failures.MaxBackoff())
			if err != nil {
				return err
			}
			defer journal.Close()

			if clearID != "" {
				if err := journal.Clear(cmd.Context(), clearID); err != nil {
					return err
				}
				cmd.Printf("Cleared %s\n", clearID)
				return nil
			}

			entries, err := journal.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Brand,
					e.Topic,
					fmt.Sprint(e.Attempts),
					fmt.Sprint(e.Notifications),
					e.LastSeen.Format(time.RFC3339),
					e.RecordingID,
				})
			}
			cmd.Println(renderTable([]string{"Brand", "Topic", "Attempts", "Notices", "Last seen", "Recording"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
			cmd.Printf("%d failures\n", len(entries))
			return nil
		},
	}

	failuresCmd.Flags().StringVar(&clearID, "clear", "", "forget the failure for one recording id")
	return failuresCmd
}
