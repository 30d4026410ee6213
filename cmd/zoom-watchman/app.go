package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/box"
	"github.com/curtbushko/zoom-watchman/internal/brands"
	"github.com/curtbushko/zoom-watchman/internal/clickup"
	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/cycle"
	"github.com/curtbushko/zoom-watchman/internal/directory"
	"github.com/curtbushko/zoom-watchman/internal/download"
	"github.com/curtbushko/zoom-watchman/internal/failures"
	"github.com/curtbushko/zoom-watchman/internal/filename"
	"github.com/curtbushko/zoom-watchman/internal/httpclient"
	"github.com/curtbushko/zoom-watchman/internal/ledger"
	"github.com/curtbushko/zoom-watchman/internal/logging"
	"github.com/curtbushko/zoom-watchman/internal/notify"
	"github.com/curtbushko/zoom-watchman/internal/pipeline"
	"github.com/curtbushko/zoom-watchman/internal/policy"
	"github.com/curtbushko/zoom-watchman/internal/statusapi"
	"github.com/curtbushko/zoom-watchman/internal/tracking"
	"github.com/curtbushko/zoom-watchman/internal/zoom"
)

const apiTimeout = 30 * time.Second

// newAPIClient is the retrying client for short JSON calls
func newAPIClient(cfg *config.Config) *httpclient.RetryClient {
	return httpclient.New(httpclient.Config{
		Timeout:    apiTimeout,
		MaxRetries: cfg.Pipeline.RetryAttempts,
	})
}

// newTransferClient is the retrying client for downloads and uploads
func newTransferClient(cfg *config.Config) *httpclient.RetryClient {
	return httpclient.New(httpclient.Config{
		Timeout:    cfg.Pipeline.TimeoutDuration(),
		MaxRetries: cfg.Pipeline.RetryAttempts,
	})
}

// brandLoader loads the brand directory, looking the folder fields up by name only once
func brandLoader(cfg *config.Config, source clickup.TaskDirectory) cycle.BrandLoader {
	var (
		mu  sync.Mutex
		ids = brands.FieldIDs{Internal: cfg.ClickUp.InternalFieldID, Member: cfg.ClickUp.MemberFieldID}
	)
	names := brands.FieldNames{Internal: cfg.ClickUp.InternalFieldName, Member: cfg.ClickUp.MemberFieldName}

	return func(ctx context.Context) (*brands.Directory, error) {
		mu.Lock()
		defer mu.Unlock()

		resolved, err := brands.ResolveFieldIDs(ctx, source, cfg.ClickUp.ListID, ids, names)
		if err != nil {
			return nil, err
		}
		ids = resolved
		return brands.Load(ctx, source, cfg.ClickUp.ListID, ids, names)
	}
}

// watchman holds every long-lived component of the service
type watchman struct {
	cfg     *config.Config
	driver  *cycle.Driver
	ledger  *ledger.Ledger
	journal *failures.Journal
	policy  *policy.Manager
}

// newWatchman takes the ledger lock and wires the service from the configuration
func newWatchman(cfg *config.Config) (w *watchman, err error) {
	completed, err := ledger.OpenLocked(cfg.Ledger.Path)
	if err != nil {
		if errors.Is(err, ledger.ErrLocked) {
			return nil, fmt.Errorf("another zoom-watchman is already using %s", cfg.Ledger.Path)
		}
		return nil, err
	}
	defer func() {
		if err != nil {
			completed.Unlock()
		}
	}()

	api := newAPIClient(cfg)
	transfer := newTransferClient(cfg)

	auth, err := zoom.NewAuthenticator(cfg.Zoom)
	if err != nil {
		return nil, fmt.Errorf("failed to set up Zoom authentication: %w", err)
	}
	zoomAPI := zoom.NewAuthenticatedZoomClient(api, auth, cfg.Zoom.BaseURL, cfg.Zoom.PageSize)
	zoomFiles := zoom.NewAuthenticatedZoomClient(transfer, auth, cfg.Zoom.BaseURL, cfg.Zoom.PageSize)

	boxClient, err := box.NewClientFromConfig(cfg.Box, transfer)
	if err != nil {
		return nil, err
	}
	tasks := clickup.NewClient(api, cfg.ClickUp.APIKey, cfg.ClickUp.BaseURL)

	policyManager, err := policy.NewManager(cfg.Policy.File, cfg.Policy.Watch)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	journal, err := failures.Open(cfg.Failures.Path, cfg.Failures.BaseBackoff(), cfg.Failures.MaxBackoff())
	if err != nil {
		policyManager.Close()
		return nil, err
	}

	var tracker tracking.Tracker = tracking.NopTracker{}
	if cfg.Tracking.File != "" {
		csvTracker, err := tracking.NewCSVTracker(cfg.Tracking.File)
		if err != nil {
			logging.Warn("Transfer tracking disabled: %v", err)
		} else {
			tracker = csvTracker
		}
	}

	loc := cfg.Schedule.Location()
	namer := filename.NewNamer(loc)
	dirs := directory.NewDirectoryManager(directory.DirectoryConfig{
		BaseDirectory: cfg.Pipeline.WorkDir,
		CreateDirs:    true,
		Location:      loc,
	})
	pipe := pipeline.New(boxClient, download.NewDownloadManager(zoomFiles), namer, dirs, tracker,
		pipeline.Config{MinFileSize: cfg.Pipeline.MinFileSize, ProgressMinSize: cfg.Pipeline.ProgressMinSize})

	driver := cycle.New(cycle.Deps{
		Zoom:     zoomAPI,
		Folders:  boxClient,
		Pipeline: pipe,
		Ledger:   completed,
		Journal:  journal,
		Policy:   policyManager,
		Brands:   brandLoader(cfg, tasks),
		Tasks:    tasks,
		Notifier: notify.New(cfg.Notify, cfg.Schedule.Interval(), api),
		Namer:    namer,
	}, cycle.Config{
		MonthsBack:       cfg.Schedule.MonthsBack,
		EpochFloor:       cfg.Schedule.EpochFloorTime(),
		CompletionMarker: cfg.Pipeline.CompletionMarker,
		DateFieldIDs:     cfg.ClickUp.DateFieldIDs,
		Routing:          cfg.Routing,
	})

	return &watchman{
		cfg:     cfg,
		driver:  driver,
		ledger:  completed,
		journal: journal,
		policy:  policyManager,
	}, nil
}

// statusServer returns the status endpoint or nil when it is not configured
func (w *watchman) statusServer() *statusapi.Server {
	if w.cfg.Status.ListenAddr == "" {
		return nil
	}
	return statusapi.NewServer(w.cfg.Status.ListenAddr, statusapi.Sources{
		Version:  version,
		Summary:  w.driver,
		Ledger:   w.ledger,
		Failures: w.journal,
		Policy:   w.policy,
	})
}

// Close releases the journal, the policy watcher and the ledger lock
func (w *watchman) Close() {
	if err := w.journal.Close(); err != nil {
		logging.Warn("Closing failure journal: %v", err)
	}
	if err := w.policy.Close(); err != nil {
		logging.Warn("Closing policy watcher: %v", err)
	}
	if err := w.ledger.Unlock(); err != nil {
		logging.Warn("Releasing ledger lock: %v", err)
	}
}
