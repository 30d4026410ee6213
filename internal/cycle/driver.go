// Package cycle drives one scan of every Zoom owner's recordings and the polling loop around it
package cycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/brands"
	"github.com/curtbushko/zoom-watchman/internal/clickup"
	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/failures"
	"github.com/curtbushko/zoom-watchman/internal/filename"
	"github.com/curtbushko/zoom-watchman/internal/ledger"
	"github.com/curtbushko/zoom-watchman/internal/logging"
	"github.com/curtbushko/zoom-watchman/internal/notify"
	"github.com/curtbushko/zoom-watchman/internal/pipeline"
	"github.com/curtbushko/zoom-watchman/internal/policy"
	"github.com/curtbushko/zoom-watchman/internal/routing"
	"github.com/curtbushko/zoom-watchman/internal/zoom"
)

// WindowLayout is the date format of the recording list window bounds
const WindowLayout = "2006-01-02"

// Folders is the storage folder surface the driver needs
type Folders interface {
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	FolderLink(folderID string) string
}

// Runner runs the asset pipeline for one meeting
type Runner interface {
	Process(ctx context.Context, owner string, rec zoom.Recording, target pipeline.Target) pipeline.Result
}

// Journal records resolution failures and decides when they are worth another notice
type Journal interface {
	Record(ctx context.Context, f failures.Failure, now time.Time) (bool, error)
	Clear(ctx context.Context, recordingID string) error
}

// PolicySource serves the current owner policy
type PolicySource interface {
	Snapshot() *policy.Snapshot
}

// BrandLoader loads a fresh brand directory
type BrandLoader func(ctx context.Context) (*brands.Directory, error)

// Deps are the collaborators of the driver
type Deps struct {
	Zoom     zoom.CloudRecordingClient
	Folders  Folders
	Pipeline Runner
	Ledger   *ledger.Ledger
	Journal  Journal
	Policy   PolicySource
	Brands   BrandLoader
	Tasks    clickup.TaskDirectory
	Notifier notify.Notifier
	Namer    filename.Namer
}

// Config holds the driver settings
type Config struct {
	MonthsBack       int
	EpochFloor       time.Time
	CompletionMarker string
	DateFieldIDs     []string
	Routing          config.RoutingConfig
}

// Summary counts what happened during one cycle
type Summary struct {
	Users        int           `json:"users"`
	Windows      int           `json:"windows"`
	Seen         int           `json:"seen"`
	Duplicates   int           `json:"duplicates"`
	BeforeFloor  int           `json:"before_floor"`
	AlreadyDone  int           `json:"already_done"`
	AutoMarked   int           `json:"auto_marked"`
	Skipped      int           `json:"skipped"`
	Unresolved   int           `json:"unresolved"`
	Completed    int           `json:"completed"`
	RetryPending int           `json:"retry_pending"`
	Errors       int           `json:"errors"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Window is one inclusive recording list range
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) String() string {
	return w.From.Format(WindowLayout) + ".." + w.To.Format(WindowLayout)
}

// Windows returns months-long ranges walking back from now, newest first. Adjacent
// windows share their boundary day so a meeting can appear in two of them.
func Windows(now time.Time, monthsBack int) []Window {
	now = now.UTC()
	windows := make([]Window, 0, monthsBack)
	for i := 0; i < monthsBack; i++ {
		windows = append(windows, Window{
			From: now.AddDate(0, -(i + 1), 0),
			To:   now.AddDate(0, -i, 0),
		})
	}
	return windows
}

// Driver runs cycles
type Driver struct {
	deps   Deps
	config Config
	now    func() time.Time

	mu        sync.RWMutex
	last      *Summary
	directory *brands.Directory
}

// New creates a driver. Journal, Policy, Tasks, Notifier and Namer may be nil.
func New(deps Deps, cfg Config) *Driver {
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}
	if deps.Namer == nil {
		deps.Namer = filename.NewNamer(time.UTC)
	}
	if cfg.CompletionMarker == "" {
		cfg.CompletionMarker = "✅"
	}
	return &Driver{deps: deps, config: cfg, now: time.Now}
}

// LastSummary returns the summary of the most recent finished cycle
func (d *Driver) LastSummary() (Summary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Summary{}, false
	}
	return *d.last, true
}

func (d *Driver) publish(s Summary) {
	d.mu.Lock()
	d.last = &s
	d.mu.Unlock()
}

// Run executes a cycle, sleeps for interval and repeats until ctx is done
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	for {
		d.safeCycle(ctx)

		logging.Info("Cycle finished, sleeping for %v", interval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Driver) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Cycle panicked: %v\n%s", r, debug.Stack())
		}
	}()
	d.RunCycle(ctx)
}

// RunCycle scans every owner's recordings once and processes what is pending
func (d *Driver) RunCycle(ctx context.Context) Summary {
	ctx = logging.WithRequestID(ctx, logging.GenerateRequestID())
	summary := Summary{StartedAt: d.now()}
	defer func() {
		summary.Duration = d.now().Sub(summary.StartedAt)
		d.publish(summary)
		logging.InfoWithContext(ctx, "Cycle summary: users=%d seen=%d completed=%d retry=%d unresolved=%d skipped=%d errors=%d in %v",
			summary.Users, summary.Seen, summary.Completed, summary.RetryPending, summary.Unresolved, summary.Skipped, summary.Errors, summary.Duration)
	}()

	logging.InfoWithContext(ctx, "Watchman scan started")

	snapshot := d.snapshot()
	directory, err := d.loadDirectory(ctx)
	if err != nil {
		logging.ErrorWithContext(ctx, "No brand directory available, skipping cycle: %v", err)
		summary.Errors++
		return summary
	}
	resolver := routing.NewResolver(d.config.Routing, snapshot, directory)

	users, err := d.deps.Zoom.ListUsers(ctx)
	if err != nil {
		logging.ErrorWithContext(ctx, "Failed to list Zoom users: %v", err)
		summary.Errors++
		return summary
	}

	windows := Windows(summary.StartedAt, d.config.MonthsBack)
	floor := d.config.EpochFloor
	seen := make(map[string]bool)

	for _, user := range users {
		if snapshot.IsIgnoredOwner(user.Email) {
			continue
		}
		summary.Users++

		for _, window := range windows {
			if ctx.Err() != nil {
				logging.WarnWithContext(ctx, "Cycle interrupted: %v", ctx.Err())
				return summary
			}
			summary.Windows++

			recordings, err := d.deps.Zoom.GetAllUserRecordings(ctx, user.ID, window.From, window.To)
			if err != nil {
				logging.WarnWithContext(ctx, "Listing recordings for %s in %s failed: %v", user.Email, window, err)
				continue
			}

			for _, rec := range recordings {
				summary.Seen++
				if seen[rec.UUID] {
					summary.Duplicates++
					continue
				}
				seen[rec.UUID] = true

				if !floor.IsZero() && rec.StartTime.Before(floor) {
					summary.BeforeFloor++
					continue
				}
				if d.deps.Ledger.Has(rec.UUID) {
					summary.AlreadyDone++
					continue
				}

				d.safeMeeting(ctx, user.Email, rec, resolver, &summary)
			}
		}
	}
	return summary
}

func (d *Driver) snapshot() *policy.Snapshot {
	if d.deps.Policy != nil {
		if s := d.deps.Policy.Snapshot(); s != nil {
			return s
		}
	}
	return policy.NewSnapshot(policy.File{})
}

// loadDirectory returns the brand directory, loading it on first use.
// Once loaded it is kept for the life of the process; a failed first load is retried next cycle.
func (d *Driver) loadDirectory(ctx context.Context) (*brands.Directory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.directory != nil {
		return d.directory, nil
	}
	if d.deps.Brands == nil {
		d.directory = brands.NewDirectory(nil)
		return d.directory, nil
	}

	directory, err := d.deps.Brands(ctx)
	if err != nil {
		return nil, err
	}
	d.directory = directory
	logging.InfoWithContext(ctx, "Loaded %d brands", directory.Len())
	return directory, nil
}

func (d *Driver) safeMeeting(ctx context.Context, owner string, rec zoom.Recording, resolver *routing.Resolver, summary *Summary) {
	ctx = logging.WithRequestID(ctx, logging.GenerateRequestID())
	defer func() {
		if r := recover(); r != nil {
			summary.Errors++
			logging.ErrorWithContext(ctx, "Meeting %q (%s) panicked: %v\n%s", rec.Topic, rec.UUID, r, debug.Stack())
		}
	}()
	d.processMeeting(ctx, owner, rec, resolver, summary)
}

func (d *Driver) processMeeting(ctx context.Context, owner string, rec zoom.Recording, resolver *routing.Resolver, summary *Summary) {
	if strings.Contains(rec.Topic, d.config.CompletionMarker) {
		summary.AutoMarked++
		d.upsertLedger(ctx, ledger.Record{
			ID:     rec.UUID,
			Topic:  rec.Topic,
			Date:   d.deps.Namer.FormatDate(rec.StartTime),
			Status: ledger.StatusAlreadyMarked,
		})
		return
	}

	decision := resolver.Resolve(owner, rec.Topic)
	var target pipeline.Target
	var links string

	switch decision.Kind {
	case routing.KindSkip:
		summary.Skipped++
		logging.DebugWithContext(ctx, "Skipping %q: %s", rec.Topic, decision.Reason)
		return

	case routing.KindUnresolved:
		summary.Unresolved++
		d.reportUnresolved(ctx, rec, decision)
		return

	case routing.KindSpecial:
		logging.InfoWithContext(ctx, "Found special-routing meeting %q for %s", rec.Topic, owner)
		folderID, err := d.deps.Folders.EnsureFolder(ctx, decision.ParentFolderID, decision.FolderName)
		if err != nil {
			summary.RetryPending++
			logging.WarnWithContext(ctx, "Could not prepare folder %q, retrying next cycle: %v", decision.FolderName, err)
			return
		}
		target = pipeline.SpecialTarget(folderID)
		links = "📂 Folder: " + d.deps.Folders.FolderLink(folderID)

	case routing.KindStandard:
		logging.InfoWithContext(ctx, "Found meeting %q for brand %s", rec.Topic, decision.BrandName)
		dest := decision.Destination
		member := dest.MemberFolderID
		if member == "" {
			logging.WarnWithContext(ctx, "Brand %s has no member folder, video goes to the internal folder", decision.BrandName)
			member = dest.InternalFolderID
		}
		target = pipeline.Target{
			MemberFolderID:   member,
			InternalFolderID: dest.InternalFolderID,
			InternalOnly:     decision.InternalOnly,
		}
		links = fmt.Sprintf("📂 Member: %s\n📂 Internal: %s",
			d.deps.Folders.FolderLink(member), d.deps.Folders.FolderLink(dest.InternalFolderID))
	}

	result := d.deps.Pipeline.Process(ctx, owner, rec, target)

	switch result.Outcome {
	case pipeline.Completed:
		summary.Completed++
		d.complete(ctx, rec, decision, links)
	case pipeline.RetryPending:
		summary.RetryPending++
		details := strings.Join(result.Corrupted, "\n") + "\n\nTarget Folder: " + links
		d.send(ctx, notify.Message{Status: notify.StatusRetry, Topic: rec.Topic, Brand: decision.BrandName, Details: details})
	default:
		summary.Skipped++
	}
}

func (d *Driver) reportUnresolved(ctx context.Context, rec zoom.Recording, decision routing.Decision) {
	logging.WarnWithContext(ctx, "Brand %q for %q is missing details: %s", decision.BrandName, rec.Topic, decision.Reason)

	due := true
	if d.deps.Journal != nil {
		var err error
		due, err = d.deps.Journal.Record(ctx, failures.Failure{
			RecordingID: rec.UUID,
			Topic:       rec.Topic,
			Brand:       decision.BrandName,
			Reason:      decision.Reason,
		}, d.now())
		if err != nil {
			logging.WarnWithContext(ctx, "Failure journal unavailable: %v", err)
			due = true
		}
	}
	if !due {
		logging.DebugWithContext(ctx, "Suppressing repeat failure notice for %s", rec.UUID)
		return
	}
	d.send(ctx, notify.Message{Status: notify.StatusFail, Topic: rec.Topic, Brand: decision.BrandName, Details: decision.Reason})
}

// complete finalizes a meeting whose artifacts are all in storage
func (d *Driver) complete(ctx context.Context, rec zoom.Recording, decision routing.Decision, links string) {
	logging.InfoWithContext(ctx, "All artifacts of %q are stored", rec.Topic)

	if decision.Kind == routing.KindStandard {
		if err := d.deps.Zoom.DeleteRecording(ctx, rec.UUID); err != nil {
			logging.WarnWithContext(ctx, "Deleting recording %s failed, marking topic instead: %v", rec.UUID, err)
			d.markTopic(ctx, rec)
		}
	} else {
		d.markTopic(ctx, rec)
	}

	d.send(ctx, notify.Message{Status: notify.StatusSuccess, Topic: rec.Topic, Brand: decision.BrandName, Details: links})

	d.upsertLedger(ctx, ledger.Record{
		ID:     rec.UUID,
		Topic:  rec.Topic,
		Date:   d.deps.Namer.FormatDate(rec.StartTime),
		Link:   rec.ShareURL,
		Status: ledger.StatusUploaded,
	})

	if d.deps.Journal != nil {
		if err := d.deps.Journal.Clear(ctx, rec.UUID); err != nil {
			logging.WarnWithContext(ctx, "Clearing failure journal for %s: %v", rec.UUID, err)
		}
	}

	taskID := decision.Destination.TaskID
	if decision.Kind == routing.KindStandard && taskID != "" && d.deps.Tasks != nil {
		updated, err := clickup.UpdateDateFieldsMonotonic(ctx, d.deps.Tasks, taskID, d.config.DateFieldIDs, rec.StartTime.UnixMilli())
		if err != nil {
			logging.WarnWithContext(ctx, "Updating dates on task %s failed: %v", taskID, err)
		} else if len(updated) > 0 {
			logging.InfoWithContext(ctx, "Updated %d date field(s) on task %s", len(updated), taskID)
		}
	}
}

func (d *Driver) markTopic(ctx context.Context, rec zoom.Recording) {
	topic, changed := zoom.MarkedTopic(rec.Topic, d.config.CompletionMarker)
	if !changed {
		return
	}
	if err := d.deps.Zoom.UpdateMeetingTopic(ctx, rec.UUID, topic); err != nil {
		logging.WarnWithContext(ctx, "Marking topic of %s failed: %v", rec.UUID, err)
	}
}

func (d *Driver) upsertLedger(ctx context.Context, rec ledger.Record) {
	if err := d.deps.Ledger.Upsert(rec); err != nil {
		logging.ErrorWithContext(ctx, "Ledger write for %s failed: %v", rec.ID, err)
	}
}

func (d *Driver) send(ctx context.Context, msg notify.Message) {
	if err := d.deps.Notifier.Notify(ctx, msg); err != nil {
		logging.WarnWithContext(ctx, "Notification %s for %q failed: %v", msg.Status, msg.Topic, err)
	}
}
