// Package pipeline moves the artifacts of one meeting from the recording provider into storage
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/box"
	"github.com/curtbushko/zoom-watchman/internal/directory"
	"github.com/curtbushko/zoom-watchman/internal/download"
	"github.com/curtbushko/zoom-watchman/internal/filename"
	"github.com/curtbushko/zoom-watchman/internal/logging"
	"github.com/curtbushko/zoom-watchman/internal/progress"
	"github.com/curtbushko/zoom-watchman/internal/tracking"
	"github.com/curtbushko/zoom-watchman/internal/zoom"
)

// Outcome is the terminal result of running the pipeline for one meeting
type Outcome int

const (
	// Completed means every eligible artifact is in storage
	Completed Outcome = iota
	// RetryPending means at least one artifact failed and the meeting is retried next cycle
	RetryPending
	// PermanentSkip means the meeting will never be processed
	PermanentSkip
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case RetryPending:
		return "retry_pending"
	case PermanentSkip:
		return "permanent_skip"
	default:
		return "unknown"
	}
}

// State is a pipeline stage, logged on every transition
type State string

const (
	StateDiscovered  State = "discovered"
	StateFiltering   State = "filtering"
	StateDownloading State = "downloading"
	StateVerifying   State = "verifying"
	StateUploading   State = "uploading"
	StateFinalizing  State = "finalizing"
)

// Result summarises one pipeline run
type Result struct {
	Outcome          Outcome
	Uploaded         []string
	Existing         []string
	Corrupted        []string
	SkippedArtifacts int
	Duration         time.Duration
}

// Storage is the subset of the storage provider the pipeline needs
type Storage interface {
	FileExists(ctx context.Context, folderID, name string) (bool, error)
	UploadFile(ctx context.Context, folderID, fileName, localPath string) (*box.File, error)
}

// Target says which folders receive the artifacts of one meeting
type Target struct {
	MemberFolderID   string
	InternalFolderID string
	// SingleFolder sends every artifact to InternalFolderID
	SingleFolder bool
	// InternalOnly overrides the member folder for video
	InternalOnly bool
}

// FolderFor picks the destination folder for one artifact
func (t Target) FolderFor(file zoom.RecordingFile) string {
	if t.SingleFolder || t.InternalOnly {
		return t.InternalFolderID
	}
	if file.IsVideo() {
		return t.MemberFolderID
	}
	return t.InternalFolderID
}

// SpecialTarget routes all artifacts to one folder
func SpecialTarget(folderID string) Target {
	return Target{MemberFolderID: folderID, InternalFolderID: folderID, SingleFolder: true}
}

// progressFor returns a milestone logger callback for large downloads, nil otherwise
func (p *Pipeline) progressFor(ctx context.Context, name string, size int64) download.ProgressCallback {
	if p.config.ProgressMinSize <= 0 || size < p.config.ProgressMinSize {
		return nil
	}
	return progress.NewMilestoneLogger(ctx, name).Update
}

// Config holds the pipeline settings
type Config struct {
	MinFileSize int64
	// ProgressMinSize turns on milestone logging for downloads at least this large; zero disables it
	ProgressMinSize int64
}

// Pipeline runs the per-meeting state machine
type Pipeline struct {
	storage    Storage
	downloader download.DownloadManager
	namer      filename.Namer
	dirs       directory.DirectoryManager
	tracker    tracking.Tracker
	config     Config
}

// New creates a pipeline. A nil tracker disables the audit trail.
func New(storage Storage, downloader download.DownloadManager, namer filename.Namer, dirs directory.DirectoryManager, tracker tracking.Tracker, config Config) *Pipeline {
	if tracker == nil {
		tracker = tracking.NopTracker{}
	}
	return &Pipeline{
		storage:    storage,
		downloader: downloader,
		namer:      namer,
		dirs:       dirs,
		tracker:    tracker,
		config:     config,
	}
}

// queued is an artifact that downloaded and verified cleanly
type queued struct {
	path   string
	name   string
	folder string
	size   int64
	start  time.Time
}

// Process filters, downloads, verifies and uploads every artifact of a recording.
// It never retries within a pass; failed artifacts make the outcome RetryPending.
func (p *Pipeline) Process(ctx context.Context, owner string, rec zoom.Recording, target Target) Result {
	start := time.Now()
	result := Result{}
	state := StateDiscovered

	transition := func(next State) {
		logging.DebugWithContext(ctx, "Pipeline %s: %s -> %s", rec.UUID, state, next)
		state = next
	}

	transition(StateFiltering)

	dir, err := p.dirs.MeetingDirectory(owner, rec.StartTime)
	if err != nil {
		logging.ErrorWithContext(ctx, "Cannot prepare work directory for %q: %v", rec.Topic, err)
		result.Outcome = RetryPending
		result.Corrupted = append(result.Corrupted, rec.Topic)
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if err := p.dirs.Cleanup(dir); err != nil {
			logging.Warn("Failed to clean work directory %s: %v", dir.FullPath, err)
		}
	}()

	var queue []queued
	downloading := false

	for _, file := range rec.RecordingFiles {
		if skip, reason := p.filter(file); skip {
			result.SkippedArtifacts++
			logging.DebugWithContext(ctx, "Skipping %s artifact of %q: %s", file.FileType, rec.Topic, reason)
			continue
		}

		name := p.namer.ArtifactName(rec, file)
		folder := target.FolderFor(file)

		exists, err := p.storage.FileExists(ctx, folder, name)
		if err != nil {
			logging.WarnWithContext(ctx, "Existence check failed for %q, treating as absent: %v", name, err)
		}
		if exists {
			logging.InfoWithContext(ctx, "Exists in storage: %q", name)
			result.Existing = append(result.Existing, name)
			p.track(rec, owner, name, folder, file.FileSize, tracking.OutcomeExisting, nil, 0)
			continue
		}

		if !downloading {
			transition(StateDownloading)
			downloading = true
		}

		itemStart := time.Now()
		localPath := dir.FilePath(name)
		dl, err := p.downloader.Download(ctx, download.DownloadRequest{
			ID:           rec.UUID + "/" + file.ID,
			URL:          file.DownloadURL,
			Destination:  localPath,
			ExpectedSize: file.FileSize,
		}, p.progressFor(ctx, name, file.FileSize))
		if err != nil {
			if download.IsSizeMismatch(err) {
				logging.ErrorWithContext(ctx, "Corruption detected: %v", err)
			} else {
				logging.ErrorWithContext(ctx, "Download error for %q: %v", name, err)
			}
			result.Corrupted = append(result.Corrupted, name)
			p.track(rec, owner, name, folder, file.FileSize, tracking.OutcomeCorrupted, err, time.Since(itemStart))
			continue
		}

		logging.InfoWithContext(ctx, "Integrity pass: %q (%d bytes)", name, dl.BytesDownloaded)
		queue = append(queue, queued{path: dl.Path, name: name, folder: folder, size: dl.BytesDownloaded, start: itemStart})
	}

	if downloading {
		transition(StateVerifying)
	}

	if len(queue) > 0 {
		transition(StateUploading)
		logging.InfoWithContext(ctx, "Uploading %d verified files for %q", len(queue), rec.Topic)
	}

	for _, item := range queue {
		p.upload(ctx, rec, owner, item, &result)
	}

	transition(StateFinalizing)

	if len(result.Corrupted) == 0 {
		result.Outcome = Completed
	} else {
		result.Outcome = RetryPending
	}
	result.Duration = time.Since(start)

	logging.InfoWithContext(ctx, "Pipeline finished for %q: %s (%d uploaded, %d existing, %d corrupted, %d skipped)",
		rec.Topic, result.Outcome, len(result.Uploaded), len(result.Existing), len(result.Corrupted), result.SkippedArtifacts)
	return result
}

func (p *Pipeline) upload(ctx context.Context, rec zoom.Recording, owner string, item queued, result *Result) {
	defer func() {
		if err := os.Remove(item.path); err != nil && !os.IsNotExist(err) {
			logging.Warn("Failed to remove temp file %s: %v", item.path, err)
		}
	}()

	if _, err := p.storage.UploadFile(ctx, item.folder, item.name, item.path); err != nil {
		logging.ErrorWithContext(ctx, "Upload failed: %q: %v", item.name, err)
		result.Corrupted = append(result.Corrupted, item.name)
		p.track(rec, owner, item.name, item.folder, item.size, tracking.OutcomeUploadFail, err, time.Since(item.start))
		return
	}

	logging.InfoWithContext(ctx, "Uploaded: %q", item.name)
	result.Uploaded = append(result.Uploaded, item.name)
	p.track(rec, owner, item.name, item.folder, item.size, tracking.OutcomeUploaded, nil, time.Since(item.start))
}

// filter reports whether an artifact is not eligible for transfer
func (p *Pipeline) filter(file zoom.RecordingFile) (bool, string) {
	if file.IsMetadata() {
		return true, "metadata artifact"
	}
	if !file.IsText() && file.FileSize < p.config.MinFileSize {
		return true, fmt.Sprintf("smaller than %d bytes", p.config.MinFileSize)
	}
	return false, ""
}

func (p *Pipeline) track(rec zoom.Recording, owner, name, folder string, size int64, outcome string, err error, elapsed time.Duration) {
	entry := tracking.TransferEntry{
		Owner:          owner,
		MeetingID:      rec.UUID,
		Topic:          rec.Topic,
		FileName:       name,
		FolderID:       folder,
		FileSize:       size,
		Outcome:        outcome,
		ProcessingTime: elapsed,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if trackErr := p.tracker.Track(entry); trackErr != nil {
		logging.Warn("Failed to record transfer of %q: %v", name, trackErr)
	}
}
