// Package download streams recording artifacts into the local work directory and verifies their size
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// Fetcher streams a remote file into a writer
type Fetcher interface {
	DownloadRecordingFile(ctx context.Context, downloadURL string, writer io.Writer) (int64, error)
}

// DownloadManager defines the interface for download operations
type DownloadManager interface {
	Download(ctx context.Context, req DownloadRequest, progressCallback ProgressCallback) (*DownloadResult, error)
	GetActiveDownloads() []DownloadStatus
}

// DownloadRequest represents a single download request
type DownloadRequest struct {
	ID           string // Artifact identifier used for tracking
	URL          string // Source URL to download from
	Destination  string // Local file path to save to
	ExpectedSize int64  // Declared size in bytes; zero or less disables verification
}

// ProgressUpdate represents download progress information
type ProgressUpdate struct {
	DownloadID      string
	BytesDownloaded int64
	TotalBytes      int64
	State           DownloadState
	Timestamp       time.Time
}

// ProgressCallback is called when download progress changes
type ProgressCallback func(update ProgressUpdate)

// DownloadResult represents the result of a verified download
type DownloadResult struct {
	DownloadID      string
	Path            string
	BytesDownloaded int64
	Duration        time.Duration
	AverageSpeed    float64 // bytes/second
}

// DownloadStatus represents current status of an active download
type DownloadStatus struct {
	Request   DownloadRequest
	Progress  ProgressUpdate
	StartTime time.Time
}

// DownloadState represents the current state of a download
type DownloadState int

const (
	DownloadStateDownloading DownloadState = iota
	DownloadStateVerifying
	DownloadStateCompleted
	DownloadStateFailed
)

func (s DownloadState) String() string {
	switch s {
	case DownloadStateDownloading:
		return "downloading"
	case DownloadStateVerifying:
		return "verifying"
	case DownloadStateCompleted:
		return "completed"
	case DownloadStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SizeMismatchError is returned when the downloaded size differs from the declared size
type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", filepath.Base(e.Path), e.Expected, e.Actual)
}

// IsSizeMismatch reports whether err is a size verification failure
func IsSizeMismatch(err error) bool {
	var mismatch *SizeMismatchError
	return errors.As(err, &mismatch)
}

// progressInterval throttles progress callbacks
const progressInterval = 500 * time.Millisecond

// downloadManagerImpl implements the DownloadManager interface
type downloadManagerImpl struct {
	fetcher         Fetcher
	activeDownloads map[string]*downloadStatus
	mutex           sync.RWMutex
}

type downloadStatus struct {
	request   DownloadRequest
	progress  ProgressUpdate
	startTime time.Time
}

// NewDownloadManager creates a download manager on top of the recording fetcher
func NewDownloadManager(fetcher Fetcher) DownloadManager {
	return &downloadManagerImpl{
		fetcher:         fetcher,
		activeDownloads: make(map[string]*downloadStatus),
	}
}

// Download removes any stale file at the destination, streams the artifact and verifies
// its size. On any failure the partial file is removed. Failed downloads are not retried
// here; the next polling cycle picks the artifact up again.
func (dm *downloadManagerImpl) Download(ctx context.Context, req DownloadRequest, progressCallback ProgressCallback) (*DownloadResult, error) {
	if req.ID == "" {
		req.ID = fmt.Sprintf("download_%d", time.Now().UnixNano())
	}

	status := &downloadStatus{
		request:   req,
		startTime: time.Now(),
		progress: ProgressUpdate{
			DownloadID: req.ID,
			TotalBytes: req.ExpectedSize,
			State:      DownloadStateDownloading,
			Timestamp:  time.Now(),
		},
	}

	dm.mutex.Lock()
	dm.activeDownloads[req.ID] = status
	dm.mutex.Unlock()

	defer func() {
		dm.mutex.Lock()
		delete(dm.activeDownloads, req.ID)
		dm.mutex.Unlock()
	}()

	result, err := dm.performDownload(ctx, status, progressCallback)
	if err != nil {
		if removeErr := os.Remove(req.Destination); removeErr != nil && !os.IsNotExist(removeErr) {
			logging.Warn("Failed to remove partial download %s: %v", req.Destination, removeErr)
		}
		dm.setState(status, DownloadStateFailed, progressCallback)
		return nil, err
	}

	dm.setState(status, DownloadStateCompleted, progressCallback)
	return result, nil
}

func (dm *downloadManagerImpl) performDownload(ctx context.Context, status *downloadStatus, progressCallback ProgressCallback) (*DownloadResult, error) {
	req := status.request

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	// A leftover file from an earlier attempt is never resumed
	if err := os.Remove(req.Destination); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale file: %w", err)
	}

	file, err := os.OpenFile(req.Destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	writer := &progressWriter{
		dst: file,
		onProgress: func(total int64) {
			dm.mutex.Lock()
			status.progress.BytesDownloaded = total
			status.progress.Timestamp = time.Now()
			update := status.progress
			dm.mutex.Unlock()
			if progressCallback != nil {
				progressCallback(update)
			}
		},
	}

	start := time.Now()
	_, fetchErr := dm.fetcher.DownloadRecordingFile(ctx, req.URL, writer)
	syncErr := file.Sync()
	closeErr := file.Close()
	if fetchErr != nil {
		return nil, fmt.Errorf("download failed: %w", fetchErr)
	}
	if syncErr != nil {
		return nil, fmt.Errorf("failed to sync file: %w", syncErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close file: %w", closeErr)
	}

	dm.setState(status, DownloadStateVerifying, progressCallback)

	info, err := os.Stat(req.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded file: %w", err)
	}
	if req.ExpectedSize > 0 && info.Size() != req.ExpectedSize {
		return nil, &SizeMismatchError{Path: req.Destination, Expected: req.ExpectedSize, Actual: info.Size()}
	}

	duration := time.Since(start)
	var speed float64
	if duration > 0 {
		speed = float64(info.Size()) / duration.Seconds()
	}

	logging.LogPerformance(logging.PerformanceMetrics{
		Operation:      "artifact_download",
		Duration:       duration,
		BytesProcessed: info.Size(),
		Success:        true,
		Metadata:       map[string]interface{}{"file": filepath.Base(req.Destination)},
	})

	return &DownloadResult{
		DownloadID:      req.ID,
		Path:            req.Destination,
		BytesDownloaded: info.Size(),
		Duration:        duration,
		AverageSpeed:    speed,
	}, nil
}

func (dm *downloadManagerImpl) setState(status *downloadStatus, state DownloadState, progressCallback ProgressCallback) {
	dm.mutex.Lock()
	status.progress.State = state
	status.progress.Timestamp = time.Now()
	update := status.progress
	dm.mutex.Unlock()

	if progressCallback != nil {
		progressCallback(update)
	}
}

// GetActiveDownloads returns a list of currently active downloads
func (dm *downloadManagerImpl) GetActiveDownloads() []DownloadStatus {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var active []DownloadStatus
	for _, status := range dm.activeDownloads {
		active = append(active, DownloadStatus{
			Request:   status.request,
			Progress:  status.progress,
			StartTime: status.startTime,
		})
	}
	return active
}

// progressWriter counts bytes and reports progress at most every progressInterval
type progressWriter struct {
	dst        io.Writer
	total      int64
	last       time.Time
	onProgress func(total int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.total += int64(n)
	if now := time.Now(); now.Sub(w.last) >= progressInterval {
		w.last = now
		w.onProgress(w.total)
	}
	return n, err
}
