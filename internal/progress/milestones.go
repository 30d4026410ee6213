// Package progress logs how far large recording downloads have got
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/download"
	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// DefaultMilestones are the completion percentages logged when none are given
var DefaultMilestones = []float64{25, 50, 75, 100}

// MilestoneLogger logs each completion milestone of one download exactly once
type MilestoneLogger struct {
	ctx        context.Context
	name       string
	milestones []float64
	start      time.Time

	mu   sync.Mutex
	next int
}

// NewMilestoneLogger creates a logger for the download of name
func NewMilestoneLogger(ctx context.Context, name string, milestones ...float64) *MilestoneLogger {
	if len(milestones) == 0 {
		milestones = DefaultMilestones
	}
	return &MilestoneLogger{
		ctx:        ctx,
		name:       name,
		milestones: milestones,
		start:      time.Now(),
	}
}

// Update is a download.ProgressCallback
func (m *MilestoneLogger) Update(update download.ProgressUpdate) {
	if update.TotalBytes <= 0 || update.State != download.DownloadStateDownloading {
		return
	}
	percent := float64(update.BytesDownloaded) / float64(update.TotalBytes) * 100

	m.mu.Lock()
	reached := -1
	for m.next < len(m.milestones) && percent >= m.milestones[m.next] {
		reached = m.next
		m.next++
	}
	m.mu.Unlock()

	// Jumping several milestones in one update logs only the highest
	if reached < 0 {
		return
	}
	milestone := m.milestones[reached]
	elapsed := time.Since(m.start)

	logging.InfoWithContext(m.ctx, "Downloading %q: %.0f%% (%s of %s, %s)",
		m.name, milestone, FormatBytes(update.BytesDownloaded), FormatBytes(update.TotalBytes), FormatDuration(elapsed))
	logging.LogPerformance(logging.PerformanceMetrics{
		Operation:      "download_milestone",
		Duration:       elapsed,
		BytesProcessed: update.BytesDownloaded,
		Success:        true,
		Metadata: map[string]interface{}{
			"file":        m.name,
			"download_id": update.DownloadID,
			"milestone":   milestone,
			"total_bytes": update.TotalBytes,
		},
	})
}

// Reached returns how many milestones have been logged so far
func (m *MilestoneLogger) Reached() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// FormatBytes formats a byte count with binary units
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatDuration formats d as "42s", "3m 5s" or "1h 20m"
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		return fmt.Sprintf("%dm %ds", minutes, int(d.Seconds())-minutes*60)
	}
	hours := int(d.Hours())
	return fmt.Sprintf("%dh %dm", hours, int(d.Minutes())-hours*60)
}
