// Package tracking appends an audit row for every artifact transfer attempt
package tracking

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Transfer outcomes recorded in the audit trail
const (
	OutcomeUploaded   = "uploaded"
	OutcomeExisting   = "existing"
	OutcomeCorrupted  = "corrupted"
	OutcomeUploadFail = "upload_failed"
	OutcomeFiltered   = "filtered"
)

var header = []string{"timestamp", "owner", "meeting_id", "topic", "file_name", "folder_id", "file_size", "outcome", "error", "processing_time_seconds"}

// TransferEntry represents a single artifact transfer attempt
type TransferEntry struct {
	Timestamp      time.Time
	Owner          string
	MeetingID      string
	Topic          string
	FileName       string
	FolderID       string
	FileSize       int64
	Outcome        string
	Error          string
	ProcessingTime time.Duration
}

// Tracker defines the interface for recording transfer attempts
type Tracker interface {
	Track(entry TransferEntry) error
}

// CSVTracker appends transfer entries to a CSV file
type CSVTracker struct {
	filePath string
	mu       sync.Mutex
}

// NewCSVTracker creates the tracker, writing the header when the file is new
func NewCSVTracker(filePath string) (*CSVTracker, error) {
	tracker := &CSVTracker{filePath: filePath}

	_, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := tracker.writeHeader(); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to check file: %w", err)
	}

	return tracker, nil
}

// Track appends one entry
func (t *CSVTracker) Track(entry TransferEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	file, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file for append: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	record := []string{
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.Owner,
		entry.MeetingID,
		entry.Topic,
		entry.FileName,
		entry.FolderID,
		strconv.FormatInt(entry.FileSize, 10),
		entry.Outcome,
		entry.Error,
		strconv.FormatInt(int64(entry.ProcessingTime.Seconds()), 10),
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func (t *CSVTracker) writeHeader() error {
	file, err := os.Create(t.filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// NopTracker discards entries
type NopTracker struct{}

// Track does nothing
func (NopTracker) Track(TransferEntry) error { return nil }
