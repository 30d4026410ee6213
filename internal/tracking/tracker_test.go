package tracking

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open CSV: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	return rows
}

func TestNewCSVTrackerWritesHeader(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "audit", "transfers.csv")

	if _, err := NewCSVTracker(csvPath); err != nil {
		t.Fatalf("NewCSVTracker failed: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("Failed to read CSV file: %v", err)
	}
	if string(data) != strings.Join(header, ",")+"\n" {
		t.Errorf("Unexpected header %q", string(data))
	}
}

func TestTrackAppendsRows(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "transfers.csv")
	tracker, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)
	entries := []TransferEntry{
		{Timestamp: at, Owner: "john@company.com", MeetingID: "u1", Topic: "Acme x Widgets, kickoff", FileName: "a.mp4", FolderID: "10", FileSize: 500000, Outcome: OutcomeUploaded, ProcessingTime: 90 * time.Second},
		{Timestamp: at, Owner: "john@company.com", MeetingID: "u1", FileName: "a.m4a", Outcome: OutcomeCorrupted, Error: "size mismatch"},
	}
	for _, e := range entries {
		if err := tracker.Track(e); err != nil {
			t.Fatalf("Track failed: %v", err)
		}
	}

	rows := readRows(t, csvPath)
	if len(rows) != 3 {
		t.Fatalf("Expected header and two rows, got %d", len(rows))
	}
	if rows[1][0] != "2025-01-15T15:00:00Z" || rows[1][3] != "Acme x Widgets, kickoff" || rows[1][6] != "500000" || rows[1][9] != "90" {
		t.Errorf("Unexpected first row %v", rows[1])
	}
	if rows[2][7] != OutcomeCorrupted || rows[2][8] != "size mismatch" {
		t.Errorf("Unexpected second row %v", rows[2])
	}
}

func TestTrackerReopensExistingFile(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "transfers.csv")
	first, _ := NewCSVTracker(csvPath)
	first.Track(TransferEntry{FileName: "one"})

	second, err := NewCSVTracker(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	second.Track(TransferEntry{FileName: "two"})

	if rows := readRows(t, csvPath); len(rows) != 3 {
		t.Errorf("Expected the header once and two rows, got %d rows", len(rows))
	}
}

func TestTrackConcurrent(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "transfers.csv")
	tracker, _ := NewCSVTracker(csvPath)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Track(TransferEntry{FileName: "f", Outcome: OutcomeUploaded})
		}()
	}
	wg.Wait()

	if rows := readRows(t, csvPath); len(rows) != 21 {
		t.Errorf("Expected 21 rows, got %d", len(rows))
	}
}

func TestTrackTimestampDefault(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "transfers.csv")
	tracker, _ := NewCSVTracker(csvPath)
	tracker.Track(TransferEntry{FileName: "f"})

	rows := readRows(t, csvPath)
	if _, err := time.Parse(time.RFC3339, rows[1][0]); err != nil {
		t.Errorf("Expected RFC3339 timestamp, got %q", rows[1][0])
	}
}
