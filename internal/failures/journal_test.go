package failures

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "failures.db"), time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestBackoff(t *testing.T) {
	j := &Journal{base: time.Hour, maxBackoff: 24 * time.Hour}

	tests := []struct {
		notifications int
		want          time.Duration
	}{
		{0, 0},
		{1, time.Hour},
		{2, 2 * time.Hour},
		{3, 4 * time.Hour},
		{5, 16 * time.Hour},
		{6, 24 * time.Hour},
		{40, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := j.Backoff(tt.notifications); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.notifications, got, tt.want)
		}
	}
}

func TestRecordBacksOffNotifications(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	f := Failure{RecordingID: "rec-1", Topic: "Acme x Gadgets", Brand: "Gadgets", Reason: "Brand not found in ClickUp."}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},                             // first sight
		{20 * time.Minute, false},             // inside the 1h window
		{60 * time.Minute, true},              // 1h after first notice
		{2*time.Hour + 20*time.Minute, false}, // inside the 2h window
		{3 * time.Hour, true},                 // 2h after second notice
	}

	for i, step := range steps {
		got, err := j.Record(ctx, f, start.Add(step.offset))
		if err != nil {
			t.Fatalf("step %d: Record failed: %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d at +%v: notify = %v, want %v", i, step.offset, got, step.want)
		}
	}

	entries, err := j.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Attempts != 5 || e.Notifications != 3 || e.Brand != "Gadgets" {
		t.Errorf("Unexpected entry %+v", e)
	}
	if !e.FirstSeen.Equal(start) || !e.LastNotified.Equal(start.Add(3*time.Hour)) {
		t.Errorf("Unexpected timestamps first=%v notified=%v", e.FirstSeen, e.LastNotified)
	}
}

func TestShouldNotifyAndClear(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due, err := j.ShouldNotify(ctx, "rec-2", now)
	if err != nil || !due {
		t.Fatalf("Unknown recordings are always due, got %v %v", due, err)
	}

	if _, err := j.Record(ctx, Failure{RecordingID: "rec-2"}, now); err != nil {
		t.Fatal(err)
	}
	if due, _ := j.ShouldNotify(ctx, "rec-2", now.Add(time.Minute)); due {
		t.Error("Expected notice to be suppressed right after the first")
	}

	if err := j.Clear(ctx, "rec-2"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if due, _ := j.ShouldNotify(ctx, "rec-2", now.Add(time.Minute)); !due {
		t.Error("Cleared recordings start over")
	}
	if entries, _ := j.List(ctx); len(entries) != 0 {
		t.Errorf("Expected empty journal, got %d entries", len(entries))
	}
}

func TestJournalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.db")
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	j, err := Open(path, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	j.Record(ctx, Failure{RecordingID: "rec-3", Topic: "T"}, now)
	j.Close()

	reopened, err := Open(path, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if due, _ := reopened.ShouldNotify(ctx, "rec-3", now.Add(10*time.Minute)); due {
		t.Error("Backoff state should survive a restart")
	}
}

func TestRecordRequiresID(t *testing.T) {
	j := openJournal(t)
	if _, err := j.Record(context.Background(), Failure{}, time.Now()); err == nil {
		t.Error("Expected error without recording id")
	}
}
