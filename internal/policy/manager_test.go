package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const samplePolicy = `ignore_owners:
  - Admin@Example.com
  - finance@example.com
  - not-an-email
ignore_topics:
  - Company Meeting
  - All Hands
special_routing:
  " Sales1@Example.com ": "folder-111"
  sales2@example.com: ""
internal_only_owners:
  - coach@example.com
`

func writePolicy(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	return path
}

func TestManagerLoadsPolicy(t *testing.T) {
	path := writePolicy(t, t.TempDir(), samplePolicy)

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	s := m.Snapshot()
	if !s.IsIgnoredOwner("admin@example.com") || !s.IsIgnoredOwner(" FINANCE@example.com") {
		t.Error("Expected ignore list to match case-insensitively")
	}
	if s.IsIgnoredOwner("not-an-email") {
		t.Error("Invalid emails should be dropped")
	}

	parent, ok := s.SpecialParent("sales1@example.com")
	if !ok || parent != "folder-111" {
		t.Errorf("Expected special routing for sales1, got %q (%v)", parent, ok)
	}
	if _, ok := s.SpecialParent("sales2@example.com"); ok {
		t.Error("Entries without a parent folder should be dropped")
	}

	if !s.IsInternalOnly("Coach@example.com") {
		t.Error("Expected internal-only owner")
	}

	if ignored, ok := s.IgnoredTopic("Q3 All Hands"); !ok || ignored != "All Hands" {
		t.Errorf("Expected ignored topic match, got %q (%v)", ignored, ok)
	}
	if _, ok := s.IgnoredTopic("Acme x Widgets"); ok {
		t.Error("Unexpected ignored topic match")
	}

	stats := s.Stats()
	if stats.IgnoredOwners != 2 || stats.SpecialOwners != 1 || stats.InternalOnly != 1 || stats.IgnoredTopics != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestManagerEmptyPath(t *testing.T) {
	m, err := NewManager("", true)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if m.Snapshot().IsIgnoredOwner("anyone@example.com") {
		t.Error("Empty policy should ignore nobody")
	}
}

func TestManagerMissingOrInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewManager(filepath.Join(dir, "missing.yaml"), false); err == nil {
		t.Error("Expected error for missing file")
	}

	path := writePolicy(t, dir, "ignore_owners: [unclosed")
	if _, err := NewManager(path, false); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestReloadKeepsSnapshotsImmutable(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "ignore_owners: [a@example.com]\n")

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	before := m.Snapshot()
	writePolicy(t, dir, "ignore_owners: [b@example.com]\n")
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !before.IsIgnoredOwner("a@example.com") || before.IsIgnoredOwner("b@example.com") {
		t.Error("A snapshot taken before reload must not change")
	}
	if !m.Snapshot().IsIgnoredOwner("b@example.com") {
		t.Error("Expected new snapshot after reload")
	}

	writePolicy(t, dir, "ignore_owners: [unclosed")
	if err := m.Reload(); err == nil {
		t.Error("Expected reload error for invalid YAML")
	}
	if !m.Snapshot().IsIgnoredOwner("b@example.com") {
		t.Error("A failed reload must keep the previous snapshot")
	}
}

func TestManagerWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "ignore_owners: [a@example.com]\n")

	m, err := NewManager(path, true)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	reloaded := make(chan *Snapshot, 4)
	m.OnReload(func(s *Snapshot) { reloaded <- s })

	writePolicy(t, dir, "ignore_owners: [c@example.com]\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-reloaded:
			if s.IsIgnoredOwner("c@example.com") {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for policy reload")
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"john.doe@company.com", true},
		{"user+tag@example.org", true},
		{"first_last@example_domain.com", true},
		{"", false},
		{"invalid-email", false},
		{"user@", false},
		{"@domain.com", false},
		{"user@@domain.com", false},
		{" user@domain.com", false},
	}
	for _, tt := range tests {
		if got := IsValidEmail(tt.email); got != tt.want {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestExtractUsername(t *testing.T) {
	tests := map[string]string{
		"John.Doe@company.com": "john.doe",
		" jane@example.org ":   "jane",
		"not-an-email":         "",
		"":                     "",
	}
	for input, want := range tests {
		if got := ExtractUsername(input); got != want {
			t.Errorf("ExtractUsername(%q) = %q, want %q", input, got, want)
		}
	}
}
