// Package policy manages the owner policy file: ignore lists, special routing and
// the internal-only override. The file is hot-reloaded and served as immutable snapshots.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// File is the on-disk policy document
type File struct {
	IgnoreOwners       []string          `yaml:"ignore_owners"`
	IgnoreTopics       []string          `yaml:"ignore_topics"`
	SpecialRouting     map[string]string `yaml:"special_routing"`
	InternalOnlyOwners []string          `yaml:"internal_only_owners"`
}

// Snapshot is an immutable view of the policy taken at one point in time
type Snapshot struct {
	ignoreOwners   map[string]bool
	ignoreTopics   []string
	specialRouting map[string]string
	internalOnly   map[string]bool
	loadedAt       time.Time
}

// IsIgnoredOwner reports whether recordings of this owner are never processed
func (s *Snapshot) IsIgnoredOwner(email string) bool {
	return s.ignoreOwners[NormalizeEmail(email)]
}

// SpecialParent returns the parent folder id when the owner uses special routing
func (s *Snapshot) SpecialParent(email string) (string, bool) {
	id, ok := s.specialRouting[NormalizeEmail(email)]
	return id, ok
}

// IsInternalOnly reports whether every artifact of this owner goes to the internal folder
func (s *Snapshot) IsInternalOnly(email string) bool {
	return s.internalOnly[NormalizeEmail(email)]
}

// IgnoredTopic returns the first ignore-listed substring contained in topic
func (s *Snapshot) IgnoredTopic(topic string) (string, bool) {
	for _, ignored := range s.ignoreTopics {
		if strings.Contains(topic, ignored) {
			return ignored, true
		}
	}
	return "", false
}

// LoadedAt returns when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Stats summarises a snapshot for logging and the status endpoint
type Stats struct {
	IgnoredOwners int       `json:"ignored_owners"`
	IgnoredTopics int       `json:"ignored_topics"`
	SpecialOwners int       `json:"special_owners"`
	InternalOnly  int       `json:"internal_only"`
	LoadedAt      time.Time `json:"loaded_at"`
	SpecialEmails []string  `json:"special_emails,omitempty"`
}

// Stats returns counts for the snapshot
func (s *Snapshot) Stats() Stats {
	emails := make([]string, 0, len(s.specialRouting))
	for email := range s.specialRouting {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return Stats{
		IgnoredOwners: len(s.ignoreOwners),
		IgnoredTopics: len(s.ignoreTopics),
		SpecialOwners: len(s.specialRouting),
		InternalOnly:  len(s.internalOnly),
		LoadedAt:      s.loadedAt,
		SpecialEmails: emails,
	}
}

// NewSnapshot builds a snapshot from a policy document. Invalid owner emails are
// dropped with a warning.
func NewSnapshot(f File) *Snapshot {
	s := &Snapshot{
		ignoreOwners:   emailSet(f.IgnoreOwners, "ignore_owners"),
		internalOnly:   emailSet(f.InternalOnlyOwners, "internal_only_owners"),
		specialRouting: make(map[string]string, len(f.SpecialRouting)),
		loadedAt:       time.Now(),
	}
	for _, topic := range f.IgnoreTopics {
		if strings.TrimSpace(topic) != "" {
			s.ignoreTopics = append(s.ignoreTopics, topic)
		}
	}
	for email, parent := range f.SpecialRouting {
		normalized := NormalizeEmail(email)
		if !IsValidEmail(normalized) || strings.TrimSpace(parent) == "" {
			logging.Warn("Skipping invalid special_routing entry %q", email)
			continue
		}
		s.specialRouting[normalized] = strings.TrimSpace(parent)
	}
	return s
}

func emailSet(emails []string, section string) map[string]bool {
	set := make(map[string]bool, len(emails))
	for _, email := range emails {
		normalized := NormalizeEmail(email)
		if !IsValidEmail(normalized) {
			logging.Warn("Skipping invalid email %q in %s", email, section)
			continue
		}
		set[normalized] = true
	}
	return set
}

// Manager serves the current policy snapshot and reloads it when the file changes
type Manager struct {
	path      string
	mu        sync.RWMutex
	snapshot  *Snapshot
	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	closeOnce sync.Once
	onReload  func(*Snapshot)
}

// NewManager loads the policy file. An empty path yields an empty policy.
func NewManager(path string, watch bool) (*Manager, error) {
	m := &Manager{
		path:      path,
		snapshot:  NewSnapshot(File{}),
		stopWatch: make(chan struct{}),
	}

	if path == "" {
		return m, nil
	}

	if err := m.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load initial policy: %w", err)
	}

	if watch {
		if err := m.setupFileWatcher(); err != nil {
			return nil, fmt.Errorf("failed to setup policy watcher: %w", err)
		}
	}

	return m, nil
}

// NewStaticManager serves a fixed snapshot, used by tests and one-shot tooling
func NewStaticManager(f File) *Manager {
	return &Manager{snapshot: NewSnapshot(f), stopWatch: make(chan struct{})}
}

// Snapshot returns the current immutable policy
func (m *Manager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// OnReload registers a callback invoked after each successful reload
func (m *Manager) OnReload(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = fn
}

// Reload re-reads the policy file. A parse error keeps the previous snapshot.
func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	snapshot := NewSnapshot(f)

	m.mu.Lock()
	m.snapshot = snapshot
	callback := m.onReload
	m.mu.Unlock()

	stats := snapshot.Stats()
	logging.Info("Policy loaded: %d ignored owners, %d ignored topics, %d special owners, %d internal-only owners",
		stats.IgnoredOwners, stats.IgnoredTopics, stats.SpecialOwners, stats.InternalOnly)

	if callback != nil {
		callback(snapshot)
	}
	return nil
}

// Close stops the file watcher
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopWatch)
		if m.watcher != nil {
			err = m.watcher.Close()
		}
	})
	return err
}

// setupFileWatcher watches the policy directory so editors that replace the file are seen
func (m *Manager) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	m.watcher = watcher
	go m.watchFileChanges()
	return nil
}

func (m *Manager) watchFileChanges() {
	target := filepath.Clean(m.path)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				// Small delay to ensure file write is complete
				time.Sleep(10 * time.Millisecond)
				if err := m.Reload(); err != nil {
					logging.Warn("Policy reload failed, keeping previous policy: %v", err)
				}
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Policy watcher error: %v", err)

		case <-m.stopWatch:
			return
		}
	}
}
