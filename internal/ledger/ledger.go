// Package ledger keeps the durable record of recordings that need no further processing
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// Status tags written to the ledger
const (
	StatusUploaded      = "Uploaded & Completed"
	StatusAlreadyMarked = "Already Marked ✅ (Auto-Skipped)"
)

// ErrLocked is returned by Lock when another process holds the ledger
var ErrLocked = errors.New("ledger is locked by another process")

// Record is one completed recording
type Record struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Date   string `json:"date"`
	Status string `json:"status"`
	Link   string `json:"link,omitempty"`
}

// UnmarshalJSON also accepts the older "uuid" and "name" keys
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string `json:"id"`
		UUID   string `json:"uuid"`
		Topic  string `json:"topic"`
		Name   string `json:"name"`
		Date   string `json:"date"`
		Status string `json:"status"`
		Link   string `json:"link"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Record{ID: raw.ID, Topic: raw.Topic, Date: raw.Date, Status: raw.Status, Link: raw.Link}
	if r.ID == "" {
		r.ID = raw.UUID
	}
	if r.Topic == "" {
		r.Topic = raw.Name
	}
	return nil
}

// merge copies the non-empty fields of update over r
func (r *Record) merge(update Record) {
	if update.Topic != "" {
		r.Topic = update.Topic
	}
	if update.Date != "" {
		r.Date = update.Date
	}
	if update.Status != "" {
		r.Status = update.Status
	}
	if update.Link != "" {
		r.Link = update.Link
	}
}

// Ledger is the in-memory view of the ledger document. It assumes a single writer.
type Ledger struct {
	path    string
	mutex   sync.RWMutex
	records []Record
	lock    *flock.Flock
}

// OpenLocked takes the exclusive lock on "<path>.lock" and only then reads the document,
// so a second process can never move a ledger aside while another holds it.
func OpenLocked(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock ledger: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	l := Open(path)
	l.lock = lock
	return l, nil
}

// ReadRecords reads the document without changing anything on disk
func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return records, nil
}

// Open reads the ledger document. A missing file is an empty ledger. An unreadable or
// corrupt file is moved aside to "<path>.corrupt-<unix>" and the ledger starts empty.
func Open(path string) *Ledger {
	l := &Ledger{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Failed to read ledger %s, starting empty: %v", path, err)
		}
		return l
	}

	if len(data) == 0 {
		return l
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, aside); renameErr != nil {
			logging.Warn("Ledger %s is corrupt and could not be moved aside: %v", path, renameErr)
		} else {
			logging.Warn("Ledger %s is corrupt (%v), preserved as %s and starting empty", path, err, aside)
		}
		return l
	}

	l.records = records
	logging.Info("Ledger loaded with %d records", len(records))
	return l
}

// Path returns the ledger document path
func (l *Ledger) Path() string {
	return l.path
}

// Has reports whether a record with this id exists
func (l *Ledger) Has(id string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, r := range l.records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Get returns the record with this id
func (l *Ledger) Get(id string) (Record, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, r := range l.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Upsert merges rec into the existing record with the same id, or appends it,
// then rewrites the whole document.
func (l *Ledger) Upsert(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("ledger record has no id")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	records := make([]Record, len(l.records), len(l.records)+1)
	copy(records, l.records)

	found := false
	for i := range records {
		if records[i].ID == rec.ID {
			records[i].merge(rec)
			found = true
			break
		}
	}
	if !found {
		records = append(records, rec)
	}

	// memory only changes once the document is on disk
	if err := l.save(records); err != nil {
		return err
	}
	l.records = records
	return nil
}

// Records returns a copy of all records in insertion order
func (l *Ledger) Records() []Record {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records
func (l *Ledger) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.records)
}

// save writes records to a temporary file and renames it over the document
func (l *Ledger) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	tempFile := l.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary ledger file: %w", err)
	}

	if err := os.Rename(tempFile, l.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename ledger file: %w", err)
	}
	return nil
}

// Lock takes an exclusive lock on "<path>.lock" without blocking
func (l *Ledger) Lock() error {
	if l.lock == nil {
		l.lock = flock.New(l.path + ".lock")
	}

	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock taken by Lock
func (l *Ledger) Unlock() error {
	if l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
