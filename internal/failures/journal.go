// Package failures journals brand resolution failures so repeated notices back off
package failures

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS resolution_failures (
	recording_id   TEXT PRIMARY KEY,
	topic          TEXT NOT NULL DEFAULT '',
	brand          TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	first_seen     INTEGER NOT NULL,
	last_seen      INTEGER NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	notifications  INTEGER NOT NULL DEFAULT 0,
	last_notified  INTEGER
);`

const (
	sqliteBusyCode    = 5
	busyRetryAttempts = 5
	busyRetryBackoff  = 10 * time.Millisecond
)

// Failure describes one resolution failure
type Failure struct {
	RecordingID string
	Topic       string
	Brand       string
	Reason      string
}

// Entry is a journaled failure
type Entry struct {
	Failure
	FirstSeen     time.Time
	LastSeen      time.Time
	Attempts      int
	Notifications int
	LastNotified  time.Time // zero when never notified
}

// Journal persists failures in SQLite
type Journal struct {
	db         *sql.DB
	path       string
	base       time.Duration
	maxBackoff time.Duration
}

// Open creates or opens the journal database
func Open(path string, base, maxBackoff time.Duration) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if maxBackoff < base {
		maxBackoff = base
	}
	return &Journal{db: db, path: path, base: base, maxBackoff: maxBackoff}, nil
}

// Close closes the underlying database connection
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Backoff returns the quiet period after the given number of notifications
func (j *Journal) Backoff(notifications int) time.Duration {
	if notifications <= 0 {
		return 0
	}
	d := j.base
	for i := 1; i < notifications; i++ {
		d *= 2
		if d >= j.maxBackoff {
			return j.maxBackoff
		}
	}
	if d > j.maxBackoff {
		return j.maxBackoff
	}
	return d
}

// ShouldNotify reports whether a notice for this recording is due at now
func (j *Journal) ShouldNotify(ctx context.Context, recordingID string, now time.Time) (bool, error) {
	entry, err := j.get(ctx, recordingID)
	if err != nil {
		return false, err
	}
	return j.due(entry, now), nil
}

func (j *Journal) due(entry *Entry, now time.Time) bool {
	if entry == nil || entry.Notifications == 0 || entry.LastNotified.IsZero() {
		return true
	}
	return !now.Before(entry.LastNotified.Add(j.Backoff(entry.Notifications)))
}

// Record notes one more sighting of the failure and reports whether a notice is due.
// When it is, the notice is counted as sent.
func (j *Journal) Record(ctx context.Context, f Failure, now time.Time) (bool, error) {
	if f.RecordingID == "" {
		return false, fmt.Errorf("failure has no recording id")
	}

	var notify bool
	err := retryOnBusy(ctx, func() error {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		entry, err := scanEntry(tx.QueryRowContext(ctx, selectEntry+" WHERE recording_id = ?", f.RecordingID))
		if err != nil {
			return err
		}

		notify = j.due(entry, now)
		ts := now.Unix()

		if entry == nil {
			var lastNotified any
			notifications := 0
			if notify {
				lastNotified = ts
				notifications = 1
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO resolution_failures
				(recording_id, topic, brand, reason, first_seen, last_seen, attempts, notifications, last_notified)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				f.RecordingID, f.Topic, f.Brand, f.Reason, ts, ts, notifications, lastNotified)
		} else if notify {
			_, err = tx.ExecContext(ctx, `UPDATE resolution_failures
				SET topic = ?, brand = ?, reason = ?, last_seen = ?, attempts = attempts + 1,
				    notifications = notifications + 1, last_notified = ?
				WHERE recording_id = ?`,
				f.Topic, f.Brand, f.Reason, ts, ts, f.RecordingID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE resolution_failures
				SET topic = ?, brand = ?, reason = ?, last_seen = ?, attempts = attempts + 1
				WHERE recording_id = ?`,
				f.Topic, f.Brand, f.Reason, ts, f.RecordingID)
		}
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, fmt.Errorf("record failure %s: %w", f.RecordingID, err)
	}
	return notify, nil
}

// Clear removes the journal entry after the recording completes
func (j *Journal) Clear(ctx context.Context, recordingID string) error {
	err := retryOnBusy(ctx, func() error {
		_, err := j.db.ExecContext(ctx, "DELETE FROM resolution_failures WHERE recording_id = ?", recordingID)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear failure %s: %w", recordingID, err)
	}
	return nil
}

// List returns every journaled failure, most recently seen first
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, selectEntry+" ORDER BY last_seen DESC, recording_id")
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (j *Journal) get(ctx context.Context, recordingID string) (*Entry, error) {
	entry, err := scanEntry(j.db.QueryRowContext(ctx, selectEntry+" WHERE recording_id = ?", recordingID))
	if err != nil {
		return nil, fmt.Errorf("load failure %s: %w", recordingID, err)
	}
	return entry, nil
}

const selectEntry = `SELECT recording_id, topic, brand, reason, first_seen, last_seen, attempts, notifications, last_notified
	FROM resolution_failures`

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry returns nil without error when the row does not exist
func scanEntry(row scanner) (*Entry, error) {
	var (
		e            Entry
		firstSeen    int64
		lastSeen     int64
		lastNotified sql.NullInt64
	)
	err := row.Scan(&e.RecordingID, &e.Topic, &e.Brand, &e.Reason, &firstSeen, &lastSeen, &e.Attempts, &e.Notifications, &lastNotified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.FirstSeen = time.Unix(firstSeen, 0)
	e.LastSeen = time.Unix(lastSeen, 0)
	if lastNotified.Valid {
		e.LastNotified = time.Unix(lastNotified.Int64, 0)
	}
	return &e, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}
