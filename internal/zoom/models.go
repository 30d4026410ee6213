// Package zoom defines data structures for Zoom Cloud Recording API
package zoom

import (
	"strings"
	"time"
)

// Recording file types reported by Zoom
const (
	FileTypeMP4        = "MP4"
	FileTypeM4A        = "M4A"
	FileTypeChat       = "CHAT"
	FileTypeTranscript = "TRANSCRIPT"
	FileTypeTimeline   = "TIMELINE"
	FileTypeCC         = "CC"
)

// Recording file extensions reported by Zoom
const (
	ExtensionJSON = "JSON"
	ExtensionTXT  = "TXT"
)

// RecordingFile represents a single recording file within a meeting recording
type RecordingFile struct {
	ID             string    `json:"id"`
	MeetingID      string    `json:"meeting_id"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
	FileType       string    `json:"file_type"`
	FileExtension  string    `json:"file_extension,omitempty"`
	FileSize       int64     `json:"file_size"`
	DownloadURL    string    `json:"download_url"`
	PlayURL        string    `json:"play_url,omitempty"`
	Status         string    `json:"status"`
	RecordingType  string    `json:"recording_type,omitempty"`
}

// IsMetadata reports whether the file only carries timeline metadata
func (f RecordingFile) IsMetadata() bool {
	return strings.EqualFold(f.FileExtension, ExtensionJSON) || strings.EqualFold(f.FileType, FileTypeTimeline)
}

// IsText reports whether the file is a text artifact exempt from the minimum size rule
func (f RecordingFile) IsText() bool {
	return strings.EqualFold(f.FileExtension, ExtensionTXT) || strings.EqualFold(f.FileType, FileTypeChat)
}

// IsVideo reports whether the file is the shared video recording
func (f RecordingFile) IsVideo() bool {
	return strings.EqualFold(f.FileType, FileTypeMP4)
}

// Recording represents a meeting recording with all associated files.
// UUID identifies one occurrence of the meeting; ID is the reusable meeting number.
type Recording struct {
	UUID           string          `json:"uuid"`
	ID             int64           `json:"id"`
	AccountID      string          `json:"account_id"`
	HostID         string          `json:"host_id"`
	HostEmail      string          `json:"host_email,omitempty"`
	Topic          string          `json:"topic"`
	Type           int             `json:"type"`
	StartTime      time.Time       `json:"start_time"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	ShareURL       string          `json:"share_url,omitempty"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// ListRecordingsResponse represents the response from the list recordings API endpoint
type ListRecordingsResponse struct {
	From          string      `json:"from"`
	To            string      `json:"to"`
	PageCount     int         `json:"page_count"`
	PageSize      int         `json:"page_size"`
	TotalRecords  int         `json:"total_records"`
	NextPageToken string      `json:"next_page_token,omitempty"`
	Meetings      []Recording `json:"meetings"`
}

// User is a Zoom account member
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Type      int    `json:"type"`
	Status    string `json:"status,omitempty"`
}

// ListUsersResponse represents the response from the list users API endpoint
type ListUsersResponse struct {
	PageSize      int    `json:"page_size"`
	TotalRecords  int    `json:"total_records"`
	NextPageToken string `json:"next_page_token,omitempty"`
	Users         []User `json:"users"`
}

// MarkedTopic appends the completion marker to topic. The second result is false
// when the topic already carries the marker.
func MarkedTopic(topic, marker string) (string, bool) {
	if strings.Contains(topic, marker) {
		return topic, false
	}
	return topic + " " + marker, true
}
