// Package filename builds the target file names for uploaded recording artifacts
package filename

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/curtbushko/zoom-watchman/internal/zoom"
)

// DateLayout is the human-readable meeting date used in file names and the ledger
const DateLayout = "2 January 2006"

// unknownExtension is used when Zoom reports neither a known type nor an extension
const unknownExtension = ".bin"

// Namer builds deterministic artifact names so a rerun finds files it already uploaded
type Namer interface {
	// Sanitize drops every character outside letters, digits, space, dash and dot
	Sanitize(s string) string

	// FormatDate renders the meeting start time in the configured time zone
	FormatDate(t time.Time) string

	// Extension returns the file extension for a recording artifact
	Extension(file zoom.RecordingFile) string

	// ArtifactName returns "{topic} - {date}{ext}" for one artifact of a recording
	ArtifactName(recording zoom.Recording, file zoom.RecordingFile) string
}

type namer struct {
	location *time.Location

	disallowed *regexp.Regexp
	folding    transform.Transformer
}

// NewNamer creates a Namer. A nil location means UTC.
func NewNamer(location *time.Location) Namer {
	if location == nil {
		location = time.UTC
	}
	return &namer{
		location:   location,
		disallowed: regexp.MustCompile(`[^a-zA-Z0-9 \-\.]`),
		folding:    transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// Sanitize folds accented letters to their base form, then removes disallowed characters
func (n *namer) Sanitize(s string) string {
	folded, _, err := transform.String(n.folding, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(n.disallowed.ReplaceAllString(folded, ""))
}

func (n *namer) FormatDate(t time.Time) string {
	return t.In(n.location).Format(DateLayout)
}

// Extension maps well-known file types first and falls back to the reported extension
func (n *namer) Extension(file zoom.RecordingFile) string {
	switch strings.ToUpper(file.FileType) {
	case zoom.FileTypeMP4:
		return ".mp4"
	case zoom.FileTypeM4A:
		return ".m4a"
	case zoom.FileTypeChat:
		return ".txt"
	}

	if file.FileExtension == "" {
		return unknownExtension
	}
	return "." + strings.ToLower(file.FileExtension)
}

func (n *namer) ArtifactName(recording zoom.Recording, file zoom.RecordingFile) string {
	safeTopic := n.Sanitize(recording.Topic)
	safeDate := n.disallowed.ReplaceAllString(n.FormatDate(recording.StartTime), "")
	return safeTopic + " - " + safeDate + n.Extension(file)
}
