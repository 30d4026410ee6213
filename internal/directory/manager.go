// Package directory lays out the local work directories that hold artifacts between download and upload
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/policy"
)

// DirectoryManager defines the interface for work directory operations
type DirectoryManager interface {
	// MeetingDirectory returns <base>/<owner>/<YYYY>/<MM>/<DD> for one meeting
	MeetingDirectory(ownerEmail string, meetingDate time.Time) (*DirectoryResult, error)

	// Cleanup removes the meeting directory and its empty parents up to the base
	Cleanup(result *DirectoryResult) error

	GetStats() DirectoryStats
}

// DirectoryConfig holds configuration for the directory manager
type DirectoryConfig struct {
	BaseDirectory string         // Work directory root
	CreateDirs    bool           // Whether to create directories if they don't exist
	Location      *time.Location // Time zone for the date components, UTC when nil
}

// DirectoryResult represents the result of directory generation
type DirectoryResult struct {
	FullPath      string // Complete path to the directory
	UserDirectory string // Owner directory name (email local part)
	Year          string // Year component (YYYY)
	Month         string // Month component (MM)
	Day           string // Day component (DD)
	BasePath      string // Base directory path
	RelativePath  string // Relative path from base directory
}

// FilePath joins an artifact name onto the meeting directory
func (dr *DirectoryResult) FilePath(name string) string {
	return filepath.Join(dr.FullPath, name)
}

// DirectoryStats provides statistics about directory operations
type DirectoryStats struct {
	DirectoriesCreated int
	DirectoriesRemoved int
	BaseDirectory      string
	LastCreated        time.Time
}

type directoryManagerImpl struct {
	config DirectoryConfig
	stats  DirectoryStats
}

// NewDirectoryManager creates a new directory manager with the given configuration
func NewDirectoryManager(config DirectoryConfig) DirectoryManager {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &directoryManagerImpl{
		config: config,
		stats:  DirectoryStats{BaseDirectory: config.BaseDirectory},
	}
}

func (dm *directoryManagerImpl) MeetingDirectory(ownerEmail string, meetingDate time.Time) (*DirectoryResult, error) {
	if dm.config.BaseDirectory == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}

	userDir := policy.ExtractUsername(ownerEmail)
	if userDir == "" {
		return nil, fmt.Errorf("invalid email format: %q", ownerEmail)
	}

	local := meetingDate.In(dm.config.Location)
	year := local.Format("2006")
	month := local.Format("01")
	day := local.Format("02")

	relativePath := filepath.Join(userDir, year, month, day)
	fullPath := filepath.Join(dm.config.BaseDirectory, relativePath)

	if dm.config.CreateDirs {
		if err := os.MkdirAll(fullPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", fullPath, err)
		}
		dm.stats.DirectoriesCreated++
		dm.stats.LastCreated = time.Now()
	}

	return &DirectoryResult{
		FullPath:      fullPath,
		UserDirectory: userDir,
		Year:          year,
		Month:         month,
		Day:           day,
		BasePath:      dm.config.BaseDirectory,
		RelativePath:  relativePath,
	}, nil
}

// Cleanup walks up from the meeting directory removing directories that are empty.
// A directory that still holds files stops the walk without error.
func (dm *directoryManagerImpl) Cleanup(result *DirectoryResult) error {
	if result == nil {
		return nil
	}

	base := filepath.Clean(result.BasePath)
	dir := filepath.Clean(result.FullPath)
	for dir != base && strings.HasPrefix(dir, base+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				dir = filepath.Dir(dir)
				continue
			}
			return fmt.Errorf("failed to read directory %s: %w", dir, err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", dir, err)
		}
		dm.stats.DirectoriesRemoved++
		dir = filepath.Dir(dir)
	}
	return nil
}

// GetStats returns statistics about directory operations
func (dm *directoryManagerImpl) GetStats() DirectoryStats {
	return dm.stats
}
