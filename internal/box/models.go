// Package box provides the Box storage client that brand folders live in
package box

import (
	"fmt"
	"time"
)

// OAuth2Credentials is the Box credentials document kept on disk
type OAuth2Credentials struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired returns true if the access token is expired or will expire soon
func (c *OAuth2Credentials) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	// Consider token expired if it expires within 5 minutes
	return time.Now().Add(5 * time.Minute).After(c.ExpiresAt)
}

// Folder represents a Box folder
type Folder struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	ItemStatus string  `json:"item_status,omitempty"`
	Parent     *Folder `json:"parent,omitempty"`
}

// File represents a Box file
type File struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	SHA1       string  `json:"sha1,omitempty"`
	ItemStatus string  `json:"item_status,omitempty"`
	Parent     *Folder `json:"parent,omitempty"`
}

// Item represents either a file or folder in a listing
type Item struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ItemStatus string `json:"item_status,omitempty"`
}

// FolderItems represents one page of a folder listing
type FolderItems struct {
	TotalCount int    `json:"total_count"`
	Entries    []Item `json:"entries"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

// CreateFolderRequest represents the request to create a folder
type CreateFolderRequest struct {
	Name   string        `json:"name"`
	Parent *FolderParent `json:"parent"`
}

// FolderParent represents a parent folder reference
type FolderParent struct {
	ID string `json:"id"`
}

// UploadFileRequest represents the metadata for file upload
type UploadFileRequest struct {
	Name   string        `json:"name"`
	Parent *FolderParent `json:"parent"`
}

// TokenResponse represents Box OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// conflictResponse is the context Box returns with a 409 on create
type conflictResponse struct {
	ContextInfo struct {
		Conflicts []Item `json:"conflicts"`
	} `json:"context_info"`
}

// UploadSession is a chunked upload session
type UploadSession struct {
	ID                string `json:"id"`
	PartSize          int64  `json:"part_size"`
	TotalParts        int    `json:"total_parts"`
	NumPartsProcessed int    `json:"num_parts_processed"`
}

// UploadPartInfo identifies an uploaded part when committing a session
type UploadPartInfo struct {
	PartID string `json:"part_id"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	SHA1   string `json:"sha1,omitempty"`
}

type createUploadSessionRequest struct {
	FolderID string `json:"folder_id"`
	FileSize int64  `json:"file_size"`
	FileName string `json:"file_name"`
}

type uploadPartResponse struct {
	Part UploadPartInfo `json:"part"`
}

type commitUploadSessionRequest struct {
	Parts []UploadPartInfo `json:"parts"`
}

type uploadResponse struct {
	TotalCount int    `json:"total_count"`
	Entries    []File `json:"entries"`
}

// BoxError represents Box-specific errors
type BoxError struct {
	StatusCode int
	Message    string
	Code       string
}

// Error implements the error interface for BoxError
func (e *BoxError) Error() string {
	return fmt.Sprintf("Box API error: %s (status: %d, code: %s)", e.Message, e.StatusCode, e.Code)
}

const (
	// RootFolderID is the id of the account root
	RootFolderID = "0"

	ItemTypeFile   = "file"
	ItemTypeFolder = "folder"

	// ItemStatusActive excludes trashed and deleted items
	ItemStatusActive = "active"

	ErrorCodeItemNotFound    = "not_found"
	ErrorCodeItemNameInUse   = "item_name_in_use"
	ErrorCodeSessionNotReady = "upload_session_not_ready"

	// MinChunkedUploadSize is the file size at which uploads switch to sessions
	MinChunkedUploadSize = 50 * 1024 * 1024

	// listPageLimit is the page size used for folder listings
	listPageLimit = 1000
)
