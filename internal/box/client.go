package box

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/curtbushko/zoom-watchman/internal/httpclient"
	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// Doer is satisfied by the authenticated retry client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// invalidator is implemented by token sources that can be forced to refresh
type invalidator interface {
	Invalidate()
}

// Client is the Box storage client
type Client struct {
	httpClient Doer
	auth       httpclient.TokenSource
	baseURL    string
	uploadURL  string
	linkBase   string

	// chunkThreshold is the size at which uploads use a session
	chunkThreshold int64
}

// NewClient creates a Box client on top of the shared retry client
func NewClient(retry *httpclient.RetryClient, auth httpclient.TokenSource, baseURL, uploadURL, linkBase string) *Client {
	return &Client{
		httpClient: httpclient.NewAuthenticatedClient(retry, auth),
		auth:       auth,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		uploadURL:  strings.TrimSuffix(uploadURL, "/"),
		linkBase:   strings.TrimSuffix(linkBase, "/"),

		chunkThreshold: MinChunkedUploadSize,
	}
}

// FolderLink returns the web link of a folder
func (c *Client) FolderLink(folderID string) string {
	return c.linkBase + "/" + folderID
}

// ListFolderItems returns every active item in a folder. Trashed items are never returned.
func (c *Client) ListFolderItems(ctx context.Context, folderID string) ([]Item, error) {
	if folderID == "" {
		folderID = RootFolderID
	}

	var items []Item
	offset := 0
	for {
		query := url.Values{}
		query.Set("fields", "id,type,name,size,item_status")
		query.Set("limit", strconv.Itoa(listPageLimit))
		query.Set("offset", strconv.Itoa(offset))

		var page FolderItems
		endpoint := fmt.Sprintf("%s/folders/%s/items?%s", c.baseURL, url.PathEscape(folderID), query.Encode())
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list folder %s: %w", folderID, err)
		}

		for _, item := range page.Entries {
			if item.ItemStatus != "" && item.ItemStatus != ItemStatusActive {
				continue
			}
			items = append(items, item)
		}

		offset += len(page.Entries)
		if len(page.Entries) == 0 || offset >= page.TotalCount {
			return items, nil
		}
	}
}

// FindFolderByName returns the active folder named exactly name under parentID
func (c *Client) FindFolderByName(ctx context.Context, parentID, name string) (*Folder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("folder name cannot be empty")
	}

	items, err := c.ListFolderItems(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Type == ItemTypeFolder && item.Name == name {
			return &Folder{ID: item.ID, Type: item.Type, Name: item.Name, ItemStatus: item.ItemStatus}, nil
		}
	}

	return nil, &BoxError{
		StatusCode: http.StatusNotFound,
		Code:       ErrorCodeItemNotFound,
		Message:    fmt.Sprintf("folder '%s' not found in parent folder", name),
	}
}

// FindFileByName returns the active file named exactly name in folderID
func (c *Client) FindFileByName(ctx context.Context, folderID, name string) (*File, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("file name cannot be empty")
	}

	items, err := c.ListFolderItems(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Type == ItemTypeFile && item.Name == name {
			return &File{ID: item.ID, Type: item.Type, Name: item.Name, Size: item.Size, ItemStatus: item.ItemStatus}, nil
		}
	}

	return nil, &BoxError{
		StatusCode: http.StatusNotFound,
		Code:       ErrorCodeItemNotFound,
		Message:    fmt.Sprintf("file '%s' not found in folder", name),
	}
}

// FileExists reports whether a file with the exact name is present in the folder
func (c *Client) FileExists(ctx context.Context, folderID, name string) (bool, error) {
	_, err := c.FindFileByName(ctx, folderID, name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateFolder creates a folder. A name conflict returns the existing folder.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*Folder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("folder name cannot be empty")
	}
	if parentID == "" {
		parentID = RootFolderID
	}

	request := CreateFolderRequest{Name: name, Parent: &FolderParent{ID: parentID}}

	var folder Folder
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/folders", request, &folder)
	if err == nil {
		logging.Info("Created Box folder %q (%s) under %s", name, folder.ID, parentID)
		return &folder, nil
	}

	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		var conflict conflictResponse
		if json.Unmarshal(apiErr.Body, &conflict) == nil {
			for _, item := range conflict.ContextInfo.Conflicts {
				if item.Type == ItemTypeFolder {
					return &Folder{ID: item.ID, Type: item.Type, Name: item.Name}, nil
				}
			}
		}
		return nil, &BoxError{
			StatusCode: http.StatusConflict,
			Code:       ErrorCodeItemNameInUse,
			Message:    fmt.Sprintf("folder '%s' already exists in parent folder", name),
		}
	}
	return nil, fmt.Errorf("failed to create folder %q: %w", name, err)
}

// EnsureFolder returns the id of the folder named name under parentID, creating it when absent
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	folder, err := c.FindFolderByName(ctx, parentID, name)
	if err == nil {
		return folder.ID, nil
	}
	if !IsNotFound(err) {
		return "", err
	}

	folder, err = c.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	return folder.ID, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = data
	}

	build := func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	resp, err := c.send(build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// send executes a request and retries it once with a fresh token after a 401
func (c *Client) send(build func() (*http.Request, error)) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err == nil || httpclient.StatusCode(err) != http.StatusUnauthorized {
		return resp, err
	}

	inv, ok := c.auth.(invalidator)
	if !ok {
		return nil, err
	}
	logging.Warn("Box returned 401, refreshing token and retrying")
	inv.Invalidate()

	req, buildErr := build()
	if buildErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", buildErr)
	}
	return c.httpClient.Do(req)
}

// IsNotFound reports whether err is a Box not-found lookup result
func IsNotFound(err error) bool {
	var boxErr *BoxError
	if errors.As(err, &boxErr) {
		return boxErr.Code == ErrorCodeItemNotFound
	}
	return httpclient.StatusCode(err) == http.StatusNotFound
}
