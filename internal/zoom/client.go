// Package zoom provides API client for Zoom Cloud Recording endpoints
package zoom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/httpclient"
)

// CloudRecordingClient defines the Zoom operations the watchman depends on
type CloudRecordingClient interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetAllUserRecordings(ctx context.Context, userID string, from, to time.Time) ([]Recording, error)
	DownloadRecordingFile(ctx context.Context, downloadURL string, writer io.Writer) (int64, error)
	DeleteRecording(ctx context.Context, meetingUUID string) error
	UpdateMeetingTopic(ctx context.Context, meetingUUID, topic string) error
}

// ListRecordingsParams holds parameters for listing recordings
type ListRecordingsParams struct {
	From          time.Time // Start date, inclusive
	To            time.Time // End date, inclusive
	PageSize      int       // Records per page (max 300)
	NextPageToken string
}

// Doer is satisfied by the authenticated retry client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ZoomClient implements the CloudRecordingClient interface
type ZoomClient struct {
	httpClient Doer
	baseURL    string
	pageSize   int
}

// NewZoomClient creates a new Zoom API client
func NewZoomClient(httpClient Doer, baseURL string, pageSize int) *ZoomClient {
	if pageSize <= 0 || pageSize > 300 {
		pageSize = 300
	}
	return &ZoomClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		pageSize:   pageSize,
	}
}

// NewAuthenticatedZoomClient wires the retry client and authenticator together
func NewAuthenticatedZoomClient(retry *httpclient.RetryClient, auth Authenticator, baseURL string, pageSize int) *ZoomClient {
	return NewZoomClient(httpclient.NewAuthenticatedClient(retry, TokenSource(auth)), baseURL, pageSize)
}

// ListUsers returns every active user on the account, following pagination
func (c *ZoomClient) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	nextPageToken := ""

	for {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("status", "active")
		if nextPageToken != "" {
			query.Set("next_page_token", nextPageToken)
		}

		var page ListUsersResponse
		if err := c.getJSON(ctx, c.baseURL+"/users?"+query.Encode(), &page); err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		users = append(users, page.Users...)

		if page.NextPageToken == "" {
			return users, nil
		}
		nextPageToken = page.NextPageToken
	}
}

// ListUserRecordings retrieves one page of cloud recordings for a user
func (c *ZoomClient) ListUserRecordings(ctx context.Context, userID string, params ListRecordingsParams) (*ListRecordingsResponse, error) {
	endpoint := fmt.Sprintf("%s/users/%s/recordings", c.baseURL, url.PathEscape(userID))

	query := url.Values{}
	if !params.From.IsZero() {
		query.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		query.Set("to", params.To.Format("2006-01-02"))
	}
	pageSize := params.PageSize
	if pageSize == 0 {
		pageSize = c.pageSize
	}
	query.Set("page_size", strconv.Itoa(pageSize))
	if params.NextPageToken != "" {
		query.Set("next_page_token", params.NextPageToken)
	}

	var result ListRecordingsResponse
	if err := c.getJSON(ctx, endpoint+"?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAllUserRecordings retrieves all recordings for a user in [from, to] using pagination
func (c *ZoomClient) GetAllUserRecordings(ctx context.Context, userID string, from, to time.Time) ([]Recording, error) {
	var all []Recording
	params := ListRecordingsParams{From: from, To: to}

	for {
		response, err := c.ListUserRecordings(ctx, userID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list recordings (page token: %s): %w", params.NextPageToken, err)
		}
		all = append(all, response.Meetings...)

		if response.NextPageToken == "" {
			return all, nil
		}
		params.NextPageToken = response.NextPageToken
	}
}

// DownloadRecordingFile streams a recording file to writer and returns the bytes written
func (c *ZoomClient) DownloadRecordingFile(ctx context.Context, downloadURL string, writer io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(writer, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to copy file content: %w", err)
	}
	return n, nil
}

// DeleteRecording moves all recording files of one meeting occurrence to the trash
func (c *ZoomClient) DeleteRecording(ctx context.Context, meetingUUID string) error {
	endpoint := fmt.Sprintf("%s/meetings/%s/recordings", c.baseURL, escapeMeetingUUID(meetingUUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", meetingUUID, err)
	}
	resp.Body.Close()
	return nil
}

// UpdateMeetingTopic renames the meeting that produced the recording
func (c *ZoomClient) UpdateMeetingTopic(ctx context.Context, meetingUUID, topic string) error {
	body, err := json.Marshal(map[string]string{"topic": topic})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/meetings/%s", c.baseURL, escapeMeetingUUID(meetingUUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update topic for %s: %w", meetingUUID, err)
	}
	resp.Body.Close()
	return nil
}

func (c *ZoomClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// escapeMeetingUUID double-encodes UUIDs that begin with '/' or contain "//", as Zoom requires
func escapeMeetingUUID(meetingUUID string) string {
	escaped := url.PathEscape(meetingUUID)
	if strings.HasPrefix(meetingUUID, "/") || strings.Contains(meetingUUID, "//") {
		escaped = url.PathEscape(escaped)
	}
	return escaped
}
