package box

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// OAuth2Authenticator keeps a Box access token fresh using the refresh-token grant.
// Box rotates refresh tokens, so every refresh is written back to the credentials file.
type OAuth2Authenticator struct {
	credentials     *OAuth2Credentials
	credentialsFile string
	tokenURL        string
	httpClient      *http.Client
	mu              sync.Mutex
}

// NewOAuth2Authenticator creates an authenticator backed by a credentials file
func NewOAuth2Authenticator(creds *OAuth2Credentials, credentialsFile, tokenURL string, httpClient *http.Client) *OAuth2Authenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if creds.ExpiresAt.IsZero() && creds.ExpiresIn > 0 && creds.AccessToken != "" {
		creds.ExpiresAt = time.Now().Add(time.Duration(creds.ExpiresIn) * time.Second)
	}
	return &OAuth2Authenticator{
		credentials:     creds,
		credentialsFile: credentialsFile,
		tokenURL:        tokenURL,
		httpClient:      httpClient,
	}
}

// AuthorizationHeader returns a bearer header, refreshing the token when it is about to expire
func (a *OAuth2Authenticator) AuthorizationHeader(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.credentials.AccessToken == "" || a.credentials.IsExpired() {
		if err := a.refresh(ctx); err != nil {
			return "", err
		}
	}
	return "Bearer " + a.credentials.AccessToken, nil
}

// Invalidate forces a refresh on the next request, used after a 401
func (a *OAuth2Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credentials.ExpiresAt = time.Time{}
}

func (a *OAuth2Authenticator) refresh(ctx context.Context) error {
	if a.credentials.RefreshToken == "" {
		return fmt.Errorf("no Box refresh token available")
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", a.credentials.RefreshToken)
	data.Set("client_id", a.credentials.ClientID)
	data.Set("client_secret", a.credentials.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		json.Unmarshal(body, &errResp)
		return &BoxError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Description}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}

	a.credentials.AccessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		a.credentials.RefreshToken = tokenResp.RefreshToken
	}
	a.credentials.TokenType = tokenResp.TokenType
	a.credentials.ExpiresIn = tokenResp.ExpiresIn
	a.credentials.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	if a.credentialsFile != "" {
		if err := SaveCredentialsToFile(a.credentials, a.credentialsFile); err != nil {
			// The new token still works for this process; losing the rotated refresh token is logged loudly.
			logging.Error("Failed to persist refreshed Box credentials: %v", err)
		}
	}
	logging.Debug("Refreshed Box access token, expires at %s", a.credentials.ExpiresAt.Format(time.RFC3339))
	return nil
}

// LoadCredentialsFromFile reads and checks a credentials document
func LoadCredentialsFromFile(credentialsFile string) (*OAuth2Credentials, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", credentialsFile, err)
	}

	var credentials OAuth2Credentials
	if err := json.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}

	if credentials.AccessToken == "" && credentials.RefreshToken == "" {
		return nil, fmt.Errorf("either access_token or refresh_token is required in credentials file")
	}

	return &credentials, nil
}

// SaveCredentialsToFile atomically rewrites the credentials document with owner-only permissions
func SaveCredentialsToFile(credentials *OAuth2Credentials, credentialsFile string) error {
	if credentials == nil {
		return fmt.Errorf("credentials cannot be nil")
	}

	data, err := json.MarshalIndent(credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials to JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(credentialsFile), ".box-credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credentials file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials file: %w", err)
	}

	if err := os.Rename(tmp.Name(), credentialsFile); err != nil {
		return fmt.Errorf("failed to write credentials file %s: %w", credentialsFile, err)
	}
	return nil
}
