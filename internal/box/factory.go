package box

import (
	"fmt"
	"net/http"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/httpclient"
)

// NewClientFromConfig loads the credentials file and builds a Box client.
// Client id and secret from the configuration take precedence over the file.
func NewClientFromConfig(cfg config.BoxConfig, retry *httpclient.RetryClient) (*Client, error) {
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("box.credentials_file is required")
	}

	credentials, err := LoadCredentialsFromFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load Box credentials: %w", err)
	}
	if cfg.ClientID != "" {
		credentials.ClientID = cfg.ClientID
	}
	if cfg.ClientSecret != "" {
		credentials.ClientSecret = cfg.ClientSecret
	}
	if credentials.ClientID == "" || credentials.ClientSecret == "" {
		return nil, fmt.Errorf("box client_id and client_secret are required")
	}

	auth := NewOAuth2Authenticator(credentials, cfg.CredentialsFile, cfg.TokenURL, &http.Client{Timeout: 30 * time.Second})
	return NewClient(retry, auth, cfg.BaseURL, cfg.UploadURL, cfg.FolderLinkBase), nil
}
