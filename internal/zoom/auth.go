// Package zoom provides Zoom API authentication and client functionality
package zoom

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/curtbushko/zoom-watchman/internal/config"
	"github.com/curtbushko/zoom-watchman/internal/httpclient"
)

// ErrNoToken is returned when the token-cache document has not been bootstrapped
var ErrNoToken = errors.New("no Zoom token found")

// AccessToken represents an OAuth access token with metadata
type AccessToken struct {
	AccessToken string
	TokenType   string
	Scopes      []string
	ExpiresAt   time.Time
}

// IsExpired returns true if the token is expired or will expire within the buffer time
func (t *AccessToken) IsExpired(buffer time.Duration) bool {
	return time.Now().Add(buffer).After(t.ExpiresAt)
}

// tokenResponse represents the response from the OAuth token endpoint
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// AuthError represents authentication-related errors
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %s (%v)", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Authenticator defines the interface for Zoom API authentication
type Authenticator interface {
	GetAccessToken(ctx context.Context) (*AccessToken, error)
}

// NewAuthenticator builds the authenticator selected by cfg.AuthMode
func NewAuthenticator(cfg config.ZoomConfig) (Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthModeServerToServer, "":
		return NewServerToServerAuth(cfg), nil
	case config.AuthModeTokenFile:
		return NewTokenFileAuth(cfg), nil
	default:
		return nil, fmt.Errorf("unknown zoom auth mode %q", cfg.AuthMode)
	}
}

// TokenSource adapts an Authenticator to the shared HTTP client
func TokenSource(auth Authenticator) httpclient.TokenSource {
	return headerSource{auth: auth}
}

type headerSource struct {
	auth Authenticator
}

func (h headerSource) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := h.auth.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token.AccessToken, nil
}

// ServerToServerAuth implements Server-to-Server OAuth authentication for Zoom
type ServerToServerAuth struct {
	config config.ZoomConfig
	client *http.Client

	mu          sync.Mutex
	cachedToken *AccessToken
}

// NewServerToServerAuth creates a new Server-to-Server OAuth authenticator
func NewServerToServerAuth(cfg config.ZoomConfig) *ServerToServerAuth {
	return &ServerToServerAuth{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetAccessToken obtains or refreshes an access token using the account credentials grant
func (s *ServerToServerAuth) GetAccessToken(ctx context.Context) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedToken != nil && !s.cachedToken.IsExpired(5*time.Minute) {
		return s.cachedToken, nil
	}

	jwtToken, err := s.generateJWT()
	if err != nil {
		return nil, &AuthError{Type: "jwt_generation", Reason: "failed to generate JWT token", Err: err}
	}

	data := url.Values{}
	data.Set("grant_type", "account_credentials")
	data.Set("account_id", s.config.AccountID)

	resp, err := postToken(ctx, s.client, s.config.TokenURL, data, "Bearer "+jwtToken)
	if err != nil {
		return nil, err
	}

	token := resp.accessToken()
	s.cachedToken = token
	return token, nil
}

// generateJWT signs the client assertion sent with the token request
func (s *ServerToServerAuth) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":      s.config.ClientID,
		"exp":      now.Add(time.Hour).Unix(),
		"iat":      now.Unix(),
		"aud":      "zoom",
		"appKey":   s.config.ClientID,
		"tokenExp": now.Add(time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.ClientSecret))
}

// TokenCache is the on-disk token document used by TokenFileAuth. ExpiresAt is epoch milliseconds.
type TokenCache struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// TokenFileAuth reads a user OAuth token from disk and refreshes it with the refresh token grant
type TokenFileAuth struct {
	config config.ZoomConfig
	client *http.Client
	now    func() time.Time

	mu sync.Mutex
}

// NewTokenFileAuth creates an authenticator backed by the token-cache document
func NewTokenFileAuth(cfg config.ZoomConfig) *TokenFileAuth {
	return &TokenFileAuth{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

// GetAccessToken returns the cached token, refreshing and rewriting the file once it has expired
func (a *TokenFileAuth) GetAccessToken(ctx context.Context) (*AccessToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cache, err := a.load()
	if err != nil {
		return nil, err
	}

	if a.now().UnixMilli() < cache.ExpiresAt {
		return &AccessToken{
			AccessToken: cache.AccessToken,
			TokenType:   "bearer",
			ExpiresAt:   time.UnixMilli(cache.ExpiresAt),
		}, nil
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", cache.RefreshToken)

	credentials := base64.StdEncoding.EncodeToString([]byte(a.config.ClientID + ":" + a.config.ClientSecret))
	resp, err := postToken(ctx, a.client, a.config.TokenURL, data, "Basic "+credentials)
	if err != nil {
		return nil, err
	}

	refreshed := TokenCache{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    a.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli(),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cache.RefreshToken
	}
	if err := a.save(refreshed); err != nil {
		return nil, &AuthError{Type: "token_cache", Reason: "failed to save refreshed token", Err: err}
	}

	return &AccessToken{
		AccessToken: refreshed.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresAt:   time.UnixMilli(refreshed.ExpiresAt),
	}, nil
}

func (a *TokenFileAuth) load() (*TokenCache, error) {
	data, err := os.ReadFile(a.config.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &AuthError{Type: "token_cache", Reason: a.config.TokenFile, Err: ErrNoToken}
	}
	if err != nil {
		return nil, &AuthError{Type: "token_cache", Reason: "failed to read token file", Err: err}
	}

	var cache TokenCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, &AuthError{Type: "token_cache", Reason: "failed to parse token file", Err: err}
	}
	if cache.RefreshToken == "" && cache.AccessToken == "" {
		return nil, &AuthError{Type: "token_cache", Reason: a.config.TokenFile, Err: ErrNoToken}
	}
	return &cache, nil
}

// save writes the token document atomically with owner-only permissions
func (a *TokenFileAuth) save(cache TokenCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(a.config.TokenFile), ".zoom-token-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.config.TokenFile)
}

func postToken(ctx context.Context, client *http.Client, tokenURL string, data url.Values, authorization string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &AuthError{Type: "request_creation", Reason: "failed to create OAuth request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", authorization)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &AuthError{Type: "request_failed", Reason: "failed to get access token", Err: err}
	}
	defer resp.Body.Close()

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, &AuthError{Type: "response_parsing", Reason: "failed to parse token response", Err: err}
	}

	if tokenResp.Error != "" {
		return nil, &AuthError{Type: tokenResp.Error, Reason: tokenResp.Reason}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Type: "http_error", Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, tokenResp.Reason)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &AuthError{Type: "empty_token", Reason: "token endpoint returned no access token"}
	}
	return &tokenResp, nil
}

func (r *tokenResponse) accessToken() *AccessToken {
	token := &AccessToken{
		AccessToken: r.AccessToken,
		TokenType:   r.TokenType,
		ExpiresAt:   time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
	if r.Scope != "" {
		token.Scopes = strings.Fields(r.Scope)
	}
	return token
}
