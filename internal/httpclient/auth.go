package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

// TokenSource supplies the Authorization header value for a request
type TokenSource interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for APIs keyed by a fixed personal token
type StaticToken string

// AuthorizationHeader returns the token verbatim
func (s StaticToken) AuthorizationHeader(ctx context.Context) (string, error) {
	return string(s), nil
}

// AuthenticatedClient combines retry logic with authentication
type AuthenticatedClient struct {
	retryClient *RetryClient
	auth        TokenSource
}

// NewAuthenticatedClient creates a client with both retry logic and authentication
func NewAuthenticatedClient(retryClient *RetryClient, auth TokenSource) *AuthenticatedClient {
	return &AuthenticatedClient{
		retryClient: retryClient,
		auth:        auth,
	}
}

// Do executes an HTTP request with both authentication and retry logic
func (c *AuthenticatedClient) Do(req *http.Request) (*http.Response, error) {
	header, err := c.auth.AuthorizationHeader(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to get access token for request: %w", err)
	}

	req.Header.Set("Authorization", header)
	return c.retryClient.Do(req)
}
