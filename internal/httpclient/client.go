// Package httpclient provides an HTTP client with retry logic shared by the API clients
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// Config holds configuration for the retry HTTP client
type Config struct {
	Timeout         time.Duration // Request timeout, zero for none
	MaxRetries      int           // Maximum number of retries
	RetryWaitMin    time.Duration // Minimum wait time between retries
	RetryWaitMax    time.Duration // Maximum wait time between retries
	RetryableStatus []int         // HTTP status codes that should trigger retries
	MaxRedirects    int           // Maximum number of redirects to follow
}

var defaultRetryableStatus = []int{429, 500, 502, 503, 504}

// RetryClient is an HTTP client with retry logic and exponential backoff
type RetryClient struct {
	client *http.Client
	config Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a new HTTP client with retry logic
func New(config Config) *RetryClient {
	if config.RetryWaitMin == 0 {
		config.RetryWaitMin = 500 * time.Millisecond
	}
	if config.RetryWaitMax == 0 {
		config.RetryWaitMax = 5 * time.Second
	}
	if len(config.RetryableStatus) == 0 {
		config.RetryableStatus = defaultRetryableStatus
	}
	if config.MaxRedirects == 0 {
		config.MaxRedirects = 10
	}

	client := &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("too many redirects: %d", len(via))
			}
			return nil
		},
	}

	return &RetryClient{
		client: client,
		config: config,
		sleep:  sleepContext,
	}
}

// APIError is a JSON error body returned by an upstream API
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"-"`
	Message string `json:"-"`
	Body    []byte `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// HTTPError represents a non-2xx response without a recognizable error body
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Status)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Do executes an HTTP request with retry logic. Non-2xx responses are returned as errors.
func (c *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	logging.LogAPIRequest(logging.APIRequest{
		Method:    req.Method,
		URL:       redactURL(req.URL.String()),
		RequestID: requestID(ctx),
	})

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		reqClone, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(reqClone)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < c.config.MaxRetries {
				if werr := c.sleep(ctx, c.backoff(attempt, 0)); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
		}

		if c.shouldRetry(resp.StatusCode) && attempt < c.config.MaxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if werr := c.sleep(ctx, c.backoff(attempt, parseRetryAfter(resp))); werr != nil {
				return nil, werr
			}
			continue
		}

		c.logResponse(req, resp.StatusCode, start, nil)

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			return nil, parseError(resp, body)
		}

		return resp, nil
	}

	return nil, lastErr
}

func (c *RetryClient) logResponse(req *http.Request, status int, start time.Time, err error) {
	r := logging.APIResponse{
		Method:     req.Method,
		URL:        redactURL(req.URL.String()),
		StatusCode: status,
		RequestID:  requestID(req.Context()),
		Duration:   time.Since(start),
		Success:    status < 400 && err == nil,
	}
	if err != nil {
		r.Error = err.Error()
	}
	logging.LogAPIResponse(r)
}

// cloneRequest copies the request and rewinds its body for a retry attempt
func cloneRequest(req *http.Request) (*http.Request, error) {
	reqClone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		reqClone.Body = body
	}
	return reqClone, nil
}

func (c *RetryClient) shouldRetry(statusCode int) bool {
	for _, retryableStatus := range c.config.RetryableStatus {
		if statusCode == retryableStatus {
			return true
		}
	}
	return false
}

// parseError understands the Zoom ({code, message}) and ClickUp ({err, ECODE}) error bodies
func parseError(resp *http.Response, body []byte) error {
	var payload struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Err     string          `json:"err"`
		ECode   string          `json:"ECODE"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		apiErr := &APIError{Status: resp.StatusCode, Message: payload.Message, Body: body}
		if len(payload.Code) > 0 {
			apiErr.Code = strings.Trim(string(payload.Code), `"`)
		}
		if payload.Err != "" {
			apiErr.Message = payload.Err
			apiErr.Code = payload.ECode
		}
		if apiErr.Message != "" || apiErr.Code != "" {
			return apiErr
		}
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// parseRetryAfter parses the Retry-After header and returns the wait duration
func parseRetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// backoff implements exponential backoff with jitter, honouring Retry-After up to the cap
func (c *RetryClient) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.config.RetryWaitMax)
	}

	base := float64(c.config.RetryWaitMin)
	exponential := base * math.Pow(2, float64(attempt))
	jitter := exponential * 0.25 * (rand.Float64()*2 - 1)
	wait := time.Duration(exponential + jitter)

	return max(min(wait, c.config.RetryWaitMax), c.config.RetryWaitMin)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client returns the underlying HTTP client
func (c *RetryClient) Client() *http.Client {
	return c.client
}

// IsRetryableError checks if an error is worth retrying on a later attempt
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if status := StatusCode(err); status != 0 {
		for _, code := range defaultRetryableStatus {
			if status == code {
				return true
			}
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"network is unreachable",
		"temporary failure",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// redactURL drops access_token query values before the URL is logged
func redactURL(raw string) string {
	i := strings.Index(raw, "access_token=")
	if i < 0 {
		return raw
	}
	end := strings.IndexByte(raw[i:], '&')
	if end < 0 {
		return raw[:i] + "access_token=***"
	}
	return raw[:i] + "access_token=***" + raw[i+end:]
}

func requestID(ctx context.Context) string {
	id, _ := logging.GetRequestID(ctx)
	return id
}
