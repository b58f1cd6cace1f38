// Package backend is the HTTP client for the account service: profile status,
// saved preferences, runtime tokens and credit balance.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"botpilot/pkg/logx"
	"botpilot/pkg/preflight"
	"botpilot/pkg/prefs"
)

const maxErrorBody = 4096

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Token is a short-lived runtime credential.
type Token struct {
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

// Client talks to the account service.
type Client struct {
	logger  *logx.Logger
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a backend client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logx.NewLogger("backend"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the service root handed to the runtime.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiURL constructs a full API URL.
func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", c.baseURL, path)
}

// doJSON performs an authenticated request and decodes a JSON answer into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	url := c.apiURL(path)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("%s %s", method, url)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the raw text.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// ProfilePublished reports whether the user's profile is published.
func (c *Client) ProfilePublished(ctx context.Context) (bool, error) {
	var resp struct {
		Published bool `json:"published"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/profile/status", nil, &resp); err != nil {
		return false, fmt.Errorf("profile status: %w", err)
	}
	return resp.Published, nil
}

// Preferences fetches the saved job search preferences.
func (c *Client) Preferences(ctx context.Context) (*prefs.Preferences, error) {
	var p prefs.Preferences
	if err := c.doJSON(ctx, http.MethodGet, "/preferences", nil, &p); err != nil {
		return nil, fmt.Errorf("preferences: %w", err)
	}
	return &p, nil
}

// RequestToken issues a short-lived runtime token.
func (c *Client) RequestToken(ctx context.Context) (*Token, error) {
	var tok Token
	if err := c.doJSON(ctx, http.MethodPost, "/runtime/token", map[string]string{"purpose": "bot"}, &tok); err != nil {
		return nil, fmt.Errorf("runtime token: %w", err)
	}
	if tok.Token == "" {
		return nil, fmt.Errorf("runtime token: empty token in response")
	}
	return &tok, nil
}

// IssueToken returns just the token string.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	tok, err := c.RequestToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// Credits returns the remaining credit balance.
func (c *Client) Credits(ctx context.Context) (int, error) {
	var resp struct {
		Balance int `json:"balance"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/credits", nil, &resp); err != nil {
		return 0, fmt.Errorf("credits: %w", err)
	}
	return resp.Balance, nil
}

// Conditions gathers the account side of the launch gate. RuntimeInstalled is
// taken from the caller since it is a local fact.
func (c *Client) Conditions(ctx context.Context, runtimeInstalled bool) (preflight.Conditions, error) {
	cond := preflight.Conditions{RuntimeInstalled: runtimeInstalled}

	published, err := c.ProfilePublished(ctx)
	if err != nil {
		return cond, err
	}
	cond.ProfilePublished = published

	p, err := c.Preferences(ctx)
	if err != nil {
		return cond, err
	}
	cond.PreferencesComplete = p.Complete()

	credits, err := c.Credits(ctx)
	if err != nil {
		return cond, err
	}
	cond.Credits = credits
	return cond, nil
}
