package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"botpilot/pkg/botcontrol"
	"botpilot/pkg/config"
	"botpilot/pkg/webui"
)

const clientTimeout = 30 * time.Second

// apiClient talks to the web UI API of a running botpilot serve.
type apiClient struct {
	http     *http.Client
	baseURL  string
	password string
}

func newAPIClient(cfg *config.Config) *apiClient {
	base := cfg.WebUI.Addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{
		http:     &http.Client{Timeout: clientTimeout},
		baseURL:  strings.TrimRight(base, "/"),
		password: cfg.WebUI.Password,
	}
}

func (c *apiClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.password != "" {
		req.SetBasicAuth(webui.AuthUsername, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("botpilot is not reachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

// Status fetches the controller snapshot.
func (c *apiClient) Status(ctx context.Context) (*botcontrol.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/bot/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var snap botcontrol.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &snap, nil
}

// Command posts launch, stop or reset. A rejected command is returned as an error
// carrying the server's message.
func (c *apiClient) Command(ctx context.Context, command string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/bot/"+command)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var result webui.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%s request failed: %s", command, resp.Status)
	}
	if !result.Success {
		if result.ErrorCode != "" {
			return fmt.Errorf("%s (%s)", result.Error, result.ErrorCode)
		}
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}
