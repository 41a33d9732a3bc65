// Package driver talks to the remote webdriver endpoint on a worker node.
// Only session create, delete, and a liveness probe are needed; the wire
// protocol beyond that is out of scope for the pool engine.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client interface {
	// Create opens a remote driver session on the node and returns its
	// webdriver session id.
	Create(ctx context.Context, nodeURL string, capabilities map[string]string) (string, error)
	// Delete tears the remote session down.
	Delete(ctx context.Context, nodeURL, webdriverID string) error
	// Alive reports whether the remote session still exists on the node.
	Alive(ctx context.Context, nodeURL, webdriverID string) (bool, error)
}

type HTTPClient struct {
	httpClient *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Create(ctx context.Context, nodeURL string, capabilities map[string]string) (string, error) {
	if strings.TrimSpace(nodeURL) == "" {
		return "", fmt.Errorf("node url is required")
	}

	caps := make(map[string]any, len(capabilities))
	for k, v := range capabilities {
		caps[k] = v
	}
	raw, err := json.Marshal(map[string]any{"desiredCapabilities": caps})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL(nodeURL), bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create driver session: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create driver session returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Accept both the legacy JSONWire shape and the W3C one.
	var payload struct {
		SessionID string `json:"sessionId"`
		Value     struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	id := payload.SessionID
	if id == "" {
		id = payload.Value.SessionID
	}
	if id == "" {
		return "", fmt.Errorf("driver returned no session id")
	}
	return id, nil
}

func (c *HTTPClient) Delete(ctx context.Context, nodeURL, webdriverID string) error {
	if strings.TrimSpace(webdriverID) == "" {
		return fmt.Errorf("webdriver id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sessionURL(nodeURL)+"/"+webdriverID, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete driver session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("delete driver session returned %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Alive(ctx context.Context, nodeURL, webdriverID string) (bool, error) {
	if strings.TrimSpace(webdriverID) == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sessionURL(nodeURL)+"/"+webdriverID+"/url", nil)
	if err != nil {
		return false, fmt.Errorf("build liveness request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe driver session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	return false, fmt.Errorf("liveness probe returned %d", resp.StatusCode)
}

func sessionURL(nodeURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(nodeURL), "/")
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	return trimmed + "/wd/hub/session"
}
