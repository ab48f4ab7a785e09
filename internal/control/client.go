package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a running daemon's control server
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient accepts host:port or a full http URL.
func NewClient(addr, token string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Reload asks the daemon to reread its crontab and returns the reply line.
func (c *Client) Reload(ctx context.Context) (string, error) {
	return c.do(ctx, http.MethodPost, "/reload")
}

// List fetches the current rules in the given format.
func (c *Client) List(ctx context.Context, format string) (string, error) {
	path := "/list"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}
	return c.do(ctx, http.MethodGet, path)
}

func (c *Client) do(ctx context.Context, method, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("control request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("control server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
