// Package enrich talks to the optional text services used by the content
// pipeline: the summarizer and the HTML reformatter. Both accept
// {"text": ...} and answer {"summary": ...}.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEmptySummary is returned when the service answers without a summary.
var ErrEmptySummary = errors.New("empty summary")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type request struct {
	Text string `json:"text"`
}

type response struct {
	Summary string `json:"summary"`
}

// Client calls a single text endpoint.
type Client struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// New creates a Client posting to url. A zero timeout means 60 seconds.
func New(client HTTPClient, url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{client: client, url: url, timeout: timeout}
}

// Rewrite sends text to the endpoint and returns the summary field of the
// answer.
func (c *Client) Rewrite(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(request{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return "", ErrEmptySummary
	}
	return out.Summary, nil
}
