package publish

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

// HTTPConfig configures the webhook executor.
type HTTPConfig struct {
	URL     string
	Token   string // optional bearer token
	Timeout time.Duration
}

// HTTPExecutor publishes by POSTing the request to a configured endpoint.
// The endpoint is expected to answer 2xx with {"external_id": "..."}.
type HTTPExecutor struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTPExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &HTTPExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExecutor) Publish(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(e.cfg.URL) == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep the body snippet: it becomes the story's error_message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("executor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("executor response: %w", err)
	}
	return out.ExternalID, nil
}
