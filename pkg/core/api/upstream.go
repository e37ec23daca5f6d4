// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// UpstreamStatusError reports a non-2xx response from the upstream provider.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// UpstreamClient issues Chat Completions requests against a single upstream
// endpoint, passing through bearer authentication when configured.
type UpstreamClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewUpstreamClient creates a client for the given chat completions URL.
// The URL is the full endpoint (e.g. "http://localhost:11434/v1/chat/completions").
func NewUpstreamClient(url, apiKey string) *UpstreamClient {
	return &UpstreamClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// OpenStream sends a streaming request and returns the raw response body for
// the caller to frame and decode. The body is tied to ctx: cancelling the
// context aborts the upstream connection.
func (c *UpstreamClient) OpenStream(ctx context.Context, req *ChatCompletionRequest) (io.ReadCloser, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to upstream failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		resp.Body.Close()
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return resp.Body, nil
}

func (c *UpstreamClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
