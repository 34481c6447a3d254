// Package social talks to the upstream social-media aggregator: a thin HTTP
// client with error classification, wrapped per platform in circuit breaker
// and retry.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/social-inbox/internal/adapter/observability"
	"github.com/fairyhunter13/social-inbox/internal/domain"
)

// DefaultRequestTimeout is the hard per-request deadline.
const DefaultRequestTimeout = 30 * time.Second

// Client issues single requests to the aggregator. Every request carries a
// bearer credential and a fresh correlation id, and every failure is
// classified into exactly one of the domain's upstream error kinds.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	timeout time.Duration
}

// NewClient constructs a Client. timeout <= 0 falls back to the 30s default.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Do issues one request and returns the response body. op names the logical
// operation for logs and metrics. body, when non-nil, is JSON-encoded.
func (c *Client) Do(ctx domain.Context, method, path, op string, query url.Values, body any) ([]byte, error) {
	correlationID := uuid.New().String()
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("op=social.do: encode body: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("op=social.do: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Correlation-Id", correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("aggregator request start",
		slog.String("operation", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.String("correlation_id", correlationID))

	start := time.Now()
	resp, err := c.httpc.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		// No response received: transport failure or deadline exceeded.
		observability.ObserveUpstreamRequest(op, "network_error", elapsed)
		slog.Warn("aggregator request failed",
			slog.String("operation", op),
			slog.String("correlation_id", correlationID),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return nil, fmt.Errorf("op=social.do: %s %s: %w: %v", method, path, domain.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, readErr := io.ReadAll(resp.Body)

	slog.Info("aggregator request done",
		slog.String("operation", op),
		slog.String("correlation_id", correlationID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", elapsed))

	switch {
	case resp.StatusCode >= 500:
		observability.ObserveUpstreamRequest(op, "server_error", elapsed)
		return nil, fmt.Errorf("op=social.do: %s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrServer)
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.ObserveUpstreamRequest(op, "throttled", elapsed)
		return nil, fmt.Errorf("op=social.do: %s %s: status 429: %w", method, path, domain.ErrThrottled)
	case resp.StatusCode >= 400:
		observability.ObserveUpstreamRequest(op, "client_error", elapsed)
		return nil, fmt.Errorf("op=social.do: %s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrClient)
	}
	if readErr != nil {
		observability.ObserveUpstreamRequest(op, "network_error", elapsed)
		return nil, fmt.Errorf("op=social.do: %s %s: read body: %w: %v", method, path, domain.ErrNetwork, readErr)
	}
	observability.ObserveUpstreamRequest(op, "ok", elapsed)
	return payload, nil
}

// decode parses a response body, classifying parse failures as DECODE
// (terminal).
func decode(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("op=social.decode: %w: %v", domain.ErrDecode, err)
	}
	return nil
}
