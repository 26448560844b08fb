// Package finam implements the trading-backend adapter over plain net/http.
package finam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/aeshef/finam-ai-chat/internal/usecase"
)

// Client implements usecase.TradingAdapter against the Finam TradeAPI. Auth
// is a bearer-style Authorization header; the token and base URL come from
// configuration and the connection lifecycle is the http.Client's.
type Client struct {
	baseURL     string
	accessToken string
	hc          *http.Client
	logger      *slog.Logger
}

// New creates a Client. A nil httpClient falls back to http.DefaultClient.
func New(baseURL, accessToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		hc:          httpClient,
		logger:      logger.With("component", "finam_client"),
	}
}

// Execute issues one request. Non-2xx statuses and network failures come
// back as *usecase.AdapterError with the Transient flag set for timeouts,
// 429 and 5xx so the router knows what to retry.
func (c *Client) Execute(ctx context.Context, method, path string) (*usecase.AdapterResponse, error) {
	log := c.logger.With(slog.String("method", method), slog.String("path", path))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, &usecase.AdapterError{Err: fmt.Errorf("build request: %w", err)}
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", c.accessToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Warn("Request failed", slog.Any("error", err))
		return nil, &usecase.AdapterError{Transient: isNetworkTransient(err), Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &usecase.AdapterError{StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Non-success status", slog.Int("status", resp.StatusCode))
		return nil, &usecase.AdapterError{
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var body any
	if len(bodyBytes) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			log.Warn("Response is not valid JSON, returning raw body", slog.Any("error", err))
			body = string(bodyBytes)
		}
	} else if len(bodyBytes) > 0 {
		body = string(bodyBytes)
	}

	log.Debug("Request succeeded", slog.Int("status", resp.StatusCode))
	return &usecase.AdapterResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// isNetworkTransient classifies connection-level failures worth retrying.
func isNetworkTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}
