package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorMessage  = 512
)

// Connector is a JSON client bound to a single base URL.
type Connector struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type ConnectorConfig struct {
	BaseURL string
	Logger  *zap.Logger
}

func NewConnector(config *ConnectorConfig, options ...HttpOpts) *Connector {
	return &Connector{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: NewClient(options...),
		logger:     config.Logger,
	}
}

type RequestOpt func(*requestConfig)

type requestConfig struct {
	headers http.Header
	query   map[string]string
}

func WithHeader(key, value string) RequestOpt {
	return func(c *requestConfig) {
		c.headers.Set(key, value)
	}
}

func WithQuery(key, value string) RequestOpt {
	return func(c *requestConfig) {
		c.query[key] = value
	}
}

// DoRequest sends reqBody as JSON and decodes a 2xx answer into respBody.
// Either body may be nil. Non-2xx answers come back as *HTTPError, transport
// failures as *NetworkError.
func (c *Connector) DoRequest(ctx context.Context, method, endpoint string, reqBody, respBody any, opts ...RequestOpt) error {
	req, err := c.newRequest(ctx, method, endpoint, reqBody, opts)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(data)), maxErrorMessage),
		}
	}

	if respBody == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Connector) newRequest(ctx context.Context, method, endpoint string, body any, opts []RequestOpt) (*http.Request, error) {
	cfg := &requestConfig{headers: http.Header{}, query: map[string]string{}}
	for _, opt := range opts {
		opt(cfg)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		ctx = context.WithValue(ctx, payloadContextKey{}, payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range cfg.headers {
		req.Header[k] = v
	}
	if len(cfg.query) > 0 {
		q := req.URL.Query()
		for k, v := range cfg.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	return req, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// HTTPError is a non-2xx answer.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when repeated.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NetworkError is a failure below HTTP: dial, TLS, timeout or a broken body.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err is a network failure or a retryable
// status, as opposed to a request the service rejected.
func IsTemporary(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return !errors.Is(err, context.Canceled)
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Temporary()
}
