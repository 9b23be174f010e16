package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientOption configures Client.
type ClientOption func(*Client)

// Client calls a service that answers with the APIResponse envelope and unwraps it.
type Client struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	client  *http.Client
}

// NewClient creates a client rooted at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 30 * time.Second,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	return c
}

// WithTimeout sets client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient replaces the underlying client; the timeout option is ignored.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// Get decodes the envelope data of GET path into dest.
func (c *Client) Get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, dest)
}

// Post sends body as JSON and decodes the envelope data into dest.
func (c *Client) Post(ctx context.Context, path string, body, dest interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, dest)
}

// Do sends one request. A non-2xx answer is returned as *AppError carrying the
// server's status and error code; dest may be nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, dest interface{}) error {
	req, err := c.buildRequest(ctx, method, path, query, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var env struct {
		Status  int             `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 300 {
				return NewAppError(CodeHTTP, "", strings.TrimSpace(string(raw)), resp.StatusCode)
			}
			return fmt.Errorf("decode envelope: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAppError(resp.StatusCode, env.Message, env.Data)
	}
	if dest == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func decodeAppError(status int, message string, data json.RawMessage) *AppError {
	var errs []*AppError
	if err := json.Unmarshal(data, &errs); err == nil && len(errs) > 0 && errs[0] != nil && errs[0].Code != "" {
		errs[0].Status = status
		return errs[0]
	}
	if message == "" {
		message = http.StatusText(status)
	}
	appErr := NewAppError(CodeHTTP, "", message, status)
	if len(data) > 0 {
		appErr.WithParam("detail", json.RawMessage(data))
	}
	return appErr
}

func (c *Client) buildRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
