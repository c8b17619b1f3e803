// Package client talks HTTP to the remote app generation service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"appgen/internal/util"
)

// DefaultBaseURL is used when no API URL is configured.
const DefaultBaseURL = "http://localhost:8000"

const (
	endpointStream  = "/get_app/stream"
	endpointArchive = "/get_app"
	endpointPreview = "/preview/"

	// maxErrorBody bounds how much of a failed response is kept in errors.
	maxErrorBody = 1 << 10
)

// Sentinel errors for client operations
var (
	// ErrNotRunning is returned when nothing accepts connections at the base URL
	ErrNotRunning = errors.New("generation service not running")
	// ErrConnectionTimeout is returned when the connection times out
	ErrConnectionTimeout = errors.New("generation service connection timeout")
	// ErrConnectionFailed is returned when connection fails for other reasons
	ErrConnectionFailed = errors.New("generation service connection failed")
	// ErrRequestFailed is returned when the service answers with a non-2xx status
	ErrRequestFailed = errors.New("generation service request failed")
	// ErrPreviewNotFound is returned when stopping a preview the service does not know
	ErrPreviewNotFound = errors.New("preview not found")
)

// Unreachable reports whether err means the service could not be reached at all.
func Unreachable(err error) bool {
	return errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionFailed)
}

// Client provides methods to communicate with the generation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the service at baseURL. The default HTTP client
// has no overall timeout: streams run as long as their context allows.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// OpenStream starts a streaming generation job for prompt and returns the
// response body. The caller must close it.
func (c *Client) OpenStream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	resp, err := c.postPrompt(ctx, endpointStream, prompt, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchArchive runs a generation job without progress and returns the zip
// archive bytes.
func (c *Client) FetchArchive(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.postPrompt(ctx, endpointArchive, prompt, "application/zip")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", c.classifyError(err))
	}
	return data, nil
}

// StopPreview asks the service to shut down the preview identified by token.
//
// Returns ErrPreviewNotFound if the service does not know the token.
func (c *Client) StopPreview(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("preview token cannot be empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+endpointPreview+url.PathEscape(token), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrPreviewNotFound, token)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping checks that something answers HTTP at the base URL. Any response,
// whatever its status, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := c.classifyError(err)
		if errors.Is(classified, ErrNotRunning) {
			return fmt.Errorf("%w at %s", ErrNotRunning, c.baseURL)
		}
		return classified
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// PreviewURL resolves a preview path reported by the service.
func (c *Client) PreviewURL(path string) string {
	return util.JoinURL(c.baseURL, path)
}

func (c *Client) postPrompt(ctx context.Context, endpoint, prompt, accept string) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("%w: unexpected status %d", ErrRequestFailed, resp.StatusCode)
	}
	return fmt.Errorf("%w: unexpected status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
}

// classifyError maps transport errors onto the package's sentinel errors.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectionTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrNotRunning
	}

	// DNS errors, TLS errors, resets mid-body, etc.
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}
