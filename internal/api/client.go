package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/studio-console/internal/config"
	"github.com/rickgao/studio-console/internal/version"
)

// Client provides access to the console backend HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for baseURL (e.g. http://localhost:8000).
// apiKey, when set, is sent as a Bearer token.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		userAgent:    version.UserAgent(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FromConfig creates a client for the backend described by cfg. Unset
// values keep the client defaults; opts are applied last.
func FromConfig(cfg config.APIConfig, opts ...ClientOption) *Client {
	base := make([]ClientOption, 0, 2+len(opts))
	if cfg.Timeout > 0 {
		base = append(base, WithTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries > 0 {
		base = append(base, WithRetries(cfg.MaxRetries, time.Second))
	}
	return NewClient(cfg.RestURL, cfg.APIKey, append(base, opts...)...)
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent identifies the calling tool, e.g. "taskctl/1.2.0". The
// console version is appended.
func WithUserAgent(product string) ClientOption {
	return func(c *Client) {
		if product != "" {
			c.userAgent = product + " " + version.UserAgent()
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}
