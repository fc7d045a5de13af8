// Package promptkit is a thin OpenAI client that adds cost accounting,
// per-call timeouts and post-processing of completion text.
package promptkit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"promptkit/internal/core"
	"promptkit/internal/llmclient"
	"promptkit/internal/observability"
	"promptkit/internal/providers/openai"
	"promptkit/pkg/pricing"
)

// DefaultTimeout bounds a call when neither the request nor the client sets one.
const DefaultTimeout = 50 * time.Second

var (
	// ErrMissingAPIKey is returned by NewClient when no key is configured
	// and OPENAI_API_KEY is unset.
	ErrMissingAPIKey = errors.New("OpenAI API key is required")

	// ErrNoImage is returned when the image endpoint answers without data.
	ErrNoImage = errors.New("no image generated")

	// ErrUnknownParser is returned for a Parser value other than text, json or csv.
	ErrUnknownParser = errors.New("unknown parser")
)

// Config holds client-wide settings. Zero values select defaults.
type Config struct {
	// APIKey falls back to the OPENAI_API_KEY environment variable
	APIKey  string
	BaseURL string

	// Timeout is the default per-call deadline (DefaultTimeout when zero)
	Timeout time.Duration

	// MaxRetries overrides the upstream client's retry count when non-nil
	MaxRetries *int

	// Prices defaults to pricing.Default()
	Prices *pricing.Table
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	registerer prometheus.Registerer
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics registers Prometheus collectors on reg and records every
// upstream attempt, token usage and computed cost.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Client runs prompts and image generations. It is safe for concurrent use.
type Client struct {
	provider core.Provider
	prices   *pricing.Table
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		prices:  cfg.Prices,
		timeout: cfg.Timeout,
		logger:  o.logger,
	}
	if c.prices == nil {
		c.prices = pricing.Default()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}

	hooks := []llmclient.Hooks{c.logHooks()}
	if o.registerer != nil {
		m, err := observability.NewMetrics(o.registerer)
		if err != nil {
			return nil, err
		}
		c.metrics = m
		hooks = append(hooks, m.Hooks())
	}

	c.provider = openai.New(apiKey, openai.Options{
		BaseURL:    cfg.BaseURL,
		HTTPClient: o.httpClient,
		Hooks:      llmclient.ChainHooks(hooks...),
		MaxRetries: cfg.MaxRetries,
	})
	return c, nil
}

// Prices returns the table used for cost calculation.
func (c *Client) Prices() *pricing.Table {
	return c.prices
}

// RequestOptions are per-call transport settings.
type RequestOptions struct {
	// Timeout overrides the client default for this call
	Timeout time.Duration
}

// withDeadline applies the per-call timeout and attaches a request ID.
func (c *Client) withDeadline(ctx context.Context, ro RequestOptions) (context.Context, context.CancelFunc, string) {
	timeout := ro.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, requestID := core.EnsureRequestID(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, requestID
}

func (c *Client) logHooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(ctx context.Context, info llmclient.ResponseInfo) {
			attrs := []any{
				"request_id", core.GetRequestID(ctx),
				"endpoint", info.Endpoint,
				"model", info.Model,
				"attempt", info.Attempt,
				"status", info.StatusCode,
				"duration", info.Duration,
			}
			if info.Err != nil {
				attrs = append(attrs, "error", info.Err)
			}
			c.logger.DebugContext(ctx, "upstream request", attrs...)
		},
	}
}
