// Package openai provides the OpenAI API integration used by promptkit.
package openai

import (
	"context"
	"net/http"
	"strings"

	"promptkit/internal/core"
	"promptkit/internal/llmclient"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

// Options configures a Provider. Zero values select the defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Hooks      llmclient.Hooks

	// MaxRetries overrides llmclient's default when non-nil
	MaxRetries *int

	// CircuitBreaker overrides llmclient's default when non-nil
	CircuitBreaker *llmclient.CircuitBreakerConfig
}

// Provider implements core.Provider for OpenAI
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new OpenAI provider.
func New(apiKey string, opts Options) *Provider {
	p := &Provider{apiKey: apiKey}

	baseURL := defaultBaseURL
	if opts.BaseURL != "" {
		baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg := llmclient.DefaultConfig(providerName, baseURL)
	cfg.Hooks = opts.Hooks
	if opts.MaxRetries != nil {
		cfg.MaxRetries = *opts.MaxRetries
	}
	if opts.CircuitBreaker != nil {
		cfg.CircuitBreaker = opts.CircuitBreaker
	}

	if opts.HTTPClient != nil {
		p.client = llmclient.NewWithHTTPClient(opts.HTTPClient, cfg, p.setHeaders)
	} else {
		p.client = llmclient.New(cfg, p.setHeaders)
	}
	return p
}

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client.
// If httpClient is nil, the shared default client is used.
func NewWithHTTPClient(apiKey string, httpClient *http.Client, hooks llmclient.Hooks) *Provider {
	return New(apiKey, Options{HTTPClient: httpClient, Hooks: hooks})
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(strings.TrimRight(url, "/"))
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	// OpenAI rejects X-Client-Request-Id values that are not ASCII or exceed 512 bytes.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

// isValidClientRequestID checks if the request ID is valid for OpenAI's X-Client-Request-Id header.
func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// isOSeriesModel reports whether the model is an o-series reasoning model
// (o1, o3, o4...). These require max_completion_tokens instead of max_tokens
// and reject the temperature parameter.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// oSeriesChatRequest is the JSON body sent for o-series models.
type oSeriesChatRequest struct {
	Model               string               `json:"model"`
	Messages            []core.Message       `json:"messages"`
	MaxCompletionTokens *int                 `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *core.ResponseFormat `json:"response_format,omitempty"`
	User                string               `json:"user,omitempty"`
}

// chatRequestBody returns the request body for the model. Temperature is
// dropped and max_tokens renamed for o-series models.
func chatRequestBody(req *core.ChatRequest) any {
	if !isOSeriesModel(req.Model) {
		return req
	}
	return &oSeriesChatRequest{
		Model:               req.Model,
		Messages:            req.Messages,
		MaxCompletionTokens: req.MaxTokens,
		ResponseFormat:      req.ResponseFormat,
		User:                req.User,
	}
}

// ChatCompletion sends a chat completion request to OpenAI
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var resp core.ChatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     chatRequestBody(req),
		Model:    req.Model,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = providerName
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// GenerateImage sends an image generation request to OpenAI
func (p *Provider) GenerateImage(ctx context.Context, req *core.ImageRequest) (*core.ImageResponse, error) {
	var resp core.ImageResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/images/generations",
		Body:     req,
		Model:    req.Model,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = providerName
	return &resp, nil
}

// CircuitState exposes the underlying circuit breaker state
func (p *Provider) CircuitState() string {
	return p.client.CircuitState()
}

var _ core.Provider = (*Provider)(nil)
