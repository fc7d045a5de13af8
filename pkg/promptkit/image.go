package promptkit

import (
	"context"
	"time"

	"promptkit/internal/core"
	"promptkit/pkg/precision"
	"promptkit/pkg/pricing"
)

// Image defaults
const (
	DefaultImageSize           = "1024x1024"
	DefaultImageResponseFormat = core.ImageFormatURL
	DefaultDallE3Quality       = "standard"
	DefaultDallE3Style         = "vivid"
)

// modelDallE3 is the only image model that accepts quality and style.
const modelDallE3 = "dall-e-3"

// ImageConfig configures one GenerateImage call.
type ImageConfig struct {
	Model string

	// Size defaults to DefaultImageSize
	Size string

	// ResponseFormat is "url" (default) or "b64_json"
	ResponseFormat string

	// Quality and Style apply to dall-e-3 only and are ignored otherwise
	Quality string
	Style   string

	User string

	RequestOptions
}

// ImageUsage reports the cost and latency of one image.
type ImageUsage struct {
	Cost  precision.Decimal `json:"cost"`
	Delay time.Duration     `json:"-"`
}

// ImageResult is the single generated image.
type ImageResult struct {
	URL           string     `json:"url,omitempty"`
	B64JSON       string     `json:"b64_json,omitempty"`
	RevisedPrompt string     `json:"revised_prompt,omitempty"`
	Model         string     `json:"model"`
	Size          string     `json:"size"`
	Quality       string     `json:"quality,omitempty"`
	RequestID     string     `json:"request_id"`
	Usage         ImageUsage `json:"usage"`
}

// GenerateImage requests one image for prompt. The model/quality/size
// combination must have an image price; the call fails before contacting
// the API otherwise.
func (c *Client) GenerateImage(ctx context.Context, prompt string, cfg ImageConfig) (*ImageResult, error) {
	if cfg.Model == "" {
		return nil, core.NewInvalidRequestError("model is required", nil)
	}

	req := &core.ImageRequest{
		Model:          cfg.Model,
		Prompt:         prompt,
		N:              1,
		Size:           cfg.Size,
		ResponseFormat: cfg.ResponseFormat,
		User:           cfg.User,
	}
	if req.Size == "" {
		req.Size = DefaultImageSize
	}
	if req.ResponseFormat == "" {
		req.ResponseFormat = DefaultImageResponseFormat
	}
	if cfg.Model == modelDallE3 {
		req.Quality = cfg.Quality
		if req.Quality == "" {
			req.Quality = DefaultDallE3Quality
		}
		req.Style = cfg.Style
		if req.Style == "" {
			req.Style = DefaultDallE3Style
		}
	}

	cost, err := c.prices.ImageCost(req.Model, req.Size, req.Quality)
	if err != nil {
		return nil, err
	}

	ctx, cancel, requestID := c.withDeadline(ctx, cfg.RequestOptions)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.GenerateImage(ctx, req)
	delay := time.Since(start)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoImage
	}

	image := resp.Data[0]
	if c.metrics != nil {
		c.metrics.RecordCost(req.Model, pricing.KindImage, cost.Float64())
	}
	c.logger.DebugContext(ctx, "image generated",
		"request_id", requestID,
		"model", req.Model,
		"size", req.Size,
		"quality", req.Quality,
		"cost", cost.String(),
		"delay", delay,
	)

	return &ImageResult{
		URL:           image.URL,
		B64JSON:       image.B64JSON,
		RevisedPrompt: image.RevisedPrompt,
		Model:         req.Model,
		Size:          req.Size,
		Quality:       req.Quality,
		RequestID:     requestID,
		Usage:         ImageUsage{Cost: cost, Delay: delay},
	}, nil
}
