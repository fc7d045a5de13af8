package promptkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"promptkit/internal/core"
	"promptkit/pkg/extract"
	"promptkit/pkg/precision"
	"promptkit/pkg/pricing"
)

// Parser selects how completion text is post-processed.
type Parser string

const (
	ParserText Parser = "text"
	ParserJSON Parser = "json"
	ParserCSV  Parser = "csv"
)

// CompletionConfig configures one RunPrompt call.
type CompletionConfig struct {
	Model string

	// Temperature defaults to 0
	Temperature float64

	// MaxTokens is omitted from the request when zero
	MaxTokens int

	// Parser defaults to ParserText. ParserJSON also asks the model for a
	// JSON object response.
	Parser Parser

	User string

	RequestOptions
}

// CompletionUsage reports tokens, cost and latency of one call.
type CompletionUsage struct {
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	TotalTokens  int               `json:"total_tokens"`
	Cost         precision.Decimal `json:"cost"`
	Delay        time.Duration     `json:"-"`
}

// CompletionResult holds the processed completion. Exactly one of Text,
// JSON or Records is populated, according to the parser.
type CompletionResult struct {
	Text    string           `json:"text,omitempty"`
	JSON    map[string]any   `json:"json,omitempty"`
	Records []map[string]any `json:"records,omitempty"`

	// Raw is the trimmed content of the first choice
	Raw       string          `json:"raw"`
	Parser    Parser          `json:"parser"`
	Model     string          `json:"model"`
	RequestID string          `json:"request_id"`
	Usage     CompletionUsage `json:"usage"`
}

// Decode converts the JSON result into v, which should be a pointer to a
// struct or map.
func (r *CompletionResult) Decode(v any) error {
	data, err := json.Marshal(r.JSON)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// RunPrompt sends prompt to the chat completions endpoint and returns the
// post-processed result with usage and cost. The model must have a
// completion price; the call fails before contacting the API otherwise.
func (c *Client) RunPrompt(ctx context.Context, prompt Prompt, cfg CompletionConfig) (*CompletionResult, error) {
	if prompt == nil {
		return nil, core.NewInvalidRequestError("prompt is required", nil)
	}
	if cfg.Model == "" {
		return nil, core.NewInvalidRequestError("model is required", nil)
	}
	parser := cfg.Parser
	if parser == "" {
		parser = ParserText
	}
	if parser != ParserText && parser != ParserJSON && parser != ParserCSV {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParser, cfg.Parser)
	}
	if _, err := c.prices.CompletionPrice(cfg.Model); err != nil {
		return nil, err
	}

	ctx, cancel, requestID := c.withDeadline(ctx, cfg.RequestOptions)
	defer cancel()

	temperature := cfg.Temperature
	req := &core.ChatRequest{
		Model:       cfg.Model,
		Messages:    prompt.messages(),
		Temperature: &temperature,
		User:        cfg.User,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		req.MaxTokens = &maxTokens
	}
	if parser == ParserJSON {
		req.ResponseFormat = &core.ResponseFormat{Type: core.ResponseFormatJSONObject}
	}

	start := time.Now()
	resp, err := c.provider.ChatCompletion(ctx, req)
	delay := time.Since(start)
	if err != nil {
		return nil, err
	}

	usage := CompletionUsage{Delay: delay}
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	usage.Cost, err = c.prices.CompletionCost(cfg.Model, usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Raw:       strings.TrimSpace(resp.FirstContent()),
		Parser:    parser,
		Model:     cfg.Model,
		RequestID: requestID,
		Usage:     usage,
	}
	if err := c.process(ctx, result); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordTokens(cfg.Model, usage.InputTokens, usage.OutputTokens)
		c.metrics.RecordCost(cfg.Model, pricing.KindCompletion, usage.Cost.Float64())
	}
	c.logger.DebugContext(ctx, "prompt completed",
		"request_id", requestID,
		"model", cfg.Model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost", usage.Cost.String(),
		"delay", delay,
	)
	return result, nil
}

func (c *Client) process(ctx context.Context, result *CompletionResult) error {
	switch result.Parser {
	case ParserJSON:
		result.JSON = extract.FirstJSONObject(result.Raw)
		if len(result.JSON) == 0 {
			c.logger.WarnContext(ctx, "invalid JSON response from OpenAI",
				"request_id", result.RequestID,
				"raw", result.Raw,
			)
		}
	case ParserCSV:
		records, err := extract.CSVRecords(result.Raw)
		if err != nil {
			return err
		}
		result.Records = records
	default:
		result.Text = result.Raw
	}
	return nil
}
