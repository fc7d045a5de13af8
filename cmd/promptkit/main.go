// promptkit CLI - run prompts and image generations with cost accounting
//
// Usage:
//
//	promptkit prompt --model gpt-4o --parser json "List three colors as JSON"
//	promptkit image --model dall-e-3 --size 1024x1024 "a lighthouse at dusk"
//	promptkit price completion --model gpt-4o --input 1000 --output 500
//	promptkit price image --model dall-e-3 --quality hd --size 1024x1792
//	promptkit price list
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v2"

	"promptkit/config"
	"promptkit/internal/logging"
	"promptkit/pkg/pricing"
	"promptkit/pkg/promptkit"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "promptkit",
		Usage:     "OpenAI prompts and images with exact cost accounting",
		Version:   fmt.Sprintf("%s (commit: %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file (default: ./config.yaml when present)",
				EnvVars: []string{"PROMPTKIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides config",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (auto, pretty, json); overrides config",
			},
		},

		Commands: []*cli.Command{
			promptCommand(),
			imageCommand(),
			priceCommand(),
		},
	}
}

// setup loads configuration and installs the default logger.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.New(c.App.ErrWriter, format, level))
	return cfg, nil
}

// newClient builds the API client. When metrics are enabled the collected
// series are written to stderr once the command returns.
func newClient(c *cli.Context, cfg *config.Config) (*promptkit.Client, func(), error) {
	opts := []promptkit.Option{promptkit.WithLogger(slog.Default())}
	flush := func() {}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, promptkit.WithMetrics(reg))
		flush = func() {
			if err := dumpMetrics(c.App.ErrWriter, reg); err != nil {
				slog.Warn("failed to write metrics", "error", err)
			}
		}
	}

	client, err := promptkit.FromConfig(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, flush, nil
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func promptText(c *cli.Context) (string, error) {
	if c.NArg() == 0 {
		return "", fmt.Errorf("a prompt argument is required")
	}
	text := strings.Join(c.Args().Slice(), " ")
	if text == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		text = string(data)
	}
	return text, nil
}

// =============================================================================
// PROMPT COMMAND
// =============================================================================

func promptCommand() *cli.Command {
	return &cli.Command{
		Name:      "prompt",
		Usage:     "Run a chat completion and print the result with usage",
		ArgsUsage: "<prompt text | ->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Value:   "gpt-4o-mini",
				Usage:   "Chat model",
			},
			&cli.StringFlag{
				Name:    "parser",
				Aliases: []string{"p"},
				Value:   string(promptkit.ParserText),
				Usage:   "Post-processing (text, json, csv)",
			},
			&cli.StringFlag{
				Name:  "system",
				Usage: "Optional system message",
			},
			&cli.Float64Flag{
				Name:  "temperature",
				Value: 0,
				Usage: "Sampling temperature",
			},
			&cli.IntFlag{
				Name:  "max-tokens",
				Usage: "Completion token limit (0 = model default)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-call timeout (default from config)",
			},
		},
		Action: runPrompt,
	}
}

func runPrompt(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	text, err := promptText(c)
	if err != nil {
		return err
	}

	client, flush, err := newClient(c, cfg)
	if err != nil {
		return err
	}
	defer flush()

	var prompt promptkit.Prompt = promptkit.Text(text)
	if system := c.String("system"); system != "" {
		prompt = promptkit.Messages{
			{Role: promptkit.RoleSystem, Content: system},
			{Role: promptkit.RoleUser, Content: text},
		}
	}

	result, err := client.RunPrompt(c.Context, prompt, promptkit.CompletionConfig{
		Model:          c.String("model"),
		Temperature:    c.Float64("temperature"),
		MaxTokens:      c.Int("max-tokens"),
		Parser:         promptkit.Parser(c.String("parser")),
		RequestOptions: promptkit.RequestOptions{Timeout: c.Duration("timeout")},
	})
	if err != nil {
		return err
	}

	return writeJSON(c.App.Writer, map[string]any{
		"result":     outputOf(result),
		"model":      result.Model,
		"request_id": result.RequestID,
		"usage": map[string]any{
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
			"total_tokens":  result.Usage.TotalTokens,
			"cost":          result.Usage.Cost,
			"delay_ms":      result.Usage.Delay.Milliseconds(),
		},
	})
}

func outputOf(r *promptkit.CompletionResult) any {
	switch r.Parser {
	case promptkit.ParserJSON:
		return r.JSON
	case promptkit.ParserCSV:
		return r.Records
	}
	return r.Text
}

// =============================================================================
// IMAGE COMMAND
// =============================================================================

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:      "image",
		Usage:     "Generate one image and print its URL or data with usage",
		ArgsUsage: "<prompt text | ->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Value:   "dall-e-3",
				Usage:   "Image model",
			},
			&cli.StringFlag{
				Name:  "size",
				Value: promptkit.DefaultImageSize,
				Usage: "Image size, e.g. 1024x1024",
			},
			&cli.StringFlag{
				Name:  "quality",
				Usage: "standard or hd (dall-e-3 only)",
			},
			&cli.StringFlag{
				Name:  "style",
				Usage: "vivid or natural (dall-e-3 only)",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: promptkit.DefaultImageResponseFormat,
				Usage: "Response format (url, b64_json)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-call timeout (default from config)",
			},
		},
		Action: runImage,
	}
}

func runImage(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	text, err := promptText(c)
	if err != nil {
		return err
	}

	client, flush, err := newClient(c, cfg)
	if err != nil {
		return err
	}
	defer flush()

	result, err := client.GenerateImage(c.Context, text, promptkit.ImageConfig{
		Model:          c.String("model"),
		Size:           c.String("size"),
		Quality:        c.String("quality"),
		Style:          c.String("style"),
		ResponseFormat: c.String("format"),
		RequestOptions: promptkit.RequestOptions{Timeout: c.Duration("timeout")},
	})
	if err != nil {
		return err
	}

	return writeJSON(c.App.Writer, map[string]any{
		"result":     result,
		"request_id": result.RequestID,
		"usage": map[string]any{
			"cost":     result.Usage.Cost,
			"delay_ms": result.Usage.Delay.Milliseconds(),
		},
	})
}

// =============================================================================
// PRICE COMMAND
// =============================================================================

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "Inspect the price table without calling the API",
		Subcommands: []*cli.Command{
			{
				Name:  "completion",
				Usage: "Cost of a completion for the given token counts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Required: true, Usage: "Chat model"},
					&cli.IntFlag{Name: "input", Usage: "Input (prompt) tokens"},
					&cli.IntFlag{Name: "output", Usage: "Output (completion) tokens"},
				},
				Action: func(c *cli.Context) error {
					prices, err := loadPrices(c)
					if err != nil {
						return err
					}
					cost, err := prices.CompletionCost(c.String("model"), c.Int("input"), c.Int("output"))
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, map[string]any{
						"model":         c.String("model"),
						"input_tokens":  c.Int("input"),
						"output_tokens": c.Int("output"),
						"cost":          cost,
					})
				},
			},
			{
				Name:  "image",
				Usage: "Cost of one image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Required: true, Usage: "Image model"},
					&cli.StringFlag{Name: "size", Value: promptkit.DefaultImageSize, Usage: "Image size"},
					&cli.StringFlag{Name: "quality", Usage: "Quality tier, when the model has one"},
				},
				Action: func(c *cli.Context) error {
					prices, err := loadPrices(c)
					if err != nil {
						return err
					}
					cost, err := prices.ImageCost(c.String("model"), c.String("size"), c.String("quality"))
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, map[string]any{
						"key":  pricing.ImageKey(c.String("model"), c.String("quality"), c.String("size")),
						"cost": cost,
					})
				},
			},
			{
				Name:  "list",
				Usage: "List priced completion models and image keys",
				Action: func(c *cli.Context) error {
					prices, err := loadPrices(c)
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, map[string]any{
						"completion": prices.Models(),
						"images":     prices.ImageKeys(),
					})
				},
			},
		},
	}
}

func loadPrices(c *cli.Context) (*pricing.Table, error) {
	cfg, err := setup(c)
	if err != nil {
		return nil, err
	}
	return promptkit.LoadPrices(cfg)
}
