package promptkit

import (
	"promptkit/config"
	"promptkit/pkg/pricing"
)

// FromConfig builds a Client from loaded configuration.
func FromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	prices, err := LoadPrices(cfg)
	if err != nil {
		return nil, err
	}

	maxRetries := cfg.Client.MaxRetries
	return NewClient(Config{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Timeout:    cfg.Client.Timeout,
		MaxRetries: &maxRetries,
		Prices:     prices,
	}, opts...)
}

// LoadPrices returns the built-in table, with the configured price file
// merged over it when one is set.
func LoadPrices(cfg *config.Config) (*pricing.Table, error) {
	if cfg.Pricing.File == "" {
		return pricing.Default(), nil
	}
	override, err := pricing.LoadFile(cfg.Pricing.File)
	if err != nil {
		return nil, err
	}
	return pricing.Merge(pricing.Default(), override), nil
}
