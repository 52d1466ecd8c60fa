// Package config loads Plotnik's process configuration from environment
// variables with explicit defaults.
package config

import (
	"os"
	"strconv"
)

// Config holds the application's configuration.
type Config struct {
	// Fuel is the default execution fuel budget (PLOTNIK_FUEL).
	Fuel int
	// MaxDepth bounds query-parser recursion (PLOTNIK_MAX_DEPTH).
	MaxDepth int
	// MaxTokens bounds query-parser token consumption (PLOTNIK_MAX_TOKENS).
	MaxTokens int
	// CacheDSN, when set, enables the compiled-module cache
	// (PLOTNIK_CACHE). A --cache flag overrides it.
	CacheDSN string
	// Color is the default --color mode: auto, always, or never
	// (PLOTNIK_COLOR).
	Color string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := &Config{
		Fuel:      1 << 20,
		MaxDepth:  256,
		MaxTokens: 1_000_000,
		CacheDSN:  os.Getenv("PLOTNIK_CACHE"),
		Color:     os.Getenv("PLOTNIK_COLOR"),
	}

	if cfg.Color == "" {
		cfg.Color = "auto"
	}

	if fuelStr := os.Getenv("PLOTNIK_FUEL"); fuelStr != "" {
		if fuel, err := strconv.Atoi(fuelStr); err == nil && fuel > 0 {
			cfg.Fuel = fuel
		}
	}

	if depthStr := os.Getenv("PLOTNIK_MAX_DEPTH"); depthStr != "" {
		if depth, err := strconv.Atoi(depthStr); err == nil && depth > 0 {
			cfg.MaxDepth = depth
		}
	}

	if tokensStr := os.Getenv("PLOTNIK_MAX_TOKENS"); tokensStr != "" {
		if tokens, err := strconv.Atoi(tokensStr); err == nil && tokens > 0 {
			cfg.MaxTokens = tokens
		}
	}

	return cfg
}
