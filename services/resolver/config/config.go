// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the resolver service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "3s".
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders Go duration syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ResolverConfig is the top-level service configuration.
type ResolverConfig struct {
	// Server settings for the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Cache settings for the tiered answer cache.
	Cache CacheConfig `yaml:"cache"`

	// Similarity settings for the vector-search backend.
	Similarity SimilarityConfig `yaml:"similarity"`

	// WebSearch settings for the external search service.
	WebSearch WebSearchConfig `yaml:"web_search"`

	// Generation settings for the LLM backend.
	Generation GenerationConfig `yaml:"generation"`

	// Feedback settings for the human-feedback store.
	Feedback FeedbackConfig `yaml:"feedback"`

	// Phases overrides threshold and timeout tuning per phase. Phases not
	// listed keep their defaults; the chain order is fixed in code.
	Phases []PhaseConfig `yaml:"phases,omitempty"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`  // e.g. :8080
	MetricsAddr string `yaml:"metrics_addr"` // e.g. :9090, empty disables
}

type CacheConfig struct {
	Path       string `yaml:"path"`        // Badger directory, empty for in-memory
	MaxEntries int    `yaml:"max_entries"` // hot tier cap
}

type SimilarityConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"` // e.g. http://localhost:8081
}

type WebSearchConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ServiceURL        string   `yaml:"service_url"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	AllowedDomains    []string `yaml:"allowed_domains,omitempty"`
}

type GenerationConfig struct {
	// Type can be "openai" or any OpenAI-compatible endpoint via base_url.
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type FeedbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type PhaseConfig struct {
	Name          string   `yaml:"name"`
	Timeout       Duration `yaml:"timeout,omitempty"`
	MinConfidence float64  `yaml:"min_confidence"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() ResolverConfig {
	return ResolverConfig{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
		},
		Cache: CacheConfig{
			Path:       "./data/resolver-cache",
			MaxEntries: 10000,
		},
		Similarity: SimilarityConfig{
			Enabled: true,
			URL:     "http://localhost:8081",
		},
		WebSearch: WebSearchConfig{
			Enabled:           true,
			ServiceURL:        "http://localhost:8082",
			Timeout:           Duration(6 * time.Second),
			RequestsPerSecond: 2,
		},
		Generation: GenerationConfig{
			Type: "openai",
		},
		Feedback: FeedbackConfig{
			Enabled: false,
			URL:     "http://localhost:8083",
		},
	}
}

// Load reads the configuration at path, falling back to DefaultConfig when
// the file does not exist. Fields absent from the file keep their defaults.
func Load(path string) (ResolverConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the YAML schema cannot express.
func (c ResolverConfig) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	for _, p := range c.Phases {
		if p.Name == "" {
			return fmt.Errorf("phases entries must have a name")
		}
		if p.MinConfidence < 0 || p.MinConfidence > 1 {
			return fmt.Errorf("phase %q: min_confidence must be in [0,1]", p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("phase %q: timeout must not be negative", p.Name)
		}
	}
	return nil
}
