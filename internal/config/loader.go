package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if SIBYL_CONFIG is set
//  3. env (prefix SIBYL_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("SIBYL_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: SIBYL_ADDR, SIBYL_QUEUE_SIZE, ...
	// Map env keys like SIBYL_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("SIBYL_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "sibyl_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("%w: shard_count must be positive", ErrInvalidConfig)
	}
	if !(c.SuggestThreshold < c.FlaggedThreshold && c.FlaggedThreshold < c.AutoLinkThreshold) {
		return fmt.Errorf("%w: policy thresholds must be strictly ordered", ErrInvalidConfig)
	}
	if c.AutoLinkThreshold > 1 || c.SuggestThreshold < 0 {
		return fmt.Errorf("%w: policy thresholds must stay within [0,1]", ErrInvalidConfig)
	}
	if c.PropagationThreshold < 0 || c.PropagationThreshold > 1 {
		return fmt.Errorf("%w: propagation_threshold must stay within [0,1]", ErrInvalidConfig)
	}
	if c.PropagationAttenuation <= 0 || c.PropagationAttenuation > 1 {
		return fmt.Errorf("%w: propagation_attenuation must be in (0,1]", ErrInvalidConfig)
	}
	if c.Materiality < 0 || c.Materiality > 1 {
		return fmt.Errorf("%w: materiality must stay within [0,1]", ErrInvalidConfig)
	}
	return nil
}
