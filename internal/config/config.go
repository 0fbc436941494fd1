// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults and Load(ctx) to layer
//   file and environment overrides on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory signal queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingestion workers.
	WorkerCount int `koanf:"worker_count"`

	// ShardCount configures the number of shards in the signal store.
	ShardCount int `koanf:"shard_count"`

	// StorePath points at the SQLite database file. Empty keeps
	// everything in memory.
	StorePath string `koanf:"store_path"`

	// AutoLinkThreshold and friends define the policy bands. A fused
	// confidence at or above AutoLink links silently, at or above
	// Flagged links with a review flag, at or above Suggest surfaces a
	// suggestion, and anything below is ignored.
	AutoLinkThreshold float64 `koanf:"auto_link_threshold"`
	FlaggedThreshold  float64 `koanf:"flagged_threshold"`
	SuggestThreshold  float64 `koanf:"suggest_threshold"`

	// HalfLifeDays maps signal kinds to decay half-lives in days.
	HalfLifeDays map[string]float64 `koanf:"half_life_days"`

	// DefaultHalfLifeDays is used for kinds absent from HalfLifeDays.
	DefaultHalfLifeDays float64 `koanf:"default_half_life_days"`

	// PropagationThreshold gates which fused confidences spill over to
	// related entities.
	PropagationThreshold float64 `koanf:"propagation_threshold"`

	// PropagationAttenuation scales the confidence of derived signals.
	PropagationAttenuation float64 `koanf:"propagation_attenuation"`

	// PropagationMaxFanout caps derived signals per budget window.
	PropagationMaxFanout int `koanf:"propagation_max_fanout"`

	// EdgeMultipliers adjusts propagation strength per edge type.
	EdgeMultipliers map[string]float64 `koanf:"edge_multipliers"`

	// EdgeFloors sets minimum origin confidence per edge type before
	// propagation over that edge is allowed.
	EdgeFloors map[string]float64 `koanf:"edge_floors"`

	// Materiality is the minimum share of a resolution's evidence a
	// signal must carry before a correction penalizes its source.
	Materiality float64 `koanf:"materiality"`

	// RefreshSchedule is the cron expression for the periodic
	// re-resolution sweep.
	RefreshSchedule string `koanf:"refresh_schedule"`

	// ReliabilitySweepSchedule is the cron expression for stale
	// reliability triple collection.
	ReliabilitySweepSchedule string `koanf:"reliability_sweep_schedule"`

	// ReliabilityMaxAgeDays drops reliability triples not updated
	// within this window.
	ReliabilityMaxAgeDays float64 `koanf:"reliability_max_age_days"`
}

// New creates a Config populated with defaults.
func New() *Config {
	c := &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		QueueSize:         100_000,
		WorkerCount:       runtime.NumCPU() * 4,
		ShardCount:        8,
		StorePath:         "",
		AutoLinkThreshold: 0.85,
		FlaggedThreshold:  0.60,
		SuggestThreshold:  0.30,
		HalfLifeDays: map[string]float64{
			"explicit-link":   365,
			"user-correction": 365,
			"attendee-vote":   90,
			"domain-match":    30,
			"keyword-match":   7,
		},
		DefaultHalfLifeDays:    30,
		PropagationThreshold:   0.65,
		PropagationAttenuation: 0.4,
		PropagationMaxFanout:   32,
		EdgeMultipliers: map[string]float64{
			"decision-authority":    1.2,
			"blocker":               1.2,
			"parent":                1.0,
			"member":                1.0,
			"collaborates":          0.8,
			"loosely-collaborates":  0.5,
		},
		EdgeFloors: map[string]float64{
			"loosely-collaborates": 0.8,
		},
		Materiality:              0.10,
		RefreshSchedule:          "0 6 * * *",
		ReliabilitySweepSchedule: "30 3 * * 0",
		ReliabilityMaxAgeDays:    180,
	}
	return c
}
