// Package config holds the single configuration struct the engine,
// treasury, reputation, and rate limiter are constructed from (spec
// section 6's enumerated configuration), built with a functional-options
// constructor in the style of the teacher's cmd/threshold-cli flag wiring.
package config

import (
	"fmt"
	"time"

	"github.com/rawblock/diceconsensus/pkg/arith"
	"github.com/rawblock/diceconsensus/pkg/ratelimit"
	"github.com/rawblock/diceconsensus/pkg/reputation"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

// PhaseDurations sets how long each phase is open before its deadline.
type PhaseDurations struct {
	Commit  time.Duration
	Reveal  time.Duration
	Propose time.Duration
	Vote    time.Duration
}

// DefaultPhaseDurations matches spec section 4.5's example: 10/10/5/5s.
func DefaultPhaseDurations() PhaseDurations {
	return PhaseDurations{
		Commit:  10 * time.Second,
		Reveal:  10 * time.Second,
		Propose: 5 * time.Second,
		Vote:    5 * time.Second,
	}
}

// RosterBounds constrains how many peers a game's roster may contain.
type RosterBounds struct {
	Min int
	Max int
}

// TreasuryCaps bounds per-game and per-peer exposure.
type TreasuryCaps struct {
	MaxPayoutPerGame arith.Amount
	PerPeerDailyCap  arith.Amount
}

// Config is the full, validated configuration for one engine instance.
type Config struct {
	PhaseDurations     PhaseDurations
	TimestampTolerance time.Duration
	Roster             RosterBounds
	Reputation         reputation.Config
	RateLimits         map[wire.Kind]ratelimit.Config
	Treasury           TreasuryCaps
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithPhaseDurations overrides the default phase durations.
func WithPhaseDurations(d PhaseDurations) Option {
	return func(c *Config) { c.PhaseDurations = d }
}

// WithRosterBounds overrides the default roster size bounds.
func WithRosterBounds(b RosterBounds) Option {
	return func(c *Config) { c.Roster = b }
}

// WithReputationConfig overrides the default reputation thresholds.
func WithReputationConfig(r reputation.Config) Option {
	return func(c *Config) { c.Reputation = r }
}

// WithRateLimits overrides the default per-kind rate limits.
func WithRateLimits(limits map[wire.Kind]ratelimit.Config) Option {
	return func(c *Config) { c.RateLimits = limits }
}

// WithTreasuryCaps overrides the default treasury caps.
func WithTreasuryCaps(caps TreasuryCaps) Option {
	return func(c *Config) { c.Treasury = caps }
}

// WithTimestampTolerance overrides the default clock-drift tolerance.
func WithTimestampTolerance(d time.Duration) Option {
	return func(c *Config) { c.TimestampTolerance = d }
}

// New builds a Config from spec-matching defaults, applying opts in order.
func New(opts ...Option) (Config, error) {
	cfg := Config{
		PhaseDurations:     DefaultPhaseDurations(),
		TimestampTolerance: time.Hour,
		Roster:             RosterBounds{Min: 1, Max: 100},
		Reputation:         reputation.DefaultConfig(),
		RateLimits:         ratelimit.DefaultConfig(),
		Treasury: TreasuryCaps{
			MaxPayoutPerGame: arith.FromUint64(1_000_000),
			PerPeerDailyCap:  arith.FromUint64(10_000_000),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether cfg is internally consistent.
func (c Config) Validate() error {
	if c.Roster.Min < 1 {
		return fmt.Errorf("config: roster min must be at least 1")
	}
	if c.Roster.Max < c.Roster.Min {
		return fmt.Errorf("config: roster max %d below min %d", c.Roster.Max, c.Roster.Min)
	}
	if c.PhaseDurations.Commit <= 0 || c.PhaseDurations.Reveal <= 0 ||
		c.PhaseDurations.Propose <= 0 || c.PhaseDurations.Vote <= 0 {
		return fmt.Errorf("config: all phase durations must be positive")
	}
	if c.TimestampTolerance <= 0 {
		return fmt.Errorf("config: timestamp tolerance must be positive")
	}
	return nil
}
