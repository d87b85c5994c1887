// Package ratelimit implements per-(peer, message-kind) token buckets.
// The bucket math — capacity = rpm * burst_multiplier, refill_rate = rpm/60
// — is carried over from original_source/src/security/rate_limiting.rs,
// reimplemented without a background cleanup task: buckets are refilled
// lazily on check, which is sufficient because the engine is single
// threaded per game and never needs a sweep across idle peers.
package ratelimit

import (
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

var log = slog.Disabled

// UseLogger assigns a logging backend for this package's diagnostics.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Config configures the bucket for one message kind.
type Config struct {
	// RequestsPerMinute is the steady-state refill target.
	RequestsPerMinute uint32
	// BurstMultiplier scales RequestsPerMinute into the bucket's capacity,
	// allowing short bursts above the steady-state rate.
	BurstMultiplier float64
}

// DefaultConfig returns the bucket configuration for each of the four
// signed message kinds, tuned for a small-roster dice game: commits and
// reveals are rarer and bulkier than votes.
func DefaultConfig() map[wire.Kind]Config {
	return map[wire.Kind]Config{
		wire.KindCommit:   {RequestsPerMinute: 20, BurstMultiplier: 1.5},
		wire.KindReveal:   {RequestsPerMinute: 20, BurstMultiplier: 1.5},
		wire.KindProposal: {RequestsPerMinute: 10, BurstMultiplier: 1.2},
		wire.KindVote:     {RequestsPerMinute: 30, BurstMultiplier: 1.5},
	}
}

// Result is the outcome of a rate-limit check, shaped after the original's
// RateLimitResult::{Allowed{remaining}, Blocked{retry_after, current_count}}.
type Result struct {
	Allowed      bool
	Remaining    uint32
	RetryAfter   time.Duration
	CurrentCount uint32
}

type bucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(cfg Config, now time.Time) *bucket {
	capacity := float64(cfg.RequestsPerMinute) * cfg.BurstMultiplier
	return &bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: float64(cfg.RequestsPerMinute) / 60.0,
		lastRefill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *bucket) checkAndConsume(now time.Time) Result {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return Result{Allowed: true, Remaining: uint32(b.tokens)}
	}
	needed := 1 - b.tokens
	retrySecs := needed / b.refillRate
	if retrySecs < 1 {
		retrySecs = 1
	}
	return Result{
		Allowed:      false,
		RetryAfter:   time.Duration(retrySecs * float64(time.Second)),
		CurrentCount: uint32(b.capacity - b.tokens),
	}
}

type key struct {
	peer party.ID
	kind wire.Kind
}

// Limiter tracks one token bucket per (peer, message-kind) pair.
type Limiter struct {
	mu      sync.Mutex
	configs map[wire.Kind]Config
	buckets map[key]*bucket
}

// New creates a Limiter from the given per-kind configuration.
func New(configs map[wire.Kind]Config) *Limiter {
	return &Limiter{
		configs: configs,
		buckets: make(map[key]*bucket),
	}
}

// Allow checks and consumes one token from the bucket for (peer, kind),
// creating the bucket on first use. An unknown kind is always allowed,
// since it has no configured limit to enforce.
func (l *Limiter) Allow(peer party.ID, kind wire.Kind, now time.Time) Result {
	cfg, ok := l.configs[kind]
	if !ok {
		return Result{Allowed: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{peer: peer, kind: kind}
	b, ok := l.buckets[k]
	if !ok {
		b = newBucket(cfg, now)
		l.buckets[k] = b
	}
	result := b.checkAndConsume(now)
	if !result.Allowed {
		log.Debugf("ratelimit: peer %s kind %s blocked, retry after %s", peer, kind, result.RetryAfter)
	}
	return result
}
