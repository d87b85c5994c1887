package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

func peer(b byte) party.ID {
	var id party.ID
	id[0] = b
	return id
}

func TestAllowConsumesBurstCapacityThenBlocks(t *testing.T) {
	cfg := map[wire.Kind]Config{
		wire.KindVote: {RequestsPerMinute: 60, BurstMultiplier: 1.0},
	}
	l := New(cfg)
	now := time.Unix(0, 0)
	p := peer(1)

	for i := 0; i < 60; i++ {
		res := l.Allow(p, wire.KindVote, now)
		assert.Truef(t, res.Allowed, "request %d should be allowed within burst capacity", i)
	}
	blocked := l.Allow(p, wire.KindVote, now)
	assert.False(t, blocked.Allowed)
	assert.Greater(t, blocked.RetryAfter, time.Duration(0))
}

func TestAllowRefillsOverTime(t *testing.T) {
	cfg := map[wire.Kind]Config{
		wire.KindCommit: {RequestsPerMinute: 60, BurstMultiplier: 1.0},
	}
	l := New(cfg)
	now := time.Unix(0, 0)
	p := peer(1)

	for i := 0; i < 60; i++ {
		l.Allow(p, wire.KindCommit, now)
	}
	assert.False(t, l.Allow(p, wire.KindCommit, now).Allowed)

	later := now.Add(2 * time.Second)
	assert.True(t, l.Allow(p, wire.KindCommit, later).Allowed)
}

func TestAllowIsPerPeerAndPerKind(t *testing.T) {
	cfg := map[wire.Kind]Config{
		wire.KindVote: {RequestsPerMinute: 1, BurstMultiplier: 1.0},
	}
	l := New(cfg)
	now := time.Unix(0, 0)

	assert.True(t, l.Allow(peer(1), wire.KindVote, now).Allowed)
	assert.False(t, l.Allow(peer(1), wire.KindVote, now).Allowed)
	assert.True(t, l.Allow(peer(2), wire.KindVote, now).Allowed, "a different peer has its own bucket")
}

func TestAllowWithoutConfigIsAlwaysAllowed(t *testing.T) {
	l := New(map[wire.Kind]Config{})
	res := l.Allow(peer(1), wire.KindProposal, time.Now())
	assert.True(t, res.Allowed)
}

func TestDefaultConfigCoversAllFourKinds(t *testing.T) {
	cfg := DefaultConfig()
	for _, k := range []wire.Kind{wire.KindCommit, wire.KindReveal, wire.KindProposal, wire.KindVote} {
		_, ok := cfg[k]
		assert.Truef(t, ok, "missing config for kind %s", k)
	}
}
