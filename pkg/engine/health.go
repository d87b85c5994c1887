package engine

import (
	"time"

	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/round"
)

// Rules mirrors original_source/src/sdk_v2/consensus.rs's ConsensusRules: the
// fixed thresholds and limits governing how many active rounds an engine
// tolerates before it reports itself degraded.
type Rules struct {
	RequiredMajority   int           // roster fraction numerator/denominator is fixed at 2/3 (party.CeilTwoThirds)
	ProposalTimeout    time.Duration
	MaxActiveGames     int
	ByzantineThreshold int // stalled-round count, across every game's current and archived rounds, that flips Health to Unhealthy
}

// DefaultRules matches the phase durations and a generous active-game cap
// suitable for a single-process deployment.
func DefaultRules(proposalTimeout time.Duration) Rules {
	return Rules{
		RequiredMajority:   2, // interpreted as 2-of-3, i.e. CeilTwoThirds
		ProposalTimeout:    proposalTimeout,
		MaxActiveGames:     1000,
		ByzantineThreshold: 3,
	}
}

// HealthLevel mirrors the original's ConsensusHealth::{Healthy, Degraded,
// Unhealthy} tri-state.
type HealthLevel int

const (
	HealthHealthy HealthLevel = iota
	HealthDegraded
	HealthUnhealthy
)

func (h HealthLevel) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Status mirrors the original's ConsensusStatus: a point-in-time summary an
// operator or the CLI's simulate command can render directly.
type Status struct {
	ActiveGames      int
	FinalizedRounds  int
	StalledRounds    int
	ByzantineFaults  int // peers currently at or below the ban threshold
	Health           HealthLevel
}

// Health computes a Status snapshot by walking every game's current and
// archived rounds. It never mutates engine state.
func (e *Engine) Health(rules Rules) Status {
	e.mu.Lock()
	games := make([]*Game, 0, len(e.games))
	for _, g := range e.games {
		games = append(games, g)
	}
	e.mu.Unlock()

	var status Status
	status.ActiveGames = len(games)
	for _, g := range games {
		g.mu.Lock()
		if g.current != nil {
			switch g.current.phase {
			case round.PhaseFinalized:
				status.FinalizedRounds++
			case round.PhaseStalled:
				status.StalledRounds++
			}
		}
		for _, archived := range g.archive {
			switch archived.phase {
			case round.PhaseFinalized:
				status.FinalizedRounds++
			case round.PhaseStalled:
				status.StalledRounds++
			}
		}
		g.mu.Unlock()
	}

	for _, id := range e.allKnownPeers() {
		if e.coll.reputation.Score(id) <= e.cfg.Reputation.BanThreshold {
			status.ByzantineFaults++
		}
	}

	switch {
	case status.StalledRounds >= rules.ByzantineThreshold || status.ByzantineFaults > 0:
		status.Health = HealthUnhealthy
	case status.StalledRounds > 0:
		status.Health = HealthDegraded
	default:
		status.Health = HealthHealthy
	}
	return status
}

// allKnownPeers returns every peer in the roster of some game's current
// round, the universe Health checks for byzantine faults over. Peers that
// appear only in archived rounds are not included.
func (e *Engine) allKnownPeers() []party.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[party.ID]struct{})
	var out []party.ID
	for _, g := range e.games {
		g.mu.Lock()
		if g.current != nil {
			for _, id := range g.current.roster.IDs() {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		g.mu.Unlock()
	}
	return out
}
