package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/reputation"
	"github.com/rawblock/diceconsensus/pkg/round"
)

// EventKind tags an outbound Event's payload type, one per spec section 6's
// outbound-events list.
type EventKind int

const (
	EventCommitAccepted EventKind = iota
	EventRevealAccepted
	EventPhaseAdvanced
	EventProposalAccepted
	EventVoteAccepted
	EventFinalized
	EventStalled
	EventPeerMisbehaved
)

func (k EventKind) String() string {
	switch k {
	case EventCommitAccepted:
		return "CommitAccepted"
	case EventRevealAccepted:
		return "RevealAccepted"
	case EventPhaseAdvanced:
		return "PhaseAdvanced"
	case EventProposalAccepted:
		return "ProposalAccepted"
	case EventVoteAccepted:
		return "VoteAccepted"
	case EventFinalized:
		return "Finalized"
	case EventStalled:
		return "Stalled"
	case EventPeerMisbehaved:
		return "PeerMisbehaved"
	default:
		return "Unknown"
	}
}

// Event is one outbound notification produced by Tick or SubmitSigned,
// destined for transport/reputation/telemetry collaborators. EventID
// correlates it for an external telemetry pipeline (out of scope here) —
// the engine itself never depends on one existing.
type Event struct {
	EventID uuid.UUID
	Kind    EventKind
	Game    GameID
	Round   uint64
	At      time.Time

	Peer          party.ID            // CommitAccepted, RevealAccepted, ProposalAccepted, VoteAccepted, PeerMisbehaved
	Phase         round.Phase         // PhaseAdvanced (the phase just entered)
	ProposalHash  [32]byte            // ProposalAccepted, VoteAccepted
	Settlement    []SettlementEntry   // Finalized
	StallReason   round.StallReason   // Stalled
	MisbehaveKind reputation.EventKind // PeerMisbehaved
}

// SettlementEntry mirrors wire.SettlementEntry for event consumers that
// should not need to import the wire package just to read a Finalized
// event.
type SettlementEntry struct {
	Peer    party.ID
	Amount  int64
	BetType string
	Locked  uint64
}

func newEvent(kind EventKind, game GameID, roundNumber uint64) Event {
	return Event{
		EventID: uuid.New(),
		Kind:    kind,
		Game:    game,
		Round:   roundNumber,
		At:      now(),
	}
}
