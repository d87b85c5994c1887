package engine

import (
	"time"

	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/round"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

// acceptedCommit is a stored, validated Commit message.
type acceptedCommit struct {
	digest    [32]byte
	timestamp time.Time
}

// acceptedReveal is a stored, validated Reveal message.
type acceptedReveal struct {
	value [32]byte
	nonce [32]byte
}

// acceptedProposal is the single proposal accepted for a round.
type acceptedProposal struct {
	proposer   party.ID
	entries    []wire.SettlementEntry
	hash       [32]byte
	derivedFrom crypto.Digest
}

// dedupKey identifies one (peer, message-kind) pair for replay rejection
// beyond what the per-phase maps already enforce — used for messages like
// proposals where only the designated proposer's first submission counts,
// but a duplicate resend from the same proposer must still be recognized
// as a no-op rather than a second acceptance (spec I6: idempotence).
type dedupKey struct {
	peer party.ID
	kind wire.Kind
}

// roundState is the full mutable state of one round. The engine is its
// exclusive owner; nothing outside this package ever holds a pointer to it.
type roundState struct {
	number    uint64
	phase     round.Phase
	roster    party.Set
	openedAt  int64
	deadlines round.Deadlines

	commits map[party.ID]acceptedCommit
	reveals map[party.ID]acceptedReveal
	votes   map[party.ID]bool

	bets []Bet

	combined      *crypto.Digest
	proposerOrder []party.ID
	proposerIdx   int

	proposal *acceptedProposal

	stallReason round.StallReason
	finalEntries []SettlementEntry

	seen map[dedupKey]struct{}
}

func newRoundState(number uint64, roster party.Set, bets []Bet, openedAt int64, durations phaseDurations) *roundState {
	return &roundState{
		number:   number,
		phase:    round.PhaseCommit,
		roster:   roster,
		openedAt: openedAt,
		deadlines: round.Deadlines{
			Commit:  openedAt + durations.commit,
			Reveal:  openedAt + durations.commit + durations.reveal,
			Propose: openedAt + durations.commit + durations.reveal + durations.propose,
			Vote:    openedAt + durations.commit + durations.reveal + durations.propose + durations.vote,
		},
		commits: make(map[party.ID]acceptedCommit),
		reveals: make(map[party.ID]acceptedReveal),
		votes:   make(map[party.ID]bool),
		bets:    bets,
		seen:    make(map[dedupKey]struct{}),
	}
}

func (r *roundState) alreadySeen(peer party.ID, kind wire.Kind) bool {
	_, ok := r.seen[dedupKey{peer: peer, kind: kind}]
	return ok
}

func (r *roundState) markSeen(peer party.ID, kind wire.Kind) {
	r.seen[dedupKey{peer: peer, kind: kind}] = struct{}{}
}

// phaseDurations is the resolved-to-seconds form of config.PhaseDurations,
// computed once per round so deadline arithmetic stays in plain int64
// seconds (matching the wire format's 8-byte timestamp granularity).
type phaseDurations struct {
	commit, reveal, propose, vote int64
}
