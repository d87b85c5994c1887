package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/reputation"
	"github.com/rawblock/diceconsensus/pkg/round"
	"github.com/rawblock/diceconsensus/pkg/treasury"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

// collaborators bundles the shared subsystems every game reaches into. They
// are constructed once by the owning Engine and shared across every game it
// manages; only the round state in roundState is exclusive to one game.
type collaborators struct {
	treasury   *treasury.Treasury
	reputation *reputation.Reputation
	verify     *verifyPool
}

// Game owns the round state machine for one consensus instance. All state
// mutation goes through its mutex, mirroring the teacher's MultiHandler
// pattern of serializing round progress behind a single lock per session.
type Game struct {
	mu     sync.Mutex
	id     GameID
	coll   *collaborators
	bets   []Bet
	betSet crypto.Digest

	current *roundState
	archive map[uint64]*roundState

	pending []Event
}

func newGame(id GameID, bets []Bet, coll *collaborators) *Game {
	return &Game{
		id:      id,
		coll:    coll,
		bets:    bets,
		betSet:  betSetDigest(bets),
		archive: make(map[uint64]*roundState),
	}
}

func (g *Game) emit(e Event) {
	g.pending = append(g.pending, e)
}

// drainEvents removes and returns every event queued since the last drain.
func (g *Game) drainEvents() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.pending
	g.pending = nil
	return out
}

// openRound starts round number at openedAt if no round is currently active
// (or the current one has reached a terminal phase).
func (g *Game) openRound(number uint64, roster party.Set, durations phaseDurations, openedAt int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && !g.current.phase.Terminal() {
		return fmt.Errorf("engine: game %x round %d still active", g.id, g.current.number)
	}
	if g.current != nil {
		g.archive[g.current.number] = g.current
	}
	g.current = newRoundState(number, roster, g.bets, openedAt, durations)
	g.emit(newEvent(EventPhaseAdvanced, g.id, number))
	return nil
}

// apply validates and applies one already-signature-verified message against
// the current round, returning RejectReason-typed errors for every case the
// message-ingress discipline must reject before mutating state.
func (g *Game) apply(peer party.ID, h wire.Header, body interface{}, signedAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.current
	if r == nil {
		return reject(RejectGameUnknown, "game %x has no open round", g.id)
	}
	if h.Round != r.number {
		return reject(RejectWrongPhase, "message round %d, active round %d", h.Round, r.number)
	}
	if !r.roster.Contains(peer) {
		return reject(RejectNotInRoster, "peer %s not in roster", peer)
	}
	if r.phase.Terminal() {
		return reject(RejectWrongPhase, "round %d already %s", r.number, r.phase)
	}

	switch b := body.(type) {
	case wire.CommitBody:
		return g.applyCommit(r, peer, b, signedAt)
	case wire.RevealBody:
		return g.applyReveal(r, peer, b, signedAt)
	case wire.ProposalBody:
		return g.applyProposal(r, peer, b, signedAt)
	case wire.VoteBody:
		return g.applyVote(r, peer, b, signedAt)
	default:
		return reject(RejectMalformed, "unrecognized body type %T", body)
	}
}

func (g *Game) applyCommit(r *roundState, peer party.ID, b wire.CommitBody, at time.Time) error {
	if r.phase != round.PhaseCommit {
		return reject(RejectWrongPhase, "round %d is in phase %s, not commit", r.number, r.phase)
	}
	if r.alreadySeen(peer, wire.KindCommit) {
		return reject(RejectDuplicate, "peer %s already committed in round %d", peer, r.number)
	}
	if at.Unix() > r.deadlines.Commit {
		return reject(RejectPastDeadline, "commit from %s after round %d's commit deadline", peer, r.number)
	}
	r.markSeen(peer, wire.KindCommit)
	r.commits[peer] = acceptedCommit{digest: b.Digest, timestamp: at}
	g.emit(Event{EventID: uuid.New(), Kind: EventCommitAccepted, Game: g.id, Round: r.number, At: now(), Peer: peer})

	if len(r.commits) >= r.roster.Len() {
		g.advanceToReveal(r)
	}
	return nil
}

func (g *Game) applyReveal(r *roundState, peer party.ID, b wire.RevealBody, at time.Time) error {
	if r.phase != round.PhaseReveal {
		return reject(RejectWrongPhase, "round %d is in phase %s, not reveal", r.number, r.phase)
	}
	commit, ok := r.commits[peer]
	if !ok {
		return reject(RejectUnknownCommit, "peer %s revealed without a commit in round %d", peer, r.number)
	}
	if r.alreadySeen(peer, wire.KindReveal) {
		return reject(RejectDuplicate, "peer %s already revealed in round %d", peer, r.number)
	}
	if at.Unix() > r.deadlines.Reveal {
		return reject(RejectPastDeadline, "reveal from %s after round %d's reveal deadline", peer, r.number)
	}
	if !crypto.VerifyCommit(crypto.Digest(commit.digest), b.Value, b.Nonce) {
		g.coll.reputation.Apply(peer, reputation.InvalidReveal, r.number, now())
		g.emit(Event{EventID: uuid.New(), Kind: EventPeerMisbehaved, Game: g.id, Round: r.number, At: now(), Peer: peer, MisbehaveKind: reputation.InvalidReveal})
		return reject(RejectInvalidReveal, "peer %s's reveal does not match its commit in round %d", peer, r.number)
	}
	r.markSeen(peer, wire.KindReveal)
	r.reveals[peer] = acceptedReveal{value: b.Value, nonce: b.Nonce}
	g.emit(Event{EventID: uuid.New(), Kind: EventRevealAccepted, Game: g.id, Round: r.number, At: now(), Peer: peer})

	if len(r.reveals) >= len(r.commits) {
		g.advanceToPropose(r)
	}
	return nil
}

func (g *Game) applyProposal(r *roundState, peer party.ID, b wire.ProposalBody, at time.Time) error {
	if r.phase != round.PhasePropose {
		return reject(RejectWrongPhase, "round %d is in phase %s, not propose", r.number, r.phase)
	}
	if r.proposal != nil {
		return reject(RejectDuplicate, "round %d already has a proposal", r.number)
	}
	if !g.isEligibleProposer(r, peer, at) {
		return reject(RejectWrongProposer, "peer %s is not the eligible proposer for round %d", peer, r.number)
	}
	if at.Unix() > r.deadlines.Propose {
		return reject(RejectPastDeadline, "proposal from %s after round %d's propose deadline", peer, r.number)
	}

	expected := computeSettlement(r.bets, *r.combined)
	expectedDerivedFrom := [32]byte(round.DerivedFrom(*r.combined, g.betSet))
	if !matchesSettlement(b.Settlement, expected.entries) || b.DerivedFrom != expectedDerivedFrom {
		g.coll.reputation.Apply(peer, reputation.Cheating, r.number, now())
		g.emit(Event{EventID: uuid.New(), Kind: EventPeerMisbehaved, Game: g.id, Round: r.number, At: now(), Peer: peer, MisbehaveKind: reputation.Cheating})
		return reject(RejectBadDerivation, "proposal from %s does not match the derivable settlement for round %d", peer, r.number)
	}

	sum, err := lockedTotal(r.bets)
	if err != nil {
		return reject(RejectBadDerivation, "round %d: %v", r.number, err)
	}
	if !g.coll.treasury.CanSettle(g.id, sum) {
		return reject(RejectBadDerivation, "round %d: locked pool no longer matches bets", r.number)
	}

	canonical, err := wire.SignedBytes(wire.Header{Kind: wire.KindProposal}, b)
	if err != nil {
		return reject(RejectMalformed, "round %d: %v", r.number, err)
	}
	hash := crypto.Hash(canonical)
	r.proposal = &acceptedProposal{proposer: peer, entries: b.Settlement, hash: [32]byte(hash), derivedFrom: *r.combined}
	r.markSeen(peer, wire.KindProposal)
	g.emit(Event{EventID: uuid.New(), Kind: EventProposalAccepted, Game: g.id, Round: r.number, At: now(), Peer: peer, ProposalHash: r.proposal.hash})

	r.phase = round.PhaseVote
	g.emit(Event{EventID: uuid.New(), Kind: EventPhaseAdvanced, Game: g.id, Round: r.number, At: now(), Phase: round.PhaseVote})
	return nil
}

func (g *Game) applyVote(r *roundState, peer party.ID, b wire.VoteBody, at time.Time) error {
	if r.phase != round.PhaseVote {
		return reject(RejectWrongPhase, "round %d is in phase %s, not vote", r.number, r.phase)
	}
	if r.proposal == nil || r.proposal.hash != b.ProposalHash {
		return reject(RejectBadDerivation, "vote from %s references an unknown proposal hash", peer)
	}
	if r.alreadySeen(peer, wire.KindVote) {
		return reject(RejectDuplicate, "peer %s already voted in round %d", peer, r.number)
	}
	if at.Unix() > r.deadlines.Vote {
		return reject(RejectPastDeadline, "vote from %s after round %d's vote deadline", peer, r.number)
	}
	r.markSeen(peer, wire.KindVote)
	r.votes[peer] = b.Approve
	g.emit(Event{EventID: uuid.New(), Kind: EventVoteAccepted, Game: g.id, Round: r.number, At: now(), Peer: peer, ProposalHash: b.ProposalHash})

	approvals := 0
	for _, approve := range r.votes {
		if approve {
			approvals++
		}
	}
	if approvals >= r.roster.Threshold() {
		g.finalize(r)
	}
	return nil
}

// advanceToReveal fast-path-transitions a round to Reveal once every roster
// member has committed (spec: "if all N peers have committed, advance
// immediately without waiting for the deadline").
func (g *Game) advanceToReveal(r *roundState) {
	r.phase = round.PhaseReveal
	g.emit(Event{EventID: uuid.New(), Kind: EventPhaseAdvanced, Game: g.id, Round: r.number, At: now(), Phase: round.PhaseReveal})
}

// advanceToPropose computes combined randomness from every reveal received
// so far and derives the proposer permutation, then opens the Propose phase.
func (g *Game) advanceToPropose(r *roundState) {
	reveals := make([]crypto.PeerReveal, 0, len(r.reveals))
	for peer, rv := range r.reveals {
		reveals = append(reveals, crypto.PeerReveal{Peer: [32]byte(peer), Value: rv.value})
	}
	combined, err := crypto.CombineRandomness(reveals)
	if err != nil {
		// No reveals at all cannot reach this path: advanceToPropose is only
		// called once len(reveals) >= 1.
		return
	}
	r.combined = &combined

	eligible := make([]party.ID, 0, r.roster.Len())
	for _, id := range r.roster.IDs() {
		if g.coll.reputation.MayParticipate(id) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		eligible = r.roster.IDs()
	}
	r.proposerOrder = round.Permutation(combined, eligible)
	r.proposerIdx = 0

	r.phase = round.PhasePropose
	g.emit(Event{EventID: uuid.New(), Kind: EventPhaseAdvanced, Game: g.id, Round: r.number, At: now(), Phase: round.PhasePropose})
}

// isEligibleProposer reports whether peer currently holds the proposer slot,
// advancing to the next candidate in the permutation if the current
// candidate's sub-deadline has passed without a proposal.
func (g *Game) isEligibleProposer(r *roundState, peer party.ID, at time.Time) bool {
	if len(r.proposerOrder) == 0 {
		return false
	}
	sub := r.deadlines.ProposerSubDeadline(r.openedAt)
	elapsed := at.Unix() - r.openedAt
	window := r.deadlines.Propose - r.openedAt
	if window <= 0 {
		window = 1
	}
	subWindow := sub - r.openedAt
	if subWindow <= 0 {
		subWindow = 1
	}
	slot := int(elapsed / subWindow)
	if slot >= len(r.proposerOrder) {
		slot = len(r.proposerOrder) - 1
	}
	if slot > r.proposerIdx {
		r.proposerIdx = slot
	}
	return r.proposerOrder[r.proposerIdx] == peer
}

// tick advances r past any deadline that has passed, stalling the round if
// the threshold for that phase was not met. It is the only path that can
// move a round to Stalled without passing through one of the apply* paths.
func (g *Game) tick(r *roundState, t time.Time) {
	unix := t.Unix()
	switch r.phase {
	case round.PhaseCommit:
		if unix < r.deadlines.Commit {
			return
		}
		if len(r.commits) < r.roster.Threshold() {
			g.stall(r, round.StallInsufficientCommits)
			return
		}
		g.advanceToReveal(r)
	case round.PhaseReveal:
		if unix < r.deadlines.Reveal {
			return
		}
		if len(r.reveals) < r.roster.Threshold() {
			g.stall(r, round.StallInsufficientReveals)
			return
		}
		g.advanceToPropose(r)
	case round.PhasePropose:
		if unix < r.deadlines.Propose {
			return
		}
		if r.proposal == nil {
			g.stall(r, round.StallNoProposal)
		}
	case round.PhaseVote:
		if unix < r.deadlines.Vote {
			return
		}
		approvals := 0
		for _, approve := range r.votes {
			if approve {
				approvals++
			}
		}
		if approvals < r.roster.Threshold() {
			g.stall(r, round.StallUnsafeSettlement)
		}
	}
}

func (g *Game) stall(r *roundState, reason round.StallReason) {
	r.phase = round.PhaseStalled
	r.stallReason = reason
	if err := g.coll.treasury.UnlockOnStall(g.id); err != nil {
		log.Errorf("engine: game %x round %d: unlock on stall: %v", g.id, r.number, err)
	}
	for _, id := range r.roster.IDs() {
		if _, committed := r.commits[id]; !committed {
			g.coll.reputation.Apply(id, reputation.FailedCommit, r.number, now())
		} else if _, revealed := r.reveals[id]; !revealed {
			g.coll.reputation.Apply(id, reputation.FailedReveal, r.number, now())
		}
	}
	g.emit(Event{EventID: uuid.New(), Kind: EventStalled, Game: g.id, Round: r.number, At: now(), StallReason: reason})
}

func (g *Game) finalize(r *roundState) {
	sum, err := lockedTotal(r.bets)
	if err != nil {
		g.stall(r, round.StallUnsafeSettlement)
		return
	}
	result := computeSettlement(r.bets, *r.combined)
	if err := g.coll.treasury.Settle(g.id, sum, result.payouts); err != nil {
		g.stall(r, round.StallUnsafeSettlement)
		return
	}

	r.phase = round.PhaseFinalized
	r.finalEntries = make([]SettlementEntry, len(result.entries))
	for i, e := range result.entries {
		id, _ := party.FromBytes(e.Peer[:])
		r.finalEntries[i] = SettlementEntry{Peer: id, Amount: e.Amount, BetType: e.BetType, Locked: e.Locked}
	}

	for _, id := range r.roster.IDs() {
		_, revealed := r.reveals[id]
		switch approve, voted := r.votes[id]; {
		case voted && !approve:
			g.coll.reputation.Apply(id, reputation.VotedAgainstAccepted, r.number, now())
		case revealed:
			g.coll.reputation.Apply(id, reputation.CompletedRound, r.number, now())
		case !revealed:
			if _, committed := r.commits[id]; committed {
				g.coll.reputation.Apply(id, reputation.FailedReveal, r.number, now())
			} else {
				g.coll.reputation.Apply(id, reputation.FailedCommit, r.number, now())
			}
		}
	}

	g.emit(Event{
		EventID:    uuid.New(),
		Kind:       EventFinalized,
		Game:       g.id,
		Round:      r.number,
		At:         now(),
		Settlement: r.finalEntries,
	})
}

func matchesSettlement(got, want []wire.SettlementEntry) bool {
	if len(got) != len(want) {
		return false
	}
	index := make(map[[32]byte]wire.SettlementEntry, len(want))
	for _, e := range want {
		index[e.Peer] = e
	}
	for _, g := range got {
		w, ok := index[g.Peer]
		if !ok || w.Amount != g.Amount || w.BetType != g.BetType || w.Locked != g.Locked {
			return false
		}
	}
	return true
}

