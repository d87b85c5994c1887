package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/rawblock/diceconsensus/pkg/arith"
	"github.com/rawblock/diceconsensus/pkg/config"
	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/ratelimit"
	"github.com/rawblock/diceconsensus/pkg/reputation"
	"github.com/rawblock/diceconsensus/pkg/round"
	"github.com/rawblock/diceconsensus/pkg/treasury"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

var log = slog.Disabled

// UseLogger assigns a logging backend for this package's diagnostics.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Engine owns every game running against one shared treasury, reputation
// store, and rate limiter. It is the sole public entry point: callers never
// touch a Game directly (spec section 6's inbound API is entirely exposed
// through Engine's methods).
type Engine struct {
	cfg     config.Config
	coll    *collaborators
	limiter *ratelimit.Limiter

	mu    sync.Mutex
	games map[GameID]*Game
}

// New builds an Engine from cfg, constructing its own treasury and
// reputation store. initialBalances seeds the treasury's available
// balances, as in a fresh deployment with no prior settlements.
func New(cfg config.Config, initialBalances map[party.ID]arith.Amount) *Engine {
	balances := make(map[party.ID]arith.Amount, len(initialBalances)+1)
	for id, amt := range initialBalances {
		balances[id] = amt
	}
	if _, ok := balances[HouseID]; !ok {
		balances[HouseID] = houseReserve
	}
	return &Engine{
		cfg: cfg,
		coll: &collaborators{
			treasury:   treasury.New(balances, cfg.Treasury.MaxPayoutPerGame),
			reputation: reputation.New(cfg.Reputation),
			verify:     newVerifyPool(defaultVerifyConcurrency),
		},
		limiter: ratelimit.New(cfg.RateLimits),
		games:   make(map[GameID]*Game),
	}
}

// Treasury exposes the engine's treasury for balance inspection.
func (e *Engine) Treasury() *treasury.Treasury { return e.coll.treasury }

// Reputation exposes the engine's reputation store for score inspection.
func (e *Engine) Reputation() *reputation.Reputation { return e.coll.reputation }

func (e *Engine) gameOrNil(id GameID) *Game {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.games[id]
}

// OpenRound opens round number 1 for a new game, or the next sequential
// round for one that already exists, locking every bet's stake and payout
// cap with the treasury before the round accepts any message. Locking
// failures leave no partial state: the caller must retry with adjusted bets.
func (e *Engine) OpenRound(id GameID, roster []party.ID, bets []Bet, openedAt time.Time) (RoundHandle, error) {
	if len(roster) < e.cfg.Roster.Min || len(roster) > e.cfg.Roster.Max {
		return RoundHandle{}, fmt.Errorf("engine: roster size %d outside [%d, %d]", len(roster), e.cfg.Roster.Min, e.cfg.Roster.Max)
	}
	rosterSet := party.NewSet(roster)

	e.mu.Lock()
	g, exists := e.games[id]
	if !exists {
		g = newGame(id, bets, e.coll)
		e.games[id] = g
	}
	e.mu.Unlock()

	for _, b := range bets {
		if err := e.coll.treasury.LockForBet(id, b.Peer, arith.FromUint64(b.Amount), arith.FromUint64(b.MaxPayout)); err != nil {
			return RoundHandle{}, fmt.Errorf("engine: open round: %w", err)
		}
	}

	number := uint64(1)
	if exists {
		number = nextRoundNumber(g)
	}
	durations := phaseDurations{
		commit:  int64(e.cfg.PhaseDurations.Commit.Seconds()),
		reveal:  int64(e.cfg.PhaseDurations.Reveal.Seconds()),
		propose: int64(e.cfg.PhaseDurations.Propose.Seconds()),
		vote:    int64(e.cfg.PhaseDurations.Vote.Seconds()),
	}
	if err := g.openRound(number, rosterSet, durations, openedAt.Unix()); err != nil {
		return RoundHandle{}, err
	}
	log.Infof("engine: opened game %x round %d with %d peers", id, number, len(roster))
	return RoundHandle{Game: id, Round: number}, nil
}

func nextRoundNumber(g *Game) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return 1
	}
	return g.current.number + 1
}

// Accepted is the successful result of SubmitSigned.
type Accepted struct {
	Game  GameID
	Round uint64
	Peer  party.ID
	Kind  wire.Kind
}

// SubmitSigned verifies and applies one wire-encoded signed message. Ed25519
// verification runs through the shared worker pool so a burst of inbound
// traffic cannot block the owning game's state transitions; only the much
// cheaper map lookups and comparisons in Game.apply run under its mutex.
func (e *Engine) SubmitSigned(ctx context.Context, raw []byte) (Accepted, error) {
	signed, signedBytes, err := wire.Decode(raw)
	if err != nil {
		return Accepted{}, reject(RejectMalformed, "%v", err)
	}
	peer, ok := party.FromBytes(signed.Header.Peer[:])
	if !ok {
		return Accepted{}, reject(RejectMalformed, "bad peer id length")
	}

	// Message-ingress discipline (spec section 4.5): signature verification
	// and rate-limiting both run before any phase/time eligibility check, so
	// a stale or otherwise ineligible message still counts against its
	// sender's rate budget once its signature is good. A message that fails
	// to decode is rejected above, before either check.
	ok, err = e.coll.verify.verify(ctx, crypto.PublicKey(peer.Bytes()), signedBytes, crypto.Signature(signed.Signature[:]))
	if err != nil {
		return Accepted{}, fmt.Errorf("engine: submit signed: %w", err)
	}
	if !ok {
		return Accepted{}, reject(RejectSignature, "signature verification failed for peer %s", peer)
	}

	result := e.limiter.Allow(peer, signed.Header.Kind, now())
	if !result.Allowed {
		return Accepted{}, reject(RejectRateLimited, "peer %s exceeded its %s rate limit, retry after %s", peer, signed.Header.Kind, result.RetryAfter)
	}

	at := time.Unix(signed.Header.Timestamp, 0).UTC()
	if drift := now().Sub(at); drift > e.cfg.TimestampTolerance || drift < -e.cfg.TimestampTolerance {
		return Accepted{}, reject(RejectTimestampSkew, "message timestamp %s drifts %s from local clock", at, drift)
	}

	g := e.gameOrNil(gameIDFromHeader(signed.Header))
	if g == nil {
		return Accepted{}, reject(RejectGameUnknown, "no open game %x", signed.Header.GameID)
	}
	if err := g.apply(peer, signed.Header, signed.Body, at); err != nil {
		return Accepted{}, err
	}
	return Accepted{Game: gameIDFromHeader(signed.Header), Round: signed.Header.Round, Peer: peer, Kind: signed.Header.Kind}, nil
}

func gameIDFromHeader(h wire.Header) GameID {
	var id GameID
	copy(id[:], h.GameID[:])
	return id
}

// Tick drives every open round's deadline-triggered transitions forward to
// t and returns every event produced since the previous Tick call, including
// those queued by SubmitSigned in between, across all games, in no
// particular cross-game order.
func (e *Engine) Tick(t time.Time) []Event {
	e.mu.Lock()
	games := make([]*Game, 0, len(e.games))
	for _, g := range e.games {
		games = append(games, g)
	}
	e.mu.Unlock()

	var events []Event
	for _, g := range games {
		g.mu.Lock()
		if g.current != nil && !g.current.phase.Terminal() {
			g.tick(g.current, t)
		}
		g.mu.Unlock()
		events = append(events, g.drainEvents()...)
	}
	return events
}

// RoundSnapshot is a read-only view of one round's progress, for UI/status
// collaborators that should never see the mutable roundState directly.
type RoundSnapshot struct {
	Round       uint64
	Phase       round.Phase
	Commits     int
	Reveals     int
	HasProposal bool
	Votes       int
	StallReason round.StallReason
	Settlement  []SettlementEntry
}

// Query returns a snapshot of game's round `number`, or ok=false if no such
// round exists (neither active nor archived).
func (e *Engine) Query(game GameID, number uint64) (RoundSnapshot, bool) {
	g := e.gameOrNil(game)
	if g == nil {
		return RoundSnapshot{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var r *roundState
	if g.current != nil && g.current.number == number {
		r = g.current
	} else if archived, ok := g.archive[number]; ok {
		r = archived
	}
	if r == nil {
		return RoundSnapshot{}, false
	}
	return RoundSnapshot{
		Round:       r.number,
		Phase:       r.phase,
		Commits:     len(r.commits),
		Reveals:     len(r.reveals),
		HasProposal: r.proposal != nil,
		Votes:       len(r.votes),
		StallReason: r.stallReason,
		Settlement:  r.finalEntries,
	}, true
}
