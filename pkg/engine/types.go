// Package engine implements the round state machine — Commit, Reveal,
// Propose, Vote, Finalize — the hard engineering core of the system (spec
// section 2). Each game owns exactly one round state machine, mutated only
// through signed messages admitted under the message-ingress discipline of
// spec section 4.5. At phase boundaries a game applies its settlement and
// reputation effects by calling the engine's shared treasury and reputation
// stores directly (Settle, UnlockOnStall, Apply) and emits typed events
// alongside; the effects are not routed through those events.
package engine

import (
	"time"

	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/treasury"
)

// GameID is the 16-byte opaque tag naming one consensus instance. It is the
// same type the treasury uses so settlements need no conversion at the
// boundary between the two packages.
type GameID = treasury.GameID

// Bet is a single wager committed to a game before its round opens. The
// engine's settlement function is deterministic over the fixed set of bets
// plus the round's combined randomness (spec: "derived from the randomness
// and bets").
type Bet struct {
	Peer      party.ID
	ID        [16]byte // bet identifier, as carried in a settlement entry
	Type      string   // e.g. "pass_line", "any_seven" — interpreted by ComputeSettlement
	Amount    uint64   // stake, already locked with the treasury
	MaxPayout uint64   // this bet's worst-case payout, already locked
}

// RoundHandle identifies one opened round of one game.
type RoundHandle struct {
	Game  GameID
	Round uint64
}

// now is overridable in tests that need to control the wall clock without
// sleeping; production callers always get time.Now.
var now = time.Now
