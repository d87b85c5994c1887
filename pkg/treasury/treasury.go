// Package treasury tracks available and locked balances across games and
// guarantees the solvency invariant (spec I5): the sum of every available
// and locked balance is conserved across every settlement. All mutations
// serialize behind a single mutex (spec section 5: "Treasury mutations
// serialize behind an internal mutex"); a game's locked pool is reduced only
// by Settle or cleared by UnlockOnStall.
package treasury

import (
	"errors"
	"fmt"
	"sync"

	"github.com/decred/slog"

	"github.com/rawblock/diceconsensus/pkg/arith"
	"github.com/rawblock/diceconsensus/pkg/party"
)

var log = slog.Disabled

// UseLogger assigns a logging backend for this package's diagnostics.
func UseLogger(logger slog.Logger) {
	log = logger
}

// GameID is the 16-byte opaque tag naming one consensus instance.
type GameID [16]byte

// ErrInsufficientFunds is returned by LockForBet when the bettor's
// available balance cannot cover the requested stake.
var ErrInsufficientFunds = errors.New("treasury: insufficient funds")

// ErrPayoutCapExceeded is returned by LockForBet when max_payout exceeds
// the configured per-game cap.
var ErrPayoutCapExceeded = errors.New("treasury: max payout exceeds per-game cap")

// ErrInvariantViolation is returned by Settle when the proposed payouts
// fail to balance against the locked pool, or would drive a balance
// negative.
var ErrInvariantViolation = errors.New("treasury: invariant violation")

// bet records one peer's stake against a game, kept so an unlock-on-stall
// can return exactly what was removed from that peer's available balance.
type bet struct {
	peer      party.ID
	amount    arith.Amount
	maxPayout arith.Amount
}

// Treasury is the single owner of every balance in the system.
type Treasury struct {
	mu sync.Mutex

	available     map[party.ID]arith.Amount
	lockedByGame  map[GameID]arith.Amount
	betsByGame    map[GameID][]bet
	maxPayoutCap  arith.Amount
}

// New creates a Treasury seeded with the given initial available balances
// and a per-game maximum payout cap.
func New(initial map[party.ID]arith.Amount, maxPayoutCap arith.Amount) *Treasury {
	available := make(map[party.ID]arith.Amount, len(initial))
	for id, amt := range initial {
		available[id] = amt
	}
	return &Treasury{
		available:    available,
		lockedByGame: make(map[GameID]arith.Amount),
		betsByGame:   make(map[GameID][]bet),
		maxPayoutCap: maxPayoutCap,
	}
}

// Payout is one peer's signed settlement delta.
type Payout struct {
	Peer  party.ID
	Delta arith.Delta
}

// Snapshot is a read-only view of treasury totals, returned by Health.
type Snapshot struct {
	TotalAvailable arith.Amount
	TotalLocked    arith.Amount
	LockedByGame   map[GameID]arith.Amount
	Available      map[party.ID]arith.Amount
}

// LockForBet atomically decreases peer's available balance by amount and
// increases game's locked pool by maxPayout. It rejects (leaving state
// unchanged) if available funds are insufficient or maxPayout exceeds the
// configured per-game cap.
func (t *Treasury) LockForBet(game GameID, peer party.ID, amount, maxPayout arith.Amount) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxPayout.Cmp(t.maxPayoutCap) > 0 {
		return fmt.Errorf("%w: %d > %d", ErrPayoutCapExceeded, maxPayout.Uint64(), t.maxPayoutCap.Uint64())
	}
	bal := t.available[peer]
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: peer %s has %d, needs %d", ErrInsufficientFunds, peer, bal.Uint64(), amount.Uint64())
	}

	newAvailable, err := arith.Sub(bal, amount)
	if err != nil {
		return fmt.Errorf("treasury: lock_for_bet: %w", err)
	}
	newLocked, err := arith.Add(t.lockedByGame[game], maxPayout)
	if err != nil {
		return fmt.Errorf("treasury: lock_for_bet: %w", err)
	}

	t.available[peer] = newAvailable
	t.lockedByGame[game] = newLocked
	t.betsByGame[game] = append(t.betsByGame[game], bet{peer: peer, amount: amount, maxPayout: maxPayout})
	log.Debugf("treasury: locked %d (cap %d) for peer %s in game %x", amount.Uint64(), maxPayout.Uint64(), peer, game)
	return nil
}

// Settle applies a finalized settlement's payouts against game's locked
// pool. It rejects, leaving state unchanged, if expectedLocked does not
// match the pool's current size, if the payouts do not sum to zero, or if
// any resulting balance would go negative (spec I5, error taxonomy
// "Arithmetic / solvency errors").
func (t *Treasury) Settle(game GameID, expectedLocked arith.Amount, payouts []Payout) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	locked, ok := t.lockedByGame[game]
	if !ok {
		locked = arith.Zero()
	}
	if locked.Cmp(expectedLocked) != 0 {
		return fmt.Errorf("%w: game %x locked %d, expected %d", ErrInvariantViolation, game, locked.Uint64(), expectedLocked.Uint64())
	}

	deltas := make([]arith.Delta, len(payouts))
	for i, p := range payouts {
		deltas[i] = p.Delta
	}
	sum, err := arith.SumDeltas(deltas)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if sum != 0 {
		return fmt.Errorf("%w: payouts sum to %d, want 0", ErrInvariantViolation, sum)
	}

	// Stage new balances before committing so a mid-way failure cannot
	// leave some peers settled and others not (settlement is all-or-nothing).
	// Every bettor's stake is returned first — the locked pool was only ever
	// a liability cap (maxPayout), not a real debit of the stake's
	// difference — and payouts' zero-summing deltas then redistribute net
	// winnings and losses on top, so the pool's full value is accounted for
	// instead of vanishing with the game's ledger entries.
	staged := make(map[party.ID]arith.Amount, len(payouts))
	for _, b := range t.betsByGame[game] {
		bal, ok := staged[b.peer]
		if !ok {
			bal = t.available[b.peer]
		}
		refunded, err := arith.Add(bal, b.amount)
		if err != nil {
			return fmt.Errorf("%w: peer %s: %v", ErrInvariantViolation, b.peer, err)
		}
		staged[b.peer] = refunded
	}
	for _, p := range payouts {
		bal, ok := staged[p.Peer]
		if !ok {
			bal = t.available[p.Peer]
		}
		newBal, err := arith.ApplyDelta(bal, p.Delta)
		if err != nil {
			return fmt.Errorf("%w: peer %s: %v", ErrInvariantViolation, p.Peer, err)
		}
		staged[p.Peer] = newBal
	}

	for peer, bal := range staged {
		t.available[peer] = bal
	}
	delete(t.lockedByGame, game)
	delete(t.betsByGame, game)
	log.Infof("treasury: settled game %x, %d payouts", game, len(payouts))
	return nil
}

// UnlockOnStall returns every bet's stake to its bettor's available balance
// and clears the game's locked pool. Used when a round transitions to
// Stalled or the game is cancelled (spec: "locked funds ... are returned to
// each bettor's available balance per the treasury's unlock path").
func (t *Treasury) UnlockOnStall(game GameID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bets := t.betsByGame[game]
	for _, b := range bets {
		newBal, err := arith.Add(t.available[b.peer], b.amount)
		if err != nil {
			return fmt.Errorf("treasury: unlock_on_stall: %w", err)
		}
		t.available[b.peer] = newBal
	}
	delete(t.lockedByGame, game)
	delete(t.betsByGame, game)
	log.Infof("treasury: unlocked game %x, refunded %d bets", game, len(bets))
	return nil
}

// Health returns a point-in-time snapshot of treasury totals, used by the
// engine to refuse proposals it cannot settle.
func (t *Treasury) Health() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	available := make(map[party.ID]arith.Amount, len(t.available))
	totalAvailable := arith.Zero()
	for id, amt := range t.available {
		available[id] = amt
		totalAvailable, _ = arith.Add(totalAvailable, amt)
	}
	lockedByGame := make(map[GameID]arith.Amount, len(t.lockedByGame))
	totalLocked := arith.Zero()
	for g, amt := range t.lockedByGame {
		lockedByGame[g] = amt
		totalLocked, _ = arith.Add(totalLocked, amt)
	}
	return Snapshot{
		TotalAvailable: totalAvailable,
		TotalLocked:    totalLocked,
		LockedByGame:   lockedByGame,
		Available:      available,
	}
}

// CanSettle reports whether game's locked pool equals expectedLocked,
// without mutating state. The engine calls this before finalizing a round
// so an unsettleable proposal stalls instead of corrupting the ledger.
func (t *Treasury) CanSettle(game GameID, expectedLocked arith.Amount) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	locked, ok := t.lockedByGame[game]
	if !ok {
		locked = arith.Zero()
	}
	return locked.Cmp(expectedLocked) == 0
}
