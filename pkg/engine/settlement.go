package engine

import (
	"fmt"
	"sort"

	"github.com/rawblock/diceconsensus/pkg/arith"
	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/round"
	"github.com/rawblock/diceconsensus/pkg/treasury"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

// Known bet types. An unrecognized type always pushes (stake returned,
// neither a win nor a loss) rather than being rejected, so a round never
// stalls merely because one peer's client introduced a bet type this
// engine build does not yet know how to settle.
const (
	BetPassLine  = "pass_line"
	BetAnySeven  = "any_seven"
	BetFieldBet  = "field"
)

// Roll is the pair of dice a round's combined randomness determines.
type Roll struct {
	Die1 int
	Die2 int
}

// Sum returns the total pips shown.
func (r Roll) Sum() int { return r.Die1 + r.Die2 }

// rollDice derives a two-die outcome deterministically from the round's
// combined randomness: each die is one byte of the digest reduced mod 6,
// plus one, so every honest peer re-derives the identical roll (spec P5).
func rollDice(combined crypto.Digest) Roll {
	b := combined.Bytes()
	return Roll{Die1: int(b[0]%6) + 1, Die2: int(b[1]%6) + 1}
}

// HouseID is the treasury's reserved counterparty. Treasury.Settle requires
// every settlement's deltas to sum to exactly zero, but a table of bettors
// rarely nets to zero on its own — a lone winning bet has no one at the
// table to fund its winnings, and a lone loser's forfeited stake has no one
// to pay it to. computeSettlement balances every round against HouseID the
// same way a casino's bank funds and absorbs a table, so Settle's zero-sum
// contract holds regardless of how many bettors won, lost, or pushed.
// Engine.New seeds it with a large reserve (see houseReserve).
var HouseID = func() party.ID {
	var id party.ID
	for i := range id {
		id[i] = 0xFF
	}
	return id
}()

// houseReserve is the balance Engine.New grants HouseID so it can fund any
// single round's winnings without itself underflowing.
var houseReserve = arith.FromUint64(1 << 62)

// settlementResult is the deterministic outcome of resolving a round's bets
// against its combined randomness: one signed delta per peer (for the
// treasury) and one wire-encodable entry per bet (for the proposal and the
// final Finalized event).
type settlementResult struct {
	roll    Roll
	entries []wire.SettlementEntry
	payouts []treasury.Payout
}

// computeSettlement derives the unique settlement for bets given combined
// randomness. It is a pure function: any peer holding the same bets and the
// same combined randomness computes byte-identical entries, which is what
// lets a proposal's derived_from binding be checked instead of trusted.
func computeSettlement(bets []Bet, combined crypto.Digest) settlementResult {
	ordered := make([]Bet, len(bets))
	copy(ordered, bets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Peer.Less(ordered[j].Peer) })

	roll := rollDice(combined)
	sum := roll.Sum()

	entries := make([]wire.SettlementEntry, 0, len(ordered))
	payouts := make([]treasury.Payout, 0, len(ordered)+1)
	var net arith.Delta
	for _, b := range ordered {
		delta := resolveBet(b, sum)
		entries = append(entries, wire.SettlementEntry{
			Peer:    [32]byte(b.Peer),
			Amount:  int64(delta),
			BetType: b.Type,
			Locked:  b.MaxPayout,
		})
		payouts = append(payouts, treasury.Payout{Peer: b.Peer, Delta: delta})
		net, _ = arith.AddDelta(net, delta)
	}
	if net != 0 {
		payouts = append(payouts, treasury.Payout{Peer: HouseID, Delta: -net})
	}
	return settlementResult{roll: roll, entries: entries, payouts: payouts}
}

// resolveBet returns peer's net profit or loss on one bet given the dice
// sum, beyond the stake Treasury.Settle already returns to every bettor in
// the round: a win credits maxPayout minus the stake (the house funds the
// difference), a loss debits the stake back out (the house keeps it), and a
// push credits nothing since the stake alone made the bettor whole.
func resolveBet(b Bet, sum int) arith.Delta {
	switch b.Type {
	case BetPassLine:
		switch sum {
		case 7, 11:
			return arith.Delta(b.MaxPayout - b.Amount)
		case 2, 3, 12:
			return -arith.Delta(b.Amount)
		default:
			return arith.Delta(0)
		}
	case BetAnySeven:
		if sum == 7 {
			return arith.Delta(b.MaxPayout - b.Amount)
		}
		return -arith.Delta(b.Amount)
	case BetFieldBet:
		switch sum {
		case 2, 12:
			return arith.Delta(b.MaxPayout - b.Amount)
		case 3, 4, 9, 10, 11:
			return arith.Delta(0)
		default:
			return -arith.Delta(b.Amount)
		}
	default:
		return arith.Delta(0)
	}
}

// betSetDigest computes the stable digest a proposal's derived_from binding
// must reference, over the exact set of bets locked for the round.
func betSetDigest(bets []Bet) crypto.Digest {
	ordered := make([]Bet, len(bets))
	copy(ordered, bets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Peer.Less(ordered[j].Peer) })
	peers := make([][32]byte, len(ordered))
	amounts := make([]uint64, len(ordered))
	for i, b := range ordered {
		peers[i] = [32]byte(b.Peer)
		amounts[i] = b.Amount
	}
	return round.EncodeBetSet(peers, amounts)
}

// ComputeSettlement exposes the deterministic settlement derivation to
// callers outside this package: any honest peer holding the same bets and
// combined randomness can reproduce the identical entries and independently
// verify a proposal before voting on it (spec P5).
func ComputeSettlement(bets []Bet, combined [32]byte) []wire.SettlementEntry {
	return computeSettlement(bets, crypto.Digest(combined)).entries
}

// DerivedFrom exposes the proposal-binding hash to callers outside this
// package: any honest peer holding the same bets and combined randomness
// computes the identical value to populate a wire.ProposalBody's
// DerivedFrom field, and applyProposal checks a submitted proposal against
// the same computation instead of trusting the proposer.
func DerivedFrom(bets []Bet, combined [32]byte) [32]byte {
	return [32]byte(round.DerivedFrom(crypto.Digest(combined), betSetDigest(bets)))
}

// lockedTotal sums every bet's maxPayout, the figure the treasury's locked
// pool for this game must equal before a settlement can be applied.
func lockedTotal(bets []Bet) (arith.Amount, error) {
	amounts := make([]arith.Amount, len(bets))
	for i, b := range bets {
		amounts[i] = arith.FromUint64(b.MaxPayout)
	}
	sum, err := arith.Sum(amounts)
	if err != nil {
		return arith.Amount{}, fmt.Errorf("engine: locked total: %w", err)
	}
	return sum, nil
}
