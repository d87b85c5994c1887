// Package round defines the phase machine's data types: the tagged-variant
// phase enumeration, stall reasons, and the deterministic proposer
// permutation. It deliberately holds no mutable state of its own — the
// engine is the exclusive owner of round state (spec section 3:
// "Ownership") — so that every function here is a pure, independently
// reproducible computation any honest peer can re-derive (spec P5).
package round

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/party"
)

// Phase is one of the fixed tagged variants of the round state machine.
// This collapses what the teacher pack represents as several distinct
// "engine flavors" (CMP/FROST/LSS each with round1/round2/round3 structs)
// into one enumerated phase, per spec section 9's redesign note.
type Phase int

const (
	PhaseCommit Phase = iota
	PhaseReveal
	PhasePropose
	PhaseVote
	PhaseFinalized
	PhaseStalled
)

func (p Phase) String() string {
	switch p {
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhasePropose:
		return "propose"
	case PhaseVote:
		return "vote"
	case PhaseFinalized:
		return "finalized"
	case PhaseStalled:
		return "stalled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether p is one of the round's terminal states.
func (p Phase) Terminal() bool {
	return p == PhaseFinalized || p == PhaseStalled
}

// StallReason explains why a round transitioned to Stalled, surfaced to the
// UI collaborator verbatim (spec section 7: "stalled rounds produce a
// reason the UI can display").
type StallReason string

const (
	StallInsufficientCommits StallReason = "InsufficientCommits"
	StallInsufficientReveals StallReason = "InsufficientReveals"
	StallNoProposal          StallReason = "NoProposal"
	StallUnsafeSettlement    StallReason = "UnsafeSettlement"
	StallCancelled           StallReason = "Cancelled"
)

// Number is a round's monotonically increasing sequence within a game.
type Number uint64

// Deadlines are the absolute wall-clock times a round's phases expire at,
// computed once from the round's creation time plus configured phase
// durations (spec: "All deadlines are absolute wall-clock times").
type Deadlines struct {
	Commit  int64 // unix seconds
	Reveal  int64
	Propose int64
	Vote    int64
}

// ProposerSubDeadline returns the absolute time by which the designated
// proposer must submit before the next-by-permutation peer becomes
// eligible (spec: "a sub-deadline, e.g. 40% of propose window").
func (d Deadlines) ProposerSubDeadline(roundOpenedAt int64) int64 {
	window := d.Propose - d.Reveal
	if window < 0 {
		window = 0
	}
	return d.Reveal + (window*2)/5
}

// Permutation deterministically orders ids by combined randomness seed,
// ascending by H(seed ‖ id) — so proposer selection is itself randomized
// but reproducible by any participant holding the same seed and roster.
// Spec section 9 fixes this as the resolution to the open question about
// proposer-selection weighting: pure permutation, with reputation only
// filtering eligibility beforehand.
func Permutation(seed crypto.Digest, ids []party.ID) []party.ID {
	type keyed struct {
		id  party.ID
		key crypto.Digest
	}
	keys := make([]keyed, len(ids))
	for i, id := range ids {
		buf := make([]byte, 0, 32+32)
		buf = append(buf, seed.Bytes()...)
		buf = append(buf, id.Bytes()...)
		keys[i] = keyed{id: id, key: crypto.Hash(buf)}
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessDigest(keys[i].key, keys[j].key)
	})
	out := make([]party.ID, len(keys))
	for i, k := range keys {
		out[i] = k.id
	}
	return out
}

func lessDigest(a, b crypto.Digest) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// DerivedFrom computes the hash a proposal's derived_from field must equal:
// a binding of the combined randomness to the exact set of bets being
// settled, so a proposal cannot be replayed against a different bet set.
func DerivedFrom(combined crypto.Digest, betSetDigest crypto.Digest) crypto.Digest {
	buf := make([]byte, 0, 64)
	buf = append(buf, combined.Bytes()...)
	buf = append(buf, betSetDigest.Bytes()...)
	return crypto.Hash(buf)
}

// EncodeBetSet produces a stable digest of the committed bet set for a
// game, so DerivedFrom's binding does not depend on map/slice iteration
// order. Bets are expected to already be sorted by peer ID by the caller.
func EncodeBetSet(peers [][32]byte, amounts []uint64) crypto.Digest {
	buf := make([]byte, 0, len(peers)*(32+8))
	for i, p := range peers {
		buf = append(buf, p[:]...)
		var amt [8]byte
		binary.BigEndian.PutUint64(amt[:], amounts[i])
		buf = append(buf, amt[:]...)
	}
	return crypto.Hash(buf)
}
