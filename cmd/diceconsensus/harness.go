package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rawblock/diceconsensus/pkg/arith"
	"github.com/rawblock/diceconsensus/pkg/config"
	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/engine"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

// revealSecret is the (value, nonce) pair one peer commits to and later
// reveals; shared by simulate.go and scenario.go so both can pass secrets
// through the same helper functions.
type revealSecret struct {
	value, nonce [32]byte
}

// simPeer is one simulated participant: its keypair plays both "identity"
// and "consensus sub-key" role, since the harness submits raw Ed25519
// signatures the same way a real peer's keystore.SignWithContext output
// would once unwrapped to its bare signature (engine.SubmitSigned verifies
// the wire signature directly; see pkg/keystore for the context-binding
// layer a transport collaborator would add on top).
type simPeer struct {
	pub  crypto.PublicKey
	priv crypto.PrivateKey
	id   party.ID
}

func newSimPeer() (simPeer, error) {
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		return simPeer{}, err
	}
	id, ok := party.FromBytes(pub)
	if !ok {
		return simPeer{}, fmt.Errorf("harness: unexpected public key length")
	}
	return simPeer{pub: pub, priv: priv, id: id}, nil
}

// buildSigned constructs the canonical signed wire bytes for one message.
func buildSigned(gameID [16]byte, roundNum uint64, p simPeer, kind wire.Kind, body interface{}, at time.Time) ([]byte, error) {
	h := wire.Header{
		Kind:      kind,
		Timestamp: at.Unix(),
		GameID:    gameID,
		Round:     roundNum,
		Peer:      [32]byte(p.id),
	}
	signedBytes, err := wire.SignedBytes(h, body)
	if err != nil {
		return nil, err
	}
	sig := crypto.Sign(p.priv, signedBytes)
	var sigArr [wire.SignatureSize]byte
	copy(sigArr[:], sig)
	return wire.Encode(wire.Signed{Header: h, Body: body, Signature: sigArr})
}

// submit is a thin wrapper that returns the engine's result unchanged; each
// caller decides whether a rejection is fatal, since a rejected message (e.g.
// a stale timestamp or an invalid reveal) is an expected outcome in several
// scenarios.
func submit(eng *engine.Engine, raw []byte) (engine.Accepted, error) {
	return eng.SubmitSigned(context.Background(), raw)
}

// proposalHash reproduces engine's internal binding: the hash is computed
// over the settlement body alone (see pkg/engine/game.go's applyProposal),
// so any peer can independently derive the hash it must reference in its
// vote without needing the engine's internal state.
func proposalHash(body wire.ProposalBody) (crypto.Digest, error) {
	canonical, err := wire.SignedBytes(wire.Header{Kind: wire.KindProposal}, body)
	if err != nil {
		return crypto.Digest{}, err
	}
	return crypto.Hash(canonical), nil
}

// eligibleProposers filters roster to peers the engine's reputation store
// currently allows to participate, mirroring engine.advanceToPropose.
func eligibleProposers(eng *engine.Engine, roster []party.ID) []party.ID {
	var eligible []party.ID
	for _, id := range roster {
		if eng.Reputation().MayParticipate(id) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return roster
	}
	return eligible
}

// peerReveals converts a secrets-by-peer-id map into the slice shape
// crypto.CombineRandomness expects.
func peerReveals(peers []simPeer, secrets map[string]revealSecret) []crypto.PeerReveal {
	out := make([]crypto.PeerReveal, len(peers))
	for i, p := range peers {
		out[i] = crypto.PeerReveal{Peer: [32]byte(p.id), Value: secrets[p.id.String()].value}
	}
	return out
}

func findPeer(peers []simPeer, id party.ID) (simPeer, bool) {
	for _, p := range peers {
		if p.id == id {
			return p, true
		}
	}
	return simPeer{}, false
}

// newHarnessConfig builds a Config suitable for an in-process simulation:
// 10/10/5/5-second phase windows, which the harness crosses by passing its
// own virtual clock to Tick rather than waiting on a wall clock.
func newHarnessConfig() (config.Config, error) {
	return config.New(
		config.WithPhaseDurations(config.PhaseDurations{
			Commit:  10 * time.Second,
			Reveal:  10 * time.Second,
			Propose: 5 * time.Second,
			Vote:    5 * time.Second,
		}),
		config.WithRosterBounds(config.RosterBounds{Min: 1, Max: 128}),
		config.WithTreasuryCaps(config.TreasuryCaps{
			MaxPayoutPerGame: arith.FromUint64(1_000_000),
			PerPeerDailyCap:  arith.FromUint64(10_000_000),
		}),
	)
}

func initialBalances(peers []simPeer, each uint64) map[party.ID]arith.Amount {
	out := make(map[party.ID]arith.Amount, len(peers))
	for _, p := range peers {
		out[p.id] = arith.FromUint64(each)
	}
	return out
}

func printEvents(events []engine.Event) {
	for _, e := range events {
		switch e.Kind {
		case engine.EventPhaseAdvanced:
			fmt.Printf("  [round %d] phase -> %s\n", e.Round, e.Phase)
		case engine.EventStalled:
			fmt.Printf("  [round %d] STALLED: %s\n", e.Round, e.StallReason)
		case engine.EventFinalized:
			fmt.Printf("  [round %d] FINALIZED\n", e.Round)
			for _, s := range e.Settlement {
				fmt.Printf("    %s %s delta=%d locked=%d\n", s.Peer, s.BetType, s.Amount, s.Locked)
			}
		case engine.EventPeerMisbehaved:
			fmt.Printf("  [round %d] peer %s misbehaved: %s\n", e.Round, e.Peer, e.MisbehaveKind)
		case engine.EventCommitAccepted:
			fmt.Printf("  [round %d] commit accepted from %s\n", e.Round, e.Peer)
		case engine.EventRevealAccepted:
			fmt.Printf("  [round %d] reveal accepted from %s\n", e.Round, e.Peer)
		case engine.EventProposalAccepted:
			fmt.Printf("  [round %d] proposal accepted from %s\n", e.Round, e.Peer)
		case engine.EventVoteAccepted:
			fmt.Printf("  [round %d] vote accepted from %s\n", e.Round, e.Peer)
		}
	}
}

// rosterIDs returns the bare peer IDs of a simPeer slice, in the order
// provided, for building the roster/bet lists open_round expects.
func rosterIDs(peers []simPeer) []party.ID {
	out := make([]party.ID, len(peers))
	for i, p := range peers {
		out[i] = p.id
	}
	return out
}
