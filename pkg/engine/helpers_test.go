package engine_test

import (
	"context"
	"errors"
	"time"

	"github.com/rawblock/diceconsensus/pkg/arith"
	"github.com/rawblock/diceconsensus/pkg/config"
	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/engine"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

type testPeer struct {
	pub  crypto.PublicKey
	priv crypto.PrivateKey
	id   party.ID
}

func newTestPeer() testPeer {
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	id, ok := party.FromBytes(pub)
	if !ok {
		panic("unexpected public key length")
	}
	return testPeer{pub: pub, priv: priv, id: id}
}

func newTestPeers(n int) []testPeer {
	out := make([]testPeer, n)
	for i := range out {
		out[i] = newTestPeer()
	}
	return out
}

func rosterOf(peers []testPeer) []party.ID {
	out := make([]party.ID, len(peers))
	for i, p := range peers {
		out[i] = p.id
	}
	return out
}

func balancesOf(peers []testPeer, each uint64) map[party.ID]arith.Amount {
	out := make(map[party.ID]arith.Amount, len(peers))
	for _, p := range peers {
		out[p.id] = arith.FromUint64(each)
	}
	return out
}

func fastConfig() config.Config {
	cfg, err := config.New(
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
	if err != nil {
		panic(err)
	}
	return cfg
}

func buildSigned(gameID [16]byte, roundNum uint64, p testPeer, kind wire.Kind, body interface{}, at time.Time) []byte {
	h := wire.Header{
		Kind:      kind,
		Timestamp: at.Unix(),
		GameID:    gameID,
		Round:     roundNum,
		Peer:      [32]byte(p.id),
	}
	signedBytes, err := wire.SignedBytes(h, body)
	if err != nil {
		panic(err)
	}
	sig := crypto.Sign(p.priv, signedBytes)
	var sigArr [wire.SignatureSize]byte
	copy(sigArr[:], sig)
	raw, err := wire.Encode(wire.Signed{Header: h, Body: body, Signature: sigArr})
	if err != nil {
		panic(err)
	}
	return raw
}

func submit(eng *engine.Engine, raw []byte) (engine.Accepted, error) {
	return eng.SubmitSigned(context.Background(), raw)
}

func literalSecret(i byte) (value, nonce [32]byte) {
	for j := range value {
		value[j] = i
	}
	for j := range nonce {
		nonce[j] = 100 + i
	}
	return value, nonce
}

func commitAll(eng *engine.Engine, gameID [16]byte, roundNum uint64, peers []testPeer, at time.Time) {
	for i, p := range peers {
		value, nonce := literalSecret(byte(i + 1))
		digest := crypto.Commit(value, nonce)
		raw := buildSigned(gameID, roundNum, p, wire.KindCommit, wire.CommitBody{Digest: [32]byte(digest)}, at)
		if _, err := submit(eng, raw); err != nil {
			panic(err)
		}
	}
}

func revealAll(eng *engine.Engine, gameID [16]byte, roundNum uint64, peers []testPeer, at time.Time) []crypto.PeerReveal {
	reveals := make([]crypto.PeerReveal, len(peers))
	for i, p := range peers {
		value, nonce := literalSecret(byte(i + 1))
		raw := buildSigned(gameID, roundNum, p, wire.KindReveal, wire.RevealBody{Value: value, Nonce: nonce}, at)
		if _, err := submit(eng, raw); err != nil {
			panic(err)
		}
		reveals[i] = crypto.PeerReveal{Peer: [32]byte(p.id), Value: value}
	}
	return reveals
}

func proposalHash(body wire.ProposalBody) crypto.Digest {
	canonical, err := wire.SignedBytes(wire.Header{Kind: wire.KindProposal}, body)
	if err != nil {
		panic(err)
	}
	return crypto.Hash(canonical)
}

// cryptoCombine is the test-visible name for the randomness combination a
// peer runs once all reveals are in hand, mirroring advanceToPropose.
func cryptoCombine(reveals []crypto.PeerReveal) (crypto.Digest, error) {
	return crypto.CombineRandomness(reveals)
}

// commitDigest builds the commit digest a peer signs and sends in a
// wire.CommitBody for one (value, nonce) secret pair.
func commitDigest(value, nonce [32]byte) [32]byte {
	return [32]byte(crypto.Commit(value, nonce))
}

// castRejected unwraps err into an *engine.Rejected, the same way a real
// caller inspects SubmitSigned's error to read its RejectReason.
func castRejected(err error, target **engine.Rejected) bool {
	return errors.As(err, target)
}
