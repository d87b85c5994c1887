package engine_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/engine"
	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/round"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

func gameIDFor(tag string) [16]byte {
	var id [16]byte
	copy(id[:], tag)
	return id
}

var _ = Describe("A round that every peer participates in honestly", func() {
	It("finalizes with a settlement every peer can independently reproduce", func() {
		peers := newTestPeers(4)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("happy-path")
		bets := []engine.Bet{{Peer: peers[0].id, ID: [16]byte{1}, Type: engine.BetPassLine, Amount: 100, MaxPayout: 200}}

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), bets, t0)
		Expect(err).NotTo(HaveOccurred())

		commitAll(eng, gameID, handle.Round, peers, t0)
		eng.Tick(t0)

		t1 := t0.Add(time.Second)
		reveals := revealAll(eng, gameID, handle.Round, peers, t1)
		eng.Tick(t1)

		combined, err := cryptoCombine(reveals)
		Expect(err).NotTo(HaveOccurred())

		eligible := rosterOf(peers)
		order := round.Permutation(combined, eligible)
		proposer := findTestPeer(peers, order[0])

		entries := engine.ComputeSettlement(bets, [32]byte(combined))
		body := wire.ProposalBody{Settlement: entries, DerivedFrom: engine.DerivedFrom(bets, [32]byte(combined))}
		t2 := t1.Add(time.Second)
		raw := buildSigned(gameID, handle.Round, proposer, wire.KindProposal, body, t2)
		_, err = submit(eng, raw)
		Expect(err).NotTo(HaveOccurred())

		pHash := proposalHash(body)
		t3 := t2.Add(time.Second)
		threshold := party.CeilTwoThirds(len(peers))
		for i, p := range peers {
			raw := buildSigned(gameID, handle.Round, p, wire.KindVote, wire.VoteBody{ProposalHash: [32]byte(pHash), Approve: true}, t3)
			_, err := submit(eng, raw)
			if i < threshold {
				Expect(err).NotTo(HaveOccurred())
				continue
			}
			// The threshold vote already finalized the round, so later votes
			// arrive at a terminal phase.
			var rejected *engine.Rejected
			Expect(castRejected(err, &rejected)).To(BeTrue())
			Expect(rejected.Reason).To(Equal(engine.RejectWrongPhase))
		}
		events := eng.Tick(t3)

		var finalized bool
		for _, e := range events {
			if e.Kind == engine.EventFinalized {
				finalized = true
			}
		}
		Expect(finalized).To(BeTrue())

		snap, ok := eng.Query(gameID, handle.Round)
		Expect(ok).To(BeTrue())
		Expect(snap.Phase).To(Equal(round.PhaseFinalized))
	})
})

var _ = Describe("A round where fewer than the threshold commit", func() {
	It("stalls with InsufficientCommits and refunds every locked bet", func() {
		peers := newTestPeers(10)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("majority-attack")
		bets := []engine.Bet{{Peer: peers[0].id, ID: [16]byte{1}, Type: engine.BetFieldBet, Amount: 20, MaxPayout: 60}}

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), bets, t0)
		Expect(err).NotTo(HaveOccurred())

		commitAll(eng, gameID, handle.Round, peers[:3], t0)
		events := eng.Tick(t0.Add(11 * time.Second))

		var stalled bool
		for _, e := range events {
			if e.Kind == engine.EventStalled {
				stalled = true
				Expect(e.StallReason).To(Equal(round.StallInsufficientCommits))
			}
		}
		Expect(stalled).To(BeTrue())

		snap := eng.Treasury().Health()
		Expect(snap.TotalLocked.IsZero()).To(BeTrue())
		Expect(snap.Available[peers[0].id].Uint64()).To(Equal(uint64(10_000)))
	})
})

var _ = Describe("A minority that withholds commits but still meets threshold", func() {
	It("proceeds past the commit phase on a 7-of-10 roster", func() {
		peers := newTestPeers(10)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("minority-withholds")

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), nil, t0)
		Expect(err).NotTo(HaveOccurred())

		commitAll(eng, gameID, handle.Round, peers[:7], t0)
		eng.Tick(t0.Add(11 * time.Second))

		snap, ok := eng.Query(gameID, handle.Round)
		Expect(ok).To(BeTrue())
		Expect(snap.Phase).To(Equal(round.PhaseReveal))
		Expect(snap.Commits).To(Equal(7))
	})
})

var _ = Describe("A reveal that does not match its commit", func() {
	It("is rejected, penalizes the offending peer, and still advances to Propose on the remaining valid reveals", func() {
		peers := newTestPeers(5)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("invalid-reveal")
		bets := []engine.Bet{{Peer: peers[0].id, ID: [16]byte{1}, Type: engine.BetAnySeven, Amount: 50, MaxPayout: 250}}

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), bets, t0)
		Expect(err).NotTo(HaveOccurred())

		commitAll(eng, gameID, handle.Round, peers, t0)
		eng.Tick(t0)

		t1 := t0.Add(time.Second)
		badPeer := peers[2]
		reveals := make([]crypto.PeerReveal, 0, len(peers))
		for i, p := range peers {
			value, nonce := literalSecret(byte(i + 1))
			if p.id == badPeer.id {
				value = [32]byte{250, 251, 252}
			}
			raw := buildSigned(gameID, handle.Round, p, wire.KindReveal, wire.RevealBody{Value: value, Nonce: nonce}, t1)
			_, err := submit(eng, raw)
			if p.id == badPeer.id {
				Expect(err).To(HaveOccurred())
				var rejected *engine.Rejected
				Expect(castRejected(err, &rejected)).To(BeTrue())
				Expect(rejected.Reason).To(Equal(engine.RejectInvalidReveal))
			} else {
				Expect(err).NotTo(HaveOccurred())
				reveals = append(reveals, crypto.PeerReveal{Peer: [32]byte(p.id), Value: value})
			}
		}
		eng.Tick(t1.Add(20 * time.Second))

		snap, ok := eng.Query(gameID, handle.Round)
		Expect(ok).To(BeTrue())
		Expect(snap.Reveals).To(Equal(4))
		Expect(snap.Phase).To(Equal(round.PhasePropose))

		score := eng.Reputation().Score(badPeer.id)
		Expect(score).To(BeNumerically("<", eng.Reputation().Score(peers[0].id)))
	})
})

var _ = Describe("A stale commit timestamp", func() {
	It("is rejected for timestamp skew after counting against the sender's rate limit", func() {
		peers := newTestPeers(1)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("timestamp-replay")

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), nil, t0)
		Expect(err).NotTo(HaveOccurred())

		value, nonce := literalSecret(1)
		digest := commitDigest(value, nonce)
		stale := t0.Add(-7200 * time.Second)
		raw := buildSigned(gameID, handle.Round, peers[0], wire.KindCommit, wire.CommitBody{Digest: digest}, stale)

		_, err = submit(eng, raw)
		Expect(err).To(HaveOccurred())
		var rejected *engine.Rejected
		Expect(castRejected(err, &rejected)).To(BeTrue())
		Expect(rejected.Reason).To(Equal(engine.RejectTimestampSkew))
	})
})

var _ = Describe("A round that nobody proposes for", func() {
	It("stalls with NoProposal and allows a clean second round to open", func() {
		peers := newTestPeers(3)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("stall-and-unlock")
		bets := []engine.Bet{{Peer: peers[0].id, ID: [16]byte{1}, Type: engine.BetPassLine, Amount: 100, MaxPayout: 200}}

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), bets, t0)
		Expect(err).NotTo(HaveOccurred())

		commitAll(eng, gameID, handle.Round, peers, t0)
		eng.Tick(t0)
		t1 := t0.Add(time.Second)
		revealAll(eng, gameID, handle.Round, peers, t1)
		eng.Tick(t1)

		events := eng.Tick(t1.Add(24 * time.Second))
		var stalled bool
		for _, e := range events {
			if e.Kind == engine.EventStalled {
				stalled = true
				Expect(e.StallReason).To(Equal(round.StallNoProposal))
			}
		}
		Expect(stalled).To(BeTrue())

		t2 := t1.Add(25 * time.Second)
		handle2, err := eng.OpenRound(gameID, rosterOf(peers), bets, t2)
		Expect(err).NotTo(HaveOccurred())
		Expect(handle2.Round).To(Equal(handle.Round + 1))
	})
})

var _ = Describe("Duplicate and out-of-roster messages", func() {
	It("rejects a second commit from the same peer in the same round", func() {
		peers := newTestPeers(3)
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("duplicate-commit")

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), nil, t0)
		Expect(err).NotTo(HaveOccurred())

		value, nonce := literalSecret(1)
		digest := commitDigest(value, nonce)
		raw := buildSigned(gameID, handle.Round, peers[0], wire.KindCommit, wire.CommitBody{Digest: digest}, t0)
		_, err = submit(eng, raw)
		Expect(err).NotTo(HaveOccurred())

		_, err = submit(eng, raw)
		Expect(err).To(HaveOccurred())
		var rejected *engine.Rejected
		Expect(castRejected(err, &rejected)).To(BeTrue())
		Expect(rejected.Reason).To(Equal(engine.RejectDuplicate))
	})

	It("rejects a message from a peer outside the round's roster", func() {
		peers := newTestPeers(3)
		outsider := newTestPeer()
		eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
		gameID := gameIDFor("not-in-roster")

		t0 := time.Now().UTC()
		handle, err := eng.OpenRound(gameID, rosterOf(peers), nil, t0)
		Expect(err).NotTo(HaveOccurred())

		value, nonce := literalSecret(1)
		digest := commitDigest(value, nonce)
		raw := buildSigned(gameID, handle.Round, outsider, wire.KindCommit, wire.CommitBody{Digest: digest}, t0)
		_, err = submit(eng, raw)
		Expect(err).To(HaveOccurred())
		var rejected *engine.Rejected
		Expect(castRejected(err, &rejected)).To(BeTrue())
		Expect(rejected.Reason).To(Equal(engine.RejectNotInRoster))
	})
})

var _ = Describe("Roster size boundaries", func() {
	It("accepts rosters of every size spec section 8 names", func() {
		for _, n := range []int{1, 2, 3, 4, 7, 10, 100} {
			peers := newTestPeers(n)
			eng := engine.New(fastConfig(), balancesOf(peers, 10_000))
			gameID := gameIDFor("roster-size")
			t0 := time.Now().UTC()
			handle, err := eng.OpenRound(gameID, rosterOf(peers), nil, t0)
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.Round).To(Equal(uint64(1)))
		}
	})

	It("rejects a roster of 0, since spec.md bounds roster size at 1 or more", func() {
		eng := engine.New(fastConfig(), nil)
		gameID := gameIDFor("empty-roster")
		_, err := eng.OpenRound(gameID, nil, nil, time.Now().UTC())
		Expect(err).To(HaveOccurred())
	})
})

func findTestPeer(peers []testPeer, id party.ID) testPeer {
	for _, p := range peers {
		if p.id == id {
			return p
		}
	}
	panic("peer not found")
}
