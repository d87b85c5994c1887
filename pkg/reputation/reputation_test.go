package reputation_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rawblock/diceconsensus/pkg/party"
	"github.com/rawblock/diceconsensus/pkg/reputation"
)

func peerID(b byte) party.ID {
	var id party.ID
	id[0] = b
	return id
}

var _ = Describe("Reputation scoring", func() {
	var rep *reputation.Reputation

	BeforeEach(func() {
		rep = reputation.New(reputation.DefaultConfig())
	})

	Context("a peer with no recorded events", func() {
		It("reports the configured initial score", func() {
			Expect(rep.Score(peerID(1))).To(Equal(reputation.DefaultConfig().Initial))
		})
	})

	Context("repeated positive events", func() {
		It("clamps the score at the configured maximum", func() {
			p := peerID(1)
			for i := 0; i < 60; i++ {
				rep.Apply(p, reputation.CompletedRound, uint64(i), time.Now())
			}
			Expect(rep.Score(p)).To(Equal(reputation.DefaultConfig().Max))
		})
	})

	Context("repeated cheating events", func() {
		It("clamps the score at the configured minimum and revokes participation", func() {
			p := peerID(1)
			for i := 0; i < 20; i++ {
				rep.Apply(p, reputation.Cheating, uint64(i), time.Now())
			}
			Expect(rep.Score(p)).To(Equal(reputation.DefaultConfig().Min))
			Expect(rep.MayParticipate(p)).To(BeFalse())
			Expect(rep.MayVoteOnDispute(p)).To(BeFalse())
		})
	})

	Context("event history", func() {
		It("records events in the order they were applied", func() {
			p := peerID(1)
			rep.Apply(p, reputation.CompletedRound, 1, time.Unix(100, 0))
			rep.Apply(p, reputation.FailedCommit, 2, time.Unix(200, 0))

			hist := rep.History(p)
			Expect(hist).To(HaveLen(2))
			Expect(hist[0].Round).To(Equal(uint64(1)))
			Expect(hist[1].Round).To(Equal(uint64(2)))
		})

		It("returns nothing for a peer that has never had an event applied", func() {
			Expect(rep.History(peerID(9))).To(BeEmpty())
		})
	})
})

var _ = Describe("Dispute resolution", func() {
	var (
		rep   *reputation.Reputation
		store *reputation.DisputeStore
	)

	BeforeEach(func() {
		rep = reputation.New(reputation.DefaultConfig())
		store = reputation.NewDisputeStore(rep, func() int { return 4 })
	})

	Context("dispute kind names", func() {
		It("renders each dispute kind's name", func() {
			Expect(reputation.DisputeCheating.String()).To(Equal("cheating"))
			Expect(reputation.DisputeProtocolViolation.String()).To(Equal("protocol-violation"))
		})
	})

	Context("a protocol-violation dispute reaching a simple majority", func() {
		It("resolves guilty and applies a Cheating penalty to the accused", func() {
			accused := peerID(1)
			before := rep.Score(accused)
			d := store.Open(reputation.DisputeProtocolViolation, 5, accused, []byte("evidence"))

			voters := []party.ID{peerID(2), peerID(3), peerID(4)}
			for i, v := range voters {
				Expect(store.Vote(d.ID, v, true, 5, time.Now())).To(Succeed())
				verdict, ok := store.Verdict(d.ID)
				Expect(ok).To(BeTrue())
				if i < 2 {
					Expect(verdict).To(Equal(reputation.VerdictPending))
				} else {
					Expect(verdict).To(Equal(reputation.VerdictGuilty))
				}
			}
			Expect(rep.Score(accused)).To(BeNumerically("<", before))
		})
	})

	Context("a voter below the dispute voting threshold", func() {
		It("rejects the vote as ineligible", func() {
			lowRep := peerID(2)
			rep.Apply(lowRep, reputation.Cheating, 1, time.Now())
			rep.Apply(lowRep, reputation.Cheating, 1, time.Now())

			d := store.Open(reputation.DisputeProtocolViolation, 1, peerID(1), nil)
			err := store.Vote(d.ID, lowRep, true, 1, time.Now())
			Expect(err).To(MatchError(reputation.ErrNotEligible))
		})
	})

	Context("a dispute that has already resolved", func() {
		It("rejects further votes", func() {
			twoPeerStore := reputation.NewDisputeStore(rep, func() int { return 2 })
			d := twoPeerStore.Open(reputation.DisputeProtocolViolation, 1, peerID(1), nil)

			Expect(twoPeerStore.Vote(d.ID, peerID(2), true, 1, time.Now())).To(Succeed())
			Expect(twoPeerStore.Vote(d.ID, peerID(3), true, 1, time.Now())).To(Succeed())

			err := twoPeerStore.Vote(d.ID, peerID(4), true, 1, time.Now())
			Expect(err).To(MatchError(reputation.ErrAlreadyResolved))
		})
	})
})
