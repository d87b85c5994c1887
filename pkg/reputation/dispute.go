package reputation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/diceconsensus/pkg/party"
)

// DisputeKind enumerates the out-of-band proposals peers can raise against
// one another. Each kind carries its own required-approvals count, mirroring
// original_source/src/sdk_v2/consensus.rs's differentiated proposal presets
// (kicking a player demands more consensus than a routine proposal).
type DisputeKind int

const (
	DisputeCheating DisputeKind = iota
	DisputeProtocolViolation
)

func (k DisputeKind) String() string {
	switch k {
	case DisputeCheating:
		return "cheating"
	case DisputeProtocolViolation:
		return "protocol-violation"
	default:
		return fmt.Sprintf("dispute(%d)", int(k))
	}
}

// requiredApprovals returns how many distinct reputable votes a dispute of
// this kind needs to reach a verdict. Cheating accusations — which end a
// peer's ability to participate — need ceil(2n/3) votes, a routine
// protocol-violation complaint a simple majority n/2+1: never fewer for
// cheating, and more for some roster sizes (5 or 7, for example), though
// the two are equal for others such as 4.
func (k DisputeKind) requiredApprovals(rosterSize int) int {
	switch k {
	case DisputeCheating:
		return party.CeilTwoThirds(rosterSize)
	default:
		return rosterSize/2 + 1
	}
}

// Verdict is the outcome of a resolved dispute.
type Verdict int

const (
	VerdictPending Verdict = iota
	VerdictGuilty
	VerdictNotGuilty
)

// Dispute is an evidence-backed accusation against a peer, voted on by
// peers whose reputation clears the voting threshold.
type Dispute struct {
	ID       uuid.UUID
	Kind     DisputeKind
	Round    uint64
	Accused  party.ID
	Evidence []byte
	votes    map[party.ID]bool
	verdict  Verdict
}

// DisputeStore tracks open and resolved disputes.
type DisputeStore struct {
	mu        sync.Mutex
	rep       *Reputation
	rosterLen func() int
	disputes  map[uuid.UUID]*Dispute
}

// NewDisputeStore creates a dispute store backed by rep for score checks
// and eligibility, using rosterLen to size the approval threshold per
// dispute kind against the current roster.
func NewDisputeStore(rep *Reputation, rosterLen func() int) *DisputeStore {
	return &DisputeStore{rep: rep, rosterLen: rosterLen, disputes: make(map[uuid.UUID]*Dispute)}
}

// Open files a new dispute, evidence in hand. Evidence verification itself
// (e.g. checking two signed conflicting messages from the accused) is the
// caller's responsibility — this store only tracks votes and verdicts, so
// that the same evidence can be reproduced and checked by any participant.
func (s *DisputeStore) Open(kind DisputeKind, round uint64, accused party.ID, evidence []byte) *Dispute {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Dispute{
		ID:       uuid.New(),
		Kind:     kind,
		Round:    round,
		Accused:  accused,
		Evidence: evidence,
		votes:    make(map[party.ID]bool),
		verdict:  VerdictPending,
	}
	s.disputes[d.ID] = d
	return d
}

// ErrNotEligible is returned by Vote when the voter's reputation does not
// clear the voting threshold.
var ErrNotEligible = fmt.Errorf("reputation: voter not eligible to vote on disputes")

// ErrAlreadyResolved is returned by Vote once a dispute has reached a
// verdict.
var ErrAlreadyResolved = fmt.Errorf("reputation: dispute already resolved")

// Vote records voter's guilty/not-guilty ballot on a dispute. Once enough
// distinct votes accumulate in one direction to reach the kind's required
// approvals, the verdict is resolved and, if guilty, a Cheating event is
// applied to the accused.
func (s *DisputeStore) Vote(id uuid.UUID, voter party.ID, guilty bool, round uint64, at time.Time) error {
	if !s.rep.MayVoteOnDispute(voter) {
		return ErrNotEligible
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return fmt.Errorf("reputation: unknown dispute %s", id)
	}
	if d.verdict != VerdictPending {
		return ErrAlreadyResolved
	}
	d.votes[voter] = guilty

	guiltyCount, notGuiltyCount := 0, 0
	for _, v := range d.votes {
		if v {
			guiltyCount++
		} else {
			notGuiltyCount++
		}
	}
	required := d.Kind.requiredApprovals(s.rosterLen())
	switch {
	case guiltyCount >= required:
		d.verdict = VerdictGuilty
		s.rep.Apply(d.Accused, Cheating, round, at)
		log.Infof("reputation: dispute %s against %s resolved guilty", d.ID, d.Accused)
	case notGuiltyCount >= required:
		d.verdict = VerdictNotGuilty
		log.Infof("reputation: dispute %s against %s resolved not guilty", d.ID, d.Accused)
	}
	return nil
}

// Verdict returns the current verdict for a dispute, VerdictPending if it
// has not yet been resolved.
func (s *DisputeStore) Verdict(id uuid.UUID) (Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return VerdictPending, false
	}
	return d.verdict, true
}
