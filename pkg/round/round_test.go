package round

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/party"
)

func TestTerminalPhases(t *testing.T) {
	assert.True(t, PhaseFinalized.Terminal())
	assert.True(t, PhaseStalled.Terminal())
	assert.False(t, PhaseCommit.Terminal())
	assert.False(t, PhaseVote.Terminal())
}

func TestPermutationIsDeterministicAndOrderIndependentOfInput(t *testing.T) {
	seed := crypto.Digest{1, 2, 3}
	ids := []party.ID{{1}, {2}, {3}, {4}}

	a := Permutation(seed, ids)
	b := Permutation(seed, []party.ID{ids[3], ids[1], ids[0], ids[2]})
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, ids, a)
}

func TestPermutationChangesWithSeed(t *testing.T) {
	ids := []party.ID{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}}
	a := Permutation(crypto.Digest{1}, ids)
	b := Permutation(crypto.Digest{2}, ids)
	assert.NotEqual(t, a, b)
}

func TestProposerSubDeadlineIsWithinProposeWindow(t *testing.T) {
	d := Deadlines{Propose: 100}
	sub := d.ProposerSubDeadline(0)
	assert.GreaterOrEqual(t, sub, int64(0))
	assert.LessOrEqual(t, sub, d.Propose)
}

func TestDerivedFromBindsCombinedAndBetSet(t *testing.T) {
	combined := crypto.Digest{1}
	betSetA := EncodeBetSet([][32]byte{{1}}, []uint64{100})
	betSetB := EncodeBetSet([][32]byte{{2}}, []uint64{100})

	a := DerivedFrom(combined, betSetA)
	b := DerivedFrom(combined, betSetB)
	assert.NotEqual(t, a, b)
}

func TestEncodeBetSetIsOrderSensitive(t *testing.T) {
	a := EncodeBetSet([][32]byte{{1}, {2}}, []uint64{100, 200})
	b := EncodeBetSet([][32]byte{{2}, {1}}, []uint64{200, 100})
	assert.NotEqual(t, a, b)
}
