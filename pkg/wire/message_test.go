package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(kind Kind) Header {
	return Header{
		Kind:      kind,
		Timestamp: 1_700_000_000,
		GameID:    [GameIDSize]byte{1, 2, 3},
		Round:     7,
		Peer:      [32]byte{9},
	}
}

func TestEncodeDecodeCommitRoundTrip(t *testing.T) {
	h := header(KindCommit)
	body := CommitBody{Digest: [32]byte{1, 2, 3}}
	signed, err := Encode(Signed{Header: h, Body: body, Signature: [SignatureSize]byte{5}})
	require.NoError(t, err)

	decoded, signedBytes, err := Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, h, decoded.Header)
	assert.Equal(t, body, decoded.Body)
	assert.NotEmpty(t, signedBytes)
}

func TestEncodeDecodeRevealRoundTrip(t *testing.T) {
	h := header(KindReveal)
	body := RevealBody{Value: [32]byte{4}, Nonce: [32]byte{5}}
	signed, err := Encode(Signed{Header: h, Body: body})
	require.NoError(t, err)

	decoded, _, err := Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, body, decoded.Body)
}

func TestEncodeDecodeProposalRoundTrip(t *testing.T) {
	h := header(KindProposal)
	body := ProposalBody{Settlement: []SettlementEntry{
		{Peer: [32]byte{1}, Amount: -100, BetType: "pass_line", Locked: 200},
		{Peer: [32]byte{2}, Amount: 100, BetType: "pass_line", Locked: 0},
	}}
	signed, err := Encode(Signed{Header: h, Body: body})
	require.NoError(t, err)

	decoded, _, err := Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, body, decoded.Body)
}

func TestEncodeDecodeVoteRoundTrip(t *testing.T) {
	h := header(KindVote)
	body := VoteBody{ProposalHash: [32]byte{6}, Approve: true}
	signed, err := Encode(Signed{Header: h, Body: body})
	require.NoError(t, err)

	decoded, _, err := Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, body, decoded.Body)
}

func TestSignedBytesRejectsMismatchedKindAndBody(t *testing.T) {
	_, err := SignedBytes(header(KindCommit), RevealBody{})
	assert.Error(t, err)
}

func TestSignedBytesIsDeterministic(t *testing.T) {
	h := header(KindCommit)
	body := CommitBody{Digest: [32]byte{1}}
	a, err := SignedBytes(h, body)
	require.NoError(t, err)
	b, err := SignedBytes(h, body)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeRejectsOversizeMessage(t *testing.T) {
	huge := make([]byte, MaxMessageSize+1)
	_, _, err := Decode(huge)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedMessage(t *testing.T) {
	_, _, err := Decode(make([]byte, SignatureSize-1))
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	env := NewEnvelope(raw)
	data, err := MarshalEnvelope(env)
	require.NoError(t, err)

	decoded, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, raw, decoded.Raw)
}
