package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	msg := []byte("commit round 7")
	sig := Sign(priv, msg)
	assert.True(t, Verify(pub, msg, sig))

	assert.False(t, Verify(pub, []byte("different message"), sig))
}

func TestVerifyNeverPanicsOnMalformedInput(t *testing.T) {
	pub, _, err := GenerateKey()
	require.NoError(t, err)

	assert.False(t, Verify(pub, []byte("msg"), nil))
	assert.False(t, Verify(pub, []byte("msg"), []byte{1, 2, 3}))
	assert.False(t, Verify(PublicKey{}, []byte("msg"), make([]byte, 64)))
}

func TestCommitVerifyCommit(t *testing.T) {
	var value, nonce [32]byte
	value[0] = 7
	nonce[0] = 9

	digest := Commit(value, nonce)
	assert.True(t, VerifyCommit(digest, value, nonce))

	var wrongValue [32]byte
	wrongValue[0] = 8
	assert.False(t, VerifyCommit(digest, wrongValue, nonce))
}

func TestKeyFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	pub1, priv1 := KeyFromSeed(seed)
	pub2, priv2 := KeyFromSeed(seed)
	assert.Equal(t, pub1, pub2)
	assert.Equal(t, priv1, priv2)
}

func TestCombineRandomnessIsOrderIndependent(t *testing.T) {
	reveals := []PeerReveal{
		{Peer: [32]byte{3}, Value: [32]byte{30}},
		{Peer: [32]byte{1}, Value: [32]byte{10}},
		{Peer: [32]byte{2}, Value: [32]byte{20}},
	}
	reversed := []PeerReveal{reveals[2], reveals[1], reveals[0]}

	a, err := CombineRandomness(reveals)
	require.NoError(t, err)
	b, err := CombineRandomness(reversed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCombineRandomnessRejectsEmptyInput(t *testing.T) {
	_, err := CombineRandomness(nil)
	assert.Error(t, err)
}

func TestCombineRandomnessChangesWithAnySingleReveal(t *testing.T) {
	reveals := []PeerReveal{
		{Peer: [32]byte{1}, Value: [32]byte{10}},
		{Peer: [32]byte{2}, Value: [32]byte{20}},
	}
	a, err := CombineRandomness(reveals)
	require.NoError(t, err)

	reveals[1].Value[0] = 21
	b, err := CombineRandomness(reveals)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(16)
	require.NoError(t, err)
	assert.Len(t, b, 16)
}
