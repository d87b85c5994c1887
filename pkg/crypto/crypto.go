// Package crypto implements the primitive operations the consensus engine
// is built on: Ed25519 signatures, SHA-256 hashing, commit-reveal binding,
// and OS-entropy randomness. Nothing here ever panics; malformed input
// produces a verification-failure result, never a crash.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sort"

	"golang.org/x/crypto/ed25519"
)

// DigestLength is the size in bytes of a SHA-256 digest, and of every
// commit/reveal value and nonce in this protocol.
const DigestLength = 32

// Digest is a 32-byte SHA-256 output.
type Digest [DigestLength]byte

// Bytes returns the digest's raw bytes.
func (d Digest) Bytes() []byte { return d[:] }

// PrivateKey is an Ed25519 signing key.
type PrivateKey = ed25519.PrivateKey

// PublicKey is an Ed25519 verification key.
type PublicKey = ed25519.PublicKey

// Signature is a raw 64-byte Ed25519 signature.
type Signature []byte

// GenerateKey produces a new Ed25519 keypair from OS entropy. It is never
// seeded from user-supplied or otherwise predictable input.
func GenerateKey() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return pub, priv, nil
}

// KeyFromSeed deterministically derives an Ed25519 keypair from a 32-byte
// seed. Used only for context-bound sub-keys whose seed material itself
// came from OS entropy (see pkg/keystore) — never for top-level identity
// keys, which are always freshly generated.
func KeyFromSeed(seed []byte) (PublicKey, PrivateKey) {
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

// Sign produces a deterministic Ed25519 signature over message.
func Sign(key PrivateKey, message []byte) Signature {
	return Signature(ed25519.Sign(key, message))
}

// Verify reports whether sig is a valid Ed25519 signature by pub over
// message. Malformed keys or signatures of the wrong length simply fail
// verification; they never panic.
func Verify(pub PublicKey, message []byte, sig Signature) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, []byte(sig))
}

// Hash computes SHA-256(data).
func Hash(data []byte) Digest {
	return sha256.Sum256(data)
}

// Commit computes the binding digest H(value || nonce) for a commit-reveal
// pair. Both value and nonce must be exactly DigestLength bytes.
func Commit(value, nonce [DigestLength]byte) Digest {
	buf := make([]byte, 0, 2*DigestLength)
	buf = append(buf, value[:]...)
	buf = append(buf, nonce[:]...)
	return Hash(buf)
}

// VerifyCommit recomputes H(value || nonce) and compares it to digest in
// constant time, so timing does not leak how many leading bytes matched.
func VerifyCommit(digest Digest, value, nonce [DigestLength]byte) bool {
	got := Commit(value, nonce)
	return subtle.ConstantTimeCompare(got[:], digest[:]) == 1
}

// PeerReveal pairs a peer identifier with the value it revealed, the sole
// input combine_randomness needs once binding has already been checked by
// the caller.
type PeerReveal struct {
	Peer  [32]byte
	Value [DigestLength]byte
}

// CombineRandomness computes the group's combined randomness: sort reveal
// values by peer ID ascending, then SHA-256 over the concatenation. The
// result is deterministic and commutative up to the fixed ordering; at
// least one reveal is required.
func CombineRandomness(reveals []PeerReveal) (Digest, error) {
	if len(reveals) == 0 {
		return Digest{}, fmt.Errorf("crypto: combine_randomness: no reveals")
	}
	sorted := make([]PeerReveal, len(reveals))
	copy(sorted, reveals)
	sort.Slice(sorted, func(i, j int) bool {
		return compareBytes(sorted[i].Peer[:], sorted[j].Peer[:]) < 0
	})
	buf := make([]byte, 0, len(sorted)*DigestLength)
	for _, r := range sorted {
		buf = append(buf, r.Value[:]...)
	}
	return Hash(buf), nil
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// RandomBytes returns n bytes of OS entropy. It is used for nonces, session
// keys, and seed material — never for anything derived from user input.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto: random_bytes: %w", err)
	}
	return buf, nil
}
