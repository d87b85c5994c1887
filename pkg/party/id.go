// Package party defines peer identity and roster types shared by every
// consensus component.
package party

import (
	"bytes"
	"encoding/hex"
	"sort"
)

// IDLength is the size in bytes of a peer identifier: an Ed25519 public key.
const IDLength = 32

// ID is a peer's stable identifier: its Ed25519 public key.
type ID [IDLength]byte

// String renders the ID as lowercase hex, truncated for log readability.
func (id ID) String() string {
	s := hex.EncodeToString(id[:])
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}

// Bytes returns the raw 32-byte identifier.
func (id ID) Bytes() []byte {
	return id[:]
}

// Less orders two IDs lexicographically by their byte representation. This
// is the fixed ordering used to make combine_randomness and every other
// roster-dependent computation deterministic across peers.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// FromBytes copies a 32-byte public key into an ID. It returns false if b is
// not exactly IDLength bytes.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != IDLength {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Set is a roster: the fixed set of peer IDs eligible to participate in a
// given round (spec: Roster).
type Set struct {
	ordered []ID
	index   map[ID]int
}

// NewSet builds a roster from a slice of IDs. Duplicate IDs are collapsed.
// The resulting roster is stored in a fixed ascending order so that every
// member computes the same ordering without further coordination.
func NewSet(ids []ID) Set {
	seen := make(map[ID]struct{}, len(ids))
	unique := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Less(unique[j]) })
	index := make(map[ID]int, len(unique))
	for i, id := range unique {
		index[id] = i
	}
	return Set{ordered: unique, index: index}
}

// Len returns the roster size, |R| in spec notation.
func (s Set) Len() int {
	return len(s.ordered)
}

// Contains reports whether id is a member of the roster.
func (s Set) Contains(id ID) bool {
	_, ok := s.index[id]
	return ok
}

// IDs returns the roster members in fixed ascending order. The returned
// slice must not be mutated by the caller.
func (s Set) IDs() []ID {
	return s.ordered
}

// IndexOf returns the position of id in the fixed ascending order, or -1 if
// id is not a member.
func (s Set) IndexOf(id ID) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

// Threshold returns ceil(2*|R|/3): the minimum number of distinct signatures
// needed to advance a phase or finalize a round.
func (s Set) Threshold() int {
	return CeilTwoThirds(s.Len())
}

// CeilTwoThirds computes ceil(2*n/3) for a roster of size n.
func CeilTwoThirds(n int) int {
	return (2*n + 2) / 3
}
