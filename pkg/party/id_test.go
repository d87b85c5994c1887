package party

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, ok := FromBytes(make([]byte, 31))
	assert.False(t, ok)

	id, ok := FromBytes(make([]byte, 32))
	require.True(t, ok)
	assert.Equal(t, ID{}, id)
}

func TestSetDedupesAndOrders(t *testing.T) {
	a := ID{1}
	b := ID{2}
	set := NewSet([]ID{b, a, a, b})

	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []ID{a, b}, set.IDs())
	assert.Equal(t, 0, set.IndexOf(a))
	assert.Equal(t, 1, set.IndexOf(b))
	assert.Equal(t, -1, set.IndexOf(ID{9}))
	assert.True(t, set.Contains(a))
	assert.False(t, set.Contains(ID{9}))
}

func TestLessIsLexicographic(t *testing.T) {
	a := ID{1}
	b := ID{2}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

// TestCeilTwoThirdsBoundaries exercises the roster sizes spec section 8
// names explicitly: {1,2,3,4,7,10,100}.
func TestCeilTwoThirdsBoundaries(t *testing.T) {
	cases := map[int]int{
		1:   1,
		2:   2,
		3:   2,
		4:   3,
		7:   5,
		10:  7,
		100: 67,
	}
	for n, want := range cases {
		assert.Equalf(t, want, CeilTwoThirds(n), "n=%d", n)
	}
}

func TestThresholdMatchesCeilTwoThirds(t *testing.T) {
	ids := make([]ID, 10)
	for i := range ids {
		ids[i] = ID{byte(i + 1)}
	}
	set := NewSet(ids)
	assert.Equal(t, CeilTwoThirds(10), set.Threshold())
}

func TestStringTruncatesToTwelveHexChars(t *testing.T) {
	var id ID
	for i := range id {
		id[i] = 0xAB
	}
	s := id.String()
	assert.Len(t, s, 12)
}
