package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustID(t *testing.T, fill byte) ID {
	t.Helper()
	var id ID
	id[len(id)-1] = fill
	return id
}

func TestEquals(t *testing.T) {
	t.Parallel()

	a := mustID(t, 1)
	b := mustID(t, 1)
	c := mustID(t, 2)

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
}

func TestXor(t *testing.T) {
	t.Parallel()

	a := mustID(t, 0x0f)
	b := mustID(t, 0xf0)

	want := mustID(t, 0xff)
	assert.Equal(t, want, Xor(a, b))
}

func TestCloserToTarget(t *testing.T) {
	t.Parallel()

	target := ZeroID
	near := mustID(t, 0x01)
	far := mustID(t, 0x02)

	assert.True(t, CloserToTarget(near, far, target))
	assert.False(t, CloserToTarget(far, near, target))
}

func TestCommonLeadingBits(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		fillA, fillB byte
		expected     int
	}{
		{0x00, 0x01, IDLength*8 - 1},
		{0x00, 0x02, IDLength*8 - 2},
		{0x00, 0x80, IDLength*8 - 8},
		{0x00, 0x00, IDLength * 8},
	}

	for _, tc := range testCases {
		a := mustID(t, tc.fillA)
		b := mustID(t, tc.fillB)
		assert.Equal(t, tc.expected, CommonLeadingBits(a, b))
	}
}

func TestFromBytesRejectsWrongWidth(t *testing.T) {
	t.Parallel()

	_, err := FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)

	id, err := FromBytes(make([]byte, IDLength))
	assert.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestMaxIDIsGreatestUnderLess(t *testing.T) {
	t.Parallel()

	assert.True(t, ZeroID.Less(MaxID))
	assert.False(t, MaxID.Less(ZeroID))
}
