package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvictPrefersLargerBackwardKDistance(t *testing.T) {
	r := New(2)
	for _, id := range []int{1, 2, 3, 4, 5} {
		r.RecordAccess(id)
		r.SetEvictable(id, true)
	}
	r.RecordAccess(1)
	r.RecordAccess(2)

	// frames 3,4,5 only have one access each, so they're infants with
	// +inf backward distance; among infants, plain LRU applies — frame 3
	// was accessed longest ago among them.
	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 3, id)
}

func TestEvictSkipsNonEvictableFrames(t *testing.T) {
	r := New(2)
	r.RecordAccess(1)
	r.SetEvictable(1, false)
	r.RecordAccess(2)
	r.SetEvictable(2, true)

	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 2, id)
}

func TestEvictReturnsFalseWhenNothingEvictable(t *testing.T) {
	r := New(2)
	r.RecordAccess(1)
	r.SetEvictable(1, false)

	_, ok := r.Evict()
	require.False(t, ok)
}

func TestRemoveDecrementsSize(t *testing.T) {
	r := New(2)
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())

	r.Remove(1)
	require.Equal(t, 0, r.Size())

	_, ok := r.Evict()
	require.False(t, ok)
}

func TestInfantFrameEvictedBeforeMatureFrame(t *testing.T) {
	r := New(2)
	r.RecordAccess(1)
	r.RecordAccess(1)
	r.SetEvictable(1, true)

	r.RecordAccess(2)
	r.SetEvictable(2, true)

	// 2 is still an infant (1 access < k); infants always evict before
	// mature frames regardless of recency.
	id, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 2, id)
}
