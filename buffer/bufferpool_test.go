package buffer_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"coredb/buffer"
	"coredb/storage/disk"
	"coredb/storage/page"
)

func newPool(t *testing.T, poolSize, k int) *buffer.PoolManager {
	t.Helper()
	dm, err := disk.New(afero.NewMemMapFs(), "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return buffer.New(poolSize, k, dm)
}

func TestNewPageThenFetchReturnsSameContent(t *testing.T) {
	bp := newPool(t, 4, 2)

	p, id := bp.NewPage()
	require.NotNil(t, p)
	copy(p.Data(), []byte("hello"))
	require.True(t, bp.UnpinPage(id, true))

	got := bp.FetchPage(id)
	require.NotNil(t, got)
	require.Equal(t, byte('h'), got.Data()[0])
	require.True(t, bp.UnpinPage(id, false))
}

func TestNewPageEvictsWhenPoolIsFull(t *testing.T) {
	bp := newPool(t, 2, 2)

	_, id1 := bp.NewPage()
	bp.UnpinPage(id1, false)
	_, id2 := bp.NewPage()
	bp.UnpinPage(id2, false)

	// Both frames are now unpinned and evictable; a third NewPage must
	// evict one of them rather than fail.
	_, id3 := bp.NewPage()
	require.NotEqual(t, page.InvalidID, id3)
}

func TestNewPageFailsWhenEveryFrameIsPinned(t *testing.T) {
	bp := newPool(t, 1, 2)

	_, id1 := bp.NewPage()
	require.NotEqual(t, page.InvalidID, id1)

	p, id2 := bp.NewPage()
	require.Nil(t, p)
	require.Equal(t, page.InvalidID, id2)
}

func TestUnpinPageOnAbsentPageReturnsFalse(t *testing.T) {
	bp := newPool(t, 2, 2)
	require.False(t, bp.UnpinPage(page.ID(999), false))
}

func TestFlushAllPagesClearsDirtyFlags(t *testing.T) {
	bp := newPool(t, 2, 2)

	_, id := bp.NewPage()
	bp.UnpinPage(id, true)

	bp.FlushAllPages()
	p := bp.FetchPage(id)
	require.NotNil(t, p)
	require.False(t, p.IsDirty())
	require.True(t, bp.UnpinPage(id, false))
	require.True(t, bp.FlushPage(id))
}

func TestDeletePageFailsWhilePinned(t *testing.T) {
	bp := newPool(t, 2, 2)
	_, id := bp.NewPage()

	require.False(t, bp.DeletePage(id))

	bp.UnpinPage(id, false)
	require.True(t, bp.DeletePage(id))
}
