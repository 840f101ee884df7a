package disk_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"coredb/storage/disk"
	"coredb/storage/page"
)

func TestAllocatePageNeverHandsOutZero(t *testing.T) {
	dm, err := disk.New(afero.NewMemMapFs(), "/test.db")
	require.NoError(t, err)
	defer dm.Close()

	for i := 0; i < 5; i++ {
		id := dm.AllocatePage()
		require.NotEqual(t, page.ID(0), id)
	}
}

func TestWriteThenReadRoundtrips(t *testing.T) {
	dm, err := disk.New(afero.NewMemMapFs(), "/test.db")
	require.NoError(t, err)
	defer dm.Close()

	id := dm.AllocatePage()
	want := make([]byte, page.Size)
	for i := range want {
		want[i] = byte(i % 251)
	}
	require.NoError(t, dm.WritePage(id, want))

	got := make([]byte, page.Size)
	require.NoError(t, dm.ReadPage(id, got))
	require.Equal(t, want, got)
}

func TestReadUnwrittenPageIsZeroFilled(t *testing.T) {
	dm, err := disk.New(afero.NewMemMapFs(), "/test.db")
	require.NoError(t, err)
	defer dm.Close()

	id := dm.AllocatePage()
	buf := make([]byte, page.Size)
	require.NoError(t, dm.ReadPage(id, buf))
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestReopenRecoversAllocationCursorPastExistingData(t *testing.T) {
	fs := afero.NewMemMapFs()
	dm, err := disk.New(fs, "/test.db")
	require.NoError(t, err)

	var last page.ID
	for i := 0; i < 3; i++ {
		last = dm.AllocatePage()
		require.NoError(t, dm.WritePage(last, make([]byte, page.Size)))
	}
	require.NoError(t, dm.Close())

	dm2, err := disk.New(fs, "/test.db")
	require.NoError(t, err)
	defer dm2.Close()

	next := dm2.AllocatePage()
	require.Greater(t, next, last)
}
