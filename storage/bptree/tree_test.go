package bptree_test

import (
	"sync"
	"testing"

	"github.com/panjf2000/ants"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"coredb/buffer"
	"coredb/rid"
	"coredb/storage/bptree"
	"coredb/storage/disk"
	"coredb/storage/page"
	"coredb/txn"
)

func newTree(t *testing.T, leafMax, internalMax int) *bptree.Tree {
	t.Helper()
	fs := afero.NewMemMapFs()
	dm, err := disk.New(fs, "/index.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	pool := buffer.New(64, 2, dm)
	return bptree.Open("t", pool, leafMax, internalMax)
}

func TestTreeInsertAndGetValue(t *testing.T) {
	tree := newTree(t, 4, 4)

	for i := int64(1); i <= 10; i++ {
		tx := txn.New(txn.RepeatableRead)
		ok := tree.Insert(i, rid.New(page.ID(i), 0), tx)
		require.True(t, ok)
	}

	for i := int64(1); i <= 10; i++ {
		tx := txn.New(txn.RepeatableRead)
		v, found := tree.GetValue(i, tx)
		require.True(t, found)
		require.Equal(t, page.ID(i), v.PageID)
	}
}

func TestTreeRejectsDuplicateInsert(t *testing.T) {
	tree := newTree(t, 4, 4)
	tx1 := txn.New(txn.RepeatableRead)
	require.True(t, tree.Insert(5, rid.New(1, 0), tx1))

	tx2 := txn.New(txn.RepeatableRead)
	require.False(t, tree.Insert(5, rid.New(2, 0), tx2))
}

func TestTreeIterationOrder(t *testing.T) {
	tree := newTree(t, 4, 4)
	keys := []int64{9, 3, 7, 1, 5, 2, 8, 4, 6, 10}
	for _, k := range keys {
		tx := txn.New(txn.RepeatableRead)
		require.True(t, tree.Insert(k, rid.New(page.ID(k), 0), tx))
	}

	var got []int64
	for it := tree.Begin(); it.Valid(); it.Next() {
		got = append(got, it.Key())
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestTreeBeginAtSkipsLowerKeys(t *testing.T) {
	tree := newTree(t, 4, 4)
	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7, 8} {
		tx := txn.New(txn.RepeatableRead)
		require.True(t, tree.Insert(k, rid.New(page.ID(k), 0), tx))
	}

	var got []int64
	for it := tree.BeginAt(5); it.Valid(); it.Next() {
		got = append(got, it.Key())
	}
	require.Equal(t, []int64{5, 6, 7, 8}, got)
}

func TestTreeRemoveThenGetValueMisses(t *testing.T) {
	tree := newTree(t, 4, 4)
	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7, 8} {
		tx := txn.New(txn.RepeatableRead)
		require.True(t, tree.Insert(k, rid.New(page.ID(k), 0), tx))
	}

	remover := txn.New(txn.RepeatableRead)
	tree.Remove(4, remover)

	getter := txn.New(txn.RepeatableRead)
	_, found := tree.GetValue(4, getter)
	require.False(t, found)

	var got []int64
	for it := tree.Begin(); it.Valid(); it.Next() {
		got = append(got, it.Key())
	}
	require.Equal(t, []int64{1, 2, 3, 5, 6, 7, 8}, got)
}

func TestTreeRemoveMissingKeyIsNoOp(t *testing.T) {
	tree := newTree(t, 4, 4)
	tx1 := txn.New(txn.RepeatableRead)
	require.True(t, tree.Insert(1, rid.New(1, 0), tx1))

	remover := txn.New(txn.RepeatableRead)
	tree.Remove(999, remover)

	getter := txn.New(txn.RepeatableRead)
	_, found := tree.GetValue(1, getter)
	require.True(t, found)
}

// S3 — B+Tree concurrent insert: two goroutines insert disjoint keys
// into an empty tree at once; every key must be retrievable afterwards
// and the leaf chain must still yield them in order (property #11).
func TestTreeConcurrentInsertRoundTrips(t *testing.T) {
	tree := newTree(t, 4, 4)

	odds := []int64{1, 3, 5, 7, 9}
	evens := []int64{2, 4, 6, 8, 10}

	var wg sync.WaitGroup
	wg.Add(2)
	insert := func(keys []int64) {
		defer wg.Done()
		for _, k := range keys {
			tx := txn.New(txn.RepeatableRead)
			require.True(t, tree.Insert(k, rid.New(page.ID(k), 0), tx))
		}
	}
	go insert(odds)
	go insert(evens)
	wg.Wait()

	for i := int64(1); i <= 10; i++ {
		tx := txn.New(txn.RepeatableRead)
		v, found := tree.GetValue(i, tx)
		require.True(t, found)
		require.Equal(t, page.ID(i), v.PageID)
	}

	var got []int64
	for it := tree.Begin(); it.Valid(); it.Next() {
		got = append(got, it.Key())
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

// TestTreeConcurrentInsertAndGetValue drives many concurrent inserters
// and readers through a bounded worker pool, exercising property #11
// under heavier contention than two fixed goroutines — GetValue must
// never observe a partially-inserted key or block behind unrelated
// Inserts for the duration of their whole call.
func TestTreeConcurrentInsertAndGetValue(t *testing.T) {
	tree := newTree(t, 4, 4)
	pool, err := ants.NewPool(8)
	require.NoError(t, err)
	defer pool.Release()

	const n = 200
	var wg sync.WaitGroup
	for i := int64(0); i < n; i++ {
		wg.Add(1)
		key := i
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			tx := txn.New(txn.RepeatableRead)
			require.True(t, tree.Insert(key, rid.New(page.ID(key), 0), tx))

			getter := txn.New(txn.RepeatableRead)
			v, found := tree.GetValue(key, getter)
			require.True(t, found)
			require.Equal(t, page.ID(key), v.PageID)
		}))
	}
	wg.Wait()

	for i := int64(0); i < n; i++ {
		tx := txn.New(txn.RepeatableRead)
		_, found := tree.GetValue(i, tx)
		require.True(t, found)
	}
}

func TestTreeRemoveTriggersMergeAndRootCollapse(t *testing.T) {
	tree := newTree(t, 4, 4)
	n := int64(40)
	for i := int64(1); i <= n; i++ {
		tx := txn.New(txn.RepeatableRead)
		require.True(t, tree.Insert(i, rid.New(page.ID(i), 0), tx))
	}

	for i := int64(1); i <= n; i++ {
		if i%2 == 0 {
			remover := txn.New(txn.RepeatableRead)
			tree.Remove(i, remover)
		}
	}

	var got []int64
	for it := tree.Begin(); it.Valid(); it.Next() {
		got = append(got, it.Key())
	}
	var want []int64
	for i := int64(1); i <= n; i++ {
		if i%2 != 0 {
			want = append(want, i)
		}
	}
	require.Equal(t, want, got)
}
