package txnlock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants"
	"github.com/stretchr/testify/require"

	"coredb/rid"
	"coredb/txn"
	"coredb/txnlock"
)

func newManager(t *testing.T) *txnlock.Manager {
	t.Helper()
	m := txnlock.New(10 * time.Millisecond)
	t.Cleanup(m.Close)
	return m
}

func TestLockTableSameModeIsNoop(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(tx, txn.Shared, 1))
	require.NoError(t, m.LockTable(tx, txn.Shared, 1))
	require.True(t, tx.HasTableLock(1, txn.Shared))
}

func TestLockTableIncompatibleUpgradeAborts(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(tx, txn.IntentionShared, 1))

	err := m.LockTable(tx, txn.IntentionExclusive, 1)
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.IncompatibleUpgrade, abortErr.Reason)
	require.Equal(t, txn.Aborted, tx.State())
}

func TestLockRowRequiresTableLock(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)

	err := m.LockRow(tx, txn.Shared, 1, rid.New(1, 0))
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.TableLockNotPresent, abortErr.Reason)
}

func TestLockRowIntentionModeAborts(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(tx, txn.IntentionExclusive, 1))

	err := m.LockRow(tx, txn.IntentionExclusive, 1, rid.New(1, 0))
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.AttemptedIntentionLockOnRow, abortErr.Reason)
}

func TestUnlockTableBeforeRowsAborts(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(tx, txn.IntentionExclusive, 1))
	require.NoError(t, m.LockRow(tx, txn.Exclusive, 1, rid.New(1, 0)))

	err := m.UnlockTable(tx, 1)
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.TableUnlockedBeforeUnlockingRows, abortErr.Reason)
}

func TestUnlockTwiceAborts(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(tx, txn.Shared, 1))
	require.NoError(t, m.UnlockTable(tx, 1))

	err := m.UnlockTable(tx, 1)
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.AttemptedUnlockButNoLockHeld, abortErr.Reason)
}

func TestLockOnShrinkingAborts(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(tx, txn.Shared, 1))
	require.NoError(t, m.UnlockTable(tx, 1))
	require.Equal(t, txn.Shrinking, tx.State())

	err := m.LockTable(tx, txn.Shared, 2)
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.LockOnShrinking, abortErr.Reason)
}

func TestLockSharedOnReadUncommittedAborts(t *testing.T) {
	m := newManager(t)
	tx := txn.New(txn.ReadUncommitted)

	err := m.LockTable(tx, txn.Shared, 1)
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.LockSharedOnReadUncommitted, abortErr.Reason)
}

// S4 — Lock upgrade.
func TestScenarioLockUpgrade(t *testing.T) {
	m := newManager(t)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(t1, txn.Shared, 42))
	require.NoError(t, m.LockTable(t2, txn.Shared, 42))

	done := make(chan error, 1)
	go func() { done <- m.LockTable(t1, txn.Exclusive, 42) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.UnlockTable(t2, 42))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("upgrade never completed")
	}
	require.True(t, t1.HasTableLock(42, txn.Exclusive))
}

// S5 — Lock upgrade conflict.
func TestScenarioLockUpgradeConflict(t *testing.T) {
	m := newManager(t)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(t1, txn.Shared, 42))
	require.NoError(t, m.LockTable(t2, txn.Shared, 42))

	upgrading := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(upgrading)
		done <- m.LockTable(t1, txn.Exclusive, 42)
	}()
	<-upgrading
	time.Sleep(20 * time.Millisecond)

	err := m.LockTable(t2, txn.Exclusive, 42)
	require.Error(t, err)
	abortErr, ok := err.(*txnlock.AbortError)
	require.True(t, ok)
	require.Equal(t, txnlock.UpgradeConflict, abortErr.Reason)
	require.Equal(t, txn.Aborted, t2.State())

	// t2's upgrade attempt aborted, but it never lost its original S
	// grant; releasing it is what finally lets t1's upgrade proceed.
	require.NoError(t, m.UnlockTable(t2, 42))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
	}
}

// S6 — Deadlock resolution: the transaction with the larger id is
// aborted within one detector interval; the other eventually succeeds.
func TestScenarioDeadlockResolution(t *testing.T) {
	m := newManager(t)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)
	require.NoError(t, m.LockTable(t1, txn.Exclusive, 1))
	require.NoError(t, m.LockTable(t2, txn.Exclusive, 2))

	var wg sync.WaitGroup
	results := make(map[txn.TxnID]error)
	var mu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := m.LockTable(t1, txn.Exclusive, 2)
		if err != nil {
			_ = m.UnlockTable(t1, 1)
		}
		mu.Lock()
		results[t1.ID()] = err
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		err := m.LockTable(t2, txn.Exclusive, 1)
		if err != nil {
			_ = m.UnlockTable(t2, 2)
		}
		mu.Lock()
		results[t2.ID()] = err
		mu.Unlock()
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock was never resolved")
	}

	older, younger := t1, t2
	if older.ID() > younger.ID() {
		older, younger = younger, older
	}
	require.Error(t, results[younger.ID()])
	require.NoError(t, results[older.ID()])
}

// TestLockCompatibilityStress drives many concurrent transactions
// through a bounded worker pool (rather than one goroutine per
// transaction) and asserts the compatibility invariant of spec §8 holds
// at every observed instant: no two granted requests on the same table
// ever hold incompatible modes at the same time.
func TestLockCompatibilityStress(t *testing.T) {
	m := newManager(t)
	pool, err := ants.NewPool(8)
	require.NoError(t, err)
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	active := make(map[txn.TxnID]txn.LockMode)
	violated := false

	for i := 0; i < 50; i++ {
		wg.Add(1)
		mode := txn.Shared
		if i%3 == 0 {
			mode = txn.Exclusive
		}
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			tx := txn.New(txn.RepeatableRead)
			if err := m.LockTable(tx, mode, 7); err != nil {
				return
			}

			mu.Lock()
			for _, other := range active {
				if mode == txn.Exclusive || other == txn.Exclusive {
					violated = true
				}
			}
			active[tx.ID()] = mode
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			delete(active, tx.ID())
			mu.Unlock()
			_ = m.UnlockTable(tx, 7)
		}))
	}
	wg.Wait()
	require.False(t, violated, "two incompatible modes were granted concurrently")
}
