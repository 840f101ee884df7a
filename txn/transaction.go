// Package txn defines the Transaction object consumed by the B+Tree
// index and the lock manager (spec §3, §6).
package txn

import (
	"sync/atomic"

	"coredb/rid"
	"coredb/storage/page"
)

// TableOID names a table the lock manager locks. The
// catalog that assigns these is out of scope for this module (spec §1);
// callers mint their own.
type TableOID int64

// TxnID is a monotonically increasing transaction identifier.
type TxnID int64

var nextTxnID int64

// NewTxnID returns the next unused transaction id.
func NewTxnID() TxnID {
	return TxnID(atomic.AddInt64(&nextTxnID, 1))
}

// State is a transaction's two-phase-locking phase.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// IsolationLevel is the isolation level a transaction runs under; it
// governs when the lock manager permits new lock acquisition (spec
// §4.5).
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// LockMode is one of the five multi-granularity lock modes (spec §4.5).
// Rows only ever hold Shared or Exclusive.
type LockMode int

const (
	IntentionShared LockMode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive

	numLockModes = int(Exclusive) + 1
)

func (m LockMode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return "?"
	}
}

// latchedPage is one entry of a transaction's B+Tree crabbing latch
// stack: the page held and whether it was taken for read or write.
type latchedPage struct {
	page      *page.Page
	exclusive bool
}

// Transaction carries two-phase-locking state (isolation level, current
// phase, the per-mode lock sets the lock manager mutates) plus the
// latch stack the B+Tree crabbing protocol pushes to and unwinds in
// FIFO order on completion.
type Transaction struct {
	id        TxnID
	isolation IsolationLevel
	state     atomic.Int32

	tableLocks [numLockModes]map[TableOID]struct{}
	sharedRows map[TableOID]map[rid.RID]struct{}
	excRows    map[TableOID]map[rid.RID]struct{}

	latchStack []latchedPage
}

// New creates a transaction in the GROWING state with the given
// isolation level.
func New(isolation IsolationLevel) *Transaction {
	t := &Transaction{
		id:         NewTxnID(),
		isolation:  isolation,
		sharedRows: make(map[TableOID]map[rid.RID]struct{}),
		excRows:    make(map[TableOID]map[rid.RID]struct{}),
	}
	for i := range t.tableLocks {
		t.tableLocks[i] = make(map[TableOID]struct{})
	}
	t.state.Store(int32(Growing))
	return t
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() TxnID { return t.id }

// IsolationLevel returns the transaction's isolation level.
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

// State returns the transaction's current phase.
func (t *Transaction) State() State { return State(t.state.Load()) }

// SetState transitions the transaction's phase.
func (t *Transaction) SetState(s State) { t.state.Store(int32(s)) }

// TableLockSet returns the mutable set of table OIDs this transaction
// holds mode on. The lock manager is the only caller expected to mutate
// the returned map.
func (t *Transaction) TableLockSet(mode LockMode) map[TableOID]struct{} {
	return t.tableLocks[mode]
}

// RowLockSet returns the mutable table->rowset map for S or X row locks.
// Row locks only ever use Shared or Exclusive (spec §4.5).
func (t *Transaction) RowLockSet(mode LockMode) map[TableOID]map[rid.RID]struct{} {
	if mode == Exclusive {
		return t.excRows
	}
	return t.sharedRows
}

// HasTableLock reports whether the transaction currently holds oid at
// exactly mode.
func (t *Transaction) HasTableLock(oid TableOID, mode LockMode) bool {
	_, ok := t.tableLocks[mode][oid]
	return ok
}

// PushLatch records a page latch acquired during a B+Tree crabbing
// traversal so it can be released in FIFO order once the operation
// proves safe or completes.
func (t *Transaction) PushLatch(p *page.Page, exclusive bool) {
	t.latchStack = append(t.latchStack, latchedPage{page: p, exclusive: exclusive})
}

// ReleaseAllLatches unlatches and unpins every page currently on the
// stack, oldest first, then empties it. unpin is supplied by the caller
// (the B+Tree holds the buffer pool reference, not the transaction).
func (t *Transaction) ReleaseAllLatches(unpin func(*page.Page)) {
	for _, lp := range t.latchStack {
		if lp.exclusive {
			lp.page.WUnlatch()
		} else {
			lp.page.RUnlatch()
		}
		if unpin != nil {
			unpin(lp.page)
		}
	}
	t.latchStack = t.latchStack[:0]
}

// LatchDepth reports how many latches the transaction currently holds
// for its in-flight B+Tree operation.
func (t *Transaction) LatchDepth() int { return len(t.latchStack) }

// LatchedPages returns the pages currently held for the in-flight B+Tree
// operation, oldest (closest to the root) first. The slice is a copy;
// mutating it does not affect the transaction's latch stack.
func (t *Transaction) LatchedPages() []*page.Page {
	pages := make([]*page.Page, len(t.latchStack))
	for i, lp := range t.latchStack {
		pages[i] = lp.page
	}
	return pages
}

// DropLatch removes p from the latch stack without unlatching or
// unpinning it — for callers that have already released p themselves
// (e.g. a B+Tree node consumed by a merge and deleted mid-operation) and
// need the final ReleaseAllLatches to leave it alone. A no-op if p is not
// on the stack.
func (t *Transaction) DropLatch(p *page.Page) {
	for i, lp := range t.latchStack {
		if lp.page == p {
			t.latchStack = append(t.latchStack[:i], t.latchStack[i+1:]...)
			return
		}
	}
}

// ReleaseAncestorLatches drops every latch except the most recently
// pushed one, oldest first. This is the crabbing release step: once the
// current node is proven safe, every ancestor latch held for it becomes
// unnecessary and is released early instead of waiting for the operation
// to finish.
func (t *Transaction) ReleaseAncestorLatches(unpin func(*page.Page)) {
	if len(t.latchStack) <= 1 {
		return
	}
	ancestors := t.latchStack[:len(t.latchStack)-1]
	for _, lp := range ancestors {
		if lp.exclusive {
			lp.page.WUnlatch()
		} else {
			lp.page.RUnlatch()
		}
		if unpin != nil {
			unpin(lp.page)
		}
	}
	last := t.latchStack[len(t.latchStack)-1]
	t.latchStack[0] = last
	t.latchStack = t.latchStack[:1]
}
