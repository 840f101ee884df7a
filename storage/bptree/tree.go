package bptree

import (
	"sync"

	"coredb/buffer"
	"coredb/rid"
	"coredb/storage/page"
	"coredb/txn"
)

var _ pool = (*buffer.PoolManager)(nil)

// DefaultOrder is the number of slots a node page holds at 4KB with the
// 24-byte header and 16-byte slots defined in node.go.
const DefaultOrder = (page.Size - headerSize) / slotSize

// pool is the subset of buffer.PoolManager the tree needs for node I/O,
// so tests can exercise the tree against a fake without a real disk.
type pool interface {
	NewPage() (*page.Page, page.ID)
	FetchPage(id page.ID) *page.Page
	UnpinPage(id page.ID, isDirty bool) bool
	DeletePage(id page.ID) bool
}

// Tree is a disk-resident, order-parameterized B+Tree index over int64
// keys and RID values (spec §4.4). Every node access goes through the
// buffer pool: pin on fetch, unpin on release, page-level latch for the
// duration the crabbing protocol needs it held.
//
// rootMu guards only the rootPageID field, not any node access: readers
// and writers each take it just long enough to read (or, on a root
// split/collapse, overwrite) the current root id, then release it
// before descending. This is what lets GetValue and non-conflicting
// Inserts/Removes run concurrently instead of queuing behind a
// tree-wide lock — crabbing down from there is enforced entirely by
// each node's own page latch, exactly as for every other level. The
// tradeoff: a reader that captures a root id the instant before a
// concurrent Insert replaces it with a freshly split root will finish
// its descent against the now-demoted old root rather than retrying,
// a known, accepted simplification rather than the fully
// latch-coupled root pointer a production implementation would use.
type Tree struct {
	rootMu sync.Mutex

	indexName       string
	pool            pool
	rootPageID      page.ID
	leafMaxSize     int
	internalMaxSize int
}

// Open attaches a named B+Tree index to pool, consulting the header page
// for a previously persisted root. A fresh index (no header record) has
// no root until the first Insert.
func Open(indexName string, p pool, leafMaxSize, internalMaxSize int) *Tree {
	t := &Tree{
		indexName:       indexName,
		pool:            p,
		rootPageID:      page.InvalidID,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	hp := p.FetchPage(HeaderPageID)
	if root, ok := asHeader(hp).Lookup(indexName); ok {
		t.rootPageID = root
	}
	p.UnpinPage(HeaderPageID, false)
	return t
}

// persistRoot writes root as the tree's current root id into the header
// page. Caller holds rootMu.
func (t *Tree) persistRoot(root page.ID) {
	hp := t.pool.FetchPage(HeaderPageID)
	h := asHeader(hp)
	if h.count() == 0 && len(hp.Data()) > 0 {
		// A never-initialized header page reads back as all-zero, which is
		// indistinguishable from a validly empty one; initHeader is just
		// setCount(0) again here, a harmless no-op either way.
		initHeader(hp)
	}
	h.Upsert(t.indexName, root)
	t.pool.UnpinPage(HeaderPageID, true)
}

func (t *Tree) unpin(dirty bool) func(*page.Page) {
	return func(p *page.Page) { t.pool.UnpinPage(p.ID(), dirty) }
}

// IsEmpty reports whether the tree currently has no root.
func (t *Tree) IsEmpty() bool {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.rootPageID == page.InvalidID
}

// GetValue performs a point lookup, latch-crabbing down with read latches
// and releasing each ancestor as soon as its child is latched.
func (t *Tree) GetValue(key int64, transaction *txn.Transaction) (rid.RID, bool) {
	t.rootMu.Lock()
	root := t.rootPageID
	t.rootMu.Unlock()

	if root == page.InvalidID {
		return rid.RID{}, false
	}

	cur := t.pool.FetchPage(root)
	cur.RLatch()
	transaction.PushLatch(cur, false)

	for {
		v := viewOf(cur)
		if v.IsLeaf() {
			break
		}
		childID := asInternal(cur).Lookup(key)
		child := t.pool.FetchPage(childID)
		child.RLatch()
		transaction.PushLatch(child, false)
		transaction.ReleaseAncestorLatches(t.unpin(false))
		cur = child
	}

	value, found := asLeaf(cur).Lookup(key)
	transaction.ReleaseAllLatches(t.unpin(false))
	return value, found
}

// descendForInsert walks root to leaf holding write latches, releasing
// ancestors as soon as the current node is proven safe (size < max):
// such a node can never need to propagate a split up through itself.
func (t *Tree) descendForInsert(root page.ID, key int64, transaction *txn.Transaction) *page.Page {
	cur := t.pool.FetchPage(root)
	cur.WLatch()
	transaction.PushLatch(cur, true)

	for {
		v := viewOf(cur)
		if v.IsLeaf() {
			return cur
		}
		if v.Size() < v.MaxSize() {
			transaction.ReleaseAncestorLatches(t.unpin(false))
		}
		childID := asInternal(cur).Lookup(key)
		child := t.pool.FetchPage(childID)
		child.WLatch()
		transaction.PushLatch(child, true)
		cur = child
	}
}

// ensureRoot returns the current root id, allocating an empty leaf as
// the tree's first root if one doesn't exist yet.
func (t *Tree) ensureRoot() page.ID {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	if t.rootPageID != page.InvalidID {
		return t.rootPageID
	}

	p, id := t.pool.NewPage()
	if p == nil {
		panic("bptree: buffer pool exhausted allocating initial root")
	}
	initLeaf(p, id, page.InvalidID, t.leafMaxSize)
	t.rootPageID = id
	t.pool.UnpinPage(id, true)
	t.persistRoot(id)
	return id
}

// Insert adds (key, value). Duplicate keys are rejected without
// modifying the tree.
func (t *Tree) Insert(key int64, value rid.RID, transaction *txn.Transaction) bool {
	root := t.ensureRoot()

	leafPage := t.descendForInsert(root, key, transaction)
	leaf := asLeaf(leafPage)

	if _, exists := leaf.Lookup(key); exists {
		transaction.ReleaseAllLatches(t.unpin(false))
		return false
	}

	if leaf.Size() < leaf.MaxSize() {
		leaf.Insert(key, value)
		transaction.ReleaseAllLatches(t.unpin(true))
		return true
	}

	newPage, newID := t.pool.NewPage()
	if newPage == nil {
		panic("bptree: buffer pool exhausted splitting leaf")
	}
	sibling := initLeaf(newPage, newID, leaf.ParentPageID(), t.leafMaxSize)
	leaf.MoveHalfTo(sibling)

	if key < sibling.KeyAt(0) {
		leaf.Insert(key, value)
	} else {
		sibling.Insert(key, value)
	}

	sepKey := sibling.KeyAt(0)
	leftID, parentID := leaf.PageID(), leaf.ParentPageID()
	t.pool.UnpinPage(newID, true)
	transaction.ReleaseAllLatches(t.unpin(true))

	t.insertIntoParent(leftID, sepKey, newID, parentID)
	return true
}

// insertIntoParent threads a new separator up the tree, splitting
// internal nodes as needed and creating a new root when the split
// reaches the top. Ancestor latches were already released during
// descent, so each level here is fetched and latched fresh.
func (t *Tree) insertIntoParent(leftID page.ID, sepKey int64, rightID page.ID, parentID page.ID) {
	if parentID == page.InvalidID {
		p, id := t.pool.NewPage()
		if p == nil {
			panic("bptree: buffer pool exhausted allocating new root")
		}
		newRoot := initInternal(p, id, page.InvalidID, t.internalMaxSize)
		newRoot.PopulateNewRoot(leftID, sepKey, rightID)
		t.pool.UnpinPage(id, true)
		t.reparent(leftID, id)
		t.reparent(rightID, id)

		t.rootMu.Lock()
		t.rootPageID = id
		t.persistRoot(id)
		t.rootMu.Unlock()
		return
	}

	p := t.pool.FetchPage(parentID)
	p.WLatch()
	inner := asInternal(p)

	if inner.Size() < inner.MaxSize() {
		inner.InsertAfter(leftID, sepKey, rightID)
		t.reparent(rightID, parentID)
		p.WUnlatch()
		t.pool.UnpinPage(parentID, true)
		return
	}

	newP, newID := t.pool.NewPage()
	if newP == nil {
		panic("bptree: buffer pool exhausted splitting internal node")
	}
	newInner := initInternal(newP, newID, inner.ParentPageID(), t.internalMaxSize)

	inner.InsertAfter(leftID, sepKey, rightID)
	t.reparent(rightID, parentID)
	inner.MoveHalfTo(newInner)
	for i := 0; i < newInner.Size(); i++ {
		t.reparent(newInner.ValueAt(i), newID)
	}

	upKey := newInner.KeyAt(0)
	grandParent := inner.ParentPageID()
	oldID := inner.PageID()

	p.WUnlatch()
	t.pool.UnpinPage(parentID, true)
	t.pool.UnpinPage(newID, true)

	t.insertIntoParent(oldID, upKey, newID, grandParent)
}

func (t *Tree) reparent(childID, parentID page.ID) {
	cp := t.pool.FetchPage(childID)
	cp.WLatch()
	viewOf(cp).SetParentPageID(parentID)
	cp.WUnlatch()
	t.pool.UnpinPage(childID, true)
}

// Remove deletes key if present; a missing key is a no-op. Every latch
// from root to leaf is held for the duration, without early release of
// safe ancestors, so the borrow/merge fixup can walk back up without
// re-fetching ancestors.
func (t *Tree) Remove(key int64, transaction *txn.Transaction) {
	t.rootMu.Lock()
	root := t.rootPageID
	t.rootMu.Unlock()

	if root == page.InvalidID {
		return
	}

	cur := t.pool.FetchPage(root)
	cur.WLatch()
	transaction.PushLatch(cur, true)

	for {
		v := viewOf(cur)
		if v.IsLeaf() {
			break
		}
		childID := asInternal(cur).Lookup(key)
		child := t.pool.FetchPage(childID)
		child.WLatch()
		transaction.PushLatch(child, true)
		cur = child
	}

	leaf := asLeaf(cur)
	if !leaf.Remove(key) {
		transaction.ReleaseAllLatches(t.unpin(false))
		return
	}

	t.fixupAfterRemove(transaction)
	transaction.ReleaseAllLatches(t.unpin(true))
}

// fixupAfterRemove repairs underflow starting at the deepest latched
// page (the leaf just modified) and walking up the latch stack towards
// the root, borrowing from or merging with a sibling at each underflowing
// level, stopping as soon as a level is found safe or the root is
// reached.
func (t *Tree) fixupAfterRemove(transaction *txn.Transaction) {
	pages := transaction.LatchedPages()
	idx := len(pages) - 1

	for idx > 0 {
		cur := pages[idx]
		v := viewOf(cur)
		if v.Size() >= v.MinSize() {
			return
		}

		parent := pages[idx-1]
		merged := t.borrowOrMerge(cur, asInternal(parent), transaction)
		if !merged {
			return
		}
		idx--
	}

	if idx != 0 {
		return
	}
	t.collapseRootIfNeeded(pages[0], transaction)
}

// borrowOrMerge resolves an underflowing node cur against its siblings
// via parent, which must already be write-latched. Returns merged=true
// if cur was consumed into a sibling and deleted (so the caller must
// re-check the parent's own occupancy), or false if a borrow resolved
// the underflow in place. A merge that deletes cur unlatches, unpins,
// and drops it from transaction's latch stack itself, since the buffer
// pool requires a page be unpinned before DeletePage will take it.
func (t *Tree) borrowOrMerge(cur *page.Page, parent internalView, transaction *txn.Transaction) (merged bool) {
	curView := viewOf(cur)
	i := parent.ValueIndex(curView.PageID())

	if i > 0 {
		leftID := parent.ValueAt(i - 1)
		leftPage := t.pool.FetchPage(leftID)
		leftPage.WLatch()
		leftView := viewOf(leftPage)

		if leftView.Size() > leftView.MinSize() {
			if curView.IsLeaf() {
				asLeaf(leftPage).MoveLastToFrontOf(asLeaf(cur))
				parent.setKeyAt(i, asLeaf(cur).KeyAt(0))
			} else {
				movedChild, newSep := asInternal(leftPage).MoveLastToFrontOf(asInternal(cur), parent.KeyAt(i))
				t.reparent(movedChild, curView.PageID())
				parent.setKeyAt(i, newSep)
			}
			leftPage.WUnlatch()
			t.pool.UnpinPage(leftID, true)
			return false
		}
		leftPage.WUnlatch()
		t.pool.UnpinPage(leftID, false)
	}

	if i+1 < parent.Size() {
		rightID := parent.ValueAt(i + 1)
		rightPage := t.pool.FetchPage(rightID)
		rightPage.WLatch()
		rightView := viewOf(rightPage)

		if rightView.Size() > rightView.MinSize() {
			if curView.IsLeaf() {
				asLeaf(rightPage).MoveFirstToEndOf(asLeaf(cur))
				parent.setKeyAt(i+1, asLeaf(rightPage).KeyAt(0))
			} else {
				movedChild, newSep := asInternal(rightPage).MoveFirstToEndOf(asInternal(cur), parent.KeyAt(i+1))
				t.reparent(movedChild, curView.PageID())
				parent.setKeyAt(i+1, newSep)
			}
			rightPage.WUnlatch()
			t.pool.UnpinPage(rightID, true)
			return false
		}
		rightPage.WUnlatch()
		t.pool.UnpinPage(rightID, false)
	}

	// No sibling can spare an entry: merge. Prefer consuming cur into its
	// left sibling; if there is none, consume cur's right sibling into cur.
	if i > 0 {
		leftID := parent.ValueAt(i - 1)
		leftPage := t.pool.FetchPage(leftID)
		leftPage.WLatch()
		t.mergeInto(leftPage, cur, parent.KeyAt(i))
		leftPage.WUnlatch()
		t.pool.UnpinPage(leftID, true)
		parent.RemoveAt(i)

		curID := curView.PageID()
		cur.WUnlatch()
		t.pool.UnpinPage(curID, false)
		t.pool.DeletePage(curID)
		transaction.DropLatch(cur)
		return true
	}

	rightID := parent.ValueAt(i + 1)
	rightPage := t.pool.FetchPage(rightID)
	rightPage.WLatch()
	t.mergeInto(cur, rightPage, parent.KeyAt(i+1))
	rightPage.WUnlatch()
	t.pool.UnpinPage(rightID, false)
	parent.RemoveAt(i + 1)
	t.pool.DeletePage(rightID)
	return true
}

// mergeInto appends src's entries onto the end of dst and retires src
// (the caller still deletes src's page afterwards); middleKey recovers
// the true separator for an internal merge's dummy slot.
func (t *Tree) mergeInto(dst, src *page.Page, middleKey int64) {
	if viewOf(dst).IsLeaf() {
		asLeaf(src).MoveAllTo(asLeaf(dst))
		return
	}
	dstInner, srcInner := asInternal(dst), asInternal(src)
	base := dstInner.Size()
	srcInner.MoveAllTo(dstInner, middleKey)
	for i := base; i < dstInner.Size(); i++ {
		t.reparent(dstInner.ValueAt(i), dstInner.PageID())
	}
}

// collapseRootIfNeeded handles the root-specific underflow case: an
// internal root with a single remaining child is replaced by that child.
func (t *Tree) collapseRootIfNeeded(rootPage *page.Page, transaction *txn.Transaction) {
	v := viewOf(rootPage)
	if v.IsLeaf() || v.Size() != 1 {
		return
	}
	onlyChild := asInternal(rootPage).ValueAt(0)
	t.reparent(onlyChild, page.InvalidID)

	oldRootID := v.PageID()
	rootPage.WUnlatch()
	t.pool.UnpinPage(oldRootID, false)
	t.pool.DeletePage(oldRootID)
	transaction.DropLatch(rootPage)

	t.rootMu.Lock()
	t.rootPageID = onlyChild
	t.persistRoot(onlyChild)
	t.rootMu.Unlock()
}
