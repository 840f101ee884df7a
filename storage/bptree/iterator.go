package bptree

import (
	"coredb/rid"
	"coredb/storage/page"
)

// Iterator is a forward, single-pass iterator over leaf entries (spec
// §4.4/§6): a position within a read-latched leaf page, crossing to the
// next leaf via next_page_id once exhausted. The zero value is the end
// position.
type Iterator struct {
	tree *Tree
	cur  *page.Page
	idx  int
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it != nil && it.cur != nil }

// Key returns the current entry's key. Valid must be true.
func (it *Iterator) Key() int64 { return asLeaf(it.cur).KeyAt(it.idx) }

// Value returns the current entry's value. Valid must be true.
func (it *Iterator) Value() rid.RID { return asLeaf(it.cur).ValueAt(it.idx) }

// advanceIfExhausted crosses to the next leaf (or ends the iterator)
// whenever idx has run off the end of the current leaf's slots.
func (it *Iterator) advanceIfExhausted() {
	for it.cur != nil && it.idx >= asLeaf(it.cur).Size() {
		nextID := asLeaf(it.cur).NextPageID()
		leafID := asLeaf(it.cur).PageID()
		it.cur.RUnlatch()
		it.tree.pool.UnpinPage(leafID, false)

		if nextID == page.InvalidID {
			it.cur = nil
			return
		}
		next := it.tree.pool.FetchPage(nextID)
		next.RLatch()
		it.cur = next
		it.idx = 0
	}
}

// Next advances the iterator by one entry.
func (it *Iterator) Next() {
	if it.cur == nil {
		return
	}
	it.idx++
	it.advanceIfExhausted()
}

// Close releases the iterator's held leaf latch and pin, if any. Callers
// that consume an iterator to exhaustion never need to call this; it
// exists for early abandonment.
func (it *Iterator) Close() {
	if it.cur == nil {
		return
	}
	leafID := asLeaf(it.cur).PageID()
	it.cur.RUnlatch()
	it.tree.pool.UnpinPage(leafID, false)
	it.cur = nil
}

func (t *Tree) descendLeftmostLeaf() *page.Page {
	t.rootMu.Lock()
	root := t.rootPageID
	t.rootMu.Unlock()
	if root == page.InvalidID {
		return nil
	}

	cur := t.pool.FetchPage(root)
	cur.RLatch()
	for {
		v := viewOf(cur)
		if v.IsLeaf() {
			return cur
		}
		childID := asInternal(cur).ValueAt(0)
		child := t.pool.FetchPage(childID)
		child.RLatch()
		cur.RUnlatch()
		t.pool.UnpinPage(v.PageID(), false)
		cur = child
	}
}

func (t *Tree) descendToLeafContaining(key int64) *page.Page {
	t.rootMu.Lock()
	root := t.rootPageID
	t.rootMu.Unlock()
	if root == page.InvalidID {
		return nil
	}

	cur := t.pool.FetchPage(root)
	cur.RLatch()
	for {
		v := viewOf(cur)
		if v.IsLeaf() {
			return cur
		}
		childID := asInternal(cur).Lookup(key)
		child := t.pool.FetchPage(childID)
		child.RLatch()
		cur.RUnlatch()
		t.pool.UnpinPage(v.PageID(), false)
		cur = child
	}
}

// Begin returns an iterator positioned at the first entry in key order.
func (t *Tree) Begin() *Iterator {
	leaf := t.descendLeftmostLeaf()
	if leaf == nil {
		return &Iterator{}
	}
	it := &Iterator{tree: t, cur: leaf, idx: 0}
	it.advanceIfExhausted()
	return it
}

// BeginAt returns an iterator positioned at the first entry whose key is
// >= key.
func (t *Tree) BeginAt(key int64) *Iterator {
	leaf := t.descendToLeafContaining(key)
	if leaf == nil {
		return &Iterator{}
	}
	it := &Iterator{tree: t, cur: leaf, idx: asLeaf(leaf).KeyIndex(key)}
	it.advanceIfExhausted()
	return it
}

// End returns the terminal iterator position.
func (t *Tree) End() *Iterator { return &Iterator{} }
