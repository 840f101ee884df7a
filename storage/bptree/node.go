// Package bptree implements the disk-resident, latch-coupled B+Tree index
// (spec §4.4): point lookups, ordered iteration, insert, and delete over
// int64 keys, with every node access routed through the buffer pool.
package bptree

import (
	"encoding/binary"

	"coredb/rid"
	"coredb/storage/page"
)

// pageType tags a node page's payload, letting every entry point dispatch
// without an inheritance hierarchy: leaf and internal nodes are two
// distinct fixed layouts viewed through the same 4KB buffer.
type pageType byte

const (
	typeInvalid  pageType = 0
	typeLeaf     pageType = 1
	typeInternal pageType = 2
)

// Node header layout, common to leaf and internal pages (24 bytes):
//
//	offset 0:  pageType (1 byte)
//	offset 4:  size (int32)
//	offset 8:  maxSize (int32)
//	offset 12: pageID (int32)
//	offset 16: parentPageID (int32)
//	offset 20: nextPageID (int32, leaf-only; unused on internal nodes)
const (
	headerSize   = 24
	offType      = 0
	offSize      = 4
	offMaxSize   = 8
	offPageID    = 12
	offParentID  = 16
	offNextID    = 20
	slotSize     = 16
	keyWidth     = 8
	valWidth     = 8
)

// nodeView is a typed window over a page's raw byte buffer. It carries no
// state of its own; every accessor reads or writes directly through the
// backing slice, so mutations are visible immediately to whoever holds the
// page.
type nodeView struct {
	data []byte
}

func viewOf(p *page.Page) nodeView { return nodeView{data: p.Data()} }

func (n nodeView) kind() pageType { return pageType(n.data[offType]) }
func (n nodeView) setKind(t pageType) { n.data[offType] = byte(t) }

func (n nodeView) IsLeaf() bool { return n.kind() == typeLeaf }

func (n nodeView) Size() int { return int(int32(binary.LittleEndian.Uint32(n.data[offSize:]))) }
func (n nodeView) setSize(v int) { binary.LittleEndian.PutUint32(n.data[offSize:], uint32(int32(v))) }

func (n nodeView) MaxSize() int { return int(int32(binary.LittleEndian.Uint32(n.data[offMaxSize:]))) }
func (n nodeView) setMaxSize(v int) {
	binary.LittleEndian.PutUint32(n.data[offMaxSize:], uint32(int32(v)))
}

func (n nodeView) PageID() page.ID {
	return page.ID(int32(binary.LittleEndian.Uint32(n.data[offPageID:])))
}
func (n nodeView) setPageID(id page.ID) {
	binary.LittleEndian.PutUint32(n.data[offPageID:], uint32(int32(id)))
}

func (n nodeView) ParentPageID() page.ID {
	return page.ID(int32(binary.LittleEndian.Uint32(n.data[offParentID:])))
}
func (n nodeView) SetParentPageID(id page.ID) {
	binary.LittleEndian.PutUint32(n.data[offParentID:], uint32(int32(id)))
}

func (n nodeView) IsRoot() bool { return n.ParentPageID() == page.InvalidID }

// MinSize is the occupancy floor a non-root node of this kind must
// maintain (spec §3): ⌈max/2⌉ for leaves, ⌈(max+1)/2⌉ for internal nodes.
func (n nodeView) MinSize() int {
	if n.IsLeaf() {
		return (n.MaxSize() + 1) / 2
	}
	return (n.MaxSize() + 2) / 2
}

// leafView is a nodeView known to hold leaf slots: (int64 key, RID value)
// pairs in ascending key order, plus a forward sibling pointer.
type leafView struct{ nodeView }

func asLeaf(p *page.Page) leafView { return leafView{viewOf(p)} }

func initLeaf(p *page.Page, id, parent page.ID, maxSize int) leafView {
	l := leafView{viewOf(p)}
	l.setKind(typeLeaf)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.setPageID(id)
	l.SetParentPageID(parent)
	l.setNextPageID(page.InvalidID)
	return l
}

func (l leafView) slotOffset(i int) int { return headerSize + i*slotSize }

func (l leafView) KeyAt(i int) int64 {
	off := l.slotOffset(i)
	return int64(binary.LittleEndian.Uint64(l.data[off:]))
}

func (l leafView) ValueAt(i int) rid.RID {
	off := l.slotOffset(i) + keyWidth
	pid := page.ID(int32(binary.LittleEndian.Uint32(l.data[off:])))
	slot := binary.LittleEndian.Uint32(l.data[off+4:])
	return rid.New(pid, slot)
}

func (l leafView) setSlot(i int, key int64, v rid.RID) {
	off := l.slotOffset(i)
	binary.LittleEndian.PutUint64(l.data[off:], uint64(key))
	binary.LittleEndian.PutUint32(l.data[off+keyWidth:], uint32(int32(v.PageID)))
	binary.LittleEndian.PutUint32(l.data[off+keyWidth+4:], v.SlotNum)
}

func (l leafView) NextPageID() page.ID {
	return page.ID(int32(binary.LittleEndian.Uint32(l.data[offNextID:])))
}
func (l leafView) setNextPageID(id page.ID) {
	binary.LittleEndian.PutUint32(l.data[offNextID:], uint32(int32(id)))
}

// KeyIndex returns the index of the first slot whose key is >= key (the
// slot key would occupy, or Size() if it would be appended).
func (l leafView) KeyIndex(key int64) int {
	lo, hi := 0, l.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if l.KeyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup returns the value for key and true, or false if absent. Binary
// search over the sorted slot array.
func (l leafView) Lookup(key int64) (rid.RID, bool) {
	i := l.KeyIndex(key)
	if i < l.Size() && l.KeyAt(i) == key {
		return l.ValueAt(i), true
	}
	return rid.RID{}, false
}

// Insert places (key, value) in sorted position. Caller must have already
// checked the page is not full and the key does not already exist.
func (l leafView) Insert(key int64, value rid.RID) {
	i := l.KeyIndex(key)
	n := l.Size()
	for j := n - 1; j >= i; j-- {
		k, v := l.KeyAt(j), l.ValueAt(j)
		l.setSlot(j+1, k, v)
	}
	l.setSlot(i, key, value)
	l.setSize(n + 1)
}

// Remove deletes key if present, reporting whether it was found.
func (l leafView) Remove(key int64) bool {
	i := l.KeyIndex(key)
	if i >= l.Size() || l.KeyAt(i) != key {
		return false
	}
	n := l.Size()
	for j := i + 1; j < n; j++ {
		k, v := l.KeyAt(j), l.ValueAt(j)
		l.setSlot(j-1, k, v)
	}
	l.setSize(n - 1)
	return true
}

// MoveHalfTo relocates the upper half of l's entries to recipient,
// preserving order, and rewires the sibling chain.
func (l leafView) MoveHalfTo(recipient leafView) {
	n := l.Size()
	mid := n / 2
	for i := mid; i < n; i++ {
		recipient.setSlot(i-mid, l.KeyAt(i), l.ValueAt(i))
	}
	recipient.setSize(n - mid)
	l.setSize(mid)
	recipient.setNextPageID(l.NextPageID())
	l.setNextPageID(recipient.PageID())
}

// MoveAllTo appends every entry of l onto the end of recipient (used when
// merging on underflow) and rewires the sibling chain around l.
func (l leafView) MoveAllTo(recipient leafView) {
	n, base := l.Size(), recipient.Size()
	for i := 0; i < n; i++ {
		recipient.setSlot(base+i, l.KeyAt(i), l.ValueAt(i))
	}
	recipient.setSize(base + n)
	recipient.setNextPageID(l.NextPageID())
	l.setSize(0)
}

// MoveFirstToEndOf borrows l's first entry onto the end of recipient.
func (l leafView) MoveFirstToEndOf(recipient leafView) {
	k, v := l.KeyAt(0), l.ValueAt(0)
	n := recipient.Size()
	recipient.setSlot(n, k, v)
	recipient.setSize(n + 1)
	l.Remove(k)
}

// MoveLastToFrontOf borrows l's last entry onto the front of recipient.
func (l leafView) MoveLastToFrontOf(recipient leafView) {
	last := l.Size() - 1
	k, v := l.KeyAt(last), l.ValueAt(last)
	recipient.Insert(k, v)
	l.setSize(last)
}

// internalView is a nodeView known to hold internal slots: (int64 key,
// child page id) pairs, where slot 0's key is a dummy — routing for keys
// less than every real separator goes through ValueAt(0).
type internalView struct{ nodeView }

func asInternal(p *page.Page) internalView { return internalView{viewOf(p)} }

func initInternal(p *page.Page, id, parent page.ID, maxSize int) internalView {
	n := internalView{viewOf(p)}
	n.setKind(typeInternal)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setPageID(id)
	n.SetParentPageID(parent)
	return n
}

func (n internalView) slotOffset(i int) int { return headerSize + i*slotSize }

func (n internalView) KeyAt(i int) int64 {
	off := n.slotOffset(i)
	return int64(binary.LittleEndian.Uint64(n.data[off:]))
}

func (n internalView) ValueAt(i int) page.ID {
	off := n.slotOffset(i) + keyWidth
	return page.ID(int32(binary.LittleEndian.Uint32(n.data[off:])))
}

func (n internalView) setSlot(i int, key int64, child page.ID) {
	off := n.slotOffset(i)
	binary.LittleEndian.PutUint64(n.data[off:], uint64(key))
	binary.LittleEndian.PutUint32(n.data[off+keyWidth:], uint32(int32(child)))
}

func (n internalView) setKeyAt(i int, key int64) {
	off := n.slotOffset(i)
	binary.LittleEndian.PutUint64(n.data[off:], uint64(key))
}

// ValueIndex returns the slot index whose child pointer equals id, or -1.
func (n internalView) ValueIndex(id page.ID) int {
	for i := 0; i < n.Size(); i++ {
		if n.ValueAt(i) == id {
			return i
		}
	}
	return -1
}

// Lookup returns the child page id to descend into for key: the widest
// slot i such that KeyAt(i) <= key, or slot 0 if key precedes every real
// separator.
func (n internalView) Lookup(key int64) page.ID {
	size := n.Size()
	for i := 1; i < size; i++ {
		if key < n.KeyAt(i) {
			return n.ValueAt(i - 1)
		}
	}
	return n.ValueAt(size - 1)
}

// PopulateNewRoot sets up a freshly allocated root with its two initial
// children after a split reaches the top of the tree.
func (n internalView) PopulateNewRoot(left page.ID, sepKey int64, right page.ID) {
	n.setSlot(0, 0, left)
	n.setSlot(1, sepKey, right)
	n.setSize(2)
}

// InsertAfter inserts (sepKey, newChild) immediately after the slot whose
// child pointer is oldChild.
func (n internalView) InsertAfter(oldChild page.ID, sepKey int64, newChild page.ID) {
	i := n.ValueIndex(oldChild)
	size := n.Size()
	for j := size - 1; j > i; j-- {
		n.setSlot(j+1, n.KeyAt(j), n.ValueAt(j))
	}
	n.setSlot(i+1, sepKey, newChild)
	n.setSize(size + 1)
}

// RemoveAt deletes the slot at index i.
func (n internalView) RemoveAt(i int) {
	size := n.Size()
	for j := i; j < size-1; j++ {
		n.setSlot(j, n.KeyAt(j+1), n.ValueAt(j+1))
	}
	n.setSize(size - 1)
}

// MoveHalfTo relocates the upper half of n's entries to recipient. The
// caller is responsible for re-parenting every moved child (fixing its
// parentPageID) since that requires the buffer pool.
func (n internalView) MoveHalfTo(recipient internalView) {
	size := n.Size()
	mid := size / 2
	for i := mid; i < size; i++ {
		recipient.setSlot(i-mid, n.KeyAt(i), n.ValueAt(i))
	}
	recipient.setSize(size - mid)
	n.setSize(mid)
}

// MoveAllTo appends every entry of n onto recipient, using middleKey as
// the separator recovered from the parent for slot 0 (whose stored key is
// always the dummy). Re-parenting of moved children is the caller's job.
func (n internalView) MoveAllTo(recipient internalView, middleKey int64) {
	base := recipient.Size()
	size := n.Size()
	for i := 0; i < size; i++ {
		key := n.KeyAt(i)
		if i == 0 {
			key = middleKey
		}
		recipient.setSlot(base+i, key, n.ValueAt(i))
	}
	recipient.setSize(base + size)
	n.setSize(0)
}

// MoveFirstToEndOf borrows n's first child onto the end of recipient,
// recovering the true separator for the borrowed entry from middleKey. n
// is the right sibling of recipient; it returns the child moved and the
// new separator parent must record between n and recipient (the key left
// behind in n's now-leading slot).
func (n internalView) MoveFirstToEndOf(recipient internalView, middleKey int64) (movedChild page.ID, newSeparator int64) {
	child := n.ValueAt(0)
	base := recipient.Size()
	recipient.setSlot(base, middleKey, child)
	recipient.setSize(base + 1)
	n.RemoveAt(0)
	return child, n.KeyAt(0)
}

// MoveLastToFrontOf borrows n's last child onto the front of recipient,
// recovering the true separator for recipient's old slot 0 from
// middleKey. n is the left sibling of recipient; it returns the child
// moved and the new separator parent must record between n and
// recipient (the key that used to separate n's last two children).
func (n internalView) MoveLastToFrontOf(recipient internalView, middleKey int64) (movedChild page.ID, newSeparator int64) {
	last := n.Size() - 1
	child := n.ValueAt(last)
	newSeparator = n.KeyAt(last)
	size := recipient.Size()
	for j := size - 1; j >= 0; j-- {
		key := recipient.KeyAt(j)
		if j == 0 {
			key = middleKey
		}
		recipient.setSlot(j+1, key, recipient.ValueAt(j))
	}
	recipient.setSlot(0, 0, child)
	recipient.setSize(size + 1)
	n.setSize(last)
	return child, newSeparator
}
