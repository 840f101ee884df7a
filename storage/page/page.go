// Package page defines the fixed-size unit of disk I/O and buffer-pool
// caching shared by every subsystem in the storage core.
package page

import "sync"

// Size is the fixed length, in bytes, of every page on disk and every
// frame in the buffer pool.
const Size = 4096

// ID is a stable logical page identifier. InvalidID marks the absence of
// a page, e.g. an internal node child slot that has not been populated
// yet or a leaf's next-page pointer at the end of the chain.
type ID int32

// InvalidID is the sentinel page identifier. No real page is ever
// assigned this value.
const InvalidID ID = -1

// IsValid reports whether id names a real page.
func (id ID) IsValid() bool {
	return id != InvalidID
}

// Page is one resident frame's worth of data: a fixed buffer, pin/dirty
// bookkeeping, and a reader/writer latch distinct from the buffer pool's
// own global mutex. A Page is created empty by the buffer pool manager
// and mutated only while pinned.
type Page struct {
	latch sync.RWMutex

	id       ID
	pinCount int32
	isDirty  bool
	data     [Size]byte
}

// NewPage returns a zeroed page with no identity. The buffer pool
// manager assigns id, pin count and dirty state as part of NewPage /
// FetchPage.
func NewPage() *Page {
	return &Page{id: InvalidID}
}

// ID returns the page's logical identifier.
func (p *Page) ID() ID { return p.id }

// SetID reassigns the page's logical identifier. Only the buffer pool
// manager calls this, while the frame is otherwise unreachable.
func (p *Page) SetID(id ID) { p.id = id }

// PinCount returns the current pin count.
func (p *Page) PinCount() int32 { return p.pinCount }

// Pin increments the pin count.
func (p *Page) Pin() { p.pinCount++ }

// Unpin decrements the pin count. Callers must not let it go negative;
// the buffer pool manager guards this with its own bookkeeping.
func (p *Page) Unpin() { p.pinCount-- }

// IsDirty reports whether the page has unflushed modifications.
func (p *Page) IsDirty() bool { return p.isDirty }

// SetDirty ORs dirty into the page's dirty flag — a page pinned by two
// callers where only one of them wrote must stay dirty until both have
// unpinned, so this never clears the flag on its own.
func (p *Page) SetDirty(dirty bool) {
	p.isDirty = p.isDirty || dirty
}

// ClearDirty unconditionally marks the page clean. Only the buffer pool
// manager calls this, right after flushing the page to disk.
func (p *Page) ClearDirty() {
	p.isDirty = false
}

// Data returns the page's backing byte buffer. Callers hold the page's
// latch (RLatch/WLatch below) for the duration of any read or write.
func (p *Page) Data() []byte { return p.data[:] }

// Reset zeroes the buffer and clears dirty/pin state, but leaves the
// identity untouched — callers reassign id right after.
func (p *Page) Reset() {
	p.data = [Size]byte{}
	p.isDirty = false
	p.pinCount = 0
}

// RLatch/RUnlatch/WLatch/WUnlatch are the per-page latch used by
// latch-coupling protocols (B+Tree crabbing) and are independent of the
// buffer pool's own global mutex — a caller may hold a page's latch
// across a blocking wait for a completely different subsystem without
// affecting other pages.
func (p *Page) RLatch()   { p.latch.RLock() }
func (p *Page) RUnlatch() { p.latch.RUnlock() }
func (p *Page) WLatch()   { p.latch.Lock() }
func (p *Page) WUnlatch() { p.latch.Unlock() }
