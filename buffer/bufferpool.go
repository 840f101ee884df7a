// Package buffer implements the fixed-size buffer pool manager: the
// in-memory cache of disk pages every other subsystem in this module
// reads and writes through (spec §4.3).
package buffer

import (
	"sync"

	"coredb/buffer/hashtable"
	"coredb/buffer/replacer"
	"coredb/internal/logging"
	"coredb/storage/disk"
	"coredb/storage/page"
)

// diskManager is the subset of disk.Manager the pool needs, so tests can
// substitute a fake without spinning up a real filesystem.
type diskManager interface {
	ReadPage(page.ID, []byte) error
	WritePage(page.ID, []byte) error
	AllocatePage() page.ID
	DeallocatePage(page.ID)
}

var _ diskManager = (*disk.Manager)(nil)

// PoolManager owns pool_size frames, evicting through an LRU-K replacer
// and locating resident pages through an extendible hash table page
// table. Every public entry point is atomic with respect to every other
// one: a single mutex guards the frame array, the free list, the page
// table, and the replacer.
type PoolManager struct {
	mu sync.Mutex

	frames   []page.Page
	freeList []int

	pageTable *hashtable.Table[page.ID, int]
	replacer  *replacer.Replacer
	disk      diskManager
}

// New builds a pool of poolSize frames, evicting with an LRU-K replacer
// tracking the k most recent accesses per frame.
func New(poolSize int, k int, disk diskManager) *PoolManager {
	if poolSize < 1 {
		panic("buffer: pool size must be >= 1")
	}

	free := make([]int, poolSize)
	for i := range free {
		free[i] = i
	}

	return &PoolManager{
		frames:    make([]page.Page, poolSize),
		freeList:  free,
		pageTable: hashtable.New[page.ID, int](4),
		replacer:  replacer.New(k),
		disk:      disk,
	}
}

// PoolSize returns the number of frames managed.
func (bp *PoolManager) PoolSize() int { return len(bp.frames) }

// findVictimFrame picks a frame for a new resident page: the free list
// first, then eviction (flushing the evicted frame first if dirty).
// Caller holds bp.mu.
func (bp *PoolManager) findVictimFrame() (int, bool) {
	if n := len(bp.freeList); n > 0 {
		frameID := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := bp.replacer.Evict()
	if !ok {
		return 0, false
	}

	victim := &bp.frames[frameID]
	if victim.IsDirty() {
		logging.Get().Debugw("buffer: flushing dirty victim before eviction", "page_id", victim.ID())
		if err := bp.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			logging.Get().Errorw("buffer: failed to flush dirty victim frame", "page_id", victim.ID(), "error", err)
			panic("buffer: failed to flush dirty victim frame: " + err.Error())
		}
	}
	logging.Get().Debugw("buffer: evicting frame", "page_id", victim.ID(), "frame_id", frameID)
	bp.pageTable.Remove(victim.ID())
	return frameID, true
}

// NewPage allocates a fresh page id, pins it into a frame (evicting if
// necessary), and returns the zeroed page. Returns (nil, InvalidID) if
// every frame is pinned and none is evictable.
func (bp *PoolManager) NewPage() (*page.Page, page.ID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.findVictimFrame()
	if !ok {
		return nil, page.InvalidID
	}

	id := bp.disk.AllocatePage()

	f := &bp.frames[frameID]
	f.Reset()
	f.SetID(id)
	f.Pin()

	bp.pageTable.Insert(id, frameID)
	bp.replacer.RecordAccess(frameID)
	bp.replacer.SetEvictable(frameID, false)

	return f, id
}

// FetchPage returns the page named by id, pinning it. If it is not
// already resident, a frame is found exactly as in NewPage and its
// contents are read from disk. Returns nil if no frame is available.
func (bp *PoolManager) FetchPage(id page.ID) *page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if frameID, ok := bp.pageTable.Find(id); ok {
		f := &bp.frames[frameID]
		f.Pin()
		bp.replacer.RecordAccess(frameID)
		bp.replacer.SetEvictable(frameID, false)
		return f
	}

	frameID, ok := bp.findVictimFrame()
	if !ok {
		return nil
	}

	f := &bp.frames[frameID]
	f.Reset()
	f.SetID(id)

	if err := bp.disk.ReadPage(id, f.Data()); err != nil {
		logging.Get().Errorw("buffer: failed to read page from disk", "page_id", id, "error", err)
		panic("buffer: failed to read page from disk: " + err.Error())
	}
	f.Pin()

	bp.pageTable.Insert(id, frameID)
	bp.replacer.RecordAccess(frameID)
	bp.replacer.SetEvictable(frameID, false)

	return f
}

// UnpinPage decrements id's pin count, ORing isDirty into the frame's
// dirty flag, and makes the frame evictable once the pin count reaches
// zero. Returns false if the page is not resident or already unpinned.
func (bp *PoolManager) UnpinPage(id page.ID, isDirty bool) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable.Find(id)
	if !ok {
		return false
	}

	f := &bp.frames[frameID]
	if f.PinCount() <= 0 {
		return false
	}

	f.Unpin()
	f.SetDirty(isDirty)
	if f.PinCount() == 0 {
		bp.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes id's bytes to disk unconditionally and clears its
// dirty flag. Returns false if the page is not resident.
func (bp *PoolManager) FlushPage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushLocked(id)
}

func (bp *PoolManager) flushLocked(id page.ID) bool {
	frameID, ok := bp.pageTable.Find(id)
	if !ok {
		return false
	}

	f := &bp.frames[frameID]
	if err := bp.disk.WritePage(id, f.Data()); err != nil {
		logging.Get().Errorw("buffer: failed to flush page", "page_id", id, "error", err)
		panic("buffer: failed to flush page: " + err.Error())
	}
	logging.Get().Debugw("buffer: flushed page", "page_id", id)
	f.ClearDirty()
	return true
}

// FlushAllPages flushes every resident page. Per spec §9's resolution of
// the reference implementation's ambiguity here, every resident page's
// dirty flag is clear once this returns.
func (bp *PoolManager) FlushAllPages() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for i := range bp.frames {
		id := bp.frames[i].ID()
		if id.IsValid() {
			bp.flushLocked(id)
		}
	}
}

// DeletePage removes id from the pool, returning its frame to the free
// list and asking the disk manager to deallocate the id. Succeeds
// (no-op) if the page is not resident; fails if it is resident but still
// pinned.
func (bp *PoolManager) DeletePage(id page.ID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frameID, ok := bp.pageTable.Find(id)
	if !ok {
		return true
	}

	f := &bp.frames[frameID]
	if f.PinCount() > 0 {
		return false
	}

	bp.pageTable.Remove(id)
	bp.replacer.Remove(frameID)
	f.Reset()
	f.SetID(page.InvalidID)
	bp.freeList = append(bp.freeList, frameID)

	bp.disk.DeallocatePage(id)
	return true
}
