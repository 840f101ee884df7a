// Package replacer implements the LRU-K eviction policy the buffer pool
// manager consults when it needs a victim frame (spec §4.2).
package replacer

import "sync"

// frameEntry tracks one frame's access history and its position in
// whichever of the two heaps currently holds it.
type frameEntry struct {
	frameID    int
	evictable  bool
	timestamps []int64 // bounded to k entries, oldest (index 0) is the
	// "k-th most recent" once full; for an infant frame (fewer than k
	// recorded accesses) index 0 is simply the earliest access.
	heapIndex int // position within its current heap, -1 when not in one
}

// backwardKey is the value both heaps order by: the oldest timestamp
// still recorded for the frame. For a mature frame (k timestamps) this
// is the k-th-most-recent access, so a smaller value means a larger
// backward k-distance. For an infant frame it is simply the earliest
// access, giving classical LRU ordering among the infant set. Keys are
// only compared within one heap; Evict consults the infant heap before
// the mature one, matching the "+∞ beats every finite distance" rule.
func (f *frameEntry) backwardKey() int64 {
	return f.timestamps[0]
}

// Replacer implements the LRU-K victim-selection policy described in
// spec §4.2, grounded on original_source's two-heap lru_k_replacer.cpp:
// an "infant" min-heap (fewer than k references, ordered by earliest
// timestamp) and a "mature" min-heap (exactly k references, ordered by
// the k-th most recent timestamp). The victim is the top of the infant
// heap whenever that heap is non-empty, and the top of the mature heap
// otherwise: any infant frame outranks any mature frame, and within each
// heap the smallest key wins.
type Replacer struct {
	mu sync.Mutex

	k                int
	currentTimestamp int64

	frames map[int]*frameEntry
	infant []*frameEntry
	mature []*frameEntry

	evictableCount int
}

// New builds an empty replacer whose frames each track up to k most
// recent accesses. Frames are registered on first RecordAccess or
// SetEvictable.
func New(k int) *Replacer {
	return &Replacer{
		k:      k,
		frames: make(map[int]*frameEntry),
	}
}

func (r *Replacer) heapFor(infant bool) *[]*frameEntry {
	if infant {
		return &r.infant
	}
	return &r.mature
}

func less(a, b *frameEntry) bool { return a.backwardKey() < b.backwardKey() }

func (r *Replacer) siftUp(infant bool, i int) {
	h := *r.heapFor(infant)
	for i > 0 {
		parent := (i - 1) / 2
		if !less(h[i], h[parent]) {
			return
		}
		h[i], h[parent] = h[parent], h[i]
		h[i].heapIndex, h[parent].heapIndex = i, parent
		i = parent
	}
}

func (r *Replacer) siftDown(infant bool, i int) {
	h := *r.heapFor(infant)
	n := len(h)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && less(h[left], h[smallest]) {
			smallest = left
		}
		if right < n && less(h[right], h[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h[i], h[smallest] = h[smallest], h[i]
		h[i].heapIndex, h[smallest].heapIndex = i, smallest
		i = smallest
	}
}

// push inserts f into the infant or mature heap.
func (r *Replacer) push(infant bool, f *frameEntry) {
	h := r.heapFor(infant)
	*h = append(*h, f)
	f.heapIndex = len(*h) - 1
	r.siftUp(infant, f.heapIndex)
}

// removeAt extracts the entry currently at index i of the chosen heap.
func (r *Replacer) removeAt(infant bool, i int) *frameEntry {
	h := r.heapFor(infant)
	n := len(*h)
	removed := (*h)[i]
	last := n - 1
	(*h)[i] = (*h)[last]
	(*h)[i].heapIndex = i
	*h = (*h)[:last]
	if i < last {
		r.siftDown(infant, i)
		r.siftUp(infant, i)
	}
	removed.heapIndex = -1
	return removed
}

// isInfant reports which heap a frame currently belongs to, based on
// its recorded history length. It must be called before a pending
// history mutation is applied when deciding where the OLD position was.
func isInfant(f *frameEntry, k int) bool { return len(f.timestamps) < k }

// RecordAccess appends the current timestamp to frame_id's history,
// trimming to the most recent k. If the frame participates in a heap
// (i.e. is evictable), its position is fixed up in place.
func (r *Replacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentTimestamp++

	f, ok := r.frames[frameID]
	if !ok {
		f = &frameEntry{frameID: frameID, heapIndex: -1}
		r.frames[frameID] = f
	}

	wasInfant := isInfant(f, r.k)
	f.timestamps = append(f.timestamps, r.currentTimestamp)
	if len(f.timestamps) > r.k {
		f.timestamps = f.timestamps[1:]
	}
	isNowInfant := isInfant(f, r.k)

	if !f.evictable {
		return
	}

	switch {
	case !wasInfant:
		// Already mature: the k-th-most-recent timestamp changed, fix
		// the mature heap in place.
		r.siftDown(false, f.heapIndex)
	case wasInfant && isNowInfant:
		// Still infant: earliest timestamp is unchanged, nothing to fix.
	default:
		// Just became mature: move from the infant heap to the mature one.
		r.removeAt(true, f.heapIndex)
		r.push(false, f)
	}
}

// SetEvictable toggles a frame's participation in eviction. Frames not
// yet seen by RecordAccess are implicitly created non-evictable.
func (r *Replacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.frames[frameID]
	if !ok {
		f = &frameEntry{frameID: frameID, heapIndex: -1}
		r.frames[frameID] = f
	}
	if f.evictable == evictable {
		return
	}
	f.evictable = evictable

	if evictable {
		r.evictableCount++
		r.push(isInfant(f, r.k), f)
		return
	}

	r.evictableCount--
	r.removeAt(isInfant(f, r.k), f.heapIndex)
}

// Evict removes and returns the victim frame: the evictable frame with
// the greatest backward k-distance, with ties among +∞ (infant) frames
// broken by earliest timestamp. Returns (0, false) if no frame is
// evictable.
func (r *Replacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictableCount == 0 {
		return 0, false
	}

	infant := len(r.infant) > 0
	victim := r.removeAt(infant, 0)

	delete(r.frames, victim.frameID)
	r.evictableCount--
	return victim.frameID, true
}

// Remove forcibly drops a frame's history and heap membership. It is a
// no-op if the frame is not tracked; per spec it must never be called on
// a present, non-evictable frame.
func (r *Replacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.frames[frameID]
	if !ok {
		return
	}
	if !f.evictable {
		panic("replacer: Remove called on a non-evictable frame")
	}

	r.removeAt(isInfant(f, r.k), f.heapIndex)
	delete(r.frames, frameID)
	r.evictableCount--
}

// Size returns the number of currently-evictable frames.
func (r *Replacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCount
}
