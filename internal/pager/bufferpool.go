package pager

import (
	"fmt"
	"sync"

	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/metrics"
)

// Frame is a buffer-pool slot: one resident page plus its bookkeeping.
// A given page_id occupies at most one Frame.
type Frame struct {
	PageID     PageID
	Buf        []byte
	Dirty      bool
	PinCount   int
	LRUCounter uint64
}

// BufferPool caches up to Capacity resident pages with pin counts and
// LRU-by-counter eviction. Writes are delayed: Unpin with
// dirty=true only marks the frame dirty; the bytes reach disk at Flush,
// FlushAll, or eviction of a dirty victim.
type BufferPool struct {
	mu       sync.Mutex
	pager    *Pager
	capacity int
	frames   map[PageID]*Frame
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// ErrNoFrame is returned when every frame is pinned and none can be
// evicted to satisfy a miss.
var ErrNoFrame = fmt.Errorf("pager: no unpinned frame available")

// NewBufferPool creates a pool of the given capacity over pager.
func NewBufferPool(pager *Pager, capacity int, m *metrics.Metrics, log *logger.Logger) *BufferPool {
	if log == nil {
		log = logger.Nop()
	}
	return &BufferPool{
		pager:    pager,
		capacity: capacity,
		frames:   make(map[PageID]*Frame, capacity),
		metrics:  m,
		log:      log.Component("bufferpool"),
	}
}

// touch resets id's counter to 0 and ages every other resident frame,
// implementing the recency policy of §4.2.
func (bp *BufferPool) touch(id PageID) {
	for pid, f := range bp.frames {
		if pid == id {
			f.LRUCounter = 0
		} else {
			f.LRUCounter++
		}
	}
}

// NextPageID reports the next id the underlying pager would hand out,
// letting callers check whether a given page has ever been allocated
// (and, by this engine's always-write-after-allocate convention, written)
// without reading it.
func (bp *BufferPool) NextPageID() PageID {
	return bp.pager.NextPageID()
}

// Get returns the frame for page_id, pinning it. On a miss it selects a
// victim (evicting and flushing if dirty), loads the page from the pager,
// and pins the new frame. Returns ErrNoFrame if every frame is pinned.
func (bp *BufferPool) Get(id PageID) (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[id]; ok {
		f.PinCount++
		bp.touch(id)
		if bp.metrics != nil {
			bp.metrics.BufferPoolHits.Inc()
		}
		return f, nil
	}

	if bp.metrics != nil {
		bp.metrics.BufferPoolMiss.Inc()
	}

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, PageSize)
	if err := bp.pager.ReadPage(id, buf); err != nil {
		return nil, err
	}
	f := &Frame{PageID: id, Buf: buf, PinCount: 1}
	bp.frames[id] = f
	bp.touch(id)
	return f, nil
}

// Put installs buf as page_id's resident frame and marks it dirty,
// without reading the page from disk first. Callers that construct a
// page's entire contents themselves (catalog.Flush rebuilds page 1 from
// scratch on every call) use this instead of Get: a plain Get would
// route a never-before-written page id through Pager.ReadPage, which
// fails outright since there is nothing on disk yet to satisfy the read,
// let alone its CRC check.
func (bp *BufferPool) Put(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		panic("pager: Put requires a PageSize buffer")
	}
	bp.pager.EnsureAllocated(id)
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[id]; ok {
		copy(f.Buf, buf)
		f.Dirty = true
		bp.touch(id)
		return nil
	}

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return err
		}
	}
	fbuf := make([]byte, PageSize)
	copy(fbuf, buf)
	bp.frames[id] = &Frame{PageID: id, Buf: fbuf, Dirty: true}
	bp.touch(id)
	return nil
}

// evictLocked picks the unpinned frame with the largest LRUCounter, i.e.
// the least recently touched one (ties broken by lowest page id), and
// removes it, flushing it first if dirty. Caller must hold bp.mu.
func (bp *BufferPool) evictLocked() error {
	var victim *Frame
	for _, f := range bp.frames {
		if f.PinCount != 0 {
			continue
		}
		if victim == nil || f.LRUCounter > victim.LRUCounter ||
			(f.LRUCounter == victim.LRUCounter && f.PageID < victim.PageID) {
			victim = f
		}
	}
	if victim == nil {
		return ErrNoFrame
	}
	if victim.Dirty {
		if err := bp.pager.WritePage(victim.PageID, victim.Buf); err != nil {
			return err
		}
		if bp.metrics != nil {
			bp.metrics.BufferPoolFlush.Inc()
		}
	}
	delete(bp.frames, victim.PageID)
	if bp.metrics != nil {
		bp.metrics.BufferPoolEvict.Inc()
	}
	bp.log.Debug().Uint32("page_id", uint32(victim.PageID)).Msg("evicted frame")
	return nil
}

// Unpin decrements the frame's pin count and ORs in the dirty flag.
func (bp *BufferPool) Unpin(id PageID, dirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.frames[id]
	if !ok {
		return
	}
	if f.PinCount > 0 {
		f.PinCount--
	}
	if dirty {
		f.Dirty = true
	}
}

// Flush writes page_id to disk and clears its dirty bit, if resident and
// dirty.
func (bp *BufferPool) Flush(id PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.frames[id]
	if !ok || !f.Dirty {
		return nil
	}
	if err := bp.pager.WritePage(id, f.Buf); err != nil {
		return err
	}
	f.Dirty = false
	if bp.metrics != nil {
		bp.metrics.BufferPoolFlush.Inc()
	}
	return nil
}

// FlushAll writes every resident dirty frame to disk.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for id, f := range bp.frames {
		if !f.Dirty {
			continue
		}
		if err := bp.pager.WritePage(id, f.Buf); err != nil {
			return err
		}
		f.Dirty = false
		if bp.metrics != nil {
			bp.metrics.BufferPoolFlush.Inc()
		}
	}
	return nil
}

// InvalidateAll flushes every dirty frame and then drops all frame
// bindings, defeating any staleness in resident pages. This is the blunt
// cache-coherence hammer called for before every SELECT. It must only be
// called when no page is pinned (i.e. between statements).
func (bp *BufferPool) InvalidateAll() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.frames = make(map[PageID]*Frame, bp.capacity)
	return nil
}
