package pager

import (
	"fmt"
	"os"
	"sync"

	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/metrics"
)

// Pager owns the database file handle and the monotonic page-id counter.
// It performs synchronous, page-granular positional I/O; it holds no
// in-memory cache itself — that is the Buffer Pool's job.
type Pager struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	nextPageID PageID
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// Open opens (creating if missing) the database file at path and computes
// next_page_id from the file length.
func Open(path string, m *metrics.Metrics, log *logger.Logger) (*Pager, error) {
	if log == nil {
		log = logger.Nop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}
	p := &Pager{
		file:       f,
		path:       path,
		nextPageID: PageID(info.Size() / PageSize),
		metrics:    m,
		log:        log.Component("pager"),
	}
	p.log.Debug().Str("path", path).Uint32("next_page_id", uint32(p.nextPageID)).Msg("pager opened")
	return p, nil
}

// NextPageID reports the next id that AllocatePageID would hand out,
// without allocating it.
func (p *Pager) NextPageID() PageID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPageID
}

// AllocatePageID returns next_page_id and increments it. No bytes are
// written to disk; the caller is responsible for writing an initialized
// page (WritePage or the buffer pool).
func (p *Pager) AllocatePageID() PageID {
	p.mu.Lock()
	id := p.nextPageID
	p.nextPageID++
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.PagesAllocated.Inc()
	}
	p.log.Debug().Uint32("page_id", uint32(id)).Msg("allocated page id")
	return id
}

// EnsureAllocated advances next_page_id to at least id+1 if id has not
// already been handed out, so that a page installed by some other means
// than AllocatePageID (BufferPool.Put) is still accounted for, and a
// later AllocatePageID call never reuses its id.
func (p *Pager) EnsureAllocated(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id >= p.nextPageID {
		p.nextPageID = id + 1
	}
}

// ReadPage reads exactly PageSize bytes for page_id into buf, which must
// have length PageSize, and verifies its CRC32 checksum. Both I/O errors
// and a checksum mismatch are treated as fatal: every page on disk was
// written through WritePage/SetPageCRC, so a mismatch here means
// corruption, not an uninitialized page.
func (p *Pager) ReadPage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		panic("pager: ReadPage requires a PageSize buffer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.file.ReadAt(buf, int64(id)*PageSize)
	if err != nil || n != PageSize {
		p.log.Error().Err(err).Uint32("page_id", uint32(id)).Msg("fatal I/O error reading page")
		return fmt.Errorf("pager: fatal: read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		p.log.Error().Err(err).Uint32("page_id", uint32(id)).Msg("fatal I/O error: page CRC mismatch")
		return fmt.Errorf("pager: fatal: %w", err)
	}
	return nil
}

// WritePage writes buf (length PageSize) to page_id's offset. I/O errors
// are treated as fatal.
func (p *Pager) WritePage(id PageID, buf []byte) error {
	if len(buf) != PageSize {
		panic("pager: WritePage requires a PageSize buffer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.file.WriteAt(buf, int64(id)*PageSize)
	if err != nil || n != PageSize {
		p.log.Error().Err(err).Uint32("page_id", uint32(id)).Msg("fatal I/O error writing page")
		return fmt.Errorf("pager: fatal: write page %d: %w", id, err)
	}
	return nil
}

// Sync forces the underlying file's dirty pages out to stable storage.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Sync()
}

// Close closes the file descriptor. Dirty frames must already be flushed
// by the caller (the buffer pool) before calling this.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.Debug().Msg("pager closed")
	return p.file.Close()
}

// Path returns the database file path this pager was opened against.
func (p *Pager) Path() string { return p.path }
