package pager

import (
	"path/filepath"
	"testing"
)

func TestPageHeader_MarshalRoundTrip(t *testing.T) {
	h := PageHeader{
		Type:     PageTypeLeaf,
		Flags:    0x42,
		ID:       PageID(99),
		NumCells: 7,
	}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(&h, buf)
	h2 := UnmarshalHeader(buf)
	if h2.Type != h.Type || h2.Flags != h.Flags || h2.ID != h.ID || h2.NumCells != h.NumCells {
		t.Fatalf("header roundtrip mismatch: %+v vs %+v", h, h2)
	}
}

func TestCRC_DetectsCorruption(t *testing.T) {
	buf := NewPage(PageTypeLeaf, 1)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("valid CRC failed: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected CRC error after corruption")
	}
}

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "test.db"), nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPager_AllocateIsMonotonic(t *testing.T) {
	p := newTestPager(t)
	a := p.AllocatePageID()
	b := p.AllocatePageID()
	if b != a+1 {
		t.Fatalf("expected monotonic ids, got %d then %d", a, b)
	}
}

func TestPager_WriteThenReadRoundTrip(t *testing.T) {
	p := newTestPager(t)
	id := p.AllocatePageID()
	buf := NewPage(PageTypeLeaf, id)
	copy(buf[PageHeaderSize:], []byte("hello"))
	SetPageCRC(buf)
	if err := p.WritePage(id, buf); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, PageSize)
	if err := p.ReadPage(id, got); err != nil {
		t.Fatal(err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+5]) != "hello" {
		t.Fatalf("got %q", got[PageHeaderSize:PageHeaderSize+5])
	}
}

func TestPager_ReadPage_DetectsCorruptionOnDisk(t *testing.T) {
	p := newTestPager(t)
	id := p.AllocatePageID()
	buf := NewPage(PageTypeLeaf, id)
	copy(buf[PageHeaderSize:], []byte("hello"))
	SetPageCRC(buf)
	if err := p.WritePage(id, buf); err != nil {
		t.Fatal(err)
	}
	buf[PageHeaderSize] ^= 0xFF
	if err := p.WritePage(id, buf); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, PageSize)
	if err := p.ReadPage(id, got); err == nil {
		t.Fatal("expected fatal error reading a page with a corrupted body and stale CRC")
	}
}

func TestPager_ReopenPreservesNextPageID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	p, err := Open(path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		id := p.AllocatePageID()
		buf := NewPage(PageTypeLeaf, id)
		if err := p.WritePage(id, buf); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	p2, err := Open(path, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	if got := p2.NextPageID(); got != PageID(3) {
		t.Fatalf("next_page_id after reopen: got %d want 3", got)
	}
}
