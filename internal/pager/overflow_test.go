package pager

import "testing"

func TestOverflowPage_SetDataRoundTrip(t *testing.T) {
	buf := make([]byte, PageSize)
	op := InitOverflowPage(buf, 7)
	if err := op.SetData([]byte("hello overflow")); err != nil {
		t.Fatal(err)
	}
	if string(op.Data()) != "hello overflow" {
		t.Fatalf("got %q", op.Data())
	}
	op.SetNextOverflow(PageID(8))
	if op.NextOverflow() != PageID(8) {
		t.Fatalf("expected next overflow 8, got %d", op.NextOverflow())
	}
}

func TestOverflowPage_SetDataTooLargeReturnsError(t *testing.T) {
	buf := make([]byte, PageSize)
	op := InitOverflowPage(buf, 1)
	tooBig := make([]byte, OverflowCapacity()+1)
	if err := op.SetData(tooBig); err == nil {
		t.Fatal("expected an error instead of a panic for over-capacity data")
	}
}

func TestOverflowPage_FreshPageHasNoNextAndEmptyData(t *testing.T) {
	buf := make([]byte, PageSize)
	op := InitOverflowPage(buf, 3)
	if op.NextOverflow() != InvalidPageID {
		t.Fatalf("expected a fresh overflow page to have no next page")
	}
	if len(op.Data()) != 0 {
		t.Fatalf("expected a fresh overflow page to have no payload")
	}
}
