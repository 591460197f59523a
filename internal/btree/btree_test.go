package btree

import (
	"path/filepath"
	"testing"

	"github.com/pagesql/pagesql/internal/pager"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "test.db"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	pool := pager.NewBufferPool(p, 100, nil, nil)
	root, err := CreateEmptyLeaf(p)
	if err != nil {
		t.Fatal(err)
	}
	return New(p, pool, root, nil, nil)
}

func TestTree_InsertAndSearch(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert(1, []byte("Alice")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(2, []byte("Bob")); err != nil {
		t.Fatal(err)
	}
	v, found, err := tr.Search(1)
	if err != nil || !found || string(v) != "Alice" {
		t.Fatalf("search 1: v=%q found=%v err=%v", v, found, err)
	}
	_, found, err = tr.Search(99)
	if err != nil || found {
		t.Fatalf("search 99: expected not found, err=%v", err)
	}
}

func TestTree_OverwriteInPlace(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert(1, []byte("Alice"))
	tr.Insert(1, []byte("Alicia"))
	v, found, _ := tr.Search(1)
	if !found || string(v) != "Alicia" {
		t.Fatalf("got %q want Alicia", v)
	}
}

func TestTree_DeleteThenSearchEmpty(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert(5, []byte("x"))
	if err := tr.Delete(5); err != nil {
		t.Fatal(err)
	}
	_, found, _ := tr.Search(5)
	if found {
		t.Fatal("expected key 5 to be gone after delete")
	}
}

func TestTree_DeleteNonExistentIsNoop(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert(1, []byte("x"))
	if err := tr.Delete(404); err != nil {
		t.Fatal(err)
	}
	v, found, _ := tr.Search(1)
	if !found || string(v) != "x" {
		t.Fatal("unrelated key should be untouched")
	}
}

func TestTree_ScanOrderedAndSkipsTombstones(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert(3, []byte("c"))
	tr.Insert(1, []byte("a"))
	tr.Insert(2, []byte("b"))
	tr.Delete(2)

	var keys []int32
	tr.Scan(func(k int32, v []byte) bool {
		keys = append(keys, k)
		return true
	})
	if len(keys) != 2 || keys[0] != 1 || keys[1] != 3 {
		t.Fatalf("unexpected scan order: %v", keys)
	}
}

func TestTree_InsertAnyPermutationSameFinalState(t *testing.T) {
	perms := [][]int32{
		{1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1},
		{3, 1, 4, 5, 2},
	}
	var finalScans [][]int32
	for _, perm := range perms {
		tr := newTestTree(t)
		for _, k := range perm {
			tr.Insert(k, []byte{byte(k)})
		}
		var keys []int32
		tr.Scan(func(k int32, v []byte) bool {
			keys = append(keys, k)
			return true
		})
		finalScans = append(finalScans, keys)
	}
	for i := 1; i < len(finalScans); i++ {
		if len(finalScans[i]) != len(finalScans[0]) {
			t.Fatalf("scan length differs across permutations")
		}
		for j := range finalScans[0] {
			if finalScans[i][j] != finalScans[0][j] {
				t.Fatalf("permutation %d diverged: %v vs %v", i, finalScans[i], finalScans[0])
			}
		}
	}
}

func TestTree_ValueSpillsToOverflowPage(t *testing.T) {
	tr := newTestTree(t)
	big := make([]byte, 200) // > ValueMax (100), <= MaxValueSize (255)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	if err := tr.Insert(1, big); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, found, err := tr.Search(1)
	if err != nil || !found {
		t.Fatalf("search: v=%q found=%v err=%v", v, found, err)
	}
	if string(v) != string(big) {
		t.Fatalf("overflow roundtrip mismatch: got %d bytes, want %d", len(v), len(big))
	}
}

func TestTree_OverflowValueSurvivesRescanAfterOtherInserts(t *testing.T) {
	tr := newTestTree(t)
	big := make([]byte, 150)
	for i := range big {
		big[i] = byte(i)
	}
	if err := tr.Insert(1, big); err != nil {
		t.Fatalf("insert overflow value: %v", err)
	}
	// Further inserts into the same leaf rewrite every live slot, including
	// the overflow-stored one.
	if err := tr.Insert(2, []byte("short")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, found, err := tr.Search(1)
	if err != nil || !found || string(v) != string(big) {
		t.Fatalf("overflow value corrupted after later insert: found=%v err=%v len=%d", found, err, len(v))
	}
	v2, found, err := tr.Search(2)
	if err != nil || !found || string(v2) != "short" {
		t.Fatalf("unrelated key corrupted: v=%q found=%v err=%v", v2, found, err)
	}
}

func TestTree_OverwriteOverflowValueWithInlineValue(t *testing.T) {
	tr := newTestTree(t)
	big := make([]byte, 150)
	tr.Insert(1, big)
	if err := tr.Insert(1, []byte("small")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, found, err := tr.Search(1)
	if err != nil || !found || string(v) != "small" {
		t.Fatalf("got v=%q found=%v err=%v", v, found, err)
	}
}

func TestTree_ValueExceedingMaxValueSizeIsRejectedWithoutPanic(t *testing.T) {
	tr := newTestTree(t)
	tooBig := make([]byte, MaxValueSize+1)
	err := tr.Insert(1, tooBig)
	if err != ErrRowTooLarge {
		t.Fatalf("expected ErrRowTooLarge, got %v", err)
	}
	_, found, _ := tr.Search(1)
	if found {
		t.Fatal("rejected value must not have been inserted")
	}
}

func TestTree_OverflowAtCapacity(t *testing.T) {
	tr := newTestTree(t)
	for i := int32(0); i < MaxLiveKeys; i++ {
		if err := tr.Insert(i, []byte{byte(i)}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := tr.Insert(MaxLiveKeys, []byte("overflow")); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	// prior state preserved
	v, found, _ := tr.Search(0)
	if !found || v[0] != 0 {
		t.Fatal("prior state should be preserved after dropped overflow insert")
	}
	_, found, _ = tr.Search(MaxLiveKeys)
	if found {
		t.Fatal("overflowed key should not have been inserted")
	}
}
