// Package btree implements a leaf-only B+Tree variant: 32-bit signed
// integer keys, a fixed fanout of O=32 (31 live keys per leaf), no node
// splits or merges, and leaves chained in key order via next_leaf.
//
// Because splits are out of scope, a table's root page never grows past a
// single leaf: CREATE TABLE initializes an empty leaf and that page stays
// the root for the table's lifetime. The internal-node layout and routing
// below exist for completeness of the page format and are exercised by the
// search/insert/delete paths as written, but in steady use (no splits) the
// root is always the sole leaf.
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/metrics"
	"github.com/pagesql/pagesql/internal/pager"
)

const (
	// Order is the tree's fixed fanout, conventionally written O.
	Order = 32
	// MaxLiveKeys is O-1, the maximum number of live keys per leaf.
	MaxLiveKeys = Order - 1
	// Tombstone is the sentinel key marking a deleted slot.
	Tombstone int32 = -1
	// ValueMax is the maximum value size stored inline in a leaf slot.
	// Fitting O-1=31 fixed-width value slots plus their keys, length
	// bytes, and a next_leaf pointer into a single 4096-byte page caps
	// this well under MaxValueSize: the 32-byte header + 31*4 key bytes +
	// 31 length bytes + 31*100 value bytes + a 4-byte next_leaf is 3291
	// bytes, while 31*255 value bytes alone would exceed the page. A
	// value longer than ValueMax spills into a chained overflow page
	// (internal/pager/overflow.go) instead of inline storage.
	ValueMax = 100
	// MaxValueSize is the absolute ceiling on a serialized row. Rows
	// between ValueMax+1 and MaxValueSize bytes are stored via overflow
	// pages rather than rejected.
	MaxValueSize = 255
	// overflowSentinel marks a slot's length byte as "value lives in an
	// overflow chain, not inline". Safe because inline lengths never
	// exceed ValueMax (100).
	overflowSentinel = 0xFF

	keysOff     = pager.PageHeaderSize
	keysSize    = MaxLiveKeys * 4
	lengthsOff  = keysOff + keysSize
	lengthsSize = MaxLiveKeys
	valuesOff   = lengthsOff + lengthsSize
	valuesSize  = MaxLiveKeys * ValueMax
	nextLeafOff = valuesOff + valuesSize

	// internal-node layout reuses the same key region, followed by O
	// child page ids.
	childrenOff = keysOff + keysSize
)

// ErrOverflow is returned when a leaf has no free slot for a new key and
// the no-split design drops the insert. Callers treat this as a capacity
// error, not an I/O failure: the insert is dropped and nothing aborts.
var ErrOverflow = fmt.Errorf("btree: leaf overflow, insert dropped")

// ErrRowTooLarge is returned when a value exceeds MaxValueSize. Callers
// treat this as a usage error: the statement is rejected and nothing is
// written.
var ErrRowTooLarge = fmt.Errorf("btree: value exceeds maximum row size of %d bytes", MaxValueSize)

// Tree is a handle to one B+Tree identified by its root page id.
type Tree struct {
	pager   *pager.Pager
	pool    *pager.BufferPool
	root    pager.PageID
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New returns a handle to the B+Tree rooted at root.
func New(p *pager.Pager, pool *pager.BufferPool, root pager.PageID, m *metrics.Metrics, log *logger.Logger) *Tree {
	if log == nil {
		log = logger.Nop()
	}
	return &Tree{pager: p, pool: pool, root: root, metrics: m, log: log.Component("btree")}
}

// Root returns the tree's root page id.
func (t *Tree) Root() pager.PageID { return t.root }

// CreateEmptyLeaf allocates and initializes a new empty leaf page,
// returning its id. Used by CREATE TABLE / CREATE INDEX.
func CreateEmptyLeaf(p *pager.Pager) (pager.PageID, error) {
	id := p.AllocatePageID()
	buf := NewLeafPage(id)
	if err := p.WritePage(id, buf); err != nil {
		return 0, err
	}
	return id, nil
}

// NewLeafPage builds a freshly initialized, empty leaf page buffer.
func NewLeafPage(id pager.PageID) []byte {
	buf := pager.NewPage(pager.PageTypeLeaf, id)
	for i := 0; i < MaxLiveKeys; i++ {
		putKey(buf, i, Tombstone)
	}
	putNextLeaf(buf, pager.InvalidPageID)
	pager.SetPageCRC(buf)
	return buf
}

func putKey(buf []byte, slot int, key int32) {
	binary.LittleEndian.PutUint32(buf[keysOff+slot*4:], uint32(key))
}

func getKey(buf []byte, slot int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[keysOff+slot*4:]))
}

// putValue writes value into slot, either inline (length <= ValueMax) or,
// for longer values, as a pointer to a freshly written overflow chain
// (length <= MaxValueSize). It returns ErrRowTooLarge for anything past
// MaxValueSize without touching buf.
func (t *Tree) putValue(buf []byte, slot int, value []byte) error {
	if len(value) > MaxValueSize {
		return ErrRowTooLarge
	}
	base := valuesOff + slot*ValueMax
	if len(value) <= ValueMax {
		buf[lengthsOff+slot] = byte(len(value))
		for i := range buf[base : base+ValueMax] {
			buf[base+i] = 0
		}
		copy(buf[base:], value)
		return nil
	}
	head, err := t.writeOverflow(value)
	if err != nil {
		return err
	}
	buf[lengthsOff+slot] = overflowSentinel
	for i := range buf[base : base+ValueMax] {
		buf[base+i] = 0
	}
	binary.LittleEndian.PutUint32(buf[base:], uint32(head))
	return nil
}

// getValue reads slot's value, following its overflow chain if the slot
// is overflow-stored.
func (t *Tree) getValue(buf []byte, slot int) ([]byte, error) {
	n := buf[lengthsOff+slot]
	base := valuesOff + slot*ValueMax
	if n == overflowSentinel {
		head := pager.PageID(binary.LittleEndian.Uint32(buf[base:]))
		return t.readOverflow(head)
	}
	out := make([]byte, n)
	copy(out, buf[base:base+int(n)])
	return out, nil
}

// clearValue zeroes slot's length and value region. Used by Delete, which
// never needs to free an overflow chain an overwritten slot may have
// pointed at — like DROP INDEX's abandoned index pages, a superseded
// overflow chain is leaked rather than reclaimed; this engine has no page
// free list.
func clearValue(buf []byte, slot int) {
	buf[lengthsOff+slot] = 0
	base := valuesOff + slot*ValueMax
	for i := range buf[base : base+ValueMax] {
		buf[base+i] = 0
	}
}

// writeOverflow chains value across as many freshly allocated overflow
// pages as needed and returns the id of the first one.
func (t *Tree) writeOverflow(value []byte) (pager.PageID, error) {
	capacity := pager.OverflowCapacity()
	head := pager.InvalidPageID
	var prevID pager.PageID
	var prevBuf []byte

	for off := 0; off < len(value); off += capacity {
		end := off + capacity
		if end > len(value) {
			end = len(value)
		}
		id := t.pager.AllocatePageID()
		buf := make([]byte, pager.PageSize)
		op := pager.InitOverflowPage(buf, id)
		if err := op.SetData(value[off:end]); err != nil {
			return pager.InvalidPageID, err
		}
		if prevBuf != nil {
			pager.WrapOverflowPage(prevBuf).SetNextOverflow(id)
			pager.SetPageCRC(prevBuf)
			if err := t.pager.WritePage(prevID, prevBuf); err != nil {
				return pager.InvalidPageID, err
			}
		} else {
			head = id
		}
		prevID, prevBuf = id, buf
	}
	if prevBuf != nil {
		pager.SetPageCRC(prevBuf)
		if err := t.pager.WritePage(prevID, prevBuf); err != nil {
			return pager.InvalidPageID, err
		}
	}
	return head, nil
}

// readOverflow walks an overflow chain from head and concatenates every
// page's payload.
func (t *Tree) readOverflow(head pager.PageID) ([]byte, error) {
	var out []byte
	id := head
	for id != pager.InvalidPageID {
		f, err := t.pool.Get(id)
		if err != nil {
			return nil, err
		}
		op := pager.WrapOverflowPage(f.Buf)
		out = append(out, op.Data()...)
		next := op.NextOverflow()
		t.pool.Unpin(id, false)
		id = next
	}
	return out, nil
}

func putNextLeaf(buf []byte, id pager.PageID) {
	binary.LittleEndian.PutUint32(buf[nextLeafOff:], uint32(id))
}

func getNextLeaf(buf []byte) pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(buf[nextLeafOff:]))
}

func putChild(buf []byte, slot int, id pager.PageID) {
	binary.LittleEndian.PutUint32(buf[childrenOff+slot*4:], uint32(id))
}

func getChild(buf []byte, slot int) pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint32(buf[childrenOff+slot*4:]))
}

func numCells(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[8:12]))
}

func setNumCells(buf []byte, n int) {
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n))
}

func isLeaf(buf []byte) bool {
	return pager.PageType(buf[0]) == pager.PageTypeLeaf
}

// descendToLeaf walks internal nodes (if any) from root to the target
// leaf for key, returning the leaf's pinned frame. Internal nodes are
// unpinned as the descent proceeds, so only the leaf stays pinned.
func (t *Tree) descendToLeaf(key int32) (*pager.Frame, error) {
	id := t.root
	for {
		f, err := t.pool.Get(id)
		if err != nil {
			return nil, err
		}
		if isLeaf(f.Buf) {
			return f, nil
		}
		n := numCells(f.Buf)
		i := 0
		for i < n && key >= getKey(f.Buf, i) {
			i++
		}
		next := getChild(f.Buf, i)
		t.pool.Unpin(id, false)
		id = next
	}
}

// Search returns the value for key, or (nil, false) if absent.
func (t *Tree) Search(key int32) ([]byte, bool, error) {
	if t.metrics != nil {
		t.metrics.BTreeOps.WithLabelValues("search").Inc()
	}
	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return nil, false, err
	}
	defer t.pool.Unpin(leaf.PageID, false)
	for i := 0; i < MaxLiveKeys; i++ {
		if getKey(leaf.Buf, i) == key {
			v, err := t.getValue(leaf.Buf, i)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Insert overwrites an existing live key in place, or inserts a new key in
// sorted position among the leaf's live entries. Returns ErrOverflow
// (without modifying the leaf) when the leaf already holds MaxLiveKeys
// live entries and key is new.
func (t *Tree) Insert(key int32, value []byte) error {
	if t.metrics != nil {
		t.metrics.BTreeOps.WithLabelValues("insert").Inc()
	}
	if len(value) > MaxValueSize {
		return ErrRowTooLarge
	}
	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}
	buf := leaf.Buf

	for i := 0; i < MaxLiveKeys; i++ {
		if getKey(buf, i) == key {
			if err := t.putValue(buf, i, value); err != nil {
				t.pool.Unpin(leaf.PageID, false)
				return err
			}
			pager.SetPageCRC(buf)
			t.pool.Unpin(leaf.PageID, true)
			t.log.Debug().Int32("key", key).Uint32("leaf", uint32(leaf.PageID)).Msg("btree overwrite")
			return nil
		}
	}

	type kv struct {
		key int32
		val []byte
	}
	var live []kv
	for i := 0; i < MaxLiveKeys; i++ {
		if k := getKey(buf, i); k != Tombstone {
			v, err := t.getValue(buf, i)
			if err != nil {
				t.pool.Unpin(leaf.PageID, false)
				return err
			}
			live = append(live, kv{k, v})
		}
	}
	if len(live) >= MaxLiveKeys {
		t.pool.Unpin(leaf.PageID, false)
		t.log.Debug().Int32("key", key).Uint32("leaf", uint32(leaf.PageID)).Msg("btree overflow")
		return ErrOverflow
	}

	pos := len(live)
	for i, e := range live {
		if key < e.key {
			pos = i
			break
		}
	}
	live = append(live, kv{})
	copy(live[pos+1:], live[pos:])
	live[pos] = kv{key, value}

	for i := range live {
		putKey(buf, i, live[i].key)
		if err := t.putValue(buf, i, live[i].val); err != nil {
			t.pool.Unpin(leaf.PageID, false)
			return err
		}
	}
	for i := len(live); i < MaxLiveKeys; i++ {
		putKey(buf, i, Tombstone)
	}
	setNumCells(buf, len(live))
	pager.SetPageCRC(buf)
	t.pool.Unpin(leaf.PageID, true)
	t.log.Debug().Int32("key", key).Uint32("leaf", uint32(leaf.PageID)).Msg("btree insert")
	return nil
}

// Delete removes key's slot by writing the tombstone sentinel and zeroing
// its value, without compacting surrounding entries. Deleting a
// non-existent key is a no-op and not an error.
func (t *Tree) Delete(key int32) error {
	if t.metrics != nil {
		t.metrics.BTreeOps.WithLabelValues("delete").Inc()
	}
	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}
	buf := leaf.Buf
	for i := 0; i < MaxLiveKeys; i++ {
		if getKey(buf, i) == key {
			putKey(buf, i, Tombstone)
			clearValue(buf, i)
			if n := numCells(buf); n > 0 {
				setNumCells(buf, n-1)
			}
			pager.SetPageCRC(buf)
			t.pool.Unpin(leaf.PageID, true)
			t.log.Debug().Int32("key", key).Uint32("leaf", uint32(leaf.PageID)).Msg("btree delete")
			return nil
		}
	}
	t.pool.Unpin(leaf.PageID, false)
	return nil
}

// Scan walks the leaf chain from root in ascending key order, invoking fn
// for every live (non-tombstone) entry. Scanning stops early if fn
// returns false.
func (t *Tree) Scan(fn func(key int32, value []byte) bool) error {
	id := t.root
	for {
		f, err := t.pool.Get(id)
		if err != nil {
			return err
		}
		if !isLeaf(f.Buf) {
			t.pool.Unpin(id, false)
			return fmt.Errorf("btree: scan requires a leaf-chain root")
		}
		buf := f.Buf
		next := getNextLeaf(buf)
		cont := true
		for i := 0; i < MaxLiveKeys && cont; i++ {
			if k := getKey(buf, i); k != Tombstone {
				v, err := t.getValue(buf, i)
				if err != nil {
					t.pool.Unpin(id, false)
					return err
				}
				cont = fn(k, v)
			}
		}
		t.pool.Unpin(id, false)
		if !cont || next == pager.InvalidPageID {
			return nil
		}
		id = next
	}
}
